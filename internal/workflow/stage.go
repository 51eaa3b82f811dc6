package workflow

import (
	"math"

	"github.com/metroplan/metroplan-backend/internal/projects/domain"
)

// Stage is one of the five fixed lifecycle phases a planning project moves
// through. Stages are static configuration, never persisted.
type Stage struct {
	ID       string
	Label    string
	Position int
	Unlocks  []string
	Action   string
	Progress int // canonical project progress when a project enters this stage
}

const (
	StageDraft       = "draft"
	StageTerrain     = "terrain"
	StageSuitability = "suitability"
	StageZoning      = "zoning"
	StageCompleted   = "completed"
)

// Stages in lifecycle order: Draft → Terrain → Suitability → Zoning → Completed.
var Stages = []Stage{
	{
		ID:       StageDraft,
		Label:    "Draft",
		Position: 0,
		Unlocks:  []string{"edit_details"},
		Action:   "Set a title and location",
		Progress: 0,
	},
	{
		ID:       StageTerrain,
		Label:    "Terrain Analysis",
		Position: 1,
		Unlocks:  []string{"terrain_analysis"},
		Action:   "Complete the terrain analysis",
		Progress: 25,
	},
	{
		ID:       StageSuitability,
		Label:    "Suitability Analysis",
		Position: 2,
		Unlocks:  []string{"suitability_analysis"},
		Action:   "Complete the suitability analysis",
		Progress: 50,
	},
	{
		ID:       StageZoning,
		Label:    "Zoning",
		Position: 3,
		Unlocks:  []string{"zoning_editor"},
		Action:   "Finalize zoning and reach 90% progress",
		Progress: 75,
	},
	{
		ID:       StageCompleted,
		Label:    "Completed",
		Position: 4,
		Unlocks:  []string{"report_export"},
		Action:   "",
		Progress: 100,
	},
}

// StageByID looks up a stage in the static table.
func StageByID(id string) *Stage {
	for i := range Stages {
		if Stages[i].ID == id {
			return &Stages[i]
		}
	}
	return nil
}

// Next returns the successor stage, or nil for the terminal stage.
func (s *Stage) Next() *Stage {
	if s == nil || s.Position+1 >= len(Stages) {
		return nil
	}
	return &Stages[s.Position+1]
}

// ResolveStage derives the lifecycle stage of a project from its status
// label, numeric progress and completion flags. A stage is reached either by
// its explicit metadata flag or by a progress threshold, whichever matches
// first; the two signals may fall out of sync and the resolver tolerates
// that. Precedence is fixed: first match wins. Pure, safe to call at any
// frequency. A nil project resolves to Draft.
func ResolveStage(p *domain.Project) *Stage {
	if p == nil {
		return &Stages[0]
	}

	switch {
	case p.HasStatus(domain.StatusCompleted) || p.Progress == 100:
		return StageByID(StageCompleted)
	case p.Flag(domain.MetaZoningCompleted) || p.Progress >= 60:
		return StageByID(StageZoning)
	case p.Flag(domain.MetaSuitabilityCompleted) || p.Progress >= 40:
		return StageByID(StageSuitability)
	case p.Flag(domain.MetaTerrainCompleted) || p.Progress >= 20:
		return StageByID(StageTerrain)
	default:
		return StageByID(StageDraft)
	}
}

// WorkflowProgress maps the resolved stage to a coarse five-bucket percent
// for progress bars. Distinct from the project's own progress field.
func WorkflowProgress(p *domain.Project) int {
	stage := ResolveStage(p)
	return int(math.Round(float64(stage.Position+1) / float64(len(Stages)) * 100))
}

// completionFlags pairs each intermediate stage with the metadata flag that
// marks it done. Draft and Completed carry no flag.
var completionFlags = map[string]string{
	StageTerrain:     domain.MetaTerrainCompleted,
	StageSuitability: domain.MetaSuitabilityCompleted,
	StageZoning:      domain.MetaZoningCompleted,
}

// StageConsistency reports completion flags that the resolved stage implies
// but the project does not carry, e.g. a record at Zoning with no
// terrain_completed marker. Diagnostic only; resolution itself never
// reconciles the signals.
func StageConsistency(p *domain.Project) []string {
	stage := ResolveStage(p)

	var missing []string
	for i := 1; i < stage.Position; i++ {
		flag, ok := completionFlags[Stages[i].ID]
		if ok && !p.Flag(flag) {
			missing = append(missing, flag)
		}
	}
	return missing
}
