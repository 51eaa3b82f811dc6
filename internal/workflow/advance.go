package workflow

import (
	"context"
	"log"
	"time"

	"github.com/metroplan/metroplan-backend/internal/projects/domain"
)

// AuxiliarySignals carries completion evidence produced elsewhere in the
// system (the analysis backends) that is not yet reflected in the project's
// own metadata.
type AuxiliarySignals struct {
	HasTerrainAnalysis     bool
	HasSuitabilityAnalysis bool
	HasZoning              bool
}

// ProjectUpdater applies a partial update to a project in the system of
// record. The engine is written against this narrow interface so it can be
// tested without a backend.
type ProjectUpdater interface {
	UpdateProject(ctx context.Context, id string, patch domain.Patch) (*domain.Project, error)
}

// Notifier announces stage changes. Best effort: failures are logged by the
// engine and never surfaced.
type Notifier interface {
	StageChanged(ctx context.Context, project *domain.Project, from, to *Stage) error
}

// Engine evaluates and performs automated stage advancement.
type Engine struct {
	updater  ProjectUpdater
	notifier Notifier
}

func NewEngine(updater ProjectUpdater, notifier Notifier) *Engine {
	return &Engine{
		updater:  updater,
		notifier: notifier,
	}
}

// CheckAdvancement returns the next stage if the project currently qualifies
// to enter it, or nil. Nil for projects already at the terminal stage, so
// repeated calls there stay no-ops. Never errors: any missing criterion
// fails safe to "no advancement".
func (e *Engine) CheckAdvancement(p *domain.Project, aux AuxiliarySignals) *Stage {
	current := ResolveStage(p)
	next := current.Next()
	if next == nil {
		return nil
	}

	ok := false
	switch next.ID {
	case StageTerrain:
		ok = p.Location != "" && p.Title != ""
	case StageSuitability:
		ok = p.Flag(domain.MetaTerrainCompleted) || aux.HasTerrainAnalysis
	case StageZoning:
		ok = p.Flag(domain.MetaSuitabilityCompleted) || aux.HasSuitabilityAnalysis
	case StageCompleted:
		ok = (p.Flag(domain.MetaZoningCompleted) || aux.HasZoning) && p.Progress >= 90
	}

	if !ok {
		return nil
	}
	return next
}

// Advance moves the project to its next stage when the admission criteria
// hold. Returns false with no update call when nothing qualifies; that is
// not an error. Update failures propagate to the caller unchanged; the
// mutation path that triggered the advancement decides what to do with them.
func (e *Engine) Advance(ctx context.Context, p *domain.Project, aux AuxiliarySignals) (bool, error) {
	next := e.CheckAdvancement(p, aux)
	if next == nil {
		return false, nil
	}
	current := ResolveStage(p)

	now := time.Now().UTC().Format(time.RFC3339)
	metadata := make(map[string]any, len(p.Metadata)+3)
	for k, v := range p.Metadata {
		metadata[k] = v
	}
	metadata[next.ID+"_started"] = now
	metadata[domain.MetaPreviousStage] = current.ID
	metadata[domain.MetaStageChangedAt] = now

	// The target stage's canonical value replaces live progress outright.
	// Admission criteria bound live progress below it, so this never lowers
	// the field.
	progress := next.Progress
	status := domain.StatusInProgress
	if next.ID == StageCompleted {
		status = domain.StatusCompleted
	}

	updated, err := e.updater.UpdateProject(ctx, p.ID, domain.Patch{
		Metadata: metadata,
		Progress: &progress,
		Status:   &status,
	})
	if err != nil {
		return false, err
	}

	if e.notifier != nil {
		notified := updated
		if notified == nil {
			notified = p
		}
		if err := e.notifier.StageChanged(ctx, notified, current, next); err != nil {
			log.Printf("[warn] operation=stage_notify project_id=%s stage=%s error=%v", p.ID, next.ID, err)
		}
	}

	return true, nil
}
