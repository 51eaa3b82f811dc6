package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metroplan/metroplan-backend/internal/analysis"
	"github.com/metroplan/metroplan-backend/internal/orchestrator"
	"github.com/metroplan/metroplan-backend/internal/projects/client"
	"github.com/metroplan/metroplan-backend/internal/projects/domain"
	"github.com/metroplan/metroplan-backend/internal/session"
	"github.com/metroplan/metroplan-backend/internal/workflow"
)

// projectsBackend is a minimal in-memory stand-in for the projects system of
// record, enough to drive a full project lifecycle end to end.
type projectsBackend struct {
	mu       sync.Mutex
	nextID   int
	projects map[string]*domain.Project
}

func newProjectsBackend() *projectsBackend {
	return &projectsBackend{projects: make(map[string]*domain.Project)}
}

func (b *projectsBackend) serve() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		b.mu.Lock()
		defer b.mu.Unlock()

		switch {
		case r.URL.Path == "/projects" && r.Method == http.MethodGet:
			list := make([]*domain.Project, 0, len(b.projects))
			for _, p := range b.projects {
				list = append(list, p)
			}
			json.NewEncoder(w).Encode(list)

		case r.URL.Path == "/projects" && r.Method == http.MethodPost:
			var p domain.Project
			json.NewDecoder(r.Body).Decode(&p)
			b.nextID++
			p.ID = fmt.Sprintf("p%d", b.nextID)
			b.projects[p.ID] = &p
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(&p)

		case r.URL.Path == "/projects/stats":
			json.NewEncoder(w).Encode(domain.Stats{Total: len(b.projects)})

		case r.Method == http.MethodPut && !strings.HasSuffix(r.URL.Path, "/status"):
			id := strings.TrimPrefix(r.URL.Path, "/projects/")
			p, ok := b.projects[id]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			var patch domain.Patch
			json.NewDecoder(r.Body).Decode(&patch)
			if patch.Title != nil {
				p.Title = *patch.Title
			}
			if patch.Location != nil {
				p.Location = *patch.Location
			}
			if patch.Status != nil {
				p.Status = *patch.Status
			}
			if patch.Progress != nil {
				p.Progress = *patch.Progress
			}
			if patch.Metadata != nil {
				p.Metadata = patch.Metadata
			}
			json.NewEncoder(w).Encode(p)

		default:
			id := strings.TrimPrefix(r.URL.Path, "/projects/")
			p, ok := b.projects[id]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			json.NewEncoder(w).Encode(p)
		}
	})
}

// TestWorkflowLifecycle drives a project from creation through every stage to
// completion, checking the derived stage, the canonical progress and the
// persisted session pointer along the way.
func TestWorkflowLifecycle(t *testing.T) {
	backend := newProjectsBackend()
	server := httptest.NewServer(backend.serve())
	defer server.Close()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	sessions := session.NewStore(rdb, 0)
	o := orchestrator.New(orchestrator.Deps{
		Client:   client.NewClient(server.URL, 0),
		Sessions: sessions,
		Signals:  analysis.NewClient(""),
	})
	defer o.Close()

	ctx := context.Background()
	o.SignIn("planner-1", "valid-token")
	require.NoError(t, o.EnsureLoaded(ctx))

	// Create: the project starts at Planning / 0, which derives to Draft.
	p, err := o.CreateProject(ctx, client.CreateRequest{
		Title:    "Fjord District",
		Location: "Bergen",
	})
	require.NoError(t, err)
	assert.Equal(t, workflow.StageDraft, workflow.ResolveStage(p).ID)

	// Select it; the session pointer follows.
	_, err = o.SelectProject(ctx, p.ID, "")
	require.NoError(t, err)
	ptr, err := sessions.Load(ctx, "planner-1")
	require.NoError(t, err)
	require.NotNil(t, ptr)
	assert.Equal(t, p.ID, ptr.ProjectID)

	// A title and a location qualify a draft, so the first edit carries it
	// into Terrain.
	desc := "mixed-use redevelopment"
	p, err = o.UpdateProject(ctx, p.ID, domain.Patch{Description: &desc})
	require.NoError(t, err)
	assert.Equal(t, workflow.StageTerrain, workflow.ResolveStage(p).ID)
	assert.Equal(t, 25, p.Progress)
	assert.Equal(t, domain.StatusInProgress, p.Status)

	// Terrain evidence unlocks Suitability.
	p, err = o.UpdateProject(ctx, p.ID, domain.Patch{Metadata: map[string]any{
		domain.MetaTerrainCompleted: true,
	}})
	require.NoError(t, err)
	assert.Equal(t, workflow.StageSuitability, workflow.ResolveStage(p).ID)
	assert.Equal(t, 50, p.Progress)

	// Suitability evidence unlocks Zoning.
	p, err = o.UpdateProject(ctx, p.ID, domain.Patch{Metadata: map[string]any{
		domain.MetaTerrainCompleted:     true,
		domain.MetaSuitabilityCompleted: true,
	}})
	require.NoError(t, err)
	assert.Equal(t, workflow.StageZoning, workflow.ResolveStage(p).ID)
	assert.Equal(t, 75, p.Progress)

	// Zoning evidence alone is not enough: completion also needs the work
	// to be nearly done. At 75 the project holds.
	p, err = o.UpdateProject(ctx, p.ID, domain.Patch{Metadata: map[string]any{
		domain.MetaTerrainCompleted:     true,
		domain.MetaSuitabilityCompleted: true,
		domain.MetaZoningCompleted:      true,
	}})
	require.NoError(t, err)
	assert.Equal(t, workflow.StageZoning, workflow.ResolveStage(p).ID)
	assert.Equal(t, 75, p.Progress)

	// Pushing progress past the completion threshold finishes the project.
	progress := 95
	p, err = o.UpdateProject(ctx, p.ID, domain.Patch{
		Progress: &progress,
		Metadata: map[string]any{
			domain.MetaTerrainCompleted:     true,
			domain.MetaSuitabilityCompleted: true,
			domain.MetaZoningCompleted:      true,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, workflow.StageCompleted, workflow.ResolveStage(p).ID)
	assert.Equal(t, 100, p.Progress)
	assert.Equal(t, domain.StatusCompleted, p.Status)

	// Completed is terminal: further advancement attempts are no-ops.
	advanced, err := o.TryAdvance(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, advanced)

	// The stamps from each transition accumulate on the record.
	assert.Contains(t, p.Metadata, "completed_started")
	assert.Equal(t, workflow.StageZoning, p.Metadata[domain.MetaPreviousStage])
}
