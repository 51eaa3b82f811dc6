package orchestrator

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
	"github.com/metroplan/metroplan-backend/internal/projects/client"
	"github.com/metroplan/metroplan-backend/internal/projects/domain"
	"github.com/metroplan/metroplan-backend/internal/session"
)

// fakeUpstream is an in-memory projects system of record.
type fakeUpstream struct {
	mu       sync.Mutex
	nextID   int
	projects map[string]*domain.Project
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{projects: make(map[string]*domain.Project)}
}

func (f *fakeUpstream) seed(p *domain.Project) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.projects[p.ID] = p
}

func (f *fakeUpstream) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		f.mu.Lock()
		defer f.mu.Unlock()

		path := strings.TrimPrefix(r.URL.Path, "/projects")
		switch {
		case r.URL.Path == "/projects" && r.Method == http.MethodGet:
			list := make([]*domain.Project, 0, len(f.projects))
			for _, p := range f.projects {
				list = append(list, p)
			}
			json.NewEncoder(w).Encode(list)

		case r.URL.Path == "/projects" && r.Method == http.MethodPost:
			var p domain.Project
			json.NewDecoder(r.Body).Decode(&p)
			f.nextID++
			p.ID = fmt.Sprintf("p%d", f.nextID)
			f.projects[p.ID] = &p
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(&p)

		case r.URL.Path == "/projects/stats":
			json.NewEncoder(w).Encode(domain.Stats{Total: len(f.projects)})

		case strings.HasSuffix(path, "/status") && r.Method == http.MethodPut:
			id := strings.TrimSuffix(strings.TrimPrefix(path, "/"), "/status")
			p, ok := f.projects[id]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			var body struct {
				Status string `json:"status"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			p.Status = body.Status
			json.NewEncoder(w).Encode(p)

		default:
			id := strings.TrimPrefix(path, "/")
			p, ok := f.projects[id]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			switch r.Method {
			case http.MethodGet:
				json.NewEncoder(w).Encode(p)
			case http.MethodPut:
				var patch domain.Patch
				json.NewDecoder(r.Body).Decode(&patch)
				if patch.Title != nil {
					p.Title = *patch.Title
				}
				if patch.Description != nil {
					p.Description = *patch.Description
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
			case http.MethodDelete:
				delete(f.projects, id)
				w.WriteHeader(http.StatusOK)
				w.Write([]byte(`{"ok":true}`))
			}
		}
	})
}

func setupOrchestrator(t *testing.T) (*Orchestrator, *fakeUpstream, *session.Store) {
	upstream := newFakeUpstream()
	server := httptest.NewServer(upstream.handler())
	t.Cleanup(server.Close)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	sessions := session.NewStore(rdb, 0)
	o := New(Deps{
		Client:   client.NewClient(server.URL, 0),
		Sessions: sessions,
		Signals:  analysis.NewClient(""),
	})
	t.Cleanup(o.Close)

	return o, upstream, sessions
}

func TestOrchestrator_SignInDoesNotRestore(t *testing.T) {
	o, upstream, sessions := setupOrchestrator(t)
	ctx := context.Background()

	upstream.seed(&domain.Project{ID: "p1", Title: "Harbor", Status: domain.StatusPlanning})
	require.NoError(t, sessions.Save(ctx, "alice", &domain.Project{ID: "p1", Title: "Harbor"}, ""))

	o.SignIn("alice", "good")
	require.NoError(t, o.EnsureLoaded(ctx))

	assert.Nil(t, o.Current(), "the last project is never auto-restored on login")
	require.Len(t, o.Projects(), 1)

	ptr, err := o.SessionPointer(ctx)
	require.NoError(t, err)
	require.NotNil(t, ptr, "the pointer itself survives for an explicit restore")
	assert.Equal(t, "p1", ptr.ProjectID)
}

func TestOrchestrator_SelectProject(t *testing.T) {
	o, upstream, sessions := setupOrchestrator(t)
	ctx := context.Background()

	upstream.seed(&domain.Project{ID: "p1", Title: "Harbor", Status: domain.StatusPlanning})
	o.SignIn("alice", "good")
	require.NoError(t, o.EnsureLoaded(ctx))

	t.Run("selection persists the pointer", func(t *testing.T) {
		p, err := o.SelectProject(ctx, "p1", "/projects/p1/terrain")
		require.NoError(t, err)
		assert.Equal(t, "p1", p.ID)
		assert.Equal(t, "p1", o.Current().ID)

		ptr, err := sessions.Load(ctx, "alice")
		require.NoError(t, err)
		require.NotNil(t, ptr)
		assert.Equal(t, "p1", ptr.ProjectID)
		assert.Equal(t, "/projects/p1/terrain", ptr.Route)
	})

	t.Run("selecting a missing project fails synchronously", func(t *testing.T) {
		_, err := o.SelectProject(ctx, "ghost", "")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("selection during a restore is not re-persisted", func(t *testing.T) {
		require.NoError(t, sessions.Clear(ctx, "alice"))

		sessions.BeginRestore()
		defer sessions.EndRestore()

		_, err := o.SelectProject(ctx, "p1", "")
		require.NoError(t, err)

		ptr, err := sessions.Load(ctx, "alice")
		require.NoError(t, err)
		assert.Nil(t, ptr)
	})
}

func TestOrchestrator_UpdateTriggersAdvancement(t *testing.T) {
	o, upstream, _ := setupOrchestrator(t)
	ctx := context.Background()

	upstream.seed(&domain.Project{
		ID:       "p1",
		Title:    "Harbor",
		Location: "Bergen",
		Status:   domain.StatusPlanning,
		Progress: 0,
	})
	o.SignIn("alice", "good")
	require.NoError(t, o.EnsureLoaded(ctx))

	desc := "waterfront redevelopment"
	p, err := o.UpdateProject(ctx, "p1", domain.Patch{Description: &desc})
	require.NoError(t, err)

	// Draft qualified for Terrain (title and location present), so the
	// engine moved it: canonical progress, In Progress status, stamps.
	assert.Equal(t, 25, p.Progress)
	assert.Equal(t, domain.StatusInProgress, p.Status)
	assert.Contains(t, p.Metadata, "terrain_started")
	assert.Equal(t, "draft", p.Metadata[domain.MetaPreviousStage])
}

func TestOrchestrator_UpdateWithColdCache(t *testing.T) {
	o, upstream, _ := setupOrchestrator(t)
	ctx := context.Background()

	upstream.seed(&domain.Project{
		ID:       "p1",
		Title:    "Harbor",
		Location: "Bergen",
		Status:   domain.StatusPlanning,
		Progress: 0,
	})

	// First mutation right after sign-in, before any list load has applied.
	// The edit and the advancement check both run against the fresh record.
	o.SignIn("alice", "good")

	desc := "first touch"
	p, err := o.UpdateProject(ctx, "p1", domain.Patch{Description: &desc})
	require.NoError(t, err)
	assert.Equal(t, 25, p.Progress)
	assert.Equal(t, domain.StatusInProgress, p.Status)
	assert.Contains(t, p.Metadata, "terrain_started")
}

func TestOrchestrator_TryAdvanceUncachedProject(t *testing.T) {
	o, upstream, _ := setupOrchestrator(t)
	ctx := context.Background()

	o.SignIn("alice", "good")
	require.NoError(t, o.EnsureLoaded(ctx))

	t.Run("unknown project is no advancement, not an error", func(t *testing.T) {
		advanced, err := o.TryAdvance(ctx, "ghost")
		require.NoError(t, err)
		assert.False(t, advanced)
	})

	t.Run("uncached project is fetched and advanced", func(t *testing.T) {
		upstream.seed(&domain.Project{
			ID:       "p9",
			Title:    "Harbor",
			Location: "Bergen",
			Status:   domain.StatusPlanning,
			Progress: 0,
		})

		advanced, err := o.TryAdvance(ctx, "p9")
		require.NoError(t, err)
		assert.True(t, advanced)

		p, err := o.GetProject(ctx, "p9")
		require.NoError(t, err)
		assert.Equal(t, 25, p.Progress)
	})
}

func TestOrchestrator_LoadingFlag(t *testing.T) {
	o, _, _ := setupOrchestrator(t)

	o.SignIn("alice", "good")
	assert.True(t, o.Loading(), "a scheduled load is pending after sign-in")

	require.NoError(t, o.EnsureLoaded(context.Background()))
	assert.False(t, o.Loading())
}

func TestOrchestrator_RestoreSession(t *testing.T) {
	o, upstream, sessions := setupOrchestrator(t)
	ctx := context.Background()

	upstream.seed(&domain.Project{ID: "p1", Title: "Harbor", Status: domain.StatusPlanning})
	o.SignIn("alice", "good")
	require.NoError(t, o.EnsureLoaded(ctx))

	t.Run("without a pointer there is nothing to restore", func(t *testing.T) {
		_, err := o.RestoreSession(ctx)
		assert.ErrorIs(t, err, domain.ErrNoSelection)
	})

	t.Run("restore replays the pointer without re-persisting it", func(t *testing.T) {
		require.NoError(t, sessions.Save(ctx, "alice",
			&domain.Project{ID: "p1", Title: "Harbor"}, "/projects/p1/zoning"))

		p, err := o.RestoreSession(ctx)
		require.NoError(t, err)
		assert.Equal(t, "p1", p.ID)
		assert.Equal(t, "p1", o.Current().ID)

		ptr, err := sessions.Load(ctx, "alice")
		require.NoError(t, err)
		require.NotNil(t, ptr)
		assert.Equal(t, "/projects/p1/zoning", ptr.Route, "the stored route survives the restore")
	})
}

func TestOrchestrator_AdvanceStopsWithoutEvidence(t *testing.T) {
	o, upstream, _ := setupOrchestrator(t)
	ctx := context.Background()

	upstream.seed(&domain.Project{
		ID:       "p1",
		Title:    "Harbor",
		Location: "Bergen",
		Status:   domain.StatusInProgress,
		Progress: 25,
	})
	o.SignIn("alice", "good")
	require.NoError(t, o.EnsureLoaded(ctx))

	advanced, err := o.TryAdvance(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, advanced, "terrain stage without completion evidence must hold")

	p, err := o.GetProject(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 25, p.Progress, "no update call was issued")
}

func TestOrchestrator_DeleteClearsSelection(t *testing.T) {
	o, upstream, sessions := setupOrchestrator(t)
	ctx := context.Background()

	upstream.seed(&domain.Project{ID: "p1", Title: "Harbor", Status: domain.StatusPlanning})
	o.SignIn("alice", "good")
	require.NoError(t, o.EnsureLoaded(ctx))

	_, err := o.SelectProject(ctx, "p1", "")
	require.NoError(t, err)

	require.NoError(t, o.DeleteProject(ctx, "p1"))
	assert.Nil(t, o.Current())
	assert.Empty(t, o.Projects())

	ptr, err := sessions.Load(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, ptr)
}

func TestOrchestrator_AuthRequiredClearsCache(t *testing.T) {
	o, upstream, _ := setupOrchestrator(t)
	ctx := context.Background()

	upstream.seed(&domain.Project{ID: "p1", Title: "Harbor", Status: domain.StatusPlanning})

	o.SignIn("alice", "bad")
	err := o.EnsureLoaded(ctx)
	assert.ErrorIs(t, err, domain.ErrAuthRequired)
	assert.True(t, o.AuthRequired())
	assert.Empty(t, o.Projects())
}

func TestOrchestrator_SignOut(t *testing.T) {
	o, upstream, sessions := setupOrchestrator(t)
	ctx := context.Background()

	upstream.seed(&domain.Project{ID: "p1", Title: "Harbor", Status: domain.StatusPlanning})
	o.SignIn("alice", "good")
	require.NoError(t, o.EnsureLoaded(ctx))
	_, err := o.SelectProject(ctx, "p1", "")
	require.NoError(t, err)

	o.SignOut(ctx)
	assert.Nil(t, o.Current())
	assert.Empty(t, o.Projects())

	ptr, err := sessions.Load(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, ptr)
}

func TestOrchestrator_CreateProject(t *testing.T) {
	o, _, _ := setupOrchestrator(t)
	ctx := context.Background()

	o.SignIn("alice", "good")
	require.NoError(t, o.EnsureLoaded(ctx))

	p, err := o.CreateProject(ctx, client.CreateRequest{Title: "New District"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPlanning, p.Status)
	assert.Equal(t, 0, p.Progress)
	require.Len(t, o.Projects(), 1)
}
