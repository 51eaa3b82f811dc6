package http

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/metroplan/metroplan-backend/internal/activity"
	"github.com/metroplan/metroplan-backend/internal/api/http/middleware"
	"github.com/metroplan/metroplan-backend/internal/auth"
	"github.com/metroplan/metroplan-backend/internal/notify"
	"github.com/metroplan/metroplan-backend/internal/orchestrator"
	"github.com/metroplan/metroplan-backend/internal/projects/client"
	"github.com/metroplan/metroplan-backend/internal/projects/domain"
	"github.com/metroplan/metroplan-backend/internal/workflow"
)

// Handler serves the project/session/workflow API on top of the per-user
// orchestrators.
type Handler struct {
	manager  *orchestrator.Manager
	activity *activity.Repo
	poller   *notify.Poller
}

func NewHandler(manager *orchestrator.Manager, activityRepo *activity.Repo, poller *notify.Poller) *Handler {
	return &Handler{
		manager:  manager,
		activity: activityRepo,
		poller:   poller,
	}
}

func (h *Handler) orch(c *gin.Context) *orchestrator.Orchestrator {
	return h.manager.For(auth.UserID(c), auth.BearerToken(c))
}

func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrAuthRequired):
		c.JSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "authentication required"})
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "project not found"})
	case errors.Is(err, domain.ErrNoSelection):
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "no saved session"})
	case errors.Is(err, domain.ErrRateLimited):
		c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false, "error": "upstream busy, try again"})
	default:
		log.Printf("[error] request_id=%s operation=%s error=%v",
			middleware.FromContext(c.Request.Context()), c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
	}
}

func (h *Handler) list(c *gin.Context) {
	o := h.orch(c)
	if err := o.EnsureLoaded(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "projects": o.Projects()})
}

func (h *Handler) stats(c *gin.Context) {
	o := h.orch(c)
	if err := o.EnsureLoaded(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "stats": o.Stats()})
}

func (h *Handler) get(c *gin.Context) {
	o := h.orch(c)
	p, err := o.GetProject(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "project": p})
}

func (h *Handler) create(c *gin.Context) {
	var req client.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Title) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid body"})
		return
	}

	p, err := h.orch(c).CreateProject(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"ok": true, "project": p})
}

func (h *Handler) update(c *gin.Context) {
	var patch domain.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid body"})
		return
	}

	p, err := h.orch(c).UpdateProject(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "project": p})
}

type statusReq struct {
	Status string `json:"status"`
}

func (h *Handler) updateStatus(c *gin.Context) {
	var req statusReq
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Status) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid body"})
		return
	}

	p, err := h.orch(c).UpdateStatus(c.Request.Context(), c.Param("id"), strings.TrimSpace(req.Status))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "project": p})
}

func (h *Handler) delete(c *gin.Context) {
	if err := h.orch(c).DeleteProject(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type selectReq struct {
	Route string `json:"route"`
}

func (h *Handler) selectProject(c *gin.Context) {
	var req selectReq
	_ = c.ShouldBindJSON(&req)

	o := h.orch(c)
	if err := o.EnsureLoaded(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}

	p, err := o.SelectProject(c.Request.Context(), c.Param("id"), req.Route)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "project": p})
}

func (h *Handler) advance(c *gin.Context) {
	o := h.orch(c)
	if err := o.EnsureLoaded(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}

	advanced, err := o.TryAdvance(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	p, err := o.GetProject(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":       true,
		"advanced": advanced,
		"stage":    workflow.ResolveStage(p).ID,
		"project":  p,
	})
}

func (h *Handler) workflowState(c *gin.Context) {
	p, err := h.orch(c).GetProject(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	stage := workflow.ResolveStage(p)
	c.JSON(http.StatusOK, gin.H{
		"ok": true,
		"stage": gin.H{
			"id":       stage.ID,
			"label":    stage.Label,
			"position": stage.Position,
			"unlocks":  stage.Unlocks,
			"action":   stage.Action,
		},
		"workflow_progress": workflow.WorkflowProgress(p),
		"project_progress":  p.Progress,
		"missing_flags":     workflow.StageConsistency(p),
	})
}

func (h *Handler) session(c *gin.Context) {
	ptr, err := h.orch(c).SessionPointer(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "session": ptr})
}

func (h *Handler) restoreSession(c *gin.Context) {
	o := h.orch(c)
	if err := o.EnsureLoaded(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}

	p, err := o.RestoreSession(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "project": p})
}

func (h *Handler) forgetSession(c *gin.Context) {
	if err := h.orch(c).ForgetSession(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) logout(c *gin.Context) {
	h.manager.SignOut(c.Request.Context(), auth.UserID(c))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) recentActivity(c *gin.Context) {
	if h.activity == nil {
		c.JSON(http.StatusOK, gin.H{"ok": true, "events": []activity.Event{}})
		return
	}

	events, err := h.activity.ListRecent(c.Request.Context(), auth.UserID(c), 50)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "events": events})
}

func (h *Handler) upstreamMetrics(c *gin.Context) {
	m := client.GetMetrics()
	c.JSON(http.StatusOK, gin.H{
		"ok": true,
		"upstream": gin.H{
			"avg_latency_ms": m.AverageLatency(),
			"error_rate_pct": m.ErrorRate(),
			"retries":        m.Retries(),
			"abandoned":      m.Abandoned(),
		},
	})
}

func (h *Handler) unreadNotifications(c *gin.Context) {
	count := 0
	if h.poller != nil {
		count = h.poller.UnreadCount(auth.UserID(c))
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "unread": count})
}
