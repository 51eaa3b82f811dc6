package bootstrap

import (
	"database/sql"

	fbauth "firebase.google.com/go/v4/auth"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/metroplan/metroplan-backend/config"
	"github.com/metroplan/metroplan-backend/internal/activity"
	"github.com/metroplan/metroplan-backend/internal/analysis"
	httpapi "github.com/metroplan/metroplan-backend/internal/api/http"
	"github.com/metroplan/metroplan-backend/internal/api/http/middleware"
	"github.com/metroplan/metroplan-backend/internal/auth"
	"github.com/metroplan/metroplan-backend/internal/notify"
	"github.com/metroplan/metroplan-backend/internal/orchestrator"
	"github.com/metroplan/metroplan-backend/internal/projects/client"
	"github.com/metroplan/metroplan-backend/internal/session"
	"github.com/metroplan/metroplan-backend/internal/users"
)

type RouterDeps struct {
	Cfg        *config.Config
	DB         *pgxpool.Pool
	SQLDB      *sql.DB
	Redis      *redis.Client
	AuthClient *fbauth.Client
	Poller     *notify.Poller
}

// BuildRouter wires the full gateway: auth middlewares, the per-user
// orchestrator manager and the v1 API. Returns the engine and the manager
// (callers close the manager on shutdown).
func BuildRouter(dep RouterDeps) (*gin.Engine, *orchestrator.Manager) {
	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOrigins:     dep.Cfg.Server.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: true,
	}))
	r.Use(middleware.RequestID())

	projectsClient := client.NewClient(dep.Cfg.Upstream.ProjectsURL, dep.Cfg.Upstream.RatePerSecond)
	sessions := session.NewStore(dep.Redis, dep.Cfg.App.SessionTTL)
	signals := analysis.NewClient(dep.Cfg.Upstream.AnalysisURL)
	notifier := notify.NewHTTPNotifier(dep.Cfg.Upstream.NotificationURL)

	// The health check only probes the analysis backend when one is
	// configured; an unset URL reads as disabled, not down.
	var healthSignals *analysis.Client
	if dep.Cfg.Upstream.AnalysisURL != "" {
		healthSignals = signals
	}
	healthHandler := httpapi.NewHealthHandler("metroplan-backend", dep.Cfg.App.Version, dep.DB, dep.Redis, healthSignals)
	healthHandler.RegisterRoutes(r)

	var activityRepo *activity.Repo
	if dep.SQLDB != nil {
		activityRepo = activity.NewRepo(dep.SQLDB)
	}

	manager := orchestrator.NewManager(orchestrator.Deps{
		Client:   projectsClient,
		Sessions: sessions,
		Signals:  signals,
		Activity: activityRepo,
		Notifier: notifier,
	})

	api := r.Group("/api/v1")
	api.Use(auth.TokenMiddleware(dep.AuthClient))

	userRepo := users.NewRepo(dep.DB)
	api.Use(auth.WithUser(userRepo))

	handler := httpapi.NewHandler(manager, activityRepo, dep.Poller)
	handler.Register(api)

	return r, manager
}
