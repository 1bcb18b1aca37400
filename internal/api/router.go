package api

import (
	"errors"
	"path"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/charlesng35/softcenter/internal/app"
	iauth "github.com/charlesng35/softcenter/internal/auth"
	"github.com/charlesng35/softcenter/internal/handlers"
	"github.com/charlesng35/softcenter/internal/middleware"
	"github.com/charlesng35/softcenter/internal/realtime"
	"github.com/charlesng35/softcenter/internal/services"
	"github.com/charlesng35/softcenter/internal/storage"
	"github.com/charlesng35/softcenter/internal/tasks"
)

// Dependencies are the wired components the HTTP surface is built from.
type Dependencies struct {
	Credentials *services.CredentialService
	Sessions    *services.SessionService
	Snapshots   *services.SnapshotService
	Ledger      *services.LedgerService
	Admin       *services.AdminService
	Queue       *tasks.Queue
	Gate        *iauth.Gate
	Hub         *realtime.Hub
	Avatars     storage.AvatarStore
	RateStore   middleware.RateStore
}

func (d Dependencies) validate() error {
	switch {
	case d.Credentials == nil || d.Sessions == nil:
		return errors.New("credential and session services must be provided")
	case d.Snapshots == nil || d.Ledger == nil || d.Admin == nil:
		return errors.New("snapshot, ledger and admin services must be provided")
	case d.Queue == nil:
		return errors.New("task queue must be provided")
	case d.Gate == nil:
		return errors.New("request gate must be provided")
	}
	return nil
}

// NewRouter builds the Gin engine, wires middleware and registers every route.
func NewRouter(db *gorm.DB, cfg *app.Config, deps Dependencies) (*gin.Engine, error) {
	if db == nil {
		return nil, errors.New("database handle must be provided")
	}
	if cfg == nil {
		return nil, errors.New("config must be provided")
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger("/health", cfg.Monitoring.Prometheus.Endpoint))
	r.Use(middleware.Metrics("/ws"))
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.Server.CORSOrigin...))

	registerHealthRoutes(r, db)
	registerMonitoringRoutes(r, cfg.Monitoring.Prometheus)

	if cfg.Uploads.Storage == app.StorageFilesystem {
		dir := strings.Trim(path.Clean("/"+filepath.ToSlash(cfg.Uploads.Dir)), "/")
		if root := strings.SplitN(dir, "/", 2)[0]; root != "" {
			r.Static("/"+root, filepath.Join(cfg.Server.PublicDir, root))
		}
	}

	realtimeHandler := handlers.NewRealtimeHandler(deps.Hub, deps.Gate)
	r.GET("/ws", realtimeHandler.Stream)

	prefix := strings.TrimRight(cfg.Server.APIPrefix, "/")
	public := r.Group(prefix)
	protected := r.Group(prefix)
	protected.Use(middleware.Auth(deps.Gate))

	limit := cfg.Auth.RateLimit
	registerAuthRoutes(public, protected, authRouteDeps{
		Handler:   handlers.NewAuthHandler(deps.Credentials, deps.Sessions),
		RateLimit: middleware.RateLimit(deps.RateStore, limit.Requests, limit.Window),
	})

	registerUserRoutes(protected, handlers.NewUserHandler(
		deps.Admin, deps.Credentials, deps.Snapshots, deps.Avatars, cfg.Uploads.MaxAvatarBytes,
	))
	registerSoftwareRoutes(protected, handlers.NewSoftwareHandler(deps.Ledger))
	registerTaskRoutes(protected, handlers.NewTaskHandler(deps.Queue))

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
