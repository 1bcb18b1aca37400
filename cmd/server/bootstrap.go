package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/softcenter/internal/api"
	"github.com/charlesng35/softcenter/internal/app"
	"github.com/charlesng35/softcenter/internal/app/maintenance"
	iauth "github.com/charlesng35/softcenter/internal/auth"
	"github.com/charlesng35/softcenter/internal/cache"
	"github.com/charlesng35/softcenter/internal/database"
	"github.com/charlesng35/softcenter/internal/middleware"
	"github.com/charlesng35/softcenter/internal/models"
	"github.com/charlesng35/softcenter/internal/realtime"
	"github.com/charlesng35/softcenter/internal/services"
	"github.com/charlesng35/softcenter/internal/snapshot"
	"github.com/charlesng35/softcenter/internal/storage"
	"github.com/charlesng35/softcenter/internal/tasks"
	"github.com/charlesng35/softcenter/pkg/logger"
	"github.com/charlesng35/softcenter/pkg/mail"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB         *gorm.DB
	Cache      cache.Store
	closeCache func() error
	Hub        *realtime.Hub
	Queue      *tasks.Queue
	Cleaner    *maintenance.Cleaner
	Router     *gin.Engine

	queueStarted bool
}

// bootstrapRuntime initialises the database, cache, services, background workers and the HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	// enable gin debug mode
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	stack.Cache, stack.closeCache, err = cache.Open(cfg.Cache.StoreConfig(), stack.DB)
	if err != nil {
		return nil, fmt.Errorf("open cache store: %w", err)
	}
	log.Info("cache store ready", zap.String("driver", cfg.Cache.Driver))

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	stack.Hub = realtime.NewHub(cfg.Server.CORSOrigin...)

	stack.Queue, err = tasks.NewQueue(stack.DB, cfg.Tasks.QueueConfig(), tasks.WithNotifier(taskNotifier(stack.Hub)))
	if err != nil {
		return nil, fmt.Errorf("initialise task queue: %w", err)
	}

	credentials, err := services.NewCredentialService(stack.DB, stack.Queue, cfg.CredentialServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise credential service: %w", err)
	}

	sessions, err := services.NewSessionService(credentials, jwtSvc, stack.Queue, cfg.SessionServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise session service: %w", err)
	}

	collector := snapshot.NewCollector(cfg.Snapshot.CollectorOptions()...)
	snapshots, err := services.NewSnapshotService(stack.DB, collector, cfg.Snapshot.ServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise snapshot service: %w", err)
	}

	ledger, err := services.NewLedgerService(stack.DB, stack.Hub, cfg.Ledger.ServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise ledger service: %w", err)
	}

	admin, err := services.NewAdminService(stack.DB, snapshots, ledger, stack.Queue)
	if err != nil {
		return nil, fmt.Errorf("initialise admin service: %w", err)
	}

	gate, err := iauth.NewGate(jwtSvc, credentials)
	if err != nil {
		return nil, fmt.Errorf("initialise request gate: %w", err)
	}

	mailer, err := mail.NewSMTPMailer(cfg.Email.SMTPSettings())
	if err != nil {
		return nil, fmt.Errorf("initialise smtp mailer: %w", err)
	}
	log.Info("account policies",
		zap.String("password_reset_mode", cfg.Auth.PasswordReset.Mode),
		zap.String("snapshot_source", cfg.Snapshot.Source),
		zap.Bool("seed_placeholders", cfg.Ledger.SeedPlaceholders),
	)
	if cfg.Snapshot.Source == app.SnapshotSourceServer {
		log.Warn("system snapshots describe the host running this server, not the user's machine")
	}
	if cfg.Auth.PasswordReset.Mode == app.PasswordResetDirect {
		log.Warn("password reset mode is direct; resets require only email and role")
	}
	if cfg.Auth.PasswordReset.Mode == app.PasswordResetEmail && !cfg.Email.SMTP.Enabled {
		log.Warn("password reset mode is email but smtp delivery is disabled; reset mails will fail")
	}

	stack.Queue.Register(models.TaskSnapshotRefresh, snapshots.RefreshHandler())
	stack.Queue.Register(models.TaskLedgerRescan, ledger.RescanHandler())
	stack.Queue.Register(models.TaskMailPasswordReset, credentials.PasswordResetMailHandler(mailer))

	avatars, err := selectAvatarStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var purger maintenance.CachePurger
	if p, ok := stack.Cache.(cache.Purger); ok {
		purger = p
	}
	stack.Cleaner = maintenance.NewCleaner(stack.Queue, credentials, purger,
		maintenance.WithTaskRetention(cfg.Tasks.Retention),
	)
	if err := stack.Cleaner.Start(); err != nil {
		return nil, fmt.Errorf("start maintenance jobs: %w", err)
	}

	stack.Router, err = api.NewRouter(stack.DB, cfg, api.Dependencies{
		Credentials: credentials,
		Sessions:    sessions,
		Snapshots:   snapshots,
		Ledger:      ledger,
		Admin:       admin,
		Queue:       stack.Queue,
		Gate:        gate,
		Hub:         stack.Hub,
		Avatars:     avatars,
		RateStore:   middleware.NewRateStore(stack.Cache),
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	stack.Queue.Start(ctx)
	stack.queueStarted = true

	success = true
	return stack, nil
}

// Shutdown gracefully stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Cleaner != nil {
		stopCtx := s.Cleaner.Stop()
		if stopCtx != nil {
			ctx = stopCtx
		}
		if err := s.Cleaner.RunOnce(ctx); err != nil {
			log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
		}
	}

	if s.Queue != nil && s.queueStarted {
		s.Queue.Stop()
	}

	if s.closeCache != nil {
		if err := s.closeCache(); err != nil {
			log.Warn("cache shutdown", zap.Error(err))
		}
	}

	if s.DB != nil {
		closeDatabase(s.DB, log)
	}
}

// taskNotifier publishes finished task outcomes to admin subscribers.
func taskNotifier(hub *realtime.Hub) func(task models.BackgroundTask) {
	return func(task models.BackgroundTask) {
		if task.Kind == models.TaskMailPasswordReset {
			task.Payload = nil
		}
		hub.BroadcastStream(realtime.StreamAdminTasks, realtime.Message{
			Event: realtime.EventTaskFinished,
			Data:  task,
		})
	}
}

func selectAvatarStore(ctx context.Context, cfg *app.Config) (storage.AvatarStore, error) {
	switch cfg.Uploads.Storage {
	case app.StorageS3:
		store, err := storage.NewS3Store(ctx, cfg.Uploads.S3StoreConfig())
		if err != nil {
			return nil, fmt.Errorf("initialise s3 avatar store: %w", err)
		}
		return store, nil
	case app.StorageFilesystem, "":
		store, err := storage.NewFilesystemStore(cfg.Server.PublicDir, cfg.Uploads.Dir)
		if err != nil {
			return nil, fmt.Errorf("initialise avatar directory: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported avatar storage %q", cfg.Uploads.Storage)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := convertDatabaseConfig(cfg)
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	seed := database.SeedOptions{}
	if admin := cfg.Auth.BootstrapAdmin; admin.HasBootstrapAdmin() {
		seed = database.SeedOptions{
			AdminName:     admin.Name,
			AdminEmail:    admin.Email,
			AdminPassword: admin.Password,
		}
	}

	if err := database.AutoMigrateAndSeed(db, seed); err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			err = multierr.Append(err, sqlDB.Close())
		}
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", dbCfg.Driver))

	return db, nil
}

func convertDatabaseConfig(cfg *app.Config) database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(cfg.Database.Driver)),
		Path:   strings.TrimSpace(cfg.Database.Path),
		DSN:    strings.TrimSpace(cfg.Database.DSN),
	}

	var source app.DBAuthConfig
	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
		return dbCfg
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		source = cfg.Database.Postgres
	case "mysql":
		source = cfg.Database.MySQL
	default:
		// Leave driver as-is to surface unsupported driver error during open.
		return dbCfg
	}

	dbCfg.Host = strings.TrimSpace(source.Host)
	dbCfg.Port = source.Port
	dbCfg.Name = strings.TrimSpace(source.Database)
	dbCfg.User = strings.TrimSpace(source.Username)
	dbCfg.Password = source.Password
	dbCfg.Options = source.Options

	return dbCfg
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
