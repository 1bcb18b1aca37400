package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/softcenter/internal/api"
	"github.com/charlesng35/softcenter/internal/app"
	iauth "github.com/charlesng35/softcenter/internal/auth"
	"github.com/charlesng35/softcenter/internal/cache"
	sharedtestutil "github.com/charlesng35/softcenter/internal/database/testutil"
	"github.com/charlesng35/softcenter/internal/middleware"
	"github.com/charlesng35/softcenter/internal/models"
	"github.com/charlesng35/softcenter/internal/realtime"
	"github.com/charlesng35/softcenter/internal/services"
	"github.com/charlesng35/softcenter/internal/snapshot"
	"github.com/charlesng35/softcenter/internal/storage"
	"github.com/charlesng35/softcenter/internal/tasks"
	"github.com/charlesng35/softcenter/pkg/mail"
)

// DefaultPassword is used by CreateUser.
const DefaultPassword = "secret-pass"

// Env encapsulates a fully-wired API instance backed by an in-memory database for handler tests.
type Env struct {
	T           *testing.T
	DB          *gorm.DB
	Router      *gin.Engine
	Config      *app.Config
	JWT         *iauth.JWTService
	Queue       *tasks.Queue
	Hub         *realtime.Hub
	Credentials *services.CredentialService
	Ledger      *services.LedgerService
	Mailer      *Outbox
	PublicDir   string
}

// Outbox records mail handed to the mailer instead of delivering it.
type Outbox struct {
	mu   sync.Mutex
	sent []mail.Message
}

// Send implements mail.Mailer.
func (o *Outbox) Send(_ context.Context, msg mail.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, msg)
	return nil
}

// Sent returns a copy of every recorded message.
func (o *Outbox) Sent() []mail.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]mail.Message(nil), o.sent...)
}

// LastResetToken returns the token of the most recent password reset mail.
func (o *Outbox) LastResetToken(t *testing.T) string {
	t.Helper()
	sent := o.Sent()
	require.NotEmpty(t, sent, "no mail was sent")
	for _, line := range strings.Split(sent[len(sent)-1].Body, "\n") {
		if token, ok := strings.CutPrefix(line, "Reset token: "); ok {
			return strings.TrimSpace(token)
		}
	}
	t.Fatal("last mail carries no reset token")
	return ""
}

// Option customises the configuration NewEnv wires the router with.
type Option func(*app.Config)

// WithResetMode selects the password reset mode.
func WithResetMode(mode string) Option {
	return func(cfg *app.Config) { cfg.Auth.PasswordReset.Mode = mode }
}

// WithSnapshotSource selects where system facts come from.
func WithSnapshotSource(source string) Option {
	return func(cfg *app.Config) { cfg.Snapshot.Source = source }
}

// WithSeedPlaceholders enables placeholder ledger seeding.
func WithSeedPlaceholders() Option {
	return func(cfg *app.Config) { cfg.Ledger.SeedPlaceholders = true }
}

// WithRateLimit bounds the auth endpoints.
func WithRateLimit(requests int, window time.Duration) Option {
	return func(cfg *app.Config) {
		cfg.Auth.RateLimit = app.RateLimitSettings{Requests: requests, Window: window}
	}
}

// WithMaxAvatarBytes caps avatar uploads.
func WithMaxAvatarBytes(n int64) Option {
	return func(cfg *app.Config) { cfg.Uploads.MaxAvatarBytes = n }
}

// HostSnapshot is returned by the collector wired into every Env.
var HostSnapshot = snapshot.Snapshot{
	OSName:        "Linux",
	OSVersion:     "Ubuntu 24.04 LTS",
	KernelVersion: "6.8.0-31-generic",
	Architecture:  "amd64",
	Hostname:      "build-01",
	Platform:      "linux",
	CPUModel:      "Test CPU",
	CPUCores:      4,
	TotalMemoryGB: 32,
	FreeMemoryGB:  20,
	TotalDiskGB:   512,
	FreeDiskGB:    300,
}

type staticCollector struct{}

func (staticCollector) Collect(context.Context) (snapshot.Snapshot, []*snapshot.ProbeError) {
	snap := HostSnapshot
	snap.CollectedAt = time.Now()
	return snap, nil
}

// NewEnv provisions a fresh handler test environment with migrations applied. The task
// queue is wired but not started; tests drive it with Queue.RunPending.
func NewEnv(t *testing.T, opts ...Option) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithAutoMigrate())
	publicDir := t.TempDir()

	cfg := &app.Config{
		Server: app.ServerConfig{
			APIPrefix:  "/api/v1",
			CORSOrigin: []string{"*"},
			PublicDir:  publicDir,
		},
		Auth: app.AuthConfig{
			JWT: app.JWTSettings{
				Secret: "test-suite-super-secret-key-32-bytes!!",
				Issuer: "test-suite",
				TTL:    time.Hour,
			},
			PasswordReset: app.PasswordResetSettings{Mode: app.PasswordResetDirect, TTL: time.Hour},
		},
		Snapshot: app.SnapshotConfig{Source: app.SnapshotSourceServer},
		Ledger:   app.LedgerConfig{StaleUpdateAfter: 30 * time.Minute},
		Tasks:    app.TasksConfig{Workers: 1, MaxAttempts: 3, TaskTimeout: 5 * time.Second},
		Uploads: app.UploadsConfig{
			MaxAvatarBytes: 1 << 20,
			Storage:        app.StorageFilesystem,
			Dir:            "uploads/avatars",
		},
		Email: app.EmailConfig{AppName: "Software Center"},
		Monitoring: app.MonitoringConfig{
			Prometheus: app.PrometheusConfig{Enabled: true, Endpoint: "/metrics"},
		},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret:         cfg.Auth.JWT.Secret,
		Issuer:         cfg.Auth.JWT.Issuer,
		AccessTokenTTL: cfg.Auth.JWT.TTL,
	})
	require.NoError(t, err)

	hub := realtime.NewHub()
	queue, err := tasks.NewQueue(db, tasks.Config{
		Workers:     cfg.Tasks.Workers,
		MaxAttempts: cfg.Tasks.MaxAttempts,
		TaskTimeout: cfg.Tasks.TaskTimeout,
	})
	require.NoError(t, err)

	credentials, err := services.NewCredentialService(db, queue, services.CredentialConfig{
		ResetMode: cfg.Auth.PasswordReset.Mode,
		ResetTTL:  cfg.Auth.PasswordReset.TTL,
		AppName:   cfg.Email.AppName,
	})
	require.NoError(t, err)

	sessions, err := services.NewSessionService(credentials, jwtSvc, queue, services.SessionConfig{
		RefreshSnapshot: cfg.Snapshot.Source == app.SnapshotSourceServer,
	})
	require.NoError(t, err)

	snapshots, err := services.NewSnapshotService(db, staticCollector{}, services.SnapshotConfig{Source: cfg.Snapshot.Source})
	require.NoError(t, err)

	ledger, err := services.NewLedgerService(db, hub, services.LedgerConfig{
		SeedPlaceholders: cfg.Ledger.SeedPlaceholders,
		StaleUpdateAfter: cfg.Ledger.StaleUpdateAfter,
	})
	require.NoError(t, err)

	admin, err := services.NewAdminService(db, snapshots, ledger, queue)
	require.NoError(t, err)

	queue.Register(models.TaskSnapshotRefresh, snapshots.RefreshHandler())
	queue.Register(models.TaskLedgerRescan, ledger.RescanHandler())
	outbox := &Outbox{}
	queue.Register(models.TaskMailPasswordReset, credentials.PasswordResetMailHandler(outbox))

	gate, err := iauth.NewGate(jwtSvc, credentials)
	require.NoError(t, err)

	avatars, err := storage.NewFilesystemStore(publicDir, cfg.Uploads.Dir)
	require.NoError(t, err)

	rates := cache.NewMemoryStore()
	t.Cleanup(func() { _ = rates.Close() })

	router, err := api.NewRouter(db, cfg, api.Dependencies{
		Credentials: credentials,
		Sessions:    sessions,
		Snapshots:   snapshots,
		Ledger:      ledger,
		Admin:       admin,
		Queue:       queue,
		Gate:        gate,
		Hub:         hub,
		Avatars:     avatars,
		RateStore:   middleware.NewRateStore(rates),
	})
	require.NoError(t, err)

	return &Env{
		T:           t,
		DB:          db,
		Router:      router,
		Config:      cfg,
		JWT:         jwtSvc,
		Queue:       queue,
		Hub:         hub,
		Credentials: credentials,
		Ledger:      ledger,
		Mailer:      outbox,
		PublicDir:   publicDir,
	}
}

// CreateUser inserts an account with DefaultPassword and a random email.
func (e *Env) CreateUser(role string) *models.User {
	e.T.Helper()

	email := role + "-" + uuid.NewString() + "@example.com"
	user, err := e.Credentials.Create(context.Background(), "Test "+role, email, DefaultPassword, role)
	require.NoError(e.T, err)
	return user
}

// UserPayload mirrors the user summary returned from auth endpoints.
type UserPayload struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Avatar string `json:"avatar"`
	Role   string `json:"role"`
}

// LoginResult bundles the JSON response from POST /api/v1/auth/login.
type LoginResult struct {
	Token string      `json:"token"`
	User  UserPayload `json:"user"`
}

// Login authenticates through the API and returns the issued token.
func (e *Env) Login(email, password, role string) LoginResult {
	e.T.Helper()

	payload := map[string]string{
		"email":    email,
		"password": password,
		"role":     role,
	}

	w := e.Request(http.MethodPost, "/api/v1/auth/login", payload, "")
	require.Equal(e.T, http.StatusOK, w.Code, w.Body.String())

	var result LoginResult
	DecodeInto(e.T, w, &result)
	require.NotEmpty(e.T, result.Token)
	require.Equal(e.T, email, result.User.Email)

	return result
}

// LoginAs creates an account with the given role and returns it with a valid token.
func (e *Env) LoginAs(role string) (*models.User, string) {
	e.T.Helper()
	user := e.CreateUser(role)
	return user, e.Login(user.Email, DefaultPassword, role).Token
}

// ErrorMessage decodes the `{"message": ...}` body.
func ErrorMessage(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body.Message
}

// DecodeInto unmarshals the response body into the provided destination.
func DecodeInto[T any](t *testing.T, w *httptest.ResponseRecorder, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), dest), w.Body.String())
}

// Request executes an HTTP request against the test router, applying JSON encoding and auth headers automatically.
func (e *Env) Request(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()

	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, path, reader)
	require.NoError(e.T, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return e.Do(req, token)
}

// Upload posts a single multipart file field.
func (e *Env) Upload(path, field, filename, contentType string, content []byte, token string) *httptest.ResponseRecorder {
	e.T.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+filename+`"`)
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	require.NoError(e.T, err)
	_, err = part.Write(content)
	require.NoError(e.T, err)
	require.NoError(e.T, writer.Close())

	req, err := http.NewRequest(http.MethodPost, path, &buf)
	require.NoError(e.T, err)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return e.Do(req, token)
}

// Do serves req, adding the bearer token when set.
func (e *Env) Do(req *http.Request, token string) *httptest.ResponseRecorder {
	e.T.Helper()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}
