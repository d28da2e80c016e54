package cli

import (
	"bufio"
	"context"
	"database/sql"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/idkeeper/internal/client/client"
	"github.com/dmitrijs2005/idkeeper/internal/client/config"
	"github.com/dmitrijs2005/idkeeper/internal/client/services"
	"github.com/dmitrijs2005/idkeeper/internal/logging"
	api "github.com/dmitrijs2005/idkeeper/internal/server/grpc"
	"github.com/dmitrijs2005/idkeeper/internal/server/models"
	srvservices "github.com/dmitrijs2005/idkeeper/internal/server/services"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

// apiClient is the set of authenticated calls the commands make.
type apiClient interface {
	ChangePassword(ctx context.Context, current, next string) error
	SetupMFA(ctx context.Context) (*api.SetupMFAResponse, error)
	EnableMFA(ctx context.Context, code string) error
	DisableMFA(ctx context.Context, password string) error
	UnlockAccount(ctx context.Context, userID string) error
	UpdateConsent(ctx context.Context, category string, granted bool) (*api.UpdateConsentResponse, error)
	GetConsent(ctx context.Context) (map[models.ConsentCategory]bool, error)
	RequestExport(ctx context.Context) (string, error)
	RequestDeletion(ctx context.Context, password string) (string, error)
	JobStatus(ctx context.Context, jobID string) (*api.JobStatusResponse, error)
	Dashboard(ctx context.Context) (*srvservices.Dashboard, error)
	RunRetentionSweep(ctx context.Context) (*api.RetentionSweepResponse, error)
}

type sessionService interface {
	Register(ctx context.Context, email string, password []byte, fullName string) (string, error)
	Login(ctx context.Context, email string, password []byte, mfaCode string) (*services.Session, error)
	Restore(ctx context.Context) (*services.Session, error)
	Save(ctx context.Context) error
	Logout(ctx context.Context) error
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

type App struct {
	config  *config.Config
	session sessionService
	api     apiClient
	logger  logging.Logger
	db      *sql.DB
	reader  *bufio.Reader
	out     io.Writer

	mu      sync.Mutex
	current *services.Session
	mode    Mode
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, logging.HandlerOptions(slog.LevelInfo))))

	db, err := client.InitDatabase(ctx, c.SessionDB)
	if err != nil {
		logger.Error(ctx, "error initializing session database", "error", err)
		return nil, err
	}

	apiClient, err := client.NewIdentityClient(c.ServerEndpointAddr)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &App{
		config:  c,
		session: services.NewSessionService(apiClient, db),
		api:     apiClient,
		logger:  logger,
		db:      db,
		reader:  bufio.NewReader(os.Stdin),
		out:     os.Stdout,
	}, nil
}

func (a *App) setMode(ctx context.Context, mode Mode) {
	a.mu.Lock()
	changed := a.mode != mode
	a.mode = mode
	a.mu.Unlock()

	if changed {
		a.logger.Info(ctx, "connection mode changed", "mode", mode)
	}
}

func (a *App) setSession(s *services.Session) {
	a.mu.Lock()
	a.current = s
	a.mu.Unlock()
}

func (a *App) isLoggedIn() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current != nil
}

func (a *App) getStatus() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	parts := make([]string, 0, 2)
	if a.current != nil {
		parts = append(parts, a.current.Email)
	}
	if a.mode != "" {
		parts = append(parts, string(a.mode))
	}
	if len(parts) == 0 {
		return ""
	}
	return "(" + strings.Join(parts, " ") + ")"
}

// requestCtx bounds a single server call by the configured timeout.
func (a *App) requestCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.config == nil || a.config.RequestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.config.RequestTimeout)
}

// Run resumes a saved session, starts the connectivity watcher and blocks
// in the REPL until the user exits or ctx ends.
func (a *App) Run(ctx context.Context) {
	defer func() {
		if err := a.session.Close(context.WithoutCancel(ctx)); err != nil {
			a.logger.Warn(ctx, "error closing session", "error", err)
		}
		if a.db != nil {
			_ = a.db.Close()
		}
	}()

	if s, err := a.session.Restore(ctx); err != nil {
		a.logger.Warn(ctx, "could not restore session", "error", err)
	} else if s != nil {
		a.setSession(s)
		a.logger.Info(ctx, "session restored", "email", s.Email)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go a.StartOnlineStatusWatcher(watchCtx, a.config.OnlineCheckInterval)

	printlnFn("Welcome to idkeeper CLI (type 'help' for commands)")
	runREPL(ctx, a, a.getStatus, a.reader)
}

func (a *App) StartOnlineStatusWatcher(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := a.session.Ping(pingCtx)
			cancel()

			if err != nil {
				a.setMode(ctx, ModeOffline)
			} else {
				a.setMode(ctx, ModeOnline)
			}

		case <-ctx.Done():
			return
		}
	}
}
