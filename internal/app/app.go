package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/dmitrijs2005/mediscan/internal/analysis"
	"github.com/dmitrijs2005/mediscan/internal/backup"
	"github.com/dmitrijs2005/mediscan/internal/config"
	"github.com/dmitrijs2005/mediscan/internal/connectivity"
	"github.com/dmitrijs2005/mediscan/internal/dbx"
	"github.com/dmitrijs2005/mediscan/internal/local"
	"github.com/dmitrijs2005/mediscan/internal/logging"
	"github.com/dmitrijs2005/mediscan/internal/models"
	"github.com/dmitrijs2005/mediscan/internal/obs"
	"github.com/dmitrijs2005/mediscan/internal/remote"
	"github.com/dmitrijs2005/mediscan/internal/remote/profiles"
	"github.com/dmitrijs2005/mediscan/internal/remote/records"
	"github.com/dmitrijs2005/mediscan/internal/services"
	"github.com/dmitrijs2005/mediscan/internal/session"
	"github.com/dmitrijs2005/mediscan/internal/syncer"
)

// Analyzer turns an image into a report.
type Analyzer interface {
	Analyze(ctx context.Context, image []byte, mimeType string, opts analysis.Options) (*models.Report, error)
}

// Uploader stores an exported backup remotely.
type Uploader interface {
	Upload(ctx context.Context, key string, body []byte) error
}

type App struct {
	config *config.Config
	logger logging.Logger

	store   *local.Store
	remote  *remote.Store
	monitor *connectivity.Monitor
	engine  *syncer.Engine
	session *session.Manager

	records  *services.RecordService
	users    *services.UserService
	backups  *backup.Service
	uploader Uploader
	analyzer Analyzer

	registry *prometheus.Registry
	health   *obs.HealthServer

	reader *bufio.Reader
	out    io.Writer

	migrated atomic.Bool
	bg       sync.WaitGroup // reconnect syncs

	mu       sync.Mutex
	lastScan *scan
}

// NewApp opens the stores and wires every component. Nothing touches the
// network yet.
func NewApp(ctx context.Context, cfg *config.Config, log logging.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dbx.SetMigrationLogger(log.With("module", "migrate"))
	store, err := local.Open(ctx, cfg.LocalDSN)
	if err != nil {
		return nil, err
	}

	var (
		rs     *remote.Store
		recs   records.Repository
		profs  profiles.Repository
		pinger connectivity.Pinger
	)
	if cfg.RemoteConfigured() {
		rs, err = remote.Open(cfg.RemoteDSN)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		recs, profs, pinger = rs.Records(rs.DB()), rs.Profiles(rs.DB()), rs
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	monitor := connectivity.New(pinger, cfg.PingTimeout, log)
	engine := syncer.New(store, recs, profs, monitor, log, syncer.NewMetrics(registry))
	sess := session.NewManager(store.Metadata(store.DB()), cfg.SessionSecret, cfg.SessionTTL)

	a := &App{
		config:   cfg,
		logger:   log.With("module", "app"),
		store:    store,
		remote:   rs,
		monitor:  monitor,
		engine:   engine,
		session:  sess,
		records:  services.NewRecordService(store, recs, engine, log),
		users:    services.NewUserService(store, profs, engine, sess, log),
		backups:  backup.New(store, engine, log),
		registry: registry,
		reader:   bufio.NewReader(os.Stdin),
		out:      os.Stdout,
	}

	if cfg.BackupPassphrase != "" {
		a.backups.SetPassphrase(cfg.BackupPassphrase)
	}

	if cfg.AIAPIKey != "" {
		a.analyzer = analysis.New(analysis.Config{
			APIKey:            cfg.AIAPIKey,
			BaseURL:           cfg.AIBaseURL,
			PrimaryModel:      cfg.AIPrimaryModel,
			FallbackModel:     cfg.AIFallbackModel,
			RequestsPerMinute: cfg.AIRequestsPerMinute,
		}, log)
	}

	if cfg.BackupUploadConfigured() {
		up, err := backup.NewS3Uploader(ctx, backup.S3Config{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.uploader = up
	}

	if cfg.HealthAddr != "" {
		a.health = obs.NewHealthServer(cfg.HealthAddr, log)
	}

	monitor.OnChange(a.onConnectivityChange)
	return a, nil
}

// Close waits for background syncs and then releases both stores.
func (a *App) Close() error {
	a.bg.Wait()
	a.engine.Close()

	var errs []error
	if a.remote != nil {
		errs = append(errs, a.remote.Close())
	}
	errs = append(errs, a.store.Close())
	return errors.Join(errs...)
}

// Run executes the startup sequence and the command loop. It returns when the
// user exits, input ends or ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	defer func() {
		if err := a.Close(); err != nil {
			a.logger.Error(ctx, "close stores", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.startup(ctx); err != nil {
		return err
	}

	var wg sync.WaitGroup
	a.startBackground(ctx, &wg)
	defer wg.Wait()
	defer cancel()

	fmt.Fprintln(a.out, "Welcome to MediScan (type 'help' for commands)")
	a.repl(ctx)
	return nil
}

func (a *App) startup(ctx context.Context) error {
	created, err := a.users.EnsureBootstrapAdmin(ctx, a.config.BootstrapAdminEmail, a.config.BootstrapAdminPassword)
	if err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	if created {
		fmt.Fprintf(a.out, "Created administrator account %s\n", a.config.BootstrapAdminEmail)
	}

	s, err := a.session.Restore(ctx)
	switch {
	case errors.Is(err, session.ErrNoSession):
	case err != nil:
		a.logger.Warn(ctx, "session restore failed", "error", err)
	default:
		fmt.Fprintf(a.out, "Signed in as %s (%s)\n", s.User.Email, s.User.Role)
		a.engine.Background(ctx, "startup")
	}
	return nil
}

func (a *App) startBackground(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.monitor.Run(ctx, a.config.OnlineCheckInterval)
	}()

	if a.config.MetricsAddr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			srv := obs.NewMetricsServer(a.config.MetricsAddr, a.registry, a.logger)
			if err := srv.Run(ctx); err != nil {
				a.logger.Error(ctx, "metrics server stopped", "error", err)
			}
		}()
	}

	if a.health != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.health.Run(ctx); err != nil {
				a.logger.Error(ctx, "health server stopped", "error", err)
			}
		}()
	}
}

// onConnectivityChange reacts to monitor transitions. Going online applies
// remote migrations once and then reconciles.
func (a *App) onConnectivityChange(ctx context.Context, online bool) {
	if a.health != nil {
		a.health.SetConnected(ctx, online)
	}
	if !online {
		return
	}

	a.bg.Add(1)
	go func() {
		defer a.bg.Done()
		ctx := context.WithoutCancel(ctx)
		if a.remote != nil && !a.migrated.Load() {
			if err := a.remote.RunMigrations(ctx); err != nil {
				a.logger.Warn(ctx, "remote migrations failed", "error", err)
				return
			}
			a.migrated.Store(true)
		}
		res, err := a.engine.SyncAll(ctx)
		if errors.Is(err, syncer.ErrClosed) {
			return
		}
		if err != nil {
			a.logger.Warn(ctx, "reconnect sync failed", "error", err)
			return
		}
		a.logger.Info(ctx, "reconnect sync finished", "run", res.RunID,
			"pushed", res.Pushed, "deleted", res.Deleted, "pulled", res.Pulled)
	}()
}

// current returns the signed-in account.
func (a *App) current() (models.UserAccount, bool) {
	u, err := a.session.Current()
	return u, err == nil
}

func (a *App) mode() string {
	if a.engine.Online() {
		return "online"
	}
	return "offline"
}
