package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/openfittrack/fitsync/internal/config"
	"github.com/openfittrack/fitsync/internal/connectivity"
	"github.com/openfittrack/fitsync/internal/cursorfile"
	"github.com/openfittrack/fitsync/internal/engine"
	"github.com/openfittrack/fitsync/internal/identity"
	"github.com/openfittrack/fitsync/internal/remote"
)

// httpTimeout bounds individual REST requests.
const httpTimeout = 30 * time.Second

func newSyncCmd() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run a sync cycle (or keep syncing with --watch)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd.Context(), watch)
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "keep running: periodic timer plus connectivity, identity, and local-change triggers")

	return cmd
}

// appEnv holds the wired collaborators shared by the CLI commands.
type appEnv struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *engine.Store
	provider *identity.Provider
	client   *remote.Client
	cursors  *cursorfile.Store
	engine   *engine.Engine
}

// buildEnv loads config and constructs the full collaborator graph.
// logToFile selects the rotating-file logger used in watch mode.
func buildEnv(logToFile bool) (*appEnv, error) {
	bootstrap := newLogger("")

	cfg, err := config.Load(flagConfigPath, bootstrap)
	if err != nil {
		return nil, err
	}

	logFile := ""
	if logToFile {
		logFile = cfg.LogFile
	}

	logger := newLogger(logFile)

	store, err := engine.NewStore(cfg.DatabasePath, logger)
	if err != nil {
		return nil, err
	}

	provider := identity.NewProvider(logger)
	signIn(cfg, provider)

	client := remote.NewClient(cfg.BaseURL, cfg.APIKey, &http.Client{Timeout: httpTimeout}, provider, logger)
	cursors := cursorfile.NewStore(cfg.CursorDir, logger)

	eng := engine.NewEngine(&engine.Config{
		Store:    store,
		Remote:   client,
		Schema:   remote.SchemaClassifier{},
		Identity: provider,
		Cursors:  cursors,
		PageSize: cfg.PageSize,
		Logger:   logger,
	})

	return &appEnv{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		provider: provider,
		client:   client,
		cursors:  cursors,
		engine:   eng,
	}, nil
}

// signIn attaches the configured identity, if any. A refresh token uses
// the backend's token endpoint; a bare access token is used as-is.
func signIn(cfg *config.Config, provider *identity.Provider) {
	auth := cfg.Auth
	if auth.UserID == "" {
		return
	}

	switch {
	case auth.RefreshToken != "" && auth.TokenURL != "":
		oc := &oauth2.Config{Endpoint: oauth2.Endpoint{TokenURL: auth.TokenURL}}
		source := oc.TokenSource(context.Background(), &oauth2.Token{RefreshToken: auth.RefreshToken})
		provider.SignIn(auth.UserID, source)

	case auth.AccessToken != "":
		provider.SignIn(auth.UserID, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: auth.AccessToken}))
	}
}

func runSync(ctx context.Context, watch bool) error {
	env, err := buildEnv(watch)
	if err != nil {
		return err
	}
	defer env.store.Close()

	if !watch {
		return runOnce(ctx, env)
	}

	return runWatch(ctx, env)
}

// runOnce executes a single cycle and prints its report.
func runOnce(ctx context.Context, env *appEnv) error {
	report, err := env.engine.RunCycle(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("pushed %d (failed %d, dropped %d), pulled %d rows",
		report.Push.Pushed, report.Push.Failed, report.Push.Dropped, report.Pull.Rows)

	if report.Sweep != nil && report.Sweep.Removed > 0 {
		fmt.Printf(", swept %d stale rows", report.Sweep.Removed)
	}

	if report.Pull.Advanced {
		fmt.Printf(", cursor -> %s", report.Pull.Watermark)
	}

	fmt.Println()

	return nil
}

// runWatch runs the orchestrator loop alongside the connectivity monitor
// and the datastore watcher until SIGINT/SIGTERM.
func runWatch(ctx context.Context, env *appEnv) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	monitor := connectivity.NewMonitor(env.cfg.HealthWSURL, env.logger)

	watcher, err := engine.NewDBWatcher(env.cfg.DatabasePath, env.logger)
	if err != nil {
		return err
	}

	// Identity events collapse onto a single trigger channel; the
	// orchestrator does not care which kind fired.
	authTrigger := make(chan struct{}, 1)

	orch := engine.NewOrchestrator(&engine.OrchestratorConfig{
		Engine:      env.engine,
		Interval:    env.cfg.SyncInterval.Std(),
		Online:      monitor.Events(),
		Auth:        authTrigger,
		LocalChange: watcher.Events(),
		Logger:      env.logger,
	})

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return monitor.Run(ctx) })
	g.Go(func() error { return watcher.Run(ctx) })
	g.Go(func() error {
		for {
			select {
			case ev := <-env.provider.Events():
				env.logger.Debug("identity event", "kind", ev.Kind.String())

				select {
				case authTrigger <- struct{}{}:
				default:
				}

			case <-ctx.Done():
				return nil
			}
		}
	})
	g.Go(func() error { return orch.Run(ctx) })

	return g.Wait()
}
