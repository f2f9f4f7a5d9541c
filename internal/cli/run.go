package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/scenekeeper/internal/config"
	"github.com/roach88/scenekeeper/internal/engine"
	"github.com/roach88/scenekeeper/internal/metrics"
	"github.com/roach88/scenekeeper/internal/trigger"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	NoWatch bool

	// ready is closed once every component has started (for testing).
	ready chan struct{}
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Keep scene documents in sync until stopped",
		Long: `Run the reconciliation daemon.

A pass runs at startup, on every tick of the configured schedule, and a
moment after a scene document changes on disk. Passes never overlap.
Editing the config file reloads the API token; a changed token clears the
cached identity and muses and starts a fresh pass.

When metrics_addr is set, Prometheus metrics are served on /metrics.

Examples:
  scenekeeper run
  scenekeeper run --config ~/vault/scenekeeper.yaml --verbose
  scenekeeper run --no-watch`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.NoWatch, "no-watch", false, "do not watch documents; rely on the schedule")

	return cmd
}

func runDaemon(opts *RunOptions, cmd *cobra.Command) error {
	s, err := openSession(opts.RootOptions, cmd, needRemote|needJournal)
	if err != nil {
		return err
	}
	defer s.Close()

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	m := metrics.New()
	rec := s.reconciler(ctx,
		engine.WithNotifier(notifiers{s.notices, m}),
		engine.WithObserver(m),
	)
	eng := engine.New(rec, engine.WithSettleDelay(s.cfg.SettleDelay))
	m.TrackQueue(eng.QueueLen)

	sched, err := trigger.NewScheduler(s.cfg.Schedule, eng)
	if err != nil {
		return s.out.fail(ExitCommandError, ErrCodeConfig, "invalid schedule", err)
	}

	var watcher *trigger.Watcher
	if !opts.NoWatch {
		wopts := []trigger.WatcherOption{}
		if s.cfg.Path != "" {
			wopts = append(wopts, trigger.WithConfigFile(s.cfg.Path, func() { reloadCredential(s, eng) }))
		}
		watcher, err = trigger.NewWatcher(s.vault, eng, wopts...)
		if err != nil {
			return s.out.fail(ExitCommandError, ErrCodeNotFound, "failed to watch vault", err)
		}
	}

	var srv *http.Server
	var ln net.Listener
	if s.cfg.MetricsAddr != "" {
		ln, err = net.Listen("tcp", s.cfg.MetricsAddr)
		if err != nil {
			if watcher != nil {
				_ = watcher.Close()
			}
			return s.out.fail(ExitCommandError, ErrCodeConfig, "failed to listen for metrics", err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		srv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := eng.Run(gctx)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		return sched.Run(gctx)
	})
	if watcher != nil {
		g.Go(func() error {
			return watcher.Run(gctx)
		})
	}
	if srv != nil {
		g.Go(func() error {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, done := context.WithTimeout(context.WithoutCancel(gctx), 5*time.Second)
			defer done()
			return srv.Shutdown(shutdownCtx)
		})
	}

	eng.Enqueue(engine.Trigger{Source: engine.TriggerTimer})

	slog.Info("daemon started",
		"vault", s.vault.Root(),
		"folder", s.vault.Folder(),
		"schedule", s.cfg.Schedule,
		"watch", watcher != nil,
		"metrics_addr", s.cfg.MetricsAddr,
	)
	fmt.Fprintf(cmd.OutOrStdout(), "Keeping %s in sync. Press Ctrl-C to stop.\n", s.vault.Folder())
	if opts.ready != nil {
		close(opts.ready)
	}

	if err := g.Wait(); err != nil {
		return s.out.fail(ExitFailure, ErrCodeGeneric, "daemon error", err)
	}

	slog.Info("daemon stopped gracefully")
	return nil
}

// reloadCredential re-reads the config file and swaps in a changed token.
// Other settings take effect on restart.
func reloadCredential(s *session, eng *engine.Engine) {
	cfg, err := config.Load(s.cfg.Path)
	if err != nil {
		slog.Warn("config reload failed; keeping current settings", "path", s.cfg.Path, "error", err)
		return
	}
	s.client.SetToken(cfg.Token)
	if !s.cache.InvalidateOnCredentialChange(cfg.Token) {
		slog.Debug("config reloaded; token unchanged", "path", s.cfg.Path)
		return
	}
	slog.Info("API token changed; cleared cached identity and muses")
	eng.Enqueue(engine.Trigger{Source: engine.TriggerManual})
}
