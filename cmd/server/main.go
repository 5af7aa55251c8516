// Command server runs the learner-state HTTP API: signal intake, state
// apply, and decision generation for all (org, learner) pairs in one
// SQLite-backed process.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/danielpatrickdp/learner-state/internal/apply"
	"github.com/danielpatrickdp/learner-state/internal/config"
	"github.com/danielpatrickdp/learner-state/internal/decision"
	"github.com/danielpatrickdp/learner-state/internal/logger"
	"github.com/danielpatrickdp/learner-state/internal/policy"
	"github.com/danielpatrickdp/learner-state/internal/server"
	"github.com/danielpatrickdp/learner-state/internal/signallog"
	"github.com/danielpatrickdp/learner-state/internal/state"
)

const shutdownTimeout = 10 * time.Second

// #region main
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("server exited", "error", err)
	}
}

// #endregion main

// #region run
func run(cfg config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	states, err := state.NewStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer states.Close()

	signals, err := signallog.NewStoreWithDB(states.DB())
	if err != nil {
		return fmt.Errorf("open signal log: %w", err)
	}
	decisions, err := decision.NewStoreWithDB(states.DB())
	if err != nil {
		return fmt.Errorf("open decision store: %w", err)
	}

	def := policy.Builtin()
	if cfg.PolicyPath != "" {
		def, err = policy.Load(cfg.PolicyPath)
		if err != nil {
			return err
		}
	}
	log.Info("policy loaded",
		"policy_id", def.PolicyID,
		"policy_version", def.PolicyVersion,
		"rules", len(def.Rules))

	coord := apply.NewCoordinator(states, signals, log, apply.Config{MaxAttempts: cfg.ApplyMaxAttempts})
	generator := decision.NewGenerator(states, def, decisions, log)

	router := server.NewRouter(server.RouterConfig{
		Handlers: server.NewHandlers(signals, states, coord, generator, decisions),
		Log:      log,
	})
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http server listening", "addr", cfg.HTTPAddr, "db", cfg.DBPath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// #endregion run
