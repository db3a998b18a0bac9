// Command orchestrator runs the action orchestrator: it loads a config
// file, assembles the executor/cascade/health stack, and either executes
// one action and prints its result, runs the configured cron schedule
// and HTTP/metrics server, or statically validates the compiled-in
// action set.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/actionforge/internal/action"
	"github.com/haasonsaas/actionforge/internal/actionset"
	"github.com/haasonsaas/actionforge/internal/cascade"
	"github.com/haasonsaas/actionforge/internal/config"
	"github.com/haasonsaas/actionforge/internal/cron"
	"github.com/haasonsaas/actionforge/internal/executor"
	"github.com/haasonsaas/actionforge/internal/health"
	"github.com/haasonsaas/actionforge/internal/observability"
)

var configPath string

const shutdownTimeout = 10 * time.Second

func main() {
	root := &cobra.Command{
		Use:   "orchestrator",
		Short: "Runs declarative actions through the model-cascade executor.",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the orchestrator config file")

	root.AddCommand(newRunCmd())
	root.AddCommand(newServeCmd())
	root.AddCommand(newValidateActionsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// stack holds every long-lived collaborator assembled from config, shared
// by all subcommands.
type stack struct {
	cfg      *config.Config
	log      *observability.Logger
	registry *action.Registry
	exec     *executor.Executor
	cascade  *cascade.Client
	counter  *health.Counter
	store    health.Store
}

func buildStack() (*stack, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log := observability.NewLogger(observability.LogConfig{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	registry, err := actionset.Build()
	if err != nil {
		return nil, fmt.Errorf("build action set: %w", err)
	}

	cascadeCfg, err := cfg.Cascade.ToCascadeConfig()
	if err != nil {
		return nil, fmt.Errorf("resolve cascade config: %w", err)
	}

	var store health.Store
	var counter *health.Counter
	if cfg.Health.DBPath != "" {
		sqlStore, err := health.OpenSQLiteStore(cfg.Health.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open health store: %w", err)
		}
		store = sqlStore
		counter, err = health.NewWithStore(context.Background(), store, nil)
		if err != nil {
			return nil, fmt.Errorf("restore health counter: %w", err)
		}
	} else {
		counter = health.New(nil)
	}

	wire := map[cascade.WireFormat]cascade.WireAdapter{
		cascade.WireOpenAI:    cascade.NewOpenAIWire(),
		cascade.WireAnthropic: cascade.NewAnthropicWire(),
	}
	cascadeClient := cascade.NewClient(cascadeCfg, counter, wire, log)

	exec := executor.New(executor.Deps{
		Registry:  registry,
		Validator: action.NewValidator(),
		Cascade:   cascadeClient,
		Log:       log,
		Metrics:   executor.NewMetrics(),
	})

	return &stack{cfg: cfg, log: log, registry: registry, exec: exec, cascade: cascadeClient, counter: counter, store: store}, nil
}

func (s *stack) Close() {
	if s.store != nil {
		_ = s.store.Close()
	}
}

func newRunCmd() *cobra.Command {
	var paramsJSON string
	cmd := &cobra.Command{
		Use:   "run <action>",
		Short: "Executes one action and prints its result as JSON.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := buildStack()
			if err != nil {
				return err
			}
			defer s.Close()

			params := map[string]any{}
			if paramsJSON != "" {
				if err := json.Unmarshal([]byte(paramsJSON), &params); err != nil {
					return fmt.Errorf("parse --params: %w", err)
				}
			}

			result, err := s.exec.Execute(cmd.Context(), args[0], params)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&paramsJSON, "params", "{}", "action input parameters as a JSON object")
	return cmd
}

func newValidateActionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-actions",
		Short: "Freezes the compiled-in action set and reports any invariant violations.",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := actionset.Build()
			if err != nil {
				return err
			}
			fmt.Printf("ok: %d actions registered, all invariants satisfied\n", len(registry.Names()))
			return nil
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the scheduled-action cron loop and a metrics endpoint until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := buildStack()
			if err != nil {
				return err
			}
			defer s.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			// Cascade entries are hot-swappable: edits to the config file
			// take effect on the next Generate call without a restart.
			go func() {
				err := config.Watch(ctx, configPath, func(cfg *config.Config) {
					cascadeCfg, err := cfg.Cascade.ToCascadeConfig()
					if err != nil {
						s.log.Error(ctx, "config reload rejected", "error", err)
						return
					}
					s.cascade.UpdateConfig(cascadeCfg)
					s.log.Info(ctx, "cascade config reloaded")
				}, func(err error) {
					s.log.Error(ctx, "config reload failed", "error", err)
				})
				if err != nil && ctx.Err() == nil {
					s.log.Error(ctx, "config watcher stopped", "error", err)
				}
			}()

			var scheduler *cron.Scheduler
			if s.cfg.Cron.Enabled {
				jobs, err := buildCronJobs(s.cfg)
				if err != nil {
					return fmt.Errorf("build cron jobs: %w", err)
				}
				scheduler = cron.NewScheduler(s.exec, jobs, cron.WithLogger(s.log))
				scheduler.Start(ctx)
				defer scheduler.Stop()
			}

			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.MetricsPort)
			srv := &http.Server{Addr: addr, Handler: mux}

			errCh := make(chan error, 1)
			go func() {
				s.log.Info(ctx, "metrics server listening", "addr", addr)
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- err
				}
			}()

			select {
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			case err := <-errCh:
				return err
			}
		},
	}
}

func buildCronJobs(cfg *config.Config) ([]*cron.Job, error) {
	jobs := make([]*cron.Job, 0, len(cfg.Cron.Jobs))
	for _, jc := range cfg.Cron.Jobs {
		sched, err := cron.NewSchedule(jc.Schedule, "")
		if err != nil {
			return nil, fmt.Errorf("job %q: %w", jc.Name, err)
		}
		jobs = append(jobs, &cron.Job{
			Name:     jc.Name,
			Action:   jc.Action,
			Schedule: sched,
			Params:   jc.Params,
			Timeout:  jc.Timeout,
		})
	}
	return jobs, nil
}
