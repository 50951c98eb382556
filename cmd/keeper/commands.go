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

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"VaultKeeper/internal/logger"
	"VaultKeeper/internal/model"
	"VaultKeeper/internal/notifier"
	"VaultKeeper/internal/scheduler"
)

var errRunFailed = errors.New("run did not succeed")

var (
	runBudget     time.Duration
	runMinRatio   float64
	runMaxRatio   float64
	runToken      string
	runCheckSetup bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the control loop once within a time budget",
	Long:  `Recover from an interrupted run if needed, then rebalance the vault. Exits non-zero on failure or when the budget ran out.`,
	RunE:  runOnce,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the setup against the ledger and report it",
	RunE: func(cmd *cobra.Command, args []string) error {
		runCheckSetup = true
		return runOnce(cmd, args)
	},
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run on a cron schedule, serve metrics and answer chat commands",
	RunE:  runDaemon,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the persisted state and recent runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()
		settings, state, err := a.store.Load(cmd.Context())
		if err != nil {
			return err
		}
		runs, err := a.recorder.RecentRuns(10)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), notifier.FormatStatus(settings, state, runs))
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Mark the state Idle after checking the vault by hand",
	Long:  `Clears a pending action and the consecutive cleanup counter. Only use this after verifying the vault and wallet yourself.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()
		_, state, err := a.store.Load(cmd.Context())
		if err != nil {
			return err
		}
		if err := a.store.Save(cmd.Context(), model.IdleState(0)); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "state reset (was: %s, cleanups in a row: %d)\n", state, state.CleanupAttempts)
		return nil
	},
}

func init() {
	runCmd.Flags().DurationVar(&runBudget, "budget", 0, "wall-clock budget for this invocation (default schedule.run_budget)")
	runCmd.Flags().Float64Var(&runMinRatio, "min-ratio", 0, "override the minimum collateral ratio")
	runCmd.Flags().Float64Var(&runMaxRatio, "max-ratio", 0, "override the maximum collateral ratio (<= 0 removes exposure)")
	runCmd.Flags().StringVar(&runToken, "token", "", "override the target token")
	runCmd.Flags().BoolVar(&runCheckSetup, "check-setup", false, "only check the setup")
	checkCmd.Flags().DurationVar(&runBudget, "budget", 0, "wall-clock budget (default schedule.run_budget)")

	rootCmd.AddCommand(runCmd, checkCmd, daemonCmd, statusCmd, resetCmd)
}

// overrideFromFlags builds a settings override from the flags that were set.
func overrideFromFlags(cmd *cobra.Command) *model.SettingsOverride {
	o := &model.SettingsOverride{}
	if cmd.Flags().Changed("min-ratio") {
		v := decimal.NewFromFloat(runMinRatio)
		o.MinRatio = &v
	}
	if cmd.Flags().Changed("max-ratio") {
		v := decimal.NewFromFloat(runMaxRatio)
		o.MaxRatio = &v
	}
	if cmd.Flags().Changed("token") {
		o.TargetToken = &runToken
	}
	if o.Empty() {
		return nil
	}
	return o
}

func runOnce(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	budget := runBudget
	if budget <= 0 {
		budget = cfg.Schedule.RunBudget
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ev := scheduler.Event{Override: overrideFromFlags(cmd), CheckSetup: runCheckSetup}
	status := a.loop.Run(ctx, ev, scheduler.NewDeadlineBudget(budget))
	log := logger.GetForComponent("main")
	log.Info().Str("status", string(status)).Int("code", status.Code()).Msg("invocation finished")
	if status != scheduler.StatusSuccess {
		return fmt.Errorf("%w: %s", errRunFailed, status)
	}
	return nil
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	log := logger.GetForComponent("main")
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sched := scheduler.NewScheduler(ctx, a.loop, a.store, a.notifier, a.recorder, cfg.Schedule.RunBudget)
	if err := sched.Register(cfg.Schedule.RunCron); err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Metrics.Port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server")
		}
	}()
	log.Info().Int("port", cfg.Metrics.Port).Msg("metrics server started")

	if a.notifier.Configured() {
		go a.notifier.StartPolling(ctx, sched.HandleCommand)
		log.Info().Msg("telegram polling started")
	}

	log.Info().Str("cron", cfg.Schedule.RunCron).Dur("budget", cfg.Schedule.RunBudget).Msg("keeper is running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutdown signal received, stopping...")
	cancel()
	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	return srv.Shutdown(shutdownCtx)
}
