package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"VaultKeeper/internal/logger"
	"VaultKeeper/internal/notifier"
	"VaultKeeper/internal/recorder"
	"VaultKeeper/internal/store"
)

// Scheduler triggers control-loop runs from cron and from chat commands.
// At most one run is active at a time.
type Scheduler struct {
	Cron     *cron.Cron
	Loop     *Loop
	Store    store.SettingsStore
	Notifier notifier.Notifier
	Recorder recorder.Recorder
	Budget   time.Duration
	Ctx      context.Context

	running sync.Mutex
	log     zerolog.Logger
}

// NewScheduler creates a new Scheduler.
func NewScheduler(ctx context.Context, loop *Loop, st store.SettingsStore, n notifier.Notifier, rec recorder.Recorder, budget time.Duration) *Scheduler {
	if rec == nil {
		rec = recorder.NewNoopRecorder()
	}
	return &Scheduler{
		Cron:     cron.New(cron.WithSeconds()),
		Loop:     loop,
		Store:    st,
		Notifier: n,
		Recorder: rec,
		Budget:   budget,
		Ctx:      ctx,
		log:      logger.GetForComponent("scheduler"),
	}
}

// Register adds the periodic run.
func (s *Scheduler) Register(runCron string) error {
	if _, err := s.Cron.AddFunc(runCron, func() { s.RunNow(Event{}) }); err != nil {
		return fmt.Errorf("register run task: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	s.log.Info().Msg("scheduler started")
}

// Stop stops the cron scheduler and waits for a running job.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	s.log.Info().Msg("scheduler stopped")
}

// RunNow runs the loop with a fresh budget. It returns false without running
// when another run is still active.
func (s *Scheduler) RunNow(ev Event) (Status, bool) {
	if !s.running.TryLock() {
		s.log.Warn().Msg("previous run still active, skipping")
		return StatusFailure, false
	}
	defer s.running.Unlock()

	status := s.Loop.Run(s.Ctx, ev, NewDeadlineBudget(s.Budget))
	s.log.Info().Str("status", string(status)).Int("code", status.Code()).Msg("run finished")
	return status, true
}

// HandleCommand processes a chat command and returns a reply.
func (s *Scheduler) HandleCommand(ctx context.Context, command string) string {
	cmd := strings.Fields(command)
	if len(cmd) == 0 {
		return notifier.FormatHelp()
	}
	switch strings.ToLower(strings.SplitN(cmd[0], "@", 2)[0]) {
	case "/status":
		settings, state, err := s.Store.Load(ctx)
		if err != nil {
			return "could not load state: " + notifier.Escape(err.Error())
		}
		runs, err := s.Recorder.RecentRuns(5)
		if err != nil {
			s.log.Warn().Err(err).Msg("load recent runs")
		}
		return notifier.FormatStatus(settings, state, runs)
	case "/check":
		if _, ran := s.RunNow(Event{CheckSetup: true}); !ran {
			return "a run is active, try again later"
		}
		return ""
	case "/run":
		go s.RunNow(Event{})
		return "run started"
	default:
		return notifier.FormatHelp()
	}
}
