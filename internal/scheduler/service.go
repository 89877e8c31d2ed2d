package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/agentplane/agentplane/internal/common/config"
	"github.com/agentplane/agentplane/internal/common/logger"
	"github.com/agentplane/agentplane/internal/schedule"
)

// cronParser accepts the same 5-field grammar the schedule package
// validates, with an optional CRON_TZ= prefix for per-job timezones.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// registeredJob tracks one live cron entry and the configuration it was
// registered with, so reconciliation can detect drift.
type registeredJob struct {
	entryID     cron.EntryID
	fingerprint schedule.Fingerprint
}

// Service owns the cron engine: it discovers enabled schedules, keeps
// the in-memory job table consistent with the store, and fires through
// the executor. Configuration changes are picked up within one reload
// interval; no restart is ever required.
type Service struct {
	repo     schedule.Repository
	executor *Executor
	cfg      config.SchedulerConfig
	log      *logger.Logger

	cron *cron.Cron

	mu   sync.Mutex
	jobs map[string]registeredJob

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates the scheduler service.
func NewService(repo schedule.Repository, executor *Executor, cfg config.SchedulerConfig, log *logger.Logger) *Service {
	return &Service{
		repo:     repo,
		executor: executor,
		cfg:      cfg,
		log:      log.WithFields(zap.String("component", "scheduler")),
		cron: cron.New(
			cron.WithParser(cronParser),
			cron.WithLocation(time.UTC),
		),
		jobs: make(map[string]registeredJob),
	}
}

// Start performs the initial discovery, starts the cron engine, and
// begins the periodic reconciliation loop.
func (s *Service) Start(ctx context.Context) error {
	if err := s.Reconcile(ctx); err != nil {
		return fmt.Errorf("initial schedule discovery failed: %w", err)
	}
	s.cron.Start()

	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.reloadLoop(loopCtx)

	s.log.Info("Scheduler started",
		zap.Int("schedules", len(s.jobs)),
		zap.Int("reload_interval_seconds", s.cfg.ReloadInterval))
	return nil
}

// Stop halts the reload loop and waits for in-flight jobs to finish.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	<-s.cron.Stop().Done()
	s.log.Info("Scheduler stopped")
}

func (s *Service) reloadLoop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(time.Duration(s.cfg.ReloadInterval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Reconcile(ctx); err != nil {
				s.log.WithError(err).Error("Schedule reconciliation failed")
			}
		}
	}
}

// Reconcile diffs the store's enabled schedules against the live job
// table: new schedules are added, vanished ones removed, and schedules
// whose cron/timezone/timeout/allowed_tools changed are re-registered.
func (s *Service) Reconcile(ctx context.Context) error {
	enabled, err := s.repo.ListEnabledSchedules(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	desired := make(map[string]*schedule.Schedule, len(enabled))
	for _, sched := range enabled {
		desired[sched.ID] = sched
	}

	for id, job := range s.jobs {
		sched, stillWanted := desired[id]
		if !stillWanted {
			s.cron.Remove(job.entryID)
			delete(s.jobs, id)
			s.log.WithSchedule(id).Info("Schedule unregistered")
			continue
		}
		if schedule.FingerprintOf(sched) != job.fingerprint {
			s.cron.Remove(job.entryID)
			delete(s.jobs, id)
			if err := s.register(sched); err != nil {
				s.log.WithSchedule(id).WithError(err).Error("Failed to re-register changed schedule")
				continue
			}
			s.log.WithSchedule(id).Info("Schedule re-registered after change")
		}
	}

	for id, sched := range desired {
		if _, live := s.jobs[id]; live {
			continue
		}
		if err := s.register(sched); err != nil {
			s.log.WithSchedule(id).WithError(err).Error("Failed to register schedule")
			continue
		}
		s.log.WithSchedule(id).WithAgent(sched.AgentName).Info("Schedule registered",
			zap.String("cron", sched.CronExpression), zap.String("timezone", sched.Timezone))
	}

	return nil
}

// register adds one cron job. Caller holds s.mu.
func (s *Service) register(sched *schedule.Schedule) error {
	id := sched.ID
	spec := sched.CronExpression
	if sched.Timezone != "" && sched.Timezone != "UTC" {
		spec = fmt.Sprintf("CRON_TZ=%s %s", sched.Timezone, sched.CronExpression)
	}
	entryID, err := s.cron.AddFunc(spec, func() {
		s.executor.Fire(context.Background(), id, schedule.TriggeredBySchedule)
	})
	if err != nil {
		return err
	}
	s.jobs[id] = registeredJob{entryID: entryID, fingerprint: schedule.FingerprintOf(sched)}
	return nil
}

// JobCount returns the number of live cron jobs.
func (s *Service) JobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Registered reports whether a schedule currently has a live job.
func (s *Service) Registered(scheduleID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[scheduleID]
	return ok
}
