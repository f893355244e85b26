package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"marketplace-finance-service/internal/metrics"
)

// RunFunc is the body of a recurring job. It returns a short summary for the log.
type RunFunc func(ctx context.Context) (string, error)

// JobConfig describes one recurring job
type JobConfig struct {
	Name     string
	Schedule string
	Timeout  time.Duration
	Run      RunFunc
}

// EnabledFunc reports whether background jobs may run
type EnabledFunc func() bool

// Scheduler runs the recurring finance sweeps. Every sweep is idempotent; the
// redis lock only avoids duplicate work across replicas.
type Scheduler struct {
	cron    *cron.Cron
	redis   redis.UniversalClient
	enabled EnabledFunc
	logger  *logrus.Logger

	mu   sync.RWMutex
	jobs map[string]JobConfig

	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a scheduler. redisClient may be nil for a single replica.
func NewScheduler(redisClient redis.UniversalClient, enabled EnabledFunc, logger *logrus.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	if enabled == nil {
		enabled = func() bool { return true }
	}
	return &Scheduler{
		cron:    cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger))),
		redis:   redisClient,
		enabled: enabled,
		logger:  logger,
		jobs:    make(map[string]JobConfig),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// RegisterJob adds a recurring job. An empty schedule disables it.
func (s *Scheduler) RegisterJob(job JobConfig) error {
	if job.Schedule == "" {
		s.logger.WithField("job", job.Name).Info("Recurring job disabled")
		return nil
	}
	if job.Timeout <= 0 {
		job.Timeout = 5 * time.Minute
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("job %s already registered", job.Name)
	}
	if _, err := s.cron.AddFunc(job.Schedule, func() { s.execute(job) }); err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", job.Name, err)
	}
	s.jobs[job.Name] = job

	s.logger.WithFields(logrus.Fields{"job": job.Name, "schedule": job.Schedule}).Info("Recurring job registered")
	return nil
}

// Start begins firing jobs
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Scheduler started")
}

// Stop waits for running jobs to finish
func (s *Scheduler) Stop() {
	done := s.cron.Stop()
	s.cancel()
	<-done.Done()
	s.logger.Info("Scheduler stopped")
}

// Trigger runs a registered job immediately, bypassing the jobs toggle
func (s *Scheduler) Trigger(name string) error {
	s.mu.RLock()
	job, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("job %s not found", name)
	}
	s.run(job)
	return nil
}

func (s *Scheduler) execute(job JobConfig) {
	if !s.enabled() {
		s.logger.WithField("job", job.Name).Debug("Background jobs disabled, skipping run")
		return
	}
	s.run(job)
}

func (s *Scheduler) run(job JobConfig) {
	ctx, cancel := context.WithTimeout(s.ctx, job.Timeout)
	defer cancel()
	entry := s.logger.WithField("job", job.Name)

	if s.redis != nil {
		lock := NewDistributedLock(s.redis, job.Name, job.Timeout)
		acquired, err := lock.TryLock(ctx)
		if err != nil {
			entry.WithError(err).Error("Failed to acquire job lock")
			return
		}
		if !acquired {
			entry.Debug("Job already running on another instance")
			return
		}
		defer func() {
			if err := lock.Unlock(context.Background()); err != nil {
				entry.WithError(err).Warn("Failed to release job lock")
			}
		}()
	}

	start := time.Now()
	summary, err := job.Run(ctx)
	entry = entry.WithField("duration_ms", time.Since(start).Milliseconds())
	if err != nil {
		metrics.JobsProcessed.WithLabelValues(job.Name, "error").Inc()
		entry.WithError(err).Error("Recurring job failed")
		return
	}
	metrics.JobsProcessed.WithLabelValues(job.Name, "success").Inc()
	if summary != "" {
		entry = entry.WithField("result", summary)
	}
	entry.Info("Recurring job completed")
}
