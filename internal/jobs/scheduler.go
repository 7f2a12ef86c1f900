package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is a unit of periodic work
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Stats describes a scheduled job
type Stats struct {
	Name       string    `json:"name"`
	Schedule   string    `json:"schedule"`
	LastRun    time.Time `json:"last_run"`
	NextRun    time.Time `json:"next_run"`
	RunCount   int64     `json:"run_count"`
	ErrorCount int64     `json:"error_count"`
	LastError  string    `json:"last_error,omitempty"`
}

type entry struct {
	job     Job
	id      cron.EntryID
	stats   Stats
	timeout time.Duration
}

// Scheduler runs jobs on cron schedules in UTC. A run is skipped while the
// previous run of the same job is still going.
type Scheduler struct {
	cron    *cron.Cron
	logger  *zap.Logger
	timeout time.Duration

	mu      sync.Mutex
	entries map[string]*entry
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler creates a scheduler; each run is bounded by timeout when positive
func NewScheduler(logger *zap.Logger, timeout time.Duration) *Scheduler {
	cl := cronLogger{logger: logger.Sugar()}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger:  logger,
		timeout: timeout,
		entries: make(map[string]*entry),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Add schedules job. Schedules use the standard five-field syntax or
// descriptors such as "@every 5m".
func (s *Scheduler) Add(schedule string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[job.Name()]; exists {
		return fmt.Errorf("job %q already scheduled", job.Name())
	}

	e := &entry{job: job, timeout: s.timeout, stats: Stats{Name: job.Name(), Schedule: schedule}}
	id, err := s.cron.AddFunc(schedule, func() { s.run(s.ctx, e) })
	if err != nil {
		return fmt.Errorf("invalid schedule %q for job %q: %w", schedule, job.Name(), err)
	}
	e.id = id
	s.entries[job.Name()] = e
	return nil
}

// Start begins running scheduled jobs
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Scheduler started", zap.Int("jobs", len(s.entries)))
}

// Stop cancels running jobs and waits for them to return
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("Scheduler stopped")
}

// RunNow runs the named job immediately in the calling goroutine
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	return s.run(ctx, e)
}

// Stats returns a snapshot of every scheduled job
func (s *Scheduler) Stats() []Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Stats, 0, len(s.entries))
	for _, e := range s.entries {
		st := e.stats
		st.NextRun = s.cron.Entry(e.id).Next
		out = append(out, st)
	}
	return out
}

func (s *Scheduler) run(ctx context.Context, e *entry) error {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	err := e.job.Run(ctx)
	elapsed := time.Since(start)

	s.mu.Lock()
	e.stats.LastRun = start.UTC()
	e.stats.RunCount++
	e.stats.LastError = ""
	if err != nil {
		e.stats.ErrorCount++
		e.stats.LastError = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("Job failed",
			zap.String("job", e.job.Name()),
			zap.Duration("duration", elapsed),
			zap.Error(err))
		return err
	}
	s.logger.Debug("Job completed", zap.String("job", e.job.Name()), zap.Duration("duration", elapsed))
	return nil
}

// cronLogger routes cron's logging through zap
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
