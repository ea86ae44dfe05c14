// Package runtime schedules the background maintenance jobs.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Names of the maintenance jobs registered by the daemon.
const (
	JobDecay       = "decay"
	JobAggregation = "reaction_aggregation"
)

// ErrJobRunning is returned by RunNow when the job is already in flight.
var ErrJobRunning = errors.New("job already running")

// ErrUnknownJob is returned for a job name that was never registered.
var ErrUnknownJob = errors.New("unknown job")

// RunFunc performs one pass of a job and returns its run statistics.
type RunFunc func(ctx context.Context) (any, error)

// Result describes the most recent completed run of a job.
type Result struct {
	Job       string        `json:"job"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Stats     any           `json:"stats,omitempty"`
	Error     string        `json:"error,omitempty"`
}

type job struct {
	name    string
	run     RunFunc
	running sync.Mutex

	mu   sync.Mutex
	last *Result
}

// Scheduler runs registered jobs on their schedules. A job never overlaps
// with itself, whether triggered by its schedule or by RunNow.
type Scheduler struct {
	cron    *cron.Cron
	timeout time.Duration
	logger  zerolog.Logger

	mu     sync.Mutex
	jobs   map[string]*job
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a scheduler. Each run is bounded by timeout when it
// is positive.
func NewScheduler(timeout time.Duration, logger zerolog.Logger) *Scheduler {
	logger = logger.With().Str("component", "scheduler").Logger()
	cl := cronLogger{logger: logger}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		timeout: timeout,
		logger:  logger,
		jobs:    make(map[string]*job),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// ParseSchedule parses a cron expression (5 or 6 fields, or a descriptor
// such as "@hourly") or a Go duration such as "15m".
func ParseSchedule(spec string) (cron.Schedule, error) {
	if spec == "" {
		return nil, fmt.Errorf("schedule string is empty")
	}
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if sched, err := parser.Parse(spec); err == nil {
		return sched, nil
	}
	d, err := time.ParseDuration(spec)
	if err != nil {
		return nil, fmt.Errorf("failed to parse schedule as cron expression or duration: %w", err)
	}
	if d < time.Second {
		return nil, fmt.Errorf("schedule duration must be at least 1s, got %s", d)
	}
	return cron.ConstantDelaySchedule{Delay: d}, nil
}

// Register adds a job. An empty schedule registers the job for RunNow only.
func (s *Scheduler) Register(name, spec string, run RunFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %q already registered", name)
	}
	j := &job{name: name, run: run}
	if spec != "" {
		sched, err := ParseSchedule(spec)
		if err != nil {
			return fmt.Errorf("job %q: %w", name, err)
		}
		s.cron.Schedule(sched, cron.FuncJob(func() {
			if _, err := s.execute(s.ctx, j); err != nil && !errors.Is(err, ErrJobRunning) {
				s.logger.Error().Err(err).Str("job", name).Msg("Scheduled run failed")
			}
		}))
	}
	s.jobs[name] = j
	s.logger.Info().Str("job", name).Str("schedule", spec).Msg("Job registered")
	return nil
}

// Start begins running scheduled jobs in the background.
func (s *Scheduler) Start() {
	s.logger.Info().Int("jobs", len(s.jobs)).Msg("Starting scheduler")
	s.cron.Start()
}

// Stop cancels in-flight runs and waits for them to return or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info().Msg("Scheduler stopped")
	case <-ctx.Done():
		s.logger.Warn().Msg("Scheduler stop timed out")
	}
}

// RunNow runs a job immediately on the caller's goroutine.
func (s *Scheduler) RunNow(ctx context.Context, name string) (Result, error) {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.execute(ctx, j)
}

// Last returns the most recent result of every job that has run, by name.
func (s *Scheduler) Last() []Result {
	s.mu.Lock()
	jobs := make([]*job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()

	var out []Result
	for _, j := range jobs {
		j.mu.Lock()
		if j.last != nil {
			out = append(out, *j.last)
		}
		j.mu.Unlock()
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Job < out[b].Job })
	return out
}

func (s *Scheduler) execute(ctx context.Context, j *job) (Result, error) {
	if !j.running.TryLock() {
		s.logger.Debug().Str("job", j.name).Msg("Job still running, skipping")
		return Result{}, ErrJobRunning
	}
	defer j.running.Unlock()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	res := Result{Job: j.name, StartedAt: time.Now()}
	stats, err := j.run(ctx)
	res.Duration = time.Since(res.StartedAt)
	res.Stats = stats
	if err != nil {
		res.Error = err.Error()
	}

	j.mu.Lock()
	j.last = &res
	j.mu.Unlock()
	return res, err
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
