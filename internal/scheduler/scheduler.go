// Package scheduler runs background jobs on cron schedules.
package scheduler

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// ErrJobRunning is returned when a run is requested while the same job is
// still running.
var ErrJobRunning = errors.New("job is already running")

// Job represents a scheduled job
type Job interface {
	Run() error
	Name() string
}

// JobStatus is the last known state of a job.
type JobStatus struct {
	Name           string     `json:"name"`
	Schedule       string     `json:"schedule,omitempty"`
	Running        bool       `json:"running"`
	Runs           int        `json:"runs"`
	LastRun        *time.Time `json:"last_run,omitempty"`
	LastDurationMs int64      `json:"last_duration_ms,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
	NextRun        *time.Time `json:"next_run,omitempty"`
}

type jobState struct {
	schedule string
	entry    cron.EntryID
	running  bool
	runs     int
	lastRun  time.Time
	lastDur  time.Duration
	lastErr  string
}

// Scheduler manages background jobs
type Scheduler struct {
	cron    *cron.Cron
	metrics *Metrics
	log     zerolog.Logger

	mu   sync.Mutex
	jobs map[string]*jobState
}

// New creates a new scheduler
func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithSeconds()),
		jobs: make(map[string]*jobState),
		log:  log.With().Str("component", "scheduler").Logger(),
	}
}

// SetMetrics attaches job collectors. Call before Start.
func (s *Scheduler) SetMetrics(m *Metrics) {
	s.metrics = m
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Int("jobs", len(s.cron.Entries())).Msg("Scheduler started")
}

// Stop stops the scheduler and waits for running jobs
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}

// AddJob registers a job with a six-field cron schedule (seconds first).
// Job names are unique.
// Schedule examples:
//   - "0 0 */6 * * *"  - every six hours (dataset refresh)
//   - "0 0 2 * * *"    - 02:00 daily (cache maintenance)
//   - "@every 30s"     - every 30 seconds
func (s *Scheduler) AddJob(schedule string, job Job) error {
	name := job.Name()

	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.jobs[name]; ok && st.schedule != "" {
		return fmt.Errorf("job %s is already scheduled", name)
	}

	id, err := s.cron.AddFunc(schedule, func() {
		if err := s.execute(job); err != nil && !errors.Is(err, ErrJobRunning) {
			s.log.Error().Err(err).Str("job", name).Msg("Job failed")
		}
	})
	if err != nil {
		return err
	}
	st := s.stateLocked(name)
	st.schedule, st.entry = schedule, id

	s.log.Info().
		Str("schedule", schedule).
		Str("job", name).
		Msg("Job registered")

	return nil
}

// RunNow executes a job immediately (outside schedule). It fails with
// ErrJobRunning while a scheduled run of the same job is in progress.
func (s *Scheduler) RunNow(job Job) error {
	s.log.Info().Str("job", job.Name()).Msg("Running job immediately")
	return s.execute(job)
}

// Tracked wraps jobs so runs started elsewhere (the manual trigger API)
// share this scheduler's overlap guard, status and metrics.
func (s *Scheduler) Tracked(jobs ...Job) []Job {
	out := make([]Job, 0, len(jobs))
	for _, job := range jobs {
		if job != nil {
			out = append(out, trackedJob{job: job, sched: s})
		}
	}
	return out
}

// Status returns every known job sorted by name.
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobStatus, 0, len(s.jobs))
	for name, st := range s.jobs {
		js := JobStatus{
			Name:      name,
			Schedule:  st.schedule,
			Running:   st.running,
			Runs:      st.runs,
			LastError: st.lastErr,
		}
		if !st.lastRun.IsZero() {
			last := st.lastRun
			js.LastRun = &last
			js.LastDurationMs = st.lastDur.Milliseconds()
		}
		if st.entry != 0 {
			if next := s.cron.Entry(st.entry).Next; !next.IsZero() {
				js.NextRun = &next
			}
		}
		out = append(out, js)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Scheduler) execute(job Job) error {
	name := job.Name()

	s.mu.Lock()
	st := s.stateLocked(name)
	if st.running {
		s.mu.Unlock()
		s.metrics.skipped(name)
		s.log.Warn().Str("job", name).Msg("Skipping run, previous run still in progress")
		return fmt.Errorf("%s: %w", name, ErrJobRunning)
	}
	st.running = true
	s.mu.Unlock()

	s.log.Debug().Str("job", name).Msg("Running job")
	start := time.Now()
	err := job.Run()
	finished := time.Now()

	s.mu.Lock()
	st.running = false
	st.runs++
	st.lastRun = start
	st.lastDur = finished.Sub(start)
	st.lastErr = ""
	if err != nil {
		st.lastErr = err.Error()
	}
	s.mu.Unlock()

	s.metrics.observe(name, err, finished, finished.Sub(start))
	if err == nil {
		s.log.Debug().Str("job", name).Dur("duration", finished.Sub(start)).Msg("Job completed")
	}
	return err
}

func (s *Scheduler) stateLocked(name string) *jobState {
	st, ok := s.jobs[name]
	if !ok {
		st = &jobState{}
		s.jobs[name] = st
	}
	return st
}

type trackedJob struct {
	job   Job
	sched *Scheduler
}

func (t trackedJob) Name() string { return t.job.Name() }

func (t trackedJob) Run() error { return t.sched.execute(t.job) }
