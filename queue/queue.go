// Package queue schedules file conversion jobs with bounded concurrency.
//
// A Scheduler owns the job table. Files enter through AddFiles, which
// classifies them and creates one FileJob each; supported jobs wait as
// pending, unsupported ones are terminal immediately. StartProcessing drains
// pending jobs in creation order, dispatching batches of up to MaxConcurrent
// jobs and joining each batch on a WaitGroup barrier before the next starts.
// A job failure is recorded on the job and never cancels batch siblings.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/inkfold/inkfold/convert"
	"github.com/inkfold/inkfold/detect"
	"github.com/inkfold/inkfold/idgen"
	"github.com/inkfold/inkfold/notify"
)

var (
	// ErrJobNotFound means the job id is not in the scheduler's table.
	ErrJobNotFound = errors.New("job not found")

	// ErrNotRetryable means the job is not in the failed state.
	ErrNotRetryable = errors.New("job is not retryable")

	// ErrNotRemovable means the job is not pending, so removal is refused.
	ErrNotRemovable = errors.New("job is not removable")
)

// Status is a FileJob lifecycle state.
type Status string

const (
	StatusPending     Status = "pending"
	StatusProcessing  Status = "processing"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusUnsupported Status = "unsupported"
)

// FileJob tracks one file through the queue. Jobs live until ClearQueue;
// terminal jobs stay visible with their result or error.
type FileJob struct {
	ID        string
	Input     convert.Input
	Class     detect.Class
	MIME      string
	Status    Status
	Progress  int
	Reason    string // why the file is unsupported
	Result    *convert.Result
	Err       string
	Warnings  []string
	CreatedAt time.Time
	StartedAt time.Time
	EndedAt   time.Time
}

// Supported reports whether the job's file passed format detection.
func (j *FileJob) Supported() bool { return j.Class != detect.ClassUnsupported }

// Duration is the wall-clock processing time, zero until the job settles.
func (j *FileJob) Duration() time.Duration {
	if j.StartedAt.IsZero() || j.EndedAt.IsZero() {
		return 0
	}
	return j.EndedAt.Sub(j.StartedAt)
}

// Stats is a point-in-time census of the job table.
type Stats struct {
	Total       int `json:"total"`
	Pending     int `json:"pending"`
	Processing  int `json:"processing"`
	Completed   int `json:"completed"`
	Failed      int `json:"failed"`
	Unsupported int `json:"unsupported"`
}

// Config holds Scheduler dependencies. Zero values get defaults.
type Config struct {
	// MaxConcurrent bounds the number of jobs processing at once.
	MaxConcurrent int

	Detector *detect.Detector
	Registry *convert.Registry
	Sink     notify.Sink
	IDs      idgen.Generator
	Logger   *slog.Logger
}

func (c *Config) defaults() {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 3
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Detector == nil {
		c.Detector = detect.New(detect.Config{Logger: c.Logger})
	}
	if c.Registry == nil {
		c.Registry = convert.NewRegistry()
	}
	if c.Sink == nil {
		c.Sink = notify.Discard
	}
	if c.IDs == nil {
		c.IDs = idgen.Prefixed("job_", idgen.UUIDv7())
	}
}

// Scheduler is the conversion job queue. Safe for concurrent use.
type Scheduler struct {
	cfg Config

	mu      sync.Mutex
	jobs    map[string]*FileJob
	order   []string // creation order, drives dispatch
	running bool
}

// New creates a Scheduler.
func New(cfg Config) *Scheduler {
	cfg.defaults()
	return &Scheduler{
		cfg:  cfg,
		jobs: make(map[string]*FileJob),
	}
}

// AddFiles classifies the given files and enqueues one job per file in
// submission order. Unsupported files become terminal jobs carrying the
// detection reason. Processing auto-starts if the scheduler is idle.
// The returned snapshots are copies.
func (s *Scheduler) AddFiles(ctx context.Context, files []convert.Input) []FileJob {
	infos := make([]detect.FileInfo, len(files))
	for i, f := range files {
		infos[i] = detect.FileInfo{Name: f.Name, DeclaredMIME: f.MIME, SizeBytes: f.SizeBytes}
	}
	detected := s.cfg.Detector.DetectAll(infos)

	now := time.Now().UTC()
	added := make([]FileJob, 0, len(files))

	s.mu.Lock()
	for _, d := range detected {
		job := &FileJob{
			ID:        s.cfg.IDs(),
			Input:     files[d.Index],
			Class:     d.Class,
			MIME:      d.MIME,
			Status:    StatusPending,
			Warnings:  d.Warnings,
			CreatedAt: now,
		}
		if !d.Supported {
			job.Status = StatusUnsupported
			job.Reason = d.Reason
			job.EndedAt = now
		}
		s.jobs[job.ID] = job
		s.order = append(s.order, job.ID)
		added = append(added, *job)
	}
	wasRunning := s.running
	s.mu.Unlock()

	for _, j := range added {
		s.cfg.Sink.Publish(notify.Event{
			Type:    notify.TypeQueued,
			JobID:   j.ID,
			Name:    j.Input.Name,
			Status:  string(j.Status),
			Message: j.Reason,
		})
	}
	s.cfg.Logger.Info("queue: files added", "count", len(added), "auto_start", !wasRunning)

	if !wasRunning {
		// Detached from the caller's (possibly request-scoped) context.
		go s.StartProcessing(context.WithoutCancel(ctx))
	}
	return added
}

// StartProcessing drains pending jobs and blocks until the queue is empty or
// ctx is cancelled. It is a no-op when a drain loop is already running.
// Pending supported jobs dispatch in creation order, MaxConcurrent at a time;
// the next batch never starts before the current batch's barrier.
func (s *Scheduler) StartProcessing(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.cfg.Sink.Publish(notify.Event{Type: notify.TypeStarted, Message: "processing started"})
	s.cfg.Logger.Info("queue: processing started", "max_concurrent", s.cfg.MaxConcurrent)

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		s.cfg.Sink.Publish(notify.Event{
			Type:     notify.TypeCompleted,
			Message:  "processing completed",
			Progress: s.OverallProgress(),
		})
		s.cfg.Logger.Info("queue: processing completed", "stats", s.Stats())
	}()

	for {
		if ctx.Err() != nil {
			return
		}
		batch := s.claimBatch()
		if len(batch) == 0 {
			return
		}

		var wg sync.WaitGroup
		for _, id := range batch {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				s.processFile(ctx, id)
			}(id)
		}
		wg.Wait()
	}
}

// claimBatch picks up to MaxConcurrent pending job ids in creation order.
// Only the single drain loop calls this, so no claim marker is needed.
func (s *Scheduler) claimBatch() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var batch []string
	for _, id := range s.order {
		if len(batch) == s.cfg.MaxConcurrent {
			break
		}
		if j, ok := s.jobs[id]; ok && j.Status == StatusPending {
			batch = append(batch, id)
		}
	}
	return batch
}

// processFile runs one job through its converter and settles it.
func (s *Scheduler) processFile(ctx context.Context, id string) {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok || job.Status != StatusPending {
		s.mu.Unlock()
		return
	}
	job.Status = StatusProcessing
	job.Progress = 0
	job.StartedAt = time.Now().UTC()
	input, class, name := job.Input, job.Class, job.Input.Name
	s.mu.Unlock()

	s.cfg.Sink.Publish(notify.Event{Type: notify.TypeStarted, JobID: id, Name: name, Status: string(StatusProcessing)})
	s.cfg.Logger.Info("queue: job started", "id", id, "name", name, "class", class)

	conv, ok := s.cfg.Registry.ForClass(class)
	if !ok {
		s.settle(id, nil, fmt.Errorf("no converter registered for class %q", class))
		return
	}

	res, err := conv.Convert(ctx, input, func(percent int) {
		s.setProgress(id, percent)
	})
	s.settle(id, res, err)
}

// setProgress records job progress, ignoring updates after settle and
// regressions (the converter contract already guarantees monotonicity).
func (s *Scheduler) setProgress(id string, percent int) {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok || job.Status != StatusProcessing || percent <= job.Progress {
		s.mu.Unlock()
		return
	}
	job.Progress = percent
	name := job.Input.Name
	s.mu.Unlock()

	s.cfg.Sink.Publish(notify.Event{
		Type:     notify.TypeProgress,
		JobID:    id,
		Name:     name,
		Status:   string(StatusProcessing),
		Progress: percent,
	})
	// Overall progress events carry no job id.
	s.cfg.Sink.Publish(notify.Event{Type: notify.TypeProgress, Progress: s.OverallProgress()})
}

func (s *Scheduler) settle(id string, res *convert.Result, err error) {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok || job.Status != StatusProcessing {
		s.mu.Unlock()
		return
	}
	job.EndedAt = time.Now().UTC()
	name := job.Input.Name
	if err != nil {
		job.Status = StatusFailed
		job.Err = err.Error()
	} else {
		job.Status = StatusCompleted
		job.Progress = 100
		job.Result = res
	}
	status := job.Status
	duration := job.Duration()
	s.mu.Unlock()

	if err != nil {
		s.cfg.Sink.Publish(notify.Event{Type: notify.TypeFailed, JobID: id, Name: name, Status: string(status), Message: err.Error()})
		s.cfg.Logger.Warn("queue: job failed", "id", id, "name", name, "error", err, "duration", duration)
		return
	}
	s.cfg.Sink.Publish(notify.Event{Type: notify.TypeCompleted, JobID: id, Name: name, Status: string(status), Progress: 100})
	s.cfg.Logger.Info("queue: job completed", "id", id, "name", name, "duration", duration)
}

// RetryFile resets a failed job to pending and restarts the drain loop if
// idle. Only failed jobs are retryable.
func (s *Scheduler) RetryFile(ctx context.Context, id string) error {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return ErrJobNotFound
	}
	if job.Status != StatusFailed {
		s.mu.Unlock()
		return fmt.Errorf("%w: status is %s", ErrNotRetryable, job.Status)
	}
	job.Status = StatusPending
	job.Progress = 0
	job.Err = ""
	job.Result = nil
	job.StartedAt = time.Time{}
	job.EndedAt = time.Time{}
	name := job.Input.Name
	wasRunning := s.running
	s.mu.Unlock()

	s.cfg.Sink.Publish(notify.Event{Type: notify.TypeQueued, JobID: id, Name: name, Status: string(StatusPending), Message: "retry"})
	s.cfg.Logger.Info("queue: job retried", "id", id, "name", name)

	if !wasRunning {
		go s.StartProcessing(context.WithoutCancel(ctx))
	}
	return nil
}

// RemoveFile drops a pending job from the queue. Jobs in any other state
// are refused so in-flight and settled work stays visible.
func (s *Scheduler) RemoveFile(id string) error {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return ErrJobNotFound
	}
	if job.Status != StatusPending {
		s.mu.Unlock()
		return fmt.Errorf("%w: status is %s", ErrNotRemovable, job.Status)
	}
	delete(s.jobs, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	name := job.Input.Name
	s.mu.Unlock()

	s.cfg.Sink.Publish(notify.Event{Type: notify.TypeRemoved, JobID: id, Name: name})
	return nil
}

// ClearQueue drops every job. In-flight work is not forcibly cancelled; a
// cleared job's eventual settle finds nothing to update and is ignored.
func (s *Scheduler) ClearQueue() {
	s.mu.Lock()
	n := len(s.jobs)
	s.jobs = make(map[string]*FileJob)
	s.order = nil
	s.mu.Unlock()

	s.cfg.Sink.Publish(notify.Event{Type: notify.TypeRemoved, Message: "queue cleared"})
	s.cfg.Logger.Info("queue: cleared", "dropped", n)
}

// Job returns a snapshot of one job.
func (s *Scheduler) Job(id string) (FileJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return FileJob{}, ErrJobNotFound
	}
	return *job, nil
}

// Jobs returns snapshots of all jobs in creation order.
func (s *Scheduler) Jobs() []FileJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]FileJob, 0, len(s.order))
	for _, id := range s.order {
		if j, ok := s.jobs[id]; ok {
			out = append(out, *j)
		}
	}
	return out
}

// Results returns the results of completed jobs in creation order.
func (s *Scheduler) Results() []convert.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []convert.Result
	for _, id := range s.order {
		if j, ok := s.jobs[id]; ok && j.Status == StatusCompleted && j.Result != nil {
			out = append(out, *j.Result)
		}
	}
	return out
}

// Stats counts jobs by status.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st Stats
	for _, j := range s.jobs {
		st.Total++
		switch j.Status {
		case StatusPending:
			st.Pending++
		case StatusProcessing:
			st.Processing++
		case StatusCompleted:
			st.Completed++
		case StatusFailed:
			st.Failed++
		case StatusUnsupported:
			st.Unsupported++
		}
	}
	return st
}

// OverallProgress is the mean progress over supported jobs, in [0,100].
// Unsupported jobs are excluded: they never did any work to measure.
func (s *Scheduler) OverallProgress() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total, n := 0, 0
	for _, j := range s.jobs {
		if !j.Supported() {
			continue
		}
		n++
		switch j.Status {
		case StatusCompleted:
			total += 100
		default:
			total += j.Progress
		}
	}
	if n == 0 {
		return 0
	}
	return total / n
}
