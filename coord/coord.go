// Package coord runs ad-hoc conversions outside the queue, under a global
// concurrency ceiling shared across all in-flight tasks. Unlike the queue's
// batch-local limit, the ceiling here is enforced synchronously: a call at
// capacity fails immediately with ErrQueueFull instead of waiting.
//
// Settled tasks move from the active map to an append-only in-memory history,
// optionally mirrored to the SQLite conversion log.
package coord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/inkfold/inkfold/convert"
	"github.com/inkfold/inkfold/detect"
	"github.com/inkfold/inkfold/history"
	"github.com/inkfold/inkfold/idgen"
	"github.com/inkfold/inkfold/notify"
)

var (
	// ErrQueueFull means the active-task ceiling is reached. Synchronous:
	// the caller must handle it, nothing is queued.
	ErrQueueFull = errors.New("conversion queue full")

	// ErrCancelled means the task was cancelled before it settled.
	ErrCancelled = errors.New("conversion cancelled")

	// ErrTaskNotFound means the task id is not in the active map.
	ErrTaskNotFound = errors.New("task not found")
)

// TaskStatus is a ConversionTask lifecycle state.
type TaskStatus string

const (
	TaskActive    TaskStatus = "active"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// Task tracks one ad-hoc conversion.
type Task struct {
	ID        string
	Input     convert.Input
	Class     detect.Class
	Status    TaskStatus
	Err       string
	StartedAt time.Time
	EndedAt   time.Time
}

// Options tunes a single conversion call.
type Options struct {
	// OnProgress receives per-task progress updates, may be nil.
	OnProgress convert.ProgressFunc
}

// Failure pairs an input with the error that settled it.
type Failure struct {
	Input convert.Input
	Err   error
}

// Status is a point-in-time view of the coordinator.
type Status struct {
	Active    int `json:"active"`
	Ceiling   int `json:"ceiling"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// Config holds Coordinator dependencies. Zero values get defaults.
type Config struct {
	// Ceiling bounds concurrent in-flight tasks.
	Ceiling int

	Detector *detect.Detector
	Registry *convert.Registry
	Sink     notify.Sink
	History  *history.Log // optional SQLite mirror
	IDs      idgen.Generator
	Logger   *slog.Logger
}

func (c *Config) defaults() {
	if c.Ceiling <= 0 {
		c.Ceiling = 3
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
		c.IDs = idgen.Prefixed("task_", idgen.UUIDv7())
	}
}

// Coordinator dispatches ad-hoc conversions. Safe for concurrent use.
type Coordinator struct {
	cfg Config

	mu      sync.Mutex
	active  map[string]*Task
	settled []*Task // append-only history, cleared never
}

// New creates a Coordinator.
func New(cfg Config) *Coordinator {
	cfg.defaults()
	return &Coordinator{
		cfg:    cfg,
		active: make(map[string]*Task),
	}
}

// ConvertFile runs one conversion and blocks until it settles. It fails
// immediately with ErrQueueFull when the ceiling is reached. A task
// cancelled mid-flight settles as ErrCancelled; the converter's eventual
// return is discarded.
func (c *Coordinator) ConvertFile(ctx context.Context, in convert.Input, opts Options) (*convert.Result, error) {
	det := c.cfg.Detector.Detect(detect.FileInfo{Name: in.Name, DeclaredMIME: in.MIME, SizeBytes: in.SizeBytes})
	if !det.Supported {
		return nil, fmt.Errorf("%w: %s", convert.ErrUnsupported, det.Reason)
	}
	conv, ok := c.cfg.Registry.ForClass(det.Class)
	if !ok {
		return nil, fmt.Errorf("%w: no converter for class %q", convert.ErrUnsupported, det.Class)
	}

	task := &Task{
		ID:        c.cfg.IDs(),
		Input:     in,
		Class:     det.Class,
		Status:    TaskActive,
		StartedAt: time.Now().UTC(),
	}

	c.mu.Lock()
	if len(c.active) >= c.cfg.Ceiling {
		n := len(c.active)
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %d of %d tasks active", ErrQueueFull, n, c.cfg.Ceiling)
	}
	c.active[task.ID] = task
	c.mu.Unlock()

	c.cfg.Sink.Publish(notify.Event{Type: notify.TypeStarted, TaskID: task.ID, Name: in.Name, Status: string(TaskActive)})
	c.cfg.Logger.Info("coord: task started", "id", task.ID, "name", in.Name, "class", det.Class)

	onProgress := func(percent int) {
		if opts.OnProgress != nil {
			opts.OnProgress(percent)
		}
		c.cfg.Sink.Publish(notify.Event{Type: notify.TypeProgress, TaskID: task.ID, Name: in.Name, Progress: percent})
	}

	res, err := conv.Convert(ctx, in, onProgress)
	return c.settle(ctx, task, res, err)
}

// settle moves the task from active to history. A task already removed by
// Cancel settles as cancelled and its result is dropped.
func (c *Coordinator) settle(ctx context.Context, task *Task, res *convert.Result, err error) (*convert.Result, error) {
	c.mu.Lock()
	_, stillActive := c.active[task.ID]
	if !stillActive {
		c.mu.Unlock()
		c.cfg.Logger.Info("coord: settle of cancelled task ignored", "id", task.ID)
		return nil, ErrCancelled
	}
	delete(c.active, task.ID)
	task.EndedAt = time.Now().UTC()
	if err != nil {
		task.Status = TaskFailed
		task.Err = err.Error()
	} else {
		task.Status = TaskCompleted
	}
	c.settled = append(c.settled, task)
	c.mu.Unlock()

	c.record(ctx, task)
	if err != nil {
		c.cfg.Sink.Publish(notify.Event{Type: notify.TypeFailed, TaskID: task.ID, Name: task.Input.Name, Message: err.Error()})
		c.cfg.Logger.Warn("coord: task failed", "id", task.ID, "name", task.Input.Name, "error", err)
		return nil, err
	}
	c.cfg.Sink.Publish(notify.Event{Type: notify.TypeCompleted, TaskID: task.ID, Name: task.Input.Name, Progress: 100})
	c.cfg.Logger.Info("coord: task completed", "id", task.ID, "name", task.Input.Name,
		"duration", task.EndedAt.Sub(task.StartedAt))
	return res, nil
}

func (c *Coordinator) record(ctx context.Context, task *Task) {
	if c.cfg.History == nil {
		return
	}
	c.cfg.History.Observe(ctx, history.Entry{
		JobID:      task.ID,
		Timestamp:  task.EndedAt,
		Name:       task.Input.Name,
		Class:      string(task.Class),
		Status:     string(task.Status),
		DurationMs: task.EndedAt.Sub(task.StartedAt).Milliseconds(),
		SizeBytes:  task.Input.SizeBytes,
		Error:      task.Err,
	})
}

// Cancel marks an active task cancelled and removes it from tracking. The
// in-flight converter call is not preempted; its eventual settle is ignored.
func (c *Coordinator) Cancel(id string) error {
	c.mu.Lock()
	task, ok := c.active[id]
	if !ok {
		c.mu.Unlock()
		return ErrTaskNotFound
	}
	delete(c.active, id)
	task.Status = TaskCancelled
	task.EndedAt = time.Now().UTC()
	c.settled = append(c.settled, task)
	c.mu.Unlock()

	c.record(context.Background(), task)
	c.cfg.Sink.Publish(notify.Event{Type: notify.TypeCancelled, TaskID: id, Name: task.Input.Name})
	c.cfg.Logger.Info("coord: task cancelled", "id", id, "name", task.Input.Name)
	return nil
}

// ConvertAll converts files in fixed-size batches (batch size = ceiling),
// joining each batch before the next starts. Successes and failures
// accumulate separately; one failure never stops the run.
func (c *Coordinator) ConvertAll(ctx context.Context, files []convert.Input, opts Options) ([]convert.Result, []Failure) {
	var (
		results  []convert.Result
		failures []Failure
	)

	size := c.cfg.Ceiling
	for start := 0; start < len(files); start += size {
		end := min(start+size, len(files))
		batch := files[start:end]

		// Slots keep batch output in input order regardless of
		// completion order.
		resSlots := make([]*convert.Result, len(batch))
		errSlots := make([]error, len(batch))

		var wg sync.WaitGroup
		for i, in := range batch {
			wg.Add(1)
			go func(i int, in convert.Input) {
				defer wg.Done()
				resSlots[i], errSlots[i] = c.ConvertFile(ctx, in, opts)
			}(i, in)
		}
		wg.Wait()

		for i, in := range batch {
			if errSlots[i] != nil {
				failures = append(failures, Failure{Input: in, Err: errSlots[i]})
				continue
			}
			results = append(results, *resSlots[i])
		}
	}
	return results, failures
}

// Tasks returns snapshots of active tasks, then settled history, oldest
// history first.
func (c *Coordinator) Tasks() []Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Task, 0, len(c.active)+len(c.settled))
	for _, t := range c.active {
		out = append(out, *t)
	}
	for _, t := range c.settled {
		out = append(out, *t)
	}
	return out
}

// Status reports active load and history counts.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{Active: len(c.active), Ceiling: c.cfg.Ceiling}
	for _, t := range c.settled {
		switch t.Status {
		case TaskCompleted:
			st.Completed++
		case TaskFailed:
			st.Failed++
		case TaskCancelled:
			st.Cancelled++
		}
	}
	return st
}
