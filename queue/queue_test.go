package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/inkfold/inkfold/convert"
	"github.com/inkfold/inkfold/detect"
	"github.com/inkfold/inkfold/notify"
)

// converterFunc adapts a function to convert.Converter for tests.
type converterFunc struct {
	class detect.Class
	fn    func(ctx context.Context, in convert.Input, onProgress convert.ProgressFunc) (*convert.Result, error)
}

func (c converterFunc) Class() detect.Class { return c.class }

func (c converterFunc) Convert(ctx context.Context, in convert.Input, onProgress convert.ProgressFunc) (*convert.Result, error) {
	return c.fn(ctx, in, onProgress)
}

func okConverter(class detect.Class) convert.Converter {
	return converterFunc{class: class, fn: func(_ context.Context, in convert.Input, onProgress convert.ProgressFunc) (*convert.Result, error) {
		if onProgress != nil {
			onProgress(50)
			onProgress(100)
		}
		return &convert.Result{Kind: "markdown", Content: "# " + in.Name, SourceName: in.Name, Class: class}, nil
	}}
}

// waitIdle polls until no job is pending or processing.
func waitIdle(t *testing.T, s *Scheduler) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		st := s.Stats()
		if st.Pending == 0 && st.Processing == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("queue did not drain: %+v", s.Stats())
}

func pdfInputs(n int) []convert.Input {
	out := make([]convert.Input, n)
	for i := range out {
		out[i] = convert.Input{Name: fmt.Sprintf("doc-%d.pdf", i), SizeBytes: 1024}
	}
	return out
}

func TestAddFilesClassifiesAndAutoStarts(t *testing.T) {
	s := New(Config{Registry: convert.NewRegistry(okConverter(detect.ClassPDF))})

	added := s.AddFiles(context.Background(), []convert.Input{
		{Name: "report.pdf", SizeBytes: 2048},
		{Name: "data.xyz", SizeBytes: 100},
		{Name: "empty.pdf", SizeBytes: 0},
	})
	if len(added) != 3 {
		t.Fatalf("added %d jobs, want 3", len(added))
	}
	if added[0].Class != detect.ClassPDF || added[0].Status != StatusPending {
		t.Errorf("supported pdf: class=%s status=%s", added[0].Class, added[0].Status)
	}
	if added[1].Status != StatusUnsupported || added[1].Reason == "" {
		t.Errorf("unknown extension must be terminal unsupported with reason, got %+v", added[1])
	}
	if added[2].Status != StatusUnsupported || !strings.Contains(added[2].Reason, "empty") {
		t.Errorf("empty file must be unsupported with empty reason, got %+v", added[2])
	}

	waitIdle(t, s)
	st := s.Stats()
	if st.Completed != 1 || st.Unsupported != 2 || st.Total != 3 {
		t.Errorf("stats = %+v", st)
	}
}

func TestStatsTotals(t *testing.T) {
	// Total always equals the sum of the per-status counts.
	s := New(Config{Registry: convert.NewRegistry(okConverter(detect.ClassPDF))})
	s.AddFiles(context.Background(), append(pdfInputs(4), convert.Input{Name: "x.bin", SizeBytes: 9}))
	waitIdle(t, s)

	st := s.Stats()
	if sum := st.Pending + st.Processing + st.Completed + st.Failed + st.Unsupported; sum != st.Total {
		t.Errorf("status counts sum to %d, total is %d", sum, st.Total)
	}
	if st.Total != 5 {
		t.Errorf("total = %d, want 5", st.Total)
	}
}

func TestProcessingNeverExceedsMaxConcurrent(t *testing.T) {
	var current, peak atomic.Int32
	conv := converterFunc{class: detect.ClassPDF, fn: func(context.Context, convert.Input, convert.ProgressFunc) (*convert.Result, error) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		current.Add(-1)
		return &convert.Result{Kind: "markdown", Content: "x"}, nil
	}}

	s := New(Config{MaxConcurrent: 2, Registry: convert.NewRegistry(conv)})
	s.AddFiles(context.Background(), pdfInputs(7))
	waitIdle(t, s)

	if got := peak.Load(); got > 2 {
		t.Errorf("peak concurrency %d exceeds limit 2", got)
	}
	if st := s.Stats(); st.Completed != 7 {
		t.Errorf("completed = %d, want 7", st.Completed)
	}
}

func TestFailureDoesNotCancelBatchSiblings(t *testing.T) {
	conv := converterFunc{class: detect.ClassPDF, fn: func(_ context.Context, in convert.Input, _ convert.ProgressFunc) (*convert.Result, error) {
		if strings.HasPrefix(in.Name, "doc-1") {
			return nil, errors.New("corrupt stream")
		}
		return &convert.Result{Kind: "markdown", Content: "ok"}, nil
	}}

	s := New(Config{MaxConcurrent: 3, Registry: convert.NewRegistry(conv)})
	s.AddFiles(context.Background(), pdfInputs(3))
	waitIdle(t, s)

	st := s.Stats()
	if st.Failed != 1 || st.Completed != 2 {
		t.Fatalf("stats = %+v, want 1 failed and 2 completed", st)
	}
	for _, j := range s.Jobs() {
		if j.Status == StatusFailed && j.Err != "corrupt stream" {
			t.Errorf("failed job error = %q", j.Err)
		}
	}
}

func TestProgressEventsMonotone(t *testing.T) {
	bus := notify.NewBus(1000)
	s := New(Config{
		Registry: convert.NewRegistry(okConverter(detect.ClassPDF)),
		Sink:     bus,
	})
	s.AddFiles(context.Background(), pdfInputs(1))
	waitIdle(t, s)

	last := make(map[string]int)
	for _, e := range bus.Since(0) {
		if e.Type != notify.TypeProgress || e.JobID == "" {
			continue
		}
		if e.Progress < last[e.JobID] {
			t.Errorf("job %s progress went backwards: %d after %d", e.JobID, e.Progress, last[e.JobID])
		}
		last[e.JobID] = e.Progress
	}
	if len(last) == 0 {
		t.Fatal("no per-job progress events observed")
	}
}

func TestOverallProgressMeanOverSupported(t *testing.T) {
	s := New(Config{Registry: convert.NewRegistry()})
	s.mu.Lock()
	s.running = true // hold the drain loop off while fixing statuses
	s.mu.Unlock()

	s.AddFiles(context.Background(), []convert.Input{
		{Name: "a.pdf", SizeBytes: 10},
		{Name: "b.pdf", SizeBytes: 10},
		{Name: "c.zzz", SizeBytes: 10}, // unsupported, excluded from the mean
	})

	jobs := s.Jobs()
	s.mu.Lock()
	s.jobs[jobs[0].ID].Status = StatusCompleted
	s.jobs[jobs[1].ID].Status = StatusProcessing
	s.jobs[jobs[1].ID].Progress = 50
	s.mu.Unlock()

	if got := s.OverallProgress(); got != 75 {
		t.Errorf("overall progress = %d, want 75 (mean of 100 and 50)", got)
	}
}

func TestRetryLaw(t *testing.T) {
	// A failed job retries to pending and completes once the underlying
	// error condition no longer applies.
	var failing atomic.Bool
	failing.Store(true)
	conv := converterFunc{class: detect.ClassPDF, fn: func(context.Context, convert.Input, convert.ProgressFunc) (*convert.Result, error) {
		if failing.Load() {
			return nil, errors.New("transient")
		}
		return &convert.Result{Kind: "markdown", Content: "recovered"}, nil
	}}

	s := New(Config{Registry: convert.NewRegistry(conv)})
	added := s.AddFiles(context.Background(), pdfInputs(1))
	waitIdle(t, s)

	id := added[0].ID
	if j, _ := s.Job(id); j.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", j.Status)
	}

	// Retry is only valid from failed.
	if err := s.RetryFile(context.Background(), "job_nope"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("unknown id: %v", err)
	}

	failing.Store(false)
	if err := s.RetryFile(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, s)

	j, _ := s.Job(id)
	if j.Status != StatusCompleted || j.Result == nil || j.Result.Content != "recovered" {
		t.Fatalf("after retry: %+v", j)
	}
	if err := s.RetryFile(context.Background(), id); !errors.Is(err, ErrNotRetryable) {
		t.Errorf("retry of completed job: %v", err)
	}
}

func TestRemoveFilePendingOnly(t *testing.T) {
	s := New(Config{Registry: convert.NewRegistry(okConverter(detect.ClassPDF))})
	s.mu.Lock()
	s.running = true // keep jobs pending
	s.mu.Unlock()

	added := s.AddFiles(context.Background(), pdfInputs(2))

	if err := s.RemoveFile(added[0].ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Job(added[0].ID); !errors.Is(err, ErrJobNotFound) {
		t.Error("removed job still present")
	}

	s.mu.Lock()
	s.jobs[added[1].ID].Status = StatusProcessing
	s.mu.Unlock()
	if err := s.RemoveFile(added[1].ID); !errors.Is(err, ErrNotRemovable) {
		t.Errorf("removing a processing job: %v", err)
	}
}

func TestClearQueue(t *testing.T) {
	s := New(Config{Registry: convert.NewRegistry(okConverter(detect.ClassPDF))})
	s.AddFiles(context.Background(), pdfInputs(3))
	waitIdle(t, s)

	s.ClearQueue()
	if st := s.Stats(); st.Total != 0 {
		t.Errorf("stats after clear = %+v", st)
	}
	if len(s.Jobs()) != 0 {
		t.Error("jobs remain after clear")
	}
}

func TestResultsInCreationOrder(t *testing.T) {
	s := New(Config{MaxConcurrent: 4, Registry: convert.NewRegistry(okConverter(detect.ClassPDF))})
	s.AddFiles(context.Background(), pdfInputs(4))
	waitIdle(t, s)

	results := s.Results()
	if len(results) != 4 {
		t.Fatalf("got %d results, want 4", len(results))
	}
	for i, r := range results {
		want := fmt.Sprintf("doc-%d.pdf", i)
		if r.SourceName != want {
			t.Errorf("results[%d] = %q, want %q", i, r.SourceName, want)
		}
	}
}

func TestJobIDsUnique(t *testing.T) {
	s := New(Config{Registry: convert.NewRegistry(okConverter(detect.ClassPDF))})
	added := s.AddFiles(context.Background(), pdfInputs(50))
	seen := make(map[string]bool, len(added))
	for _, j := range added {
		if seen[j.ID] {
			t.Fatalf("duplicate job id %s", j.ID)
		}
		seen[j.ID] = true
	}
}

func TestEndToEndWordAndEmptyPDF(t *testing.T) {
	// Mixed submission: a valid .docx converts through the word pipeline
	// into non-empty Markdown, an empty .pdf never enters the queue.
	parser := wordParserFunc(func(context.Context, string) (string, error) {
		return "<h1>Quarterly Report</h1><p>Revenue grew.</p>", nil
	})
	det := detect.New(detect.Config{})
	registry := convert.NewRegistry(
		convert.NewWord(convert.WordConfig{Parser: parser, Detector: det}),
	)

	s := New(Config{Detector: det, Registry: registry})
	added := s.AddFiles(context.Background(), []convert.Input{
		{Name: "report.docx", SizeBytes: 4096},
		{Name: "blank.pdf", SizeBytes: 0},
	})
	waitIdle(t, s)

	word, _ := s.Job(added[0].ID)
	if word.Status != StatusCompleted {
		t.Fatalf("docx job: %+v", word)
	}
	if !strings.Contains(word.Result.Content, "# Quarterly Report") {
		t.Errorf("markdown output:\n%s", word.Result.Content)
	}

	pdf, _ := s.Job(added[1].ID)
	if pdf.Status != StatusUnsupported || !strings.Contains(pdf.Reason, "empty") {
		t.Errorf("empty pdf job: %+v", pdf)
	}
}

type wordParserFunc func(context.Context, string) (string, error)

func (f wordParserFunc) ParseHTML(ctx context.Context, path string) (string, error) {
	return f(ctx, path)
}

func TestConcurrentAddAndStats(t *testing.T) {
	s := New(Config{MaxConcurrent: 4, Registry: convert.NewRegistry(okConverter(detect.ClassPDF))})
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.AddFiles(context.Background(), []convert.Input{
				{Name: fmt.Sprintf("batch-%d.pdf", i), SizeBytes: 100},
			})
		}(i)
	}
	wg.Wait()
	waitIdle(t, s)

	if st := s.Stats(); st.Completed != 5 {
		t.Errorf("stats = %+v, want 5 completed", st)
	}
}
