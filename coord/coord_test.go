package coord

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/inkfold/inkfold/convert"
	"github.com/inkfold/inkfold/dbopen"
	"github.com/inkfold/inkfold/detect"
	"github.com/inkfold/inkfold/history"
)

type converterFunc struct {
	class detect.Class
	fn    func(ctx context.Context, in convert.Input, onProgress convert.ProgressFunc) (*convert.Result, error)
}

func (c converterFunc) Class() detect.Class { return c.class }

func (c converterFunc) Convert(ctx context.Context, in convert.Input, onProgress convert.ProgressFunc) (*convert.Result, error) {
	return c.fn(ctx, in, onProgress)
}

func instantPDF() convert.Converter {
	return converterFunc{class: detect.ClassPDF, fn: func(_ context.Context, in convert.Input, onProgress convert.ProgressFunc) (*convert.Result, error) {
		if onProgress != nil {
			onProgress(100)
		}
		return &convert.Result{Kind: "markdown", Content: "# " + in.Name, SourceName: in.Name, Class: detect.ClassPDF}, nil
	}}
}

// gatedPDF blocks every conversion until release is closed.
func gatedPDF(release <-chan struct{}) convert.Converter {
	return converterFunc{class: detect.ClassPDF, fn: func(ctx context.Context, in convert.Input, _ convert.ProgressFunc) (*convert.Result, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &convert.Result{Kind: "markdown", Content: "done", SourceName: in.Name, Class: detect.ClassPDF}, nil
	}}
}

func TestConvertFile(t *testing.T) {
	c := New(Config{Registry: convert.NewRegistry(instantPDF())})

	res, err := c.ConvertFile(context.Background(), convert.Input{Name: "doc.pdf", SizeBytes: 100}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Content != "# doc.pdf" {
		t.Errorf("content = %q", res.Content)
	}

	st := c.Status()
	if st.Active != 0 || st.Completed != 1 {
		t.Errorf("status = %+v", st)
	}
}

func TestConvertFileUnsupported(t *testing.T) {
	c := New(Config{Registry: convert.NewRegistry(instantPDF())})

	_, err := c.ConvertFile(context.Background(), convert.Input{Name: "data.xyz", SizeBytes: 5}, Options{})
	if !errors.Is(err, convert.ErrUnsupported) {
		t.Fatalf("err = %v, want ErrUnsupported", err)
	}
	// Rejected files never become tasks.
	if st := c.Status(); st.Active != 0 || st.Failed != 0 {
		t.Errorf("status = %+v", st)
	}
}

func TestQueueFullIsSynchronous(t *testing.T) {
	release := make(chan struct{})
	c := New(Config{Ceiling: 2, Registry: convert.NewRegistry(gatedPDF(release))})

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.ConvertFile(context.Background(), convert.Input{Name: "held.pdf", SizeBytes: 10}, Options{})
		}()
	}
	waitActive(t, c, 2)

	start := time.Now()
	_, err := c.ConvertFile(context.Background(), convert.Input{Name: "extra.pdf", SizeBytes: 10}, Options{})
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
	if time.Since(start) > time.Second {
		t.Error("queue-full rejection must not wait for a slot")
	}

	close(release)
	wg.Wait()
	if st := c.Status(); st.Completed != 2 {
		t.Errorf("status = %+v", st)
	}
}

func TestCancelIgnoresEventualSettle(t *testing.T) {
	release := make(chan struct{})
	c := New(Config{Registry: convert.NewRegistry(gatedPDF(release))})

	errCh := make(chan error, 1)
	go func() {
		_, err := c.ConvertFile(context.Background(), convert.Input{Name: "slow.pdf", SizeBytes: 10}, Options{})
		errCh <- err
	}()
	waitActive(t, c, 1)

	var id string
	for _, task := range c.Tasks() {
		if task.Status == TaskActive {
			id = task.ID
		}
	}
	if err := c.Cancel(id); err != nil {
		t.Fatal(err)
	}
	if err := c.Cancel(id); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("double cancel: %v", err)
	}

	// The converter finishes after the cancel; its result is discarded.
	close(release)
	if err := <-errCh; !errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}

	st := c.Status()
	if st.Cancelled != 1 || st.Completed != 0 || st.Active != 0 {
		t.Errorf("status = %+v", st)
	}
}

func TestConvertAllBatchesAndAccumulates(t *testing.T) {
	var current, peak atomic.Int32
	conv := converterFunc{class: detect.ClassPDF, fn: func(_ context.Context, in convert.Input, _ convert.ProgressFunc) (*convert.Result, error) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		current.Add(-1)
		if strings.HasPrefix(in.Name, "bad") {
			return nil, errors.New("broken xref")
		}
		return &convert.Result{Kind: "markdown", Content: "ok", SourceName: in.Name, Class: detect.ClassPDF}, nil
	}}

	c := New(Config{Ceiling: 2, Registry: convert.NewRegistry(conv)})
	files := []convert.Input{
		{Name: "a.pdf", SizeBytes: 1},
		{Name: "bad-b.pdf", SizeBytes: 1},
		{Name: "c.pdf", SizeBytes: 1},
		{Name: "d.pdf", SizeBytes: 1},
		{Name: "bad-e.pdf", SizeBytes: 1},
	}

	results, failures := c.ConvertAll(context.Background(), files, Options{})
	if len(results) != 3 || len(failures) != 2 {
		t.Fatalf("got %d results, %d failures", len(results), len(failures))
	}
	if got := peak.Load(); got > 2 {
		t.Errorf("peak concurrency %d exceeds ceiling 2", got)
	}
	// Successes keep input order.
	wantOrder := []string{"a.pdf", "c.pdf", "d.pdf"}
	for i, r := range results {
		if r.SourceName != wantOrder[i] {
			t.Errorf("results[%d] = %q, want %q", i, r.SourceName, wantOrder[i])
		}
	}
	for _, f := range failures {
		if !strings.HasPrefix(f.Input.Name, "bad") {
			t.Errorf("unexpected failure for %q: %v", f.Input.Name, f.Err)
		}
	}
}

func TestHistoryMirror(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(history.Schema))
	log := history.New(history.Config{DB: db})

	c := New(Config{Registry: convert.NewRegistry(instantPDF()), History: log})
	if _, err := c.ConvertFile(context.Background(), convert.Input{Name: "doc.pdf", SizeBytes: 10}, Options{}); err != nil {
		t.Fatal(err)
	}

	entries, err := log.Recent(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name != "doc.pdf" || entries[0].Status != "completed" {
		t.Fatalf("entries = %+v", entries)
	}
}

func waitActive(t *testing.T, c *Coordinator, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.Status().Active == n {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("never reached %d active tasks: %+v", n, c.Status())
}
