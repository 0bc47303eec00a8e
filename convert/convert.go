// Package convert wraps each external parser collaborator behind one uniform
// conversion contract.
//
// A Converter takes a file of its capability class and produces Markdown,
// reporting progress along the way. Binary format parsing is delegated to
// collaborators (word/HTML → HTML markup, PDF → positioned text items,
// image → recognized text); this package owns validation, dispatch, structure
// inference for paginated formats, and error normalization.
package convert

import (
	"context"
	"errors"
	"fmt"

	"github.com/inkfold/inkfold/detect"
	"github.com/inkfold/inkfold/layout"
)

// Sentinel errors, checked with errors.Is at the job/task boundary.
var (
	// ErrDependencyMissing marks a conversion that cannot run because a
	// required parser collaborator was not injected. The wrapping message
	// names the missing library.
	ErrDependencyMissing = errors.New("required dependency missing")

	// ErrParser wraps a failure reported by a parser collaborator.
	ErrParser = errors.New("parser error")

	// ErrUnsupported marks a file handed to a converter of the wrong class.
	ErrUnsupported = errors.New("unsupported file")

	// ErrEmptyFile marks a zero-byte input.
	ErrEmptyFile = errors.New("file is empty")

	// ErrSizeExceeded marks an input above its class size limit.
	ErrSizeExceeded = errors.New("file size exceeded")
)

// Input identifies one file to convert.
type Input struct {
	Name      string
	Path      string
	MIME      string
	SizeBytes int64
}

// Result is the externally visible output unit. Immutable once produced.
type Result struct {
	Kind       string // always "markdown"
	Content    string
	SourceName string
	Class      detect.Class
	Metadata   map[string]string
}

// ProgressFunc receives values in [0,100]. Converters guarantee the sequence
// is monotonically non-decreasing.
type ProgressFunc func(percent int)

// monotone wraps a ProgressFunc so regressions and out-of-range values are
// silently dropped, preserving the monotonicity contract even when a
// collaborator misbehaves.
func monotone(fn ProgressFunc) ProgressFunc {
	if fn == nil {
		return func(int) {}
	}
	last := -1
	return func(p int) {
		if p < 0 {
			return
		}
		if p > 100 {
			p = 100
		}
		if p <= last {
			return
		}
		last = p
		fn(p)
	}
}

// Converter is the uniform async contract over one capability class.
type Converter interface {
	// Class reports which detect.Class this converter handles.
	Class() detect.Class

	// Convert turns the input into Markdown. onProgress may be nil; when
	// set it is invoked zero or more times with non-decreasing values in
	// [0,100].
	Convert(ctx context.Context, in Input, onProgress ProgressFunc) (*Result, error)
}

// Registry holds one converter per capability class.
type Registry struct {
	byClass map[detect.Class]Converter
}

// NewRegistry builds a registry from the given converters. A later converter
// for the same class replaces an earlier one.
func NewRegistry(convs ...Converter) *Registry {
	r := &Registry{byClass: make(map[detect.Class]Converter, len(convs))}
	for _, c := range convs {
		r.byClass[c.Class()] = c
	}
	return r
}

// ForClass returns the converter handling the given class.
func (r *Registry) ForClass(c detect.Class) (Converter, bool) {
	conv, ok := r.byClass[c]
	return conv, ok
}

// Classes returns the registered capability classes.
func (r *Registry) Classes() []detect.Class {
	out := make([]detect.Class, 0, len(r.byClass))
	for c := range r.byClass {
		out = append(out, c)
	}
	return out
}

// validate re-checks an input against the format table. Redundant with the
// queue-level detection, but converters are also reachable directly through
// the coordinator.
func validate(det *detect.Detector, in Input, want detect.Class) error {
	if in.SizeBytes == 0 {
		return fmt.Errorf("%w: %s", ErrEmptyFile, in.Name)
	}
	res := det.Detect(detect.FileInfo{Name: in.Name, DeclaredMIME: in.MIME, SizeBytes: in.SizeBytes})
	if !res.Supported {
		// Description is only populated once the MIME passed the format
		// table, so a populated Description means the size check failed.
		if res.Description != "" {
			return fmt.Errorf("%w: %s", ErrSizeExceeded, res.Reason)
		}
		return fmt.Errorf("%w: %s", ErrUnsupported, res.Reason)
	}
	if res.Class != want {
		return fmt.Errorf("%w: %s is %s, not %s", ErrUnsupported, in.Name, res.Class, want)
	}
	return nil
}

// Collaborator contracts. Implementations live outside the core (the repo
// ships working ones in docparse); the converters treat them as black boxes.

// WordParser turns a word-processing or HTML document into HTML markup.
type WordParser interface {
	ParseHTML(ctx context.Context, path string) (string, error)
}

// MarkdownRenderer renders already-structured HTML as Markdown text.
type MarkdownRenderer interface {
	Render(html string) (string, error)
}

// PDFDocument is a page-addressable handle over one parsed PDF.
type PDFDocument interface {
	// PageCount reports the number of pages.
	PageCount() int

	// Metadata returns document-level attributes (title, producer, ...).
	Metadata() map[string]string

	// Page extracts the positioned text items and image placeholders of
	// one page (1-based).
	Page(ctx context.Context, n int) (items []layout.TextItem, images []string, err error)

	// Close releases the underlying file handle.
	Close() error
}

// PDFParser opens a PDF for page-by-page extraction.
type PDFParser interface {
	Open(ctx context.Context, path string) (PDFDocument, error)
}

// OCRLine is one recognized text line. Lines arrive already sorted
// top-to-bottom, left-to-right by the recognizer.
type OCRLine struct {
	Text  string
	Block int // recognizer-assigned paragraph/block index
}

// ImageRecognizer extracts text from a raster image.
type ImageRecognizer interface {
	Recognize(ctx context.Context, path string, onProgress ProgressFunc) ([]OCRLine, error)
}
