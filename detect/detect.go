// Package detect classifies incoming files into converter capability classes.
//
// Detection never fails with an error: unsupported outcomes are encoded in
// the Result so a caller can queue the file as terminally unsupported and
// keep processing its siblings.
//
// Usage:
//
//	det := detect.New(detect.Config{})
//	res := det.Detect(detect.FileInfo{Name: "report.pdf", SizeBytes: 1 << 20})
//	if !res.Supported {
//		fmt.Println("rejected:", res.Reason)
//	}
package detect

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
)

// Class is the converter capability bucket a file is routed to.
type Class string

const (
	ClassWord        Class = "word"
	ClassPDF         Class = "pdf"
	ClassImage       Class = "image"
	ClassUnsupported Class = "unsupported"
)

// FileInfo describes a candidate file as submitted by the caller.
type FileInfo struct {
	Name         string
	DeclaredMIME string
	SizeBytes    int64
}

// Result is the outcome of classifying one file.
type Result struct {
	MIME        string
	Class       Class
	Description string
	Supported   bool
	Reason      string   // set when Supported is false
	Warnings    []string // non-fatal, never block support
}

// IndexedResult pairs a Result with the original submission index so
// downstream queueing stays deterministic.
type IndexedResult struct {
	Index int
	File  FileInfo
	Result
}

// formatSpec describes one supported MIME type.
type formatSpec struct {
	Extensions   []string
	Class        Class
	MaxSizeBytes int64
	Description  string
}

const (
	maxWordBytes  = 20 << 20
	maxHTMLBytes  = 10 << 20
	maxPDFBytes   = 50 << 20
	maxImageBytes = 15 << 20
)

// formatTable maps a resolved MIME type to its capability class and limits.
var formatTable = map[string]formatSpec{
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": {
		Extensions:   []string{".docx"},
		Class:        ClassWord,
		MaxSizeBytes: maxWordBytes,
		Description:  "Microsoft Word (docx)",
	},
	"application/msword": {
		Extensions:   []string{".doc"},
		Class:        ClassWord,
		MaxSizeBytes: maxWordBytes,
		Description:  "Microsoft Word (legacy)",
	},
	"application/vnd.oasis.opendocument.text": {
		Extensions:   []string{".odt"},
		Class:        ClassWord,
		MaxSizeBytes: maxWordBytes,
		Description:  "OpenDocument Text",
	},
	// HTML rides the word class: both end in the HTML→Markdown renderer.
	"text/html": {
		Extensions:   []string{".html", ".htm"},
		Class:        ClassWord,
		MaxSizeBytes: maxHTMLBytes,
		Description:  "HTML document",
	},
	"application/pdf": {
		Extensions:   []string{".pdf"},
		Class:        ClassPDF,
		MaxSizeBytes: maxPDFBytes,
		Description:  "PDF document",
	},
	"image/png": {
		Extensions:   []string{".png"},
		Class:        ClassImage,
		MaxSizeBytes: maxImageBytes,
		Description:  "PNG image",
	},
	"image/jpeg": {
		Extensions:   []string{".jpg", ".jpeg"},
		Class:        ClassImage,
		MaxSizeBytes: maxImageBytes,
		Description:  "JPEG image",
	},
	"image/tiff": {
		Extensions:   []string{".tif", ".tiff"},
		Class:        ClassImage,
		MaxSizeBytes: maxImageBytes,
		Description:  "TIFF image",
	},
	"image/bmp": {
		Extensions:   []string{".bmp"},
		Class:        ClassImage,
		MaxSizeBytes: maxImageBytes,
		Description:  "BMP image",
	},
	"image/webp": {
		Extensions:   []string{".webp"},
		Class:        ClassImage,
		MaxSizeBytes: maxImageBytes,
		Description:  "WebP image",
	},
}

// extensionMIME resolves a MIME type from a file extension when the caller
// declared none. Built once from formatTable so the two can't drift.
var extensionMIME = func() map[string]string {
	m := make(map[string]string)
	for mime, spec := range formatTable {
		for _, ext := range spec.Extensions {
			m[ext] = mime
		}
	}
	return m
}()

// Config configures a Detector.
type Config struct {
	// LargeFileBytes is the soft threshold above which a supported file
	// gets a size warning (default: 25 MB).
	LargeFileBytes int64

	// Logger for debug messages.
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.LargeFileBytes <= 0 {
		c.LargeFileBytes = 25 << 20
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Detector classifies files against the static format table.
type Detector struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Detector with the given configuration.
func New(cfg Config) *Detector {
	cfg.defaults()
	return &Detector{cfg: cfg, logger: cfg.Logger}
}

// Detect classifies a single file. The returned Result is always populated;
// rejection is expressed via Supported=false plus a Reason string.
func (d *Detector) Detect(f FileInfo) Result {
	mime := strings.ToLower(strings.TrimSpace(f.DeclaredMIME))
	ext := strings.ToLower(filepath.Ext(f.Name))

	if mime == "" {
		mime = extensionMIME[ext]
	}
	if mime == "" {
		return Result{
			Class:     ClassUnsupported,
			Supported: false,
			Reason:    fmt.Sprintf("cannot determine file type for %q", f.Name),
		}
	}

	spec, ok := formatTable[mime]
	if !ok {
		return Result{
			MIME:      mime,
			Class:     ClassUnsupported,
			Supported: false,
			Reason:    fmt.Sprintf("unsupported format: %s", mime),
		}
	}

	if f.SizeBytes == 0 {
		return Result{
			MIME:        mime,
			Class:       ClassUnsupported,
			Description: spec.Description,
			Supported:   false,
			Reason:      "file is empty",
		}
	}
	if f.SizeBytes > spec.MaxSizeBytes {
		return Result{
			MIME:        mime,
			Class:       ClassUnsupported,
			Description: spec.Description,
			Supported:   false,
			Reason: fmt.Sprintf("file size %d exceeds %d byte limit for %s",
				f.SizeBytes, spec.MaxSizeBytes, spec.Description),
		}
	}

	res := Result{
		MIME:        mime,
		Class:       spec.Class,
		Description: spec.Description,
		Supported:   true,
	}

	if ext != "" && !hasExtension(spec.Extensions, ext) {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("extension %s does not match detected type %s", ext, mime))
	}
	if f.SizeBytes > d.cfg.LargeFileBytes {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("large file (%d bytes), conversion may be slow", f.SizeBytes))
	}

	d.logger.Debug("detect: classified file",
		"name", f.Name, "mime", mime, "class", res.Class, "warnings", len(res.Warnings))
	return res
}

// DetectAll classifies every file, preserving input order and attaching the
// original index. Order stability keeps downstream queueing deterministic.
func (d *Detector) DetectAll(files []FileInfo) []IndexedResult {
	out := make([]IndexedResult, len(files))
	for i, f := range files {
		out[i] = IndexedResult{Index: i, File: f, Result: d.Detect(f)}
	}
	return out
}

func hasExtension(exts []string, ext string) bool {
	for _, e := range exts {
		if e == ext {
			return true
		}
	}
	return false
}
