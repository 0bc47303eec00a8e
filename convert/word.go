package convert

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/microcosm-cc/bluemonday"

	"github.com/inkfold/inkfold/detect"
	"github.com/inkfold/inkfold/layout"
)

// WordConfig configures a word-class converter.
type WordConfig struct {
	// Parser produces HTML markup from the document. Required.
	Parser WordParser

	// Renderer turns HTML into Markdown (default: NewHTMLRenderer).
	Renderer MarkdownRenderer

	// Sanitizer strips unsafe markup before rendering (default: bluemonday UGC).
	Sanitizer *bluemonday.Policy

	Detector *detect.Detector
	Logger   *slog.Logger
}

func (c *WordConfig) defaults() {
	if c.Renderer == nil {
		c.Renderer = NewHTMLRenderer()
	}
	if c.Sanitizer == nil {
		c.Sanitizer = bluemonday.UGCPolicy()
	}
	if c.Detector == nil {
		c.Detector = detect.New(detect.Config{})
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// WordConverter handles word-processing documents and HTML files. The parser
// collaborator already produces structured HTML, so no layout inference is
// needed; the HTML is sanitized and rendered directly.
type WordConverter struct {
	cfg WordConfig
}

// NewWord creates a word-class converter.
func NewWord(cfg WordConfig) *WordConverter {
	cfg.defaults()
	return &WordConverter{cfg: cfg}
}

// Class implements Converter.
func (c *WordConverter) Class() detect.Class { return detect.ClassWord }

// Convert implements Converter.
func (c *WordConverter) Convert(ctx context.Context, in Input, onProgress ProgressFunc) (*Result, error) {
	progress := monotone(onProgress)

	if c.cfg.Parser == nil {
		return nil, fmt.Errorf("%w: word document parser (docparse)", ErrDependencyMissing)
	}
	if err := validate(c.cfg.Detector, in, detect.ClassWord); err != nil {
		return nil, err
	}
	progress(10)

	html, err := c.cfg.Parser.ParseHTML(ctx, in.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParser, err)
	}
	progress(55)

	clean := c.cfg.Sanitizer.Sanitize(html)
	md, err := c.cfg.Renderer.Render(clean)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParser, err)
	}
	progress(90)

	md = layout.Cleanup(md)
	progress(100)

	c.cfg.Logger.Debug("convert: word document rendered",
		"name", in.Name, "markdown_bytes", len(md))

	return &Result{
		Kind:       "markdown",
		Content:    md,
		SourceName: in.Name,
		Class:      detect.ClassWord,
		Metadata:   map[string]string{"converter": "word"},
	}, nil
}
