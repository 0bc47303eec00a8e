package convert

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/inkfold/inkfold/detect"
	"github.com/inkfold/inkfold/layout"
)

// PDFConfig configures a pdf-class converter.
type PDFConfig struct {
	// Parser opens PDFs for page-by-page positioned-text extraction. Required.
	Parser PDFParser

	Detector *detect.Detector
	Logger   *slog.Logger
}

func (c *PDFConfig) defaults() {
	if c.Detector == nil {
		c.Detector = detect.New(detect.Config{})
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// PDFConverter runs parsed pages through the layout inferencer. One
// unreadable page becomes an empty section rather than failing the file.
type PDFConverter struct {
	cfg PDFConfig
}

// NewPDF creates a pdf-class converter.
func NewPDF(cfg PDFConfig) *PDFConverter {
	cfg.defaults()
	return &PDFConverter{cfg: cfg}
}

// Class implements Converter.
func (c *PDFConverter) Class() detect.Class { return detect.ClassPDF }

// Convert implements Converter.
func (c *PDFConverter) Convert(ctx context.Context, in Input, onProgress ProgressFunc) (*Result, error) {
	progress := monotone(onProgress)

	if c.cfg.Parser == nil {
		return nil, fmt.Errorf("%w: PDF text extractor (ledongthuc/pdf)", ErrDependencyMissing)
	}
	if err := validate(c.cfg.Detector, in, detect.ClassPDF); err != nil {
		return nil, err
	}
	progress(5)

	doc, err := c.cfg.Parser.Open(ctx, in.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParser, err)
	}
	defer doc.Close()

	total := doc.PageCount()
	pages := make([]layout.PageResult, 0, total)

	for n := 1; n <= total; n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		items, images, err := doc.Page(ctx, n)
		if err != nil {
			// Partial-failure tolerance: one unreadable page must not
			// fail the whole file.
			c.cfg.Logger.Warn("convert: page extraction failed, emitting empty page",
				"name", in.Name, "page", n, "error", err)
			items, images = nil, nil
		}
		pages = append(pages, layout.BuildPage(items, n, images))

		progress(5 + 90*n/total)
	}

	meta := map[string]string{"converter": "pdf"}
	for k, v := range doc.Metadata() {
		meta[k] = v
	}
	meta["total_pages"] = strconv.Itoa(total)

	assembled := layout.Assemble(pages, meta)
	progress(100)

	c.cfg.Logger.Debug("convert: pdf assembled",
		"name", in.Name, "pages", total, "markdown_bytes", len(assembled.Markdown))

	return &Result{
		Kind:       "markdown",
		Content:    assembled.Markdown,
		SourceName: in.Name,
		Class:      detect.ClassPDF,
		Metadata:   meta,
	}, nil
}
