package docparse

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	lpdf "github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/inkfold/inkfold/convert"
	"github.com/inkfold/inkfold/layout"
)

// PDFParser implements convert.PDFParser. Positioned text comes from
// ledongthuc/pdf; pdfcpu supplies image-XObject detection so pages with
// figures get placeholders even when they carry no extractable text.
type PDFParser struct {
	logger *slog.Logger
}

// NewPDFParser creates a PDFParser.
func NewPDFParser(cfg Config) *PDFParser {
	cfg.defaults()
	return &PDFParser{logger: cfg.Logger}
}

// Open implements convert.PDFParser.
func (p *PDFParser) Open(ctx context.Context, path string) (convert.PDFDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, reader, err := lpdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	return &pdfDocument{
		f:      f,
		reader: reader,
		images: detectPageImages(path, p.logger),
		logger: p.logger,
	}, nil
}

// pdfDocument is a page-addressable handle. Quality metrics accumulate as
// pages are read; Metadata is meaningful once the caller consumed the pages.
type pdfDocument struct {
	f       *os.File
	reader  *lpdf.Reader
	images  map[int][]string
	logger  *slog.Logger
	quality quality
}

func (d *pdfDocument) PageCount() int { return d.reader.NumPage() }

func (d *pdfDocument) Close() error { return d.f.Close() }

// Page extracts the positioned text items of one page, flipping the PDF
// bottom-up Y axis into the top-down orientation the layout package expects.
func (d *pdfDocument) Page(ctx context.Context, n int) (items []layout.TextItem, images []string, err error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	// ledongthuc/pdf panics on some malformed content streams; surface
	// that as a per-page error so the converter can emit an empty page.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("page %d: content stream: %v", n, r)
		}
	}()

	page := d.reader.Page(n)
	if page.V.IsNull() {
		return nil, d.images[n], nil
	}

	content := page.Content()
	if len(content.Text) == 0 {
		d.quality.pagesRead++
		return nil, d.images[n], nil
	}

	maxY := content.Text[0].Y
	for _, t := range content.Text {
		if t.Y > maxY {
			maxY = t.Y
		}
	}

	items = make([]layout.TextItem, 0, len(content.Text))
	for _, t := range content.Text {
		items = append(items, layout.TextItem{
			Text:     t.S,
			X:        t.X,
			Y:        maxY - t.Y,
			Width:    t.W,
			Height:   t.FontSize,
			FontSize: t.FontSize,
			FontName: t.Font,
		})
		d.quality.observe(t.S)
	}
	d.quality.pagesRead++

	return items, d.images[n], nil
}

// Metadata reports extraction quality metrics over the pages read so far.
func (d *pdfDocument) Metadata() map[string]string {
	return d.quality.metadata(len(d.images) > 0)
}

// detectPageImages inspects the PDF with pdfcpu and returns placeholder names
// for every image XObject, keyed by page number. Inspection failures are
// logged and yield no placeholders, never a fatal error.
func detectPageImages(path string, logger *slog.Logger) map[int][]string {
	f, err := os.Open(path)
	if err != nil {
		logger.Warn("docparse: pdf image inspection open failed", "path", path, "error", err)
		return nil
	}
	defer f.Close()

	conf := model.NewDefaultConfiguration()
	pctx, err := api.ReadValidateAndOptimize(f, conf)
	if err != nil {
		logger.Warn("docparse: pdfcpu inspection failed", "path", path, "error", err)
		return nil
	}
	if pctx.Optimize == nil {
		return nil
	}

	images := make(map[int][]string)
	for pageNr := 1; pageNr <= pctx.PageCount; pageNr++ {
		objNrs := pdfcpu.ImageObjNrs(pctx, pageNr)
		for i := range objNrs {
			images[pageNr] = append(images[pageNr], fmt.Sprintf("page-%d-image-%d", pageNr, i+1))
		}
	}
	if len(images) == 0 {
		return nil
	}
	return images
}
