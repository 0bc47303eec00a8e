// Package docparse ships working parser collaborators for the convert
// contracts.
//
// Supported inputs:
//   - .docx: Microsoft Word (archive/zip, word/document.xml, HTML out)
//   - .odt:  OpenDocument Text (archive/zip, content.xml, HTML out)
//   - .html: HTML files (boilerplate and hidden elements stripped)
//   - .pdf:  positioned text items per page (ledongthuc/pdf) plus
//     image-stream detection and quality metrics (pdfcpu)
//
// The word-class parsers emit HTML because the downstream renderer consumes
// HTML; the PDF parser emits raw positioned items because structure is
// inferred downstream by the layout package.
package docparse

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
)

// Config configures the parsers.
type Config struct {
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// WordParser implements convert.WordParser for docx, odt and html files,
// dispatching on file extension.
type WordParser struct {
	logger *slog.Logger
}

// NewWordParser creates a WordParser.
func NewWordParser(cfg Config) *WordParser {
	cfg.defaults()
	return &WordParser{logger: cfg.Logger}
}

// ParseHTML converts the document at path into HTML markup.
func (p *WordParser) ParseHTML(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".docx", ".doc":
		return docxHTML(path)
	case ".odt":
		return odtHTML(path)
	case ".html", ".htm":
		return htmlBody(path)
	default:
		return "", fmt.Errorf("no word-class parser for %q", ext)
	}
}
