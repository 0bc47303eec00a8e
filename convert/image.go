package convert

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/inkfold/inkfold/detect"
	"github.com/inkfold/inkfold/layout"
)

// ImageConfig configures an image-class converter.
type ImageConfig struct {
	// Recognizer performs OCR. Required at Convert time; when absent the
	// converter fails with ErrDependencyMissing naming RecognizerName.
	Recognizer ImageRecognizer

	// RecognizerName is used in the dependency-missing error message
	// (default: "OCR engine").
	RecognizerName string

	Detector *detect.Detector
	Logger   *slog.Logger
}

func (c *ImageConfig) defaults() {
	if c.RecognizerName == "" {
		c.RecognizerName = "OCR engine"
	}
	if c.Detector == nil {
		c.Detector = detect.New(detect.Config{})
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// ImageConverter delegates to the OCR collaborator and applies a light
// structural post-pass. OCR supplies no font metrics, so heading detection is
// a much weaker heuristic than the PDF layout inferencer: short, capitalized,
// punctuation-free lines are promoted to headings; the rest are grouped into
// paragraphs by the recognizer's block index, preserving its top-to-bottom,
// left-to-right order.
type ImageConverter struct {
	cfg ImageConfig
}

// NewImage creates an image-class converter.
func NewImage(cfg ImageConfig) *ImageConverter {
	cfg.defaults()
	return &ImageConverter{cfg: cfg}
}

// Class implements Converter.
func (c *ImageConverter) Class() detect.Class { return detect.ClassImage }

// Convert implements Converter.
func (c *ImageConverter) Convert(ctx context.Context, in Input, onProgress ProgressFunc) (*Result, error) {
	progress := monotone(onProgress)

	if c.cfg.Recognizer == nil {
		return nil, fmt.Errorf("%w: image recognizer (%s)", ErrDependencyMissing, c.cfg.RecognizerName)
	}
	if err := validate(c.cfg.Detector, in, detect.ClassImage); err != nil {
		return nil, err
	}
	progress(5)

	lines, err := c.cfg.Recognizer.Recognize(ctx, in.Path, func(p int) {
		// Scale recognizer progress into the 5-85 band.
		progress(5 + p*80/100)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParser, err)
	}
	progress(85)

	md := layout.Cleanup(ocrMarkdown(lines))
	progress(100)

	c.cfg.Logger.Debug("convert: image recognized",
		"name", in.Name, "lines", len(lines), "markdown_bytes", len(md))

	return &Result{
		Kind:       "markdown",
		Content:    md,
		SourceName: in.Name,
		Class:      detect.ClassImage,
		Metadata:   map[string]string{"converter": "image"},
	}, nil
}

// ocrMarkdown assembles recognized lines into Markdown: heading-like lines
// become second-level headings, everything else joins its block's paragraph.
func ocrMarkdown(lines []OCRLine) string {
	var sb strings.Builder
	var para []string
	curBlock := -1

	flush := func() {
		if len(para) > 0 {
			sb.WriteString(strings.Join(para, " "))
			sb.WriteString("\n\n")
			para = para[:0]
		}
	}

	for _, l := range lines {
		text := strings.TrimSpace(l.Text)
		if text == "" {
			continue
		}

		if headingLike(text) {
			flush()
			sb.WriteString("## ")
			sb.WriteString(text)
			sb.WriteString("\n\n")
			curBlock = l.Block
			continue
		}

		if l.Block != curBlock {
			flush()
			curBlock = l.Block
		}
		para = append(para, text)
	}
	flush()

	return sb.String()
}

// headingLike reports whether an OCR line plausibly is a heading: short,
// starting with an uppercase letter, and free of sentence punctuation.
func headingLike(text string) bool {
	if len(text) > 60 {
		return false
	}
	words := strings.Fields(text)
	if len(words) == 0 || len(words) > 6 {
		return false
	}
	first := []rune(text)[0]
	if !unicode.IsUpper(first) {
		return false
	}
	return !strings.ContainsAny(text, ".,:;!?")
}
