package docparse

import (
	"fmt"
	"strings"
	"unicode"
)

// quality accumulates PDF extraction quality metrics while pages are read.
// Low printable ratios or near-empty pages on an image-bearing document are
// the classic signature of a scanned PDF that needs OCR instead.
type quality struct {
	pagesRead  int
	totalRunes int
	printable  int
	tokens     int
	wordlike   int
}

// observe folds one extracted text run into the counters.
func (q *quality) observe(text string) {
	for _, r := range text {
		q.totalRunes++
		if isGarbageRune(r) {
			continue
		}
		if unicode.IsPrint(r) || r == '\n' || r == '\r' || r == '\t' {
			q.printable++
		}
	}
	for _, f := range strings.Fields(text) {
		q.tokens++
		if n := len([]rune(f)); n >= 2 && n <= 15 {
			q.wordlike++
		}
	}
}

func (q *quality) printableRatio() float64 {
	if q.totalRunes == 0 {
		return 1.0
	}
	return float64(q.printable) / float64(q.totalRunes)
}

func (q *quality) wordlikeRatio() float64 {
	if q.tokens == 0 {
		return 0
	}
	return float64(q.wordlike) / float64(q.tokens)
}

func (q *quality) charsPerPage() float64 {
	if q.pagesRead == 0 {
		return 0
	}
	return float64(q.totalRunes) / float64(q.pagesRead)
}

// needsOCR reports whether the document likely requires OCR.
func (q *quality) needsOCR(hasImages bool) bool {
	return (q.charsPerPage() < 50 && hasImages) || q.printableRatio() < 0.85
}

func (q *quality) metadata(hasImages bool) map[string]string {
	return map[string]string{
		"chars_per_page":  fmt.Sprintf("%.1f", q.charsPerPage()),
		"printable_ratio": fmt.Sprintf("%.3f", q.printableRatio()),
		"wordlike_ratio":  fmt.Sprintf("%.3f", q.wordlikeRatio()),
		"has_images":      fmt.Sprintf("%t", hasImages),
		"needs_ocr":       fmt.Sprintf("%t", q.needsOCR(hasImages)),
	}
}

// isGarbageRune flags characters that indicate broken extraction: Private
// Use Area glyphs, the replacement character, and stray control bytes.
func isGarbageRune(r rune) bool {
	if r >= 0xE000 && r <= 0xF8FF {
		return true
	}
	if r == 0xFFFD {
		return true
	}
	if r < 0x0020 && r != '\n' && r != '\r' && r != '\t' {
		return true
	}
	return false
}
