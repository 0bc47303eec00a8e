// Package layout reconstructs document structure from positioned text.
//
// Paginated formats (PDF foremost) hand us a flat stream of glyph runs with
// coordinates and font metrics but no hierarchy. This package turns that
// stream back into lines, classifies the lines into headings, lists, tables
// and paragraphs, and emits Markdown.
//
// The pipeline is three pure functions:
//
//	lines  := layout.GroupLines(items)
//	blocks := layout.ClassifyBlocks(lines)
//	page   := layout.RenderPage(blocks, pageNr, images)
//
// plus a document-level Cleanup pass applied once after page concatenation.
package layout

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

// TextItem is one positioned glyph run from a parsed page. Immutable,
// produced by the parser collaborator.
type TextItem struct {
	Text     string
	X        float64
	Y        float64
	Width    float64
	Height   float64
	FontSize float64
	FontName string
}

// Line groups TextItems inferred to share one visual row. Never mutated
// after construction.
type Line struct {
	Y        float64
	Items    []TextItem
	Text     string  // space-joined, trimmed item texts
	FontSize float64 // max of item font sizes
}

// BlockType classifies a line of page text prior to Markdown emission.
type BlockType string

const (
	BlockHeading   BlockType = "heading"
	BlockList      BlockType = "list"
	BlockTable     BlockType = "table"
	BlockParagraph BlockType = "paragraph"
)

// Block is a classified unit of page text. Level is the heading depth
// (0 = top) and is meaningful only for BlockHeading; list items carry 0.
type Block struct {
	Type     BlockType
	Level    int
	Text     string
	FontSize float64
	Y        float64
}

// PageResult is the structured outcome of one page.
type PageResult struct {
	PageNumber int
	Lines      []Line
	Blocks     []Block
	Markdown   string
	Images     []string // collaborator-reported image placeholders
}

// Document is the assembled multi-page result.
type Document struct {
	Markdown   string
	Pages      []PageResult
	TotalPages int
	Metadata   map[string]string
}

// GroupLines merges positioned items into visual rows. Items are sorted by
// ascending Y; an item joins the current line when its baseline is within
// half its own font size of the line anchor, which tolerates sub-pixel
// jitter within a row while still splitting distinct rows.
func GroupLines(items []TextItem) []Line {
	if len(items) == 0 {
		return nil
	}

	sorted := make([]TextItem, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Y < sorted[j].Y })

	var lines []Line
	current := []TextItem{sorted[0]}
	anchorY := sorted[0].Y

	for _, item := range sorted[1:] {
		if math.Abs(item.Y-anchorY) < item.FontSize/2 {
			current = append(current, item)
			continue
		}
		lines = append(lines, closeLine(anchorY, current))
		current = []TextItem{item}
		anchorY = item.Y
	}
	lines = append(lines, closeLine(anchorY, current))
	return lines
}

// closeLine finalizes a row: items ordered left-to-right, text space-joined.
func closeLine(y float64, items []TextItem) Line {
	sort.SliceStable(items, func(i, j int) bool { return items[i].X < items[j].X })

	var parts []string
	var maxFont float64
	for _, it := range items {
		if t := strings.TrimSpace(it.Text); t != "" {
			parts = append(parts, t)
		}
		if it.FontSize > maxFont {
			maxFont = it.FontSize
		}
	}
	return Line{
		Y:        y,
		Items:    items,
		Text:     strings.TrimSpace(strings.Join(parts, " ")),
		FontSize: maxFont,
	}
}

// listMarkerRe matches a leading bullet or "1."-style numeric list token.
var listMarkerRe = regexp.MustCompile(`^\s*(?:[•\-\*]|\d+\.)\s+`)

// tableGapRe matches a tab or a run of three or more spaces. Known weakness:
// justified body text with wide inter-word gaps also matches and gets
// classified as a table row (see TestClassifyBlocks_JustifiedTextBecomesTable).
var tableGapRe = regexp.MustCompile(`\t| {3,}`)

// ClassifyBlocks labels each non-empty line relative to the page's average
// font size. Heading detection wins over list and table detection; a line is
// never both.
func ClassifyBlocks(lines []Line) []Block {
	if len(lines) == 0 {
		return nil
	}

	var sum float64
	for _, l := range lines {
		sum += l.FontSize
	}
	avg := sum / float64(len(lines))

	var blocks []Block
	for _, l := range lines {
		if l.Text == "" {
			continue
		}

		b := Block{Text: l.Text, FontSize: l.FontSize, Y: l.Y}
		switch {
		case l.FontSize > 1.5*avg:
			b.Type = BlockHeading
			b.Level = 0
		case l.FontSize > 1.2*avg:
			b.Type = BlockHeading
			b.Level = 1
		case listMarkerRe.MatchString(l.Text):
			b.Type = BlockList
		case tableGapRe.MatchString(l.Text):
			b.Type = BlockTable
		default:
			b.Type = BlockParagraph
		}
		blocks = append(blocks, b)
	}
	return blocks
}
