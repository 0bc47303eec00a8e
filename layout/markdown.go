package layout

import (
	"fmt"
	"regexp"
	"strings"
)

// tableCellRe splits a table row candidate into cells on tabs or runs of two
// or more spaces.
var tableCellRe = regexp.MustCompile(`\t+| {2,}`)

// RenderPage emits Markdown for one page's classified blocks. Pages after the
// first are prefixed with a horizontal rule and a "Page N" heading so
// multi-page documents stay visually segmented. Image placeholders reported
// by the parser collaborator are appended as a trailing section with empty
// sources (the caller fills those in later).
func RenderPage(blocks []Block, pageNumber int, images []string) string {
	var sb strings.Builder

	if pageNumber > 1 {
		sb.WriteString("---\n\n")
		fmt.Fprintf(&sb, "# Page %d\n\n", pageNumber)
	}

	// tableRun tracks whether the header separator for the current run of
	// table rows was already emitted. Reset by any intervening block.
	tableRun := false
	prevList := false

	for _, b := range blocks {
		// Close a bare list or table run before a different block type.
		if prevList && b.Type != BlockList {
			sb.WriteString("\n")
		}
		if tableRun && b.Type != BlockTable {
			sb.WriteString("\n")
		}

		switch b.Type {
		case BlockHeading:
			sb.WriteString(strings.Repeat("#", b.Level+1))
			sb.WriteString(" ")
			sb.WriteString(b.Text)
			sb.WriteString("\n\n")
			tableRun = false
			prevList = false

		case BlockList:
			// Consecutive list lines stay contiguous so they render as
			// one Markdown list.
			sb.WriteString("- ")
			sb.WriteString(listMarkerRe.ReplaceAllString(b.Text, ""))
			sb.WriteString("\n")
			tableRun = false
			prevList = true

		case BlockTable:
			cells := splitTableCells(b.Text)
			sb.WriteString(tableRow(cells))
			sb.WriteString("\n")
			if !tableRun {
				sb.WriteString(tableSeparator(len(cells)))
				sb.WriteString("\n")
				tableRun = true
			}
			prevList = false

		default: // BlockParagraph
			sb.WriteString(b.Text)
			sb.WriteString("\n\n")
			tableRun = false
			prevList = false
		}
	}

	if len(images) > 0 {
		if prevList || tableRun {
			sb.WriteString("\n")
		}
		sb.WriteString("## Page Images\n\n")
		for _, name := range images {
			fmt.Fprintf(&sb, "![%s]()\n", name)
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

func splitTableCells(text string) []string {
	var cells []string
	for _, c := range tableCellRe.Split(text, -1) {
		if c = strings.TrimSpace(c); c != "" {
			cells = append(cells, c)
		}
	}
	return cells
}

func tableRow(cells []string) string {
	return "| " + strings.Join(cells, " | ") + " |"
}

func tableSeparator(n int) string {
	return "|" + strings.Repeat(" --- |", n)
}

// BuildPage runs the full per-page pipeline: grouping, classification and
// Markdown emission. A page with zero items produces an empty PageResult,
// not an error.
func BuildPage(items []TextItem, pageNumber int, images []string) PageResult {
	lines := GroupLines(items)
	blocks := ClassifyBlocks(lines)
	return PageResult{
		PageNumber: pageNumber,
		Lines:      lines,
		Blocks:     blocks,
		Markdown:   RenderPage(blocks, pageNumber, images),
		Images:     images,
	}
}

// Assemble concatenates page Markdown into one document and applies the
// cleanup pass. Page rules were already emitted by RenderPage for pages > 1.
func Assemble(pages []PageResult, metadata map[string]string) *Document {
	var sb strings.Builder
	for _, p := range pages {
		sb.WriteString(p.Markdown)
		sb.WriteString("\n")
	}
	return &Document{
		Markdown:   Cleanup(sb.String()),
		Pages:      pages,
		TotalPages: len(pages),
		Metadata:   metadata,
	}
}

var (
	trailingWSRe   = regexp.MustCompile(`(?m)[ \t]+$`)
	excessBlankRe  = regexp.MustCompile(`\n{3,}`)
	headingSpaceRe = regexp.MustCompile(`(?m)^(#{1,6})[ \t]+`)
	listBulletRe   = regexp.MustCompile(`(?m)^([ \t]*)[*+][ \t]+`)
)

// Cleanup normalizes a whole concatenated Markdown document. Idempotent:
// applying it to already-clean output returns the identical string.
func Cleanup(doc string) string {
	doc = trailingWSRe.ReplaceAllString(doc, "")
	doc = excessBlankRe.ReplaceAllString(doc, "\n\n")
	doc = headingSpaceRe.ReplaceAllString(doc, "$1 ")
	doc = listBulletRe.ReplaceAllString(doc, "$1- ")
	return strings.TrimSpace(doc)
}
