package coord

import (
	"strings"
	"testing"

	"github.com/inkfold/inkfold/convert"
	"github.com/inkfold/inkfold/detect"
)

func TestMergeResultsGroupsByClassFirstSeen(t *testing.T) {
	results := []convert.Result{
		{Class: detect.ClassPDF, SourceName: "one.pdf", Content: "# One"},
		{Class: detect.ClassWord, SourceName: "two.docx", Content: "# Two"},
		{Class: detect.ClassPDF, SourceName: "three.pdf", Content: "# Three"},
	}

	merged := MergeResults(results)

	pdfIdx := strings.Index(merged, "## PDF Documents")
	wordIdx := strings.Index(merged, "## Word Documents")
	if pdfIdx < 0 || wordIdx < 0 {
		t.Fatalf("missing class sections:\n%s", merged)
	}
	// PDF seen first, so its section comes first.
	if pdfIdx > wordIdx {
		t.Errorf("class sections out of first-seen order:\n%s", merged)
	}

	// Input order within a class, numbered from 1 per section.
	if !strings.Contains(merged, "### 1. one.pdf") || !strings.Contains(merged, "### 2. three.pdf") {
		t.Errorf("pdf subsections misnumbered:\n%s", merged)
	}
	if !strings.Contains(merged, "### 1. two.docx") {
		t.Errorf("word subsection misnumbered:\n%s", merged)
	}
}

func TestMergeResultsDeterministic(t *testing.T) {
	// Byte-identical output for a fixed input order, regardless of how
	// many times the merge runs. Required for golden-file comparisons.
	results := []convert.Result{
		{Class: detect.ClassWord, SourceName: "a.docx", Content: "# A\n\nbody"},
		{Class: detect.ClassImage, SourceName: "b.png", Content: "scan text"},
		{Class: detect.ClassWord, SourceName: "c.odt", Content: "# C"},
	}

	first := MergeResults(results)
	for i := 0; i < 5; i++ {
		if got := MergeResults(results); got != first {
			t.Fatalf("merge %d differs from first:\n%s\n---\n%s", i, got, first)
		}
	}
}

func TestMergeResultsEmpty(t *testing.T) {
	if got := MergeResults(nil); got != "" {
		t.Errorf("empty merge = %q", got)
	}
}

func TestMergeResultsNormalizesWhitespace(t *testing.T) {
	results := []convert.Result{
		{Class: detect.ClassPDF, SourceName: "a.pdf", Content: "# A\n\n\n\n\nbody   \n"},
	}
	merged := MergeResults(results)
	if strings.Contains(merged, "\n\n\n") {
		t.Errorf("excess blank lines survived:\n%q", merged)
	}
	if !strings.HasSuffix(merged, "\n") || strings.HasSuffix(merged, "\n\n") {
		t.Errorf("document must end with exactly one newline: %q", merged)
	}
}
