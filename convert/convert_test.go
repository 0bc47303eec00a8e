package convert

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/inkfold/inkfold/detect"
	"github.com/inkfold/inkfold/layout"
)

// --- fakes ---

type fakeWordParser struct {
	html string
	err  error
}

func (f *fakeWordParser) ParseHTML(ctx context.Context, path string) (string, error) {
	return f.html, f.err
}

type fakeRenderer struct{}

func (fakeRenderer) Render(html string) (string, error) {
	// Minimal h1/p translation, good enough for adapter-level tests.
	out := strings.ReplaceAll(html, "<h1>", "# ")
	out = strings.ReplaceAll(out, "</h1>", "\n\n")
	out = strings.ReplaceAll(out, "<p>", "")
	out = strings.ReplaceAll(out, "</p>", "\n\n")
	return strings.TrimSpace(out), nil
}

type fakePDFDoc struct {
	pages     [][]layout.TextItem
	images    map[int][]string
	failPages map[int]bool
	meta      map[string]string
	closed    bool
}

func (f *fakePDFDoc) PageCount() int               { return len(f.pages) }
func (f *fakePDFDoc) Metadata() map[string]string  { return f.meta }
func (f *fakePDFDoc) Close() error                 { f.closed = true; return nil }
func (f *fakePDFDoc) Page(ctx context.Context, n int) ([]layout.TextItem, []string, error) {
	if f.failPages[n] {
		return nil, nil, fmt.Errorf("page %d stream corrupt", n)
	}
	return f.pages[n-1], f.images[n], nil
}

type fakePDFParser struct {
	doc *fakePDFDoc
	err error
}

func (f *fakePDFParser) Open(ctx context.Context, path string) (PDFDocument, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.doc, nil
}

type fakeRecognizer struct {
	lines []OCRLine
	err   error
}

func (f *fakeRecognizer) Recognize(ctx context.Context, path string, onProgress ProgressFunc) ([]OCRLine, error) {
	if onProgress != nil {
		onProgress(50)
		onProgress(100)
	}
	return f.lines, f.err
}

func wordInput() Input {
	return Input{Name: "doc.docx", Path: "/tmp/doc.docx", SizeBytes: 1024}
}

func pdfInput() Input {
	return Input{Name: "doc.pdf", Path: "/tmp/doc.pdf", SizeBytes: 1024}
}

func imageInput() Input {
	return Input{Name: "scan.png", Path: "/tmp/scan.png", SizeBytes: 1024}
}

// --- word ---

func TestWordConvert_MissingParser(t *testing.T) {
	c := NewWord(WordConfig{Renderer: fakeRenderer{}})
	_, err := c.Convert(context.Background(), wordInput(), nil)
	if !errors.Is(err, ErrDependencyMissing) {
		t.Fatalf("err = %v, want ErrDependencyMissing", err)
	}
}

func TestWordConvert_RendersMarkdown(t *testing.T) {
	c := NewWord(WordConfig{
		Parser:   &fakeWordParser{html: "<h1>Title</h1><p>Body text.</p>"},
		Renderer: fakeRenderer{},
	})

	var last int
	res, err := c.Convert(context.Background(), wordInput(), func(p int) { last = p })
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Content, "# Title") {
		t.Errorf("content = %q, want heading", res.Content)
	}
	if !strings.Contains(res.Content, "Body text.") {
		t.Errorf("content = %q, want body", res.Content)
	}
	if res.Class != detect.ClassWord || res.Kind != "markdown" {
		t.Errorf("result class/kind wrong: %+v", res)
	}
	if last != 100 {
		t.Errorf("final progress = %d, want 100", last)
	}
}

func TestWordConvert_ParserFailure(t *testing.T) {
	c := NewWord(WordConfig{
		Parser:   &fakeWordParser{err: errors.New("zip: not a valid archive")},
		Renderer: fakeRenderer{},
	})
	_, err := c.Convert(context.Background(), wordInput(), nil)
	if !errors.Is(err, ErrParser) {
		t.Fatalf("err = %v, want ErrParser", err)
	}
	if !strings.Contains(err.Error(), "zip") {
		t.Fatalf("collaborator message not passed through: %v", err)
	}
}

func TestWordConvert_EmptyFile(t *testing.T) {
	c := NewWord(WordConfig{Parser: &fakeWordParser{html: "<p>x</p>"}, Renderer: fakeRenderer{}})
	in := wordInput()
	in.SizeBytes = 0
	_, err := c.Convert(context.Background(), in, nil)
	if !errors.Is(err, ErrEmptyFile) {
		t.Fatalf("err = %v, want ErrEmptyFile", err)
	}
}

func TestWordConvert_WrongClass(t *testing.T) {
	c := NewWord(WordConfig{Parser: &fakeWordParser{html: "<p>x</p>"}, Renderer: fakeRenderer{}})
	_, err := c.Convert(context.Background(), Input{Name: "doc.pdf", SizeBytes: 10}, nil)
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("err = %v, want ErrUnsupported", err)
	}
}

// --- pdf ---

func TestPDFConvert_MultiPage(t *testing.T) {
	doc := &fakePDFDoc{
		pages: [][]layout.TextItem{
			{
				{Text: "Report Title", X: 10, Y: 40, FontSize: 24},
				{Text: "Intro paragraph", X: 10, Y: 100, FontSize: 10},
				{Text: "More intro", X: 10, Y: 120, FontSize: 10},
				{Text: "Last line", X: 10, Y: 140, FontSize: 10},
			},
			{
				{Text: "Second page body", X: 10, Y: 100, FontSize: 10},
			},
		},
		meta: map[string]string{"title": "Report"},
	}
	c := NewPDF(PDFConfig{Parser: &fakePDFParser{doc: doc}})

	res, err := c.Convert(context.Background(), pdfInput(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Content, "# Report Title") {
		t.Errorf("missing inferred heading:\n%s", res.Content)
	}
	if !strings.Contains(res.Content, "# Page 2") {
		t.Errorf("missing page 2 segment:\n%s", res.Content)
	}
	if res.Metadata["total_pages"] != "2" {
		t.Errorf("total_pages = %q, want 2", res.Metadata["total_pages"])
	}
	if res.Metadata["title"] != "Report" {
		t.Errorf("collaborator metadata not merged")
	}
	if !doc.closed {
		t.Error("document handle not closed")
	}
}

func TestPDFConvert_UnreadablePageBecomesEmptySection(t *testing.T) {
	// WHAT: A per-page extraction error yields an empty page, not a failed file.
	// WHY: One corrupt page must not discard the rest of the document.
	doc := &fakePDFDoc{
		pages: [][]layout.TextItem{
			{{Text: "good page", X: 10, Y: 100, FontSize: 10}},
			nil,
			{{Text: "also good", X: 10, Y: 100, FontSize: 10}},
		},
		failPages: map[int]bool{2: true},
	}
	c := NewPDF(PDFConfig{Parser: &fakePDFParser{doc: doc}})

	res, err := c.Convert(context.Background(), pdfInput(), nil)
	if err != nil {
		t.Fatalf("per-page failure must not fail the document: %v", err)
	}
	if !strings.Contains(res.Content, "good page") || !strings.Contains(res.Content, "also good") {
		t.Errorf("surviving pages missing:\n%s", res.Content)
	}
	if res.Metadata["total_pages"] != "3" {
		t.Errorf("total_pages = %q, want 3", res.Metadata["total_pages"])
	}
}

func TestPDFConvert_OpenFailure(t *testing.T) {
	c := NewPDF(PDFConfig{Parser: &fakePDFParser{err: errors.New("xref table damaged")}})
	_, err := c.Convert(context.Background(), pdfInput(), nil)
	if !errors.Is(err, ErrParser) {
		t.Fatalf("err = %v, want ErrParser", err)
	}
	if !strings.Contains(err.Error(), "xref") {
		t.Fatalf("collaborator message lost: %v", err)
	}
}

func TestPDFConvert_MissingParser(t *testing.T) {
	c := NewPDF(PDFConfig{})
	_, err := c.Convert(context.Background(), pdfInput(), nil)
	if !errors.Is(err, ErrDependencyMissing) {
		t.Fatalf("err = %v, want ErrDependencyMissing", err)
	}
	if !strings.Contains(err.Error(), "ledongthuc/pdf") {
		t.Fatalf("error must name the missing library: %v", err)
	}
}

func TestPDFConvert_ProgressMonotone(t *testing.T) {
	pages := make([][]layout.TextItem, 7)
	for i := range pages {
		pages[i] = []layout.TextItem{{Text: "x", X: 1, Y: 1, FontSize: 10}}
	}
	c := NewPDF(PDFConfig{Parser: &fakePDFParser{doc: &fakePDFDoc{pages: pages}}})

	var seen []int
	_, err := c.Convert(context.Background(), pdfInput(), func(p int) { seen = append(seen, p) })
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] <= seen[i-1] {
			t.Fatalf("progress not strictly increasing at %d: %v", i, seen)
		}
	}
	if len(seen) == 0 || seen[len(seen)-1] != 100 {
		t.Fatalf("progress must end at 100: %v", seen)
	}
}

// --- image ---

func TestImageConvert_MissingRecognizerNamesLibrary(t *testing.T) {
	c := NewImage(ImageConfig{RecognizerName: "tesseract"})
	_, err := c.Convert(context.Background(), imageInput(), nil)
	if !errors.Is(err, ErrDependencyMissing) {
		t.Fatalf("err = %v, want ErrDependencyMissing", err)
	}
	if !strings.Contains(err.Error(), "tesseract") {
		t.Fatalf("error must name the recognizer: %v", err)
	}
}

func TestImageConvert_HeadingPromotionAndBlocks(t *testing.T) {
	rec := &fakeRecognizer{lines: []OCRLine{
		{Text: "Quarterly Summary", Block: 0},
		{Text: "revenue grew in the third quarter.", Block: 1},
		{Text: "costs were flat.", Block: 1},
		{Text: "the outlook remains stable.", Block: 2},
	}}
	c := NewImage(ImageConfig{Recognizer: rec})

	res, err := c.Convert(context.Background(), imageInput(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Content, "## Quarterly Summary") {
		t.Errorf("short capitalized line not promoted:\n%s", res.Content)
	}
	// Lines of block 1 join one paragraph; block 2 starts a new one.
	if !strings.Contains(res.Content, "revenue grew in the third quarter. costs were flat.") {
		t.Errorf("block lines not grouped:\n%s", res.Content)
	}
	if !strings.Contains(res.Content, "\n\nthe outlook remains stable.") {
		t.Errorf("block boundary not preserved:\n%s", res.Content)
	}
}

func TestHeadingLike(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"Quarterly Summary", true},
		{"Results", true},
		{"this starts lowercase", false},
		{"Ends with a period.", false},
		{"Contains, a comma", false},
		{"Way Too Many Words To Be A Heading Here", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := headingLike(tt.text); got != tt.want {
			t.Errorf("headingLike(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

// --- shared ---

func TestMonotoneGuard(t *testing.T) {
	var seen []int
	fn := monotone(func(p int) { seen = append(seen, p) })
	for _, p := range []int{10, 5, 10, 40, 200, 90, 100} {
		fn(p)
	}
	want := []int{10, 40, 100}
	if len(seen) != len(want) {
		t.Fatalf("seen = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("seen = %v, want %v", seen, want)
		}
	}
}

func TestRegistry(t *testing.T) {
	w := NewWord(WordConfig{Parser: &fakeWordParser{}, Renderer: fakeRenderer{}})
	p := NewPDF(PDFConfig{Parser: &fakePDFParser{}})
	r := NewRegistry(w, p)

	if c, ok := r.ForClass(detect.ClassWord); !ok || c != Converter(w) {
		t.Error("word converter not found")
	}
	if _, ok := r.ForClass(detect.ClassImage); ok {
		t.Error("image converter should be absent")
	}
	if len(r.Classes()) != 2 {
		t.Errorf("classes = %v, want 2", r.Classes())
	}
}
