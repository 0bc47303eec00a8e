package coord

import (
	"fmt"
	"strings"

	"github.com/inkfold/inkfold/convert"
	"github.com/inkfold/inkfold/detect"
	"github.com/inkfold/inkfold/layout"
)

// classTitles maps converter classes to merged-document section headings.
var classTitles = map[detect.Class]string{
	detect.ClassWord:  "Word Documents",
	detect.ClassPDF:   "PDF Documents",
	detect.ClassImage: "Images",
}

// MergeResults combines results into one Markdown document: a section per
// converter class in first-seen order, a numbered subsection per file in
// input order within each section. Byte-deterministic for a fixed input
// order, so golden-file comparisons are stable.
func MergeResults(results []convert.Result) string {
	if len(results) == 0 {
		return ""
	}

	var classOrder []detect.Class
	grouped := make(map[detect.Class][]convert.Result)
	for _, r := range results {
		if _, seen := grouped[r.Class]; !seen {
			classOrder = append(classOrder, r.Class)
		}
		grouped[r.Class] = append(grouped[r.Class], r)
	}

	var b strings.Builder
	b.WriteString("# Conversion Results\n")

	for _, class := range classOrder {
		title, ok := classTitles[class]
		if !ok {
			title = string(class)
		}
		fmt.Fprintf(&b, "\n## %s\n", title)

		for i, r := range grouped[class] {
			fmt.Fprintf(&b, "\n### %d. %s\n\n", i+1, r.SourceName)
			b.WriteString(strings.TrimSpace(r.Content))
			b.WriteString("\n")
		}
	}

	return layout.Cleanup(b.String()) + "\n"
}
