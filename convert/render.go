package convert

import (
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
)

// HTMLRenderer renders HTML as Markdown via html-to-markdown with the
// commonmark and table plugins.
type HTMLRenderer struct {
	conv *converter.Converter
}

// NewHTMLRenderer creates the default MarkdownRenderer.
func NewHTMLRenderer() *HTMLRenderer {
	return &HTMLRenderer{
		conv: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// Render implements MarkdownRenderer.
func (r *HTMLRenderer) Render(html string) (string, error) {
	out, err := r.conv.ConvertString(html)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}
