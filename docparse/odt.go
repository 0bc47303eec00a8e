package docparse

import (
	"encoding/xml"
	"fmt"
	"html"
	"io"
	"strconv"
	"strings"
)

// odtHTML converts an .odt file to HTML by streaming content.xml.
// <text:h outline-level="n"> becomes <hn>, <text:list> items become <ul><li>,
// table markup maps to <table>/<tr>/<td>.
func odtHTML(path string) (string, error) {
	rc, err := openZipEntry(path, "content.xml")
	if err != nil {
		return "", err
	}
	defer rc.Close()

	decoder := xml.NewDecoder(rc)

	var sb strings.Builder
	var text strings.Builder
	var inHeading, inParagraph, inList bool
	headingLevel := 1
	depth := 0

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("decode content.xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if depth > maxXMLDepth {
				return "", fmt.Errorf("content.xml exceeds nesting depth %d", maxXMLDepth)
			}
			switch t.Name.Local {
			case "h":
				inHeading = true
				headingLevel = 1
				text.Reset()
				for _, attr := range t.Attr {
					if attr.Name.Local == "outline-level" {
						if n, err := strconv.Atoi(attr.Value); err == nil && n >= 1 && n <= 6 {
							headingLevel = n
						}
					}
				}
			case "p":
				inParagraph = true
				text.Reset()
			case "list":
				sb.WriteString("<ul>\n")
				inList = true
			case "table":
				sb.WriteString("<table>\n")
			case "table-row":
				sb.WriteString("<tr>")
			case "table-cell":
				sb.WriteString("<td>")
			}

		case xml.CharData:
			if inHeading || inParagraph {
				text.Write(t)
			}

		case xml.EndElement:
			depth--
			switch t.Name.Local {
			case "h":
				if !inHeading {
					continue
				}
				inHeading = false
				if content := strings.TrimSpace(text.String()); content != "" {
					fmt.Fprintf(&sb, "<h%d>%s</h%d>\n", headingLevel, html.EscapeString(content), headingLevel)
				}
			case "p":
				if !inParagraph {
					continue
				}
				inParagraph = false
				content := strings.TrimSpace(text.String())
				if content == "" {
					continue
				}
				if inList {
					fmt.Fprintf(&sb, "<li>%s</li>\n", html.EscapeString(content))
				} else {
					fmt.Fprintf(&sb, "<p>%s</p>\n", html.EscapeString(content))
				}
			case "list":
				sb.WriteString("</ul>\n")
				inList = false
			case "table-cell":
				sb.WriteString("</td>")
			case "table-row":
				sb.WriteString("</tr>\n")
			case "table":
				sb.WriteString("</table>\n")
			}
		}
	}

	return sb.String(), nil
}
