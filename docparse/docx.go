package docparse

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"html"
	"io"
	"strings"
)

// maxXMLDepth bounds element nesting while streaming office XML.
// Defense against crafted billion-laughs style archives.
const maxXMLDepth = 256

// docxHTML converts a .docx file to HTML by streaming word/document.xml.
// Heading styles become <h1>..<h6>, numbered/bulleted paragraphs become list
// items, table markup maps to <table>/<tr>/<td>.
func docxHTML(path string) (string, error) {
	rc, err := openZipEntry(path, "word/document.xml")
	if err != nil {
		return "", err
	}
	defer rc.Close()

	decoder := xml.NewDecoder(rc)

	var sb strings.Builder
	var text strings.Builder
	var inParagraph, inList, isListItem bool
	var paragraphStyle string
	depth := 0

	closeList := func() {
		if inList {
			sb.WriteString("</ul>\n")
			inList = false
		}
	}

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("decode document.xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if depth > maxXMLDepth {
				return "", fmt.Errorf("document.xml exceeds nesting depth %d", maxXMLDepth)
			}
			switch t.Name.Local {
			case "p":
				inParagraph = true
				isListItem = false
				paragraphStyle = ""
				text.Reset()
			case "pStyle":
				if inParagraph {
					for _, attr := range t.Attr {
						if attr.Name.Local == "val" {
							paragraphStyle = attr.Value
						}
					}
				}
			case "numPr":
				if inParagraph {
					isListItem = true
				}
			case "tbl":
				closeList()
				sb.WriteString("<table>\n")
			case "tr":
				sb.WriteString("<tr>")
			case "tc":
				sb.WriteString("<td>")
			}

		case xml.CharData:
			if inParagraph {
				text.Write(t)
			}

		case xml.EndElement:
			depth--
			switch t.Name.Local {
			case "p":
				if !inParagraph {
					continue
				}
				inParagraph = false
				content := strings.TrimSpace(text.String())
				if content == "" {
					continue
				}
				escaped := html.EscapeString(content)

				switch {
				case isListItem:
					if !inList {
						sb.WriteString("<ul>\n")
						inList = true
					}
					fmt.Fprintf(&sb, "<li>%s</li>\n", escaped)
				default:
					if level := docxHeadingLevel(paragraphStyle); level > 0 {
						closeList()
						fmt.Fprintf(&sb, "<h%d>%s</h%d>\n", level, escaped, level)
					} else {
						closeList()
						fmt.Fprintf(&sb, "<p>%s</p>\n", escaped)
					}
				}
			case "tc":
				sb.WriteString("</td>")
			case "tr":
				sb.WriteString("</tr>\n")
			case "tbl":
				sb.WriteString("</table>\n")
			}
		}
	}
	closeList()

	return sb.String(), nil
}

// docxHeadingLevel maps a paragraph style name to a heading level.
// "Heading1" → 1, "Title" → 1, "Subtitle" → 2, localized prefixes included.
func docxHeadingLevel(style string) int {
	lower := strings.ToLower(style)

	if lower == "title" {
		return 1
	}
	if lower == "subtitle" {
		return 2
	}
	for _, prefix := range []string{"heading", "titre", "überschrift"} {
		if strings.HasPrefix(lower, prefix) {
			rest := lower[len(prefix):]
			if len(rest) == 1 && rest[0] >= '1' && rest[0] <= '6' {
				return int(rest[0] - '0')
			}
		}
	}
	return 0
}

// openZipEntry opens one named file inside a ZIP archive.
func openZipEntry(path, name string) (io.ReadCloser, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	for _, f := range r.File {
		if f.Name == name {
			rc, err := f.Open()
			if err != nil {
				r.Close()
				return nil, fmt.Errorf("open %s: %w", name, err)
			}
			return &zipEntryCloser{rc: rc, zr: r}, nil
		}
	}
	r.Close()
	return nil, fmt.Errorf("%s not found in archive", name)
}

// zipEntryCloser closes both the entry reader and its parent archive.
type zipEntryCloser struct {
	rc io.ReadCloser
	zr *zip.ReadCloser
}

func (z *zipEntryCloser) Read(p []byte) (int, error) { return z.rc.Read(p) }

func (z *zipEntryCloser) Close() error {
	err := z.rc.Close()
	if cerr := z.zr.Close(); err == nil {
		err = cerr
	}
	return err
}
