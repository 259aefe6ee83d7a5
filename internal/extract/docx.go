package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/bull/docs-rag-server/internal/document"
)

const docxBodyPart = "word/document.xml"

// extractDOCX returns the whole document body as one unit, one line per
// paragraph.
func extractDOCX(data []byte, filename string) ([]document.RawUnit, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: open docx: %v", ErrUnsupportedFormat, err)
	}

	var body *zip.File
	for _, f := range zr.File {
		if f.Name == docxBodyPart {
			body = f
			break
		}
	}
	if body == nil {
		return nil, fmt.Errorf("%w: docx has no %s", ErrUnsupportedFormat, docxBodyPart)
	}

	rc, err := body.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrUnsupportedFormat, docxBodyPart, err)
	}
	defer rc.Close()

	paragraphs, err := docxParagraphs(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrUnsupportedFormat, docxBodyPart, err)
	}

	return []document.RawUnit{{
		Text:     strings.Join(paragraphs, "\n"),
		Metadata: document.Metadata{Source: filename},
	}}, nil
}

// docxParagraph accumulates one <w:p>. runs counts the open <w:r>
// elements of this paragraph, not of any enclosing one.
type docxParagraph struct {
	text strings.Builder
	runs int
}

// docxParagraphs walks WordprocessingML and collects the text of each <w:p>.
// Tabs and breaks count only inside runs, since <w:tab> also defines tab
// stops in paragraph properties. A paragraph nested in a text box is
// emitted on its own and the enclosing paragraph keeps its text. The
// mc:Fallback copy of a text box is skipped so its text is not doubled.
func docxParagraphs(r io.Reader) ([]string, error) {
	dec := xml.NewDecoder(r)

	var (
		paragraphs []string
		open       []*docxParagraph // Innermost last
		fallback   int
		inText     bool
	)

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "Fallback" {
				fallback++
			}
		case xml.EndElement:
			if t.Name.Local == "Fallback" {
				fallback--
				continue
			}
		}
		if fallback > 0 {
			continue
		}

		var current *docxParagraph
		if len(open) > 0 {
			current = open[len(open)-1]
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				open = append(open, &docxParagraph{})
			case "r":
				if current != nil {
					current.runs++
				}
			case "t":
				inText = true
			case "tab":
				if current != nil && current.runs > 0 {
					current.text.WriteByte('\t')
				}
			case "br", "cr":
				if current != nil && current.runs > 0 {
					current.text.WriteByte('\n')
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "r":
				if current != nil && current.runs > 0 {
					current.runs--
				}
			case "p":
				if current != nil {
					paragraphs = append(paragraphs, current.text.String())
					open = open[:len(open)-1]
				}
			}
		case xml.CharData:
			if inText && current != nil {
				current.text.Write(t)
			}
		}
	}

	return paragraphs, nil
}
