package extract

import (
	"fmt"
	"sort"
	"strings"

	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"go.abhg.dev/goldmark/toc"

	"github.com/bull/docs-rag-server/internal/document"
)

// section is an H1/H2 heading located in the source.
type section struct {
	headerPath string
	start      int // Byte offset of the heading line
}

// extractMarkdown returns one unit per H1/H2 section, tagged with the
// section's header path. Text before the first heading becomes a unit with
// no section. Deeper headings stay inside their parent section.
func (e *Extractor) extractMarkdown(source []byte, filename string) ([]document.RawUnit, error) {
	doc := e.markdown.Parser().Parse(text.NewReader(source))

	tree, err := toc.Inspect(doc, source,
		toc.MinDepth(1),
		toc.MaxDepth(2),
		toc.Compact(true),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: inspect markdown headings: %v", ErrUnsupportedFormat, err)
	}

	var sections []section
	collectSections(doc, source, tree.Items, nil, &sections)
	sort.SliceStable(sections, func(i, j int) bool { return sections[i].start < sections[j].start })

	if len(sections) == 0 {
		return []document.RawUnit{{
			Text:     string(source),
			Metadata: document.Metadata{Source: filename},
		}}, nil
	}

	var units []document.RawUnit
	if preamble := strings.TrimSpace(string(source[:sections[0].start])); preamble != "" {
		units = append(units, document.RawUnit{
			Text:     preamble,
			Metadata: document.Metadata{Source: filename},
		})
	}

	for i, sec := range sections {
		end := len(source)
		if i+1 < len(sections) {
			end = sections[i+1].start
		}
		units = append(units, document.RawUnit{
			Text: strings.TrimSpace(string(source[sec.start:end])),
			Metadata: document.Metadata{
				Source:  filename,
				Section: sec.headerPath,
			},
		})
	}

	return units, nil
}

// collectSections walks TOC items depth-first and records each heading's
// header path and line start.
func collectSections(doc ast.Node, source []byte, items toc.Items, ancestors []string, out *[]section) {
	for _, item := range items {
		path := append(append([]string(nil), ancestors...), string(item.Title))

		if heading := findHeaderByID(doc, string(item.ID)); heading != nil && heading.Lines().Len() > 0 {
			*out = append(*out, section{
				headerPath: formatHeaderPath(path),
				start:      lineStart(source, heading.Lines().At(0).Start),
			})
		}

		if len(item.Items) > 0 {
			collectSections(doc, source, item.Items, path, out)
		}
	}
}

// formatHeaderPath builds a header hierarchy string.
// Example: ["Installation", "Prerequisites"] -> "# Installation > ## Prerequisites"
func formatHeaderPath(path []string) string {
	parts := make([]string, 0, len(path))
	for i, segment := range path {
		parts = append(parts, fmt.Sprintf("%s %s", strings.Repeat("#", i+1), segment))
	}
	return strings.Join(parts, " > ")
}

// findHeaderByID locates a heading node by its auto-generated ID.
func findHeaderByID(node ast.Node, id string) ast.Node {
	var found ast.Node
	ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if entering && n.Kind() == ast.KindHeading {
			headingID, ok := n.AttributeString("id")
			if ok {
				if b, isBytes := headingID.([]byte); isBytes && string(b) == id {
					found = n
					return ast.WalkStop, nil
				}
			}
		}
		return ast.WalkContinue, nil
	})
	return found
}

// lineStart moves offset back to the first byte of its line so the "#"
// markers belong to the section, not to the text before it.
func lineStart(source []byte, offset int) int {
	for offset > 0 && source[offset-1] != '\n' {
		offset--
	}
	return offset
}
