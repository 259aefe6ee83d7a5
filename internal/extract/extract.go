// Package extract turns uploaded file bytes into raw text units.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/parser"
	"golang.org/x/text/encoding/charmap"

	"github.com/bull/docs-rag-server/internal/document"
)

var (
	// ErrUnsupportedFormat is returned for unknown extensions and unparseable files.
	ErrUnsupportedFormat = errors.New("unsupported document format")

	// ErrEmptyExtraction marks a document that parsed but produced no usable text.
	ErrEmptyExtraction = errors.New("no extractable text")
)

// Format identifies a supported input format.
type Format string

const (
	FormatPDF      Format = "pdf"
	FormatDOCX     Format = "docx"
	FormatMarkdown Format = "markdown"
	FormatText     Format = "text"
)

// DetectFormat maps a filename extension to a Format.
func DetectFormat(filename string) (Format, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return FormatPDF, nil
	case ".docx":
		return FormatDOCX, nil
	case ".md", ".markdown":
		return FormatMarkdown, nil
	case ".txt":
		return FormatText, nil
	default:
		return "", fmt.Errorf("%w: %q (supported: .pdf, .docx, .md, .txt)", ErrUnsupportedFormat, filename)
	}
}

// Supported reports whether filename has an extension Extract accepts.
func Supported(filename string) bool {
	_, err := DetectFormat(filename)
	return err == nil
}

// Extractor dispatches file bytes to the format-specific extractor.
// It holds no per-call state and is safe for concurrent use.
type Extractor struct {
	pdfConf  *model.Configuration
	markdown goldmark.Markdown
}

// NewExtractor creates an extractor with relaxed PDF validation and a
// goldmark parser that assigns heading IDs.
func NewExtractor() *Extractor {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	md := goldmark.New(
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
	)

	return &Extractor{
		pdfConf:  conf,
		markdown: md,
	}
}

// Extract returns the raw units of a file, each tagged with filename as its
// source. A file that parses but holds no text yields units with blank text
// (or none); deciding that nothing was extractable is left to the caller.
func (e *Extractor) Extract(data []byte, filename string) ([]document.RawUnit, error) {
	format, err := DetectFormat(filename)
	if err != nil {
		return nil, err
	}

	switch format {
	case FormatPDF:
		return e.extractPDF(data, filename)
	case FormatDOCX:
		return extractDOCX(data, filename)
	case FormatMarkdown:
		return e.extractMarkdown(decodeText(data), filename)
	default:
		return []document.RawUnit{{
			Text:     string(decodeText(data)),
			Metadata: document.Metadata{Source: filename},
		}}, nil
	}
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// decodeText returns data as UTF-8. Input that is not valid UTF-8 is read
// as Windows-1252, the usual encoding of legacy text files and a superset
// of Latin-1's printable range.
func decodeText(data []byte) []byte {
	if utf8.Valid(data) {
		return bytes.TrimPrefix(data, utf8BOM)
	}
	decoded, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		return bytes.ToValidUTF8(data, nil)
	}
	return decoded
}
