package extract

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/bull/docs-rag-server/internal/document"
)

// extractPDF returns one unit per page, numbered from 1. pdfcpu validates
// the file; page text is decoded by ledongthuc/pdf, which applies each
// font's encoding and ToUnicode CMap. Pages without text produce blank
// units, which the chunker skips.
func (e *Extractor) extractPDF(data []byte, filename string) ([]document.RawUnit, error) {
	ctx, err := api.ReadContext(bytes.NewReader(data), e.pdfConf)
	if err != nil {
		return nil, fmt.Errorf("%w: read pdf: %v", ErrUnsupportedFormat, err)
	}
	if err := api.ValidateContext(ctx); err != nil {
		return nil, fmt.Errorf("%w: validate pdf: %v", ErrUnsupportedFormat, err)
	}

	r, err := openPDF(data)
	if err != nil {
		return nil, fmt.Errorf("%w: open pdf: %v", ErrUnsupportedFormat, err)
	}

	units := make([]document.RawUnit, 0, r.NumPage())
	for pageNr := 1; pageNr <= r.NumPage(); pageNr++ {
		text, err := pageText(r, pageNr)
		if err != nil {
			return nil, fmt.Errorf("%w: page %d: %v", ErrUnsupportedFormat, pageNr, err)
		}

		units = append(units, document.RawUnit{
			Text: text,
			Metadata: document.Metadata{
				Source: filename,
				Page:   document.IntPtr(pageNr),
			},
		})
	}

	return units, nil
}

// openPDF wraps pdf.NewReader, which panics on some malformed files.
func openPDF(data []byte) (r *pdf.Reader, err error) {
	defer func() {
		if p := recover(); p != nil {
			r, err = nil, fmt.Errorf("malformed pdf: %v", p)
		}
	}()
	return pdf.NewReader(bytes.NewReader(data), int64(len(data)))
}

// pageText returns the plain text of one page as UTF-8. Glyphs from fonts
// with an unknown encoding come through as raw bytes; those are read as
// WinAnsi, the encoding most simple fonts use.
func pageText(r *pdf.Reader, pageNr int) (text string, err error) {
	defer func() {
		if p := recover(); p != nil {
			text, err = "", fmt.Errorf("malformed page: %v", p)
		}
	}()

	page := r.Page(pageNr)
	if page.V.IsNull() {
		return "", nil
	}

	fonts := make(map[string]*pdf.Font)
	for _, name := range page.Fonts() {
		font := page.Font(name)
		fonts[name] = &font
	}

	text, err = page.GetPlainText(fonts)
	if err != nil {
		return "", err
	}
	if !utf8.ValidString(text) {
		text = string(decodeText([]byte(text)))
	}
	return strings.TrimSpace(text), nil
}
