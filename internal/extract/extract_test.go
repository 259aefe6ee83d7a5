package extract

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"
)

// TestDetectFormat tests extension mapping, including case folding.
func TestDetectFormat(t *testing.T) {
	cases := map[string]Format{
		"report.pdf":     FormatPDF,
		"REPORT.PDF":     FormatPDF,
		"memo.docx":      FormatDOCX,
		"README.md":      FormatMarkdown,
		"guide.markdown": FormatMarkdown,
		"notes.txt":      FormatText,
	}
	for name, want := range cases {
		got, err := DetectFormat(name)
		if err != nil {
			t.Errorf("DetectFormat(%q) failed: %v", name, err)
			continue
		}
		if got != want {
			t.Errorf("DetectFormat(%q): expected %q, got %q", name, want, got)
		}
	}

	for _, name := range []string{"image.png", "archive.zip", "noext", "legacy.doc"} {
		if _, err := DetectFormat(name); !errors.Is(err, ErrUnsupportedFormat) {
			t.Errorf("DetectFormat(%q): expected ErrUnsupportedFormat, got %v", name, err)
		}
		if Supported(name) {
			t.Errorf("Supported(%q) should be false", name)
		}
	}
}

// TestExtract_Text tests that plain text becomes a single unit.
func TestExtract_Text(t *testing.T) {
	e := NewExtractor()
	units, err := e.Extract([]byte("line one\nline two"), "notes.txt")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(units) != 1 {
		t.Fatalf("Expected 1 unit, got %d", len(units))
	}
	if units[0].Text != "line one\nline two" {
		t.Errorf("Unexpected text %q", units[0].Text)
	}
	if units[0].Metadata.Source != "notes.txt" {
		t.Errorf("Source: expected notes.txt, got %q", units[0].Metadata.Source)
	}
	if units[0].Metadata.Page != nil {
		t.Errorf("Text units should not carry a page")
	}
}

// TestExtract_Unsupported tests rejection of unknown extensions.
func TestExtract_Unsupported(t *testing.T) {
	e := NewExtractor()
	_, err := e.Extract([]byte{0x89, 'P', 'N', 'G'}, "diagram.png")
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Expected ErrUnsupportedFormat, got %v", err)
	}
}

// TestExtract_MarkdownSections tests H1/H2 splitting with header paths.
func TestExtract_MarkdownSections(t *testing.T) {
	input := `Preamble before any heading.

# Getting Started

Introduction text here.

## Installation

Install steps here.

### Linux

Deep heading stays in its parent.

## Configuration

Config details here.
`

	e := NewExtractor()
	units, err := e.Extract([]byte(input), "guide.md")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	// Expect preamble, H1, and two H2 sections.
	if len(units) != 4 {
		t.Fatalf("Expected 4 units, got %d", len(units))
	}

	if units[0].Text != "Preamble before any heading." || units[0].Metadata.Section != "" {
		t.Errorf("Unit 0: unexpected preamble %q (section %q)", units[0].Text, units[0].Metadata.Section)
	}

	wantPaths := []string{
		"# Getting Started",
		"# Getting Started > ## Installation",
		"# Getting Started > ## Configuration",
	}
	for i, want := range wantPaths {
		if got := units[i+1].Metadata.Section; got != want {
			t.Errorf("Unit %d section: expected %q, got %q", i+1, want, got)
		}
		if units[i+1].Metadata.Source != "guide.md" {
			t.Errorf("Unit %d source: expected guide.md, got %q", i+1, units[i+1].Metadata.Source)
		}
	}

	if !strings.HasPrefix(units[1].Text, "# Getting Started") {
		t.Errorf("H1 unit should start with its heading, got %q", units[1].Text)
	}
	if strings.Contains(units[1].Text, "Install steps") {
		t.Errorf("H1 unit should stop at the first H2")
	}
	if !strings.Contains(units[2].Text, "Deep heading stays in its parent") {
		t.Errorf("H3 content should stay inside the Installation section")
	}
	if !strings.Contains(units[3].Text, "Config details here") {
		t.Errorf("Configuration unit missing expected content")
	}
}

// TestExtract_MarkdownNoHeadings tests that heading-free markdown is one unit.
func TestExtract_MarkdownNoHeadings(t *testing.T) {
	e := NewExtractor()
	units, err := e.Extract([]byte("Just a paragraph.\n\nAnd another."), "plain.md")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(units) != 1 {
		t.Fatalf("Expected 1 unit, got %d", len(units))
	}
	if units[0].Metadata.Section != "" {
		t.Errorf("Expected no section, got %q", units[0].Metadata.Section)
	}
}

// buildDOCX writes a minimal WordprocessingML package in memory.
func buildDOCX(t *testing.T, body string) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	doc := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
		`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"` +
		` xmlns:mc="http://schemas.openxmlformats.org/markup-compatibility/2006"` +
		` xmlns:v="urn:schemas-microsoft-com:vml"><w:body>` +
		body +
		`</w:body></w:document>`
	if _, err := w.Write([]byte(doc)); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

// TestExtract_DOCX tests paragraph, run and tab handling.
func TestExtract_DOCX(t *testing.T) {
	data := buildDOCX(t,
		`<w:p><w:r><w:t>Quarterly</w:t></w:r><w:r><w:t xml:space="preserve"> review</w:t></w:r></w:p>`+
			`<w:p><w:r><w:t>Name</w:t><w:tab/><w:t>Value</w:t></w:r></w:p>`)

	e := NewExtractor()
	units, err := e.Extract(data, "memo.docx")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(units) != 1 {
		t.Fatalf("Expected 1 unit, got %d", len(units))
	}

	want := "Quarterly review\nName\tValue"
	if units[0].Text != want {
		t.Errorf("Expected %q, got %q", want, units[0].Text)
	}
	if units[0].Metadata.Page != nil {
		t.Errorf("DOCX units should not carry a page")
	}
}

// TestExtract_DOCXCorrupt tests that a non-zip .docx is rejected.
func TestExtract_DOCXCorrupt(t *testing.T) {
	e := NewExtractor()
	_, err := e.Extract([]byte("not a zip archive"), "broken.docx")
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Expected ErrUnsupportedFormat, got %v", err)
	}
}

// TestExtract_DOCXTabStopsAndTextBoxes tests that tab-stop definitions add no
// text and that a text box keeps the surrounding paragraph intact.
func TestExtract_DOCXTabStopsAndTextBoxes(t *testing.T) {
	textBox := `<w:txbxContent><w:p><w:r><w:t>Boxed</w:t></w:r></w:p></w:txbxContent>`
	data := buildDOCX(t,
		`<w:p><w:pPr><w:tabs><w:tab w:val="left" w:pos="720"/></w:tabs></w:pPr><w:r><w:t>Hello</w:t></w:r></w:p>`+
			`<w:p><w:r><w:t>Before</w:t></w:r><w:r><mc:AlternateContent>`+
			`<mc:Choice Requires="wps"><w:drawing>`+textBox+`</w:drawing></mc:Choice>`+
			`<mc:Fallback><w:pict><v:textbox>`+textBox+`</v:textbox></w:pict></mc:Fallback>`+
			`</mc:AlternateContent></w:r><w:r><w:t xml:space="preserve"> after</w:t></w:r></w:p>`)

	e := NewExtractor()
	units, err := e.Extract(data, "layout.docx")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(units) != 1 {
		t.Fatalf("Expected 1 unit, got %d", len(units))
	}

	want := "Hello\nBoxed\nBefore after"
	if units[0].Text != want {
		t.Errorf("Expected %q, got %q", want, units[0].Text)
	}
}

// TestExtract_Latin1Text tests that legacy single-byte text becomes UTF-8.
func TestExtract_Latin1Text(t *testing.T) {
	e := NewExtractor()
	units, err := e.Extract([]byte("Caf\xe9 menu: cr\xe8me br\xfbl\xe9e \x80 3"), "menu.txt")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(units) != 1 {
		t.Fatalf("Expected 1 unit, got %d", len(units))
	}

	want := "Café menu: crème brûlée € 3"
	if units[0].Text != want {
		t.Errorf("Expected %q, got %q", want, units[0].Text)
	}
}

// TestExtract_UTF8BOM tests that a byte order mark is dropped and UTF-8
// passes through unchanged.
func TestExtract_UTF8BOM(t *testing.T) {
	e := NewExtractor()
	units, err := e.Extract([]byte("\xef\xbb\xbfNaïve café"), "notes.txt")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if units[0].Text != "Naïve café" {
		t.Errorf("Unexpected text %q", units[0].Text)
	}
}

// TestExtract_Latin1Markdown tests that section paths are decoded too.
func TestExtract_Latin1Markdown(t *testing.T) {
	e := NewExtractor()
	units, err := e.Extract([]byte("# Men\xfc\n\nCr\xe8me."), "menu.md")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(units) != 1 {
		t.Fatalf("Expected 1 unit, got %d", len(units))
	}
	if units[0].Metadata.Section != "# Menü" {
		t.Errorf("Section: expected %q, got %q", "# Menü", units[0].Metadata.Section)
	}
	if !strings.Contains(units[0].Text, "Crème.") {
		t.Errorf("Unexpected text %q", units[0].Text)
	}
}

// buildPDF assembles a PDF from object bodies numbered from 1, with a
// correct cross-reference table. Object 1 must be the catalog.
func buildPDF(t *testing.T, objects ...string) []byte {
	t.Helper()

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")

	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

func pdfStream(dict, data string) string {
	return fmt.Sprintf("<< %s /Length %d >>\nstream\n%s\nendstream", dict, len(data), data)
}

// toUnicodeCMap maps the glyph IDs of a subset font back to "Café".
const toUnicodeCMap = `/CIDInit /ProcSet findresource begin
12 dict begin
begincmap
/CIDSystemInfo << /Registry (Adobe) /Ordering (UCS) /Supplement 0 >> def
/CMapName /Adobe-Identity-UCS def
/CMapType 2 def
1 begincodespacerange
<0000> <FFFF>
endcodespacerange
4 beginbfchar
<0026> <0043>
<0044> <0061>
<0049> <0066>
<0048> <00E9>
endbfchar
endcmap
CMapName currentdict /CMap defineresource pop
end
end`

// samplePDF has three pages: glyph IDs of an embedded subset font with a
// ToUnicode map, WinAnsi text on two lines, and graphics only.
func samplePDF(t *testing.T) []byte {
	const page = `<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources %s /Contents %d 0 R >>`
	return buildPDF(t,
		`<< /Type /Catalog /Pages 2 0 R >>`,
		`<< /Type /Pages /Kids [3 0 R 4 0 R 5 0 R] /Count 3 >>`,
		fmt.Sprintf(page, `<< /Font << /F1 6 0 R >> >>`, 10),
		fmt.Sprintf(page, `<< /Font << /F2 11 0 R >> >>`, 12),
		fmt.Sprintf(page, `<< >>`, 13),
		`<< /Type /Font /Subtype /Type0 /BaseFont /ABCDEF+Calibri /Encoding /Identity-H /DescendantFonts [7 0 R] /ToUnicode 9 0 R >>`,
		`<< /Type /Font /Subtype /CIDFontType2 /BaseFont /ABCDEF+Calibri `+
			`/CIDSystemInfo << /Registry (Adobe) /Ordering (Identity) /Supplement 0 >> `+
			`/FontDescriptor 8 0 R /DW 1000 /CIDToGIDMap /Identity >>`,
		`<< /Type /FontDescriptor /FontName /ABCDEF+Calibri /Flags 32 /FontBBox [-503 -250 1240 750] `+
			`/ItalicAngle 0 /Ascent 750 /Descent -250 /CapHeight 632 /StemV 80 /FontFile2 14 0 R >>`,
		pdfStream("", toUnicodeCMap),
		pdfStream("", `BT /F1 12 Tf 72 720 Td <0026004400490048> Tj ET`),
		`<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>`,
		pdfStream("", `BT /F2 12 Tf 14 TL 72 720 Td (Cr\350me br\373l\351e) Tj T* (Dessert) Tj ET`),
		pdfStream("", `q 0 0 100 100 re f Q`),
		pdfStream("/Length1 16", "\x00\x01\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00"),
	)
}

// TestExtract_PDF tests per-page units with font encodings applied.
func TestExtract_PDF(t *testing.T) {
	e := NewExtractor()
	units, err := e.Extract(samplePDF(t), "menu.pdf")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(units) != 3 {
		t.Fatalf("Expected 3 units, got %d", len(units))
	}

	want := []string{"Café", "Crème brûlée\nDessert", ""}
	for i, unit := range units {
		if unit.Text != want[i] {
			t.Errorf("Page %d: expected %q, got %q", i+1, want[i], unit.Text)
		}
		if !utf8.ValidString(unit.Text) {
			t.Errorf("Page %d: invalid UTF-8 %q", i+1, unit.Text)
		}
		if unit.Metadata.Page == nil || *unit.Metadata.Page != i+1 {
			t.Errorf("Page %d: wrong page metadata %v", i+1, unit.Metadata.Page)
		}
		if unit.Metadata.Source != "menu.pdf" {
			t.Errorf("Page %d: expected source menu.pdf, got %q", i+1, unit.Metadata.Source)
		}
	}
}

// TestExtract_PDFCorrupt tests that a file that is not a PDF is rejected.
func TestExtract_PDFCorrupt(t *testing.T) {
	e := NewExtractor()
	_, err := e.Extract([]byte("%PDF-1.4\nthis is not really a pdf"), "broken.pdf")
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Expected ErrUnsupportedFormat, got %v", err)
	}
}
