// Package pdfgen renders simple text documents (bill receipts, prescription
// printouts) as PDF. Output is a minimal but well-formed PDF 1.4 file using
// the built-in Helvetica font, which every viewer ships.
package pdfgen

import (
	"bytes"
	"fmt"
	"strings"
)

// Line is one row of document text.
type Line struct {
	Text string
	Bold bool
}

// Document is a sequence of lines rendered top to bottom, paginating when a
// page fills up.
type Document struct {
	Title string
	Lines []Line
}

// Renderer turns a Document into a binary document format.
type Renderer interface {
	Render(doc Document) ([]byte, error)
}

// TextRenderer is the built-in PDF renderer.
type TextRenderer struct{}

func (TextRenderer) Render(doc Document) ([]byte, error) {
	return Render(doc)
}

const (
	pageWidth    = 595 // A4 in points
	pageHeight   = 842
	marginLeft   = 56
	marginTop    = 56
	lineHeight   = 16
	titleSize    = 16
	bodySize     = 11
	linesPerPage = (pageHeight - 2*marginTop) / lineHeight
)

// Render produces the PDF bytes for the document.
func Render(doc Document) ([]byte, error) {
	if doc.Title == "" && len(doc.Lines) == 0 {
		return nil, fmt.Errorf("pdfgen: empty document")
	}

	pages := paginate(doc)

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")

	// Object layout: 1 catalog, 2 pages tree, 3 font, then per page one
	// page object and one content stream.
	offsets := []int{0} // object 0 is the free head
	writeObj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets)-1, body)
	}

	pageObjNums := make([]string, len(pages))
	for i := range pages {
		pageObjNums[i] = fmt.Sprintf("%d 0 R", 4+i*2)
	}

	writeObj("<< /Type /Catalog /Pages 2 0 R >>")
	writeObj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>",
		strings.Join(pageObjNums, " "), len(pages)))
	writeObj("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")

	for i, page := range pages {
		contentNum := 5 + i*2
		writeObj(fmt.Sprintf(
			"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %d %d] /Contents %d 0 R /Resources << /Font << /F1 3 0 R >> >> >>",
			pageWidth, pageHeight, contentNum))
		stream := pageStream(doc.Title, page, i == 0)
		writeObj(fmt.Sprintf("<< /Length %d >>\nstream\n%sendstream", len(stream), stream))
	}

	xrefStart := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(offsets))
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets[1:] {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n",
		len(offsets), xrefStart)

	return buf.Bytes(), nil
}

// paginate splits the lines into pages, reserving room for the title on the
// first page.
func paginate(doc Document) [][]Line {
	capacity := linesPerPage
	firstCapacity := capacity
	if doc.Title != "" {
		firstCapacity -= 2
	}

	var pages [][]Line
	lines := doc.Lines
	first := true
	for {
		limit := capacity
		if first {
			limit = firstCapacity
			first = false
		}
		if len(lines) <= limit {
			pages = append(pages, lines)
			break
		}
		pages = append(pages, lines[:limit])
		lines = lines[limit:]
	}
	return pages
}

func pageStream(title string, lines []Line, withTitle bool) string {
	var sb strings.Builder
	y := pageHeight - marginTop

	if withTitle && title != "" {
		fmt.Fprintf(&sb, "BT /F1 %d Tf %d %d Td (%s) Tj ET\n",
			titleSize, marginLeft, y, escapeText(title))
		y -= 2 * lineHeight
	}
	for _, line := range lines {
		size := bodySize
		if line.Bold {
			size = bodySize + 1
		}
		fmt.Fprintf(&sb, "BT /F1 %d Tf %d %d Td (%s) Tj ET\n",
			size, marginLeft, y, escapeText(line.Text))
		y -= lineHeight
	}
	return sb.String()
}

// escapeText escapes the characters with meaning inside PDF string literals.
func escapeText(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`)
	return r.Replace(s)
}
