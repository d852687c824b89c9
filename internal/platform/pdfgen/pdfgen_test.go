package pdfgen

import (
	"bytes"
	"fmt"
	"testing"
)

func TestRenderEmptyDocument(t *testing.T) {
	if _, err := Render(Document{}); err == nil {
		t.Error("expected error for empty document")
	}
}

func TestRenderWellFormed(t *testing.T) {
	out, err := Render(Document{
		Title: "Bill #1042",
		Lines: []Line{
			{Text: "Patient: Asha Verma", Bold: true},
			{Text: "Consultation ........ 500.00"},
			{Text: "Total ............... 500.00", Bold: true},
		},
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !bytes.HasPrefix(out, []byte("%PDF-1.4")) {
		t.Error("missing PDF header")
	}
	if !bytes.Contains(out, []byte("%%EOF")) {
		t.Error("missing EOF marker")
	}
	if !bytes.Contains(out, []byte("/Type /Catalog")) {
		t.Error("missing catalog object")
	}
	if !bytes.Contains(out, []byte("Bill #1042")) {
		t.Error("title not embedded")
	}
	if !bytes.Contains(out, []byte("Patient: Asha Verma")) {
		t.Error("body line not embedded")
	}
	if !bytes.Contains(out, []byte("/Count 1")) {
		t.Error("expected a single page")
	}
}

func TestRenderEscapesDelimiters(t *testing.T) {
	out, err := Render(Document{
		Lines: []Line{{Text: `Dose (2x daily) \ with food`}},
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !bytes.Contains(out, []byte(`Dose \(2x daily\) \\ with food`)) {
		t.Error("delimiters not escaped in content stream")
	}
}

func TestRenderPaginates(t *testing.T) {
	var lines []Line
	for i := 0; i < linesPerPage*2; i++ {
		lines = append(lines, Line{Text: fmt.Sprintf("row %d", i)})
	}
	out, err := Render(Document{Title: "Long report", Lines: lines})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if bytes.Contains(out, []byte("/Count 1")) {
		t.Error("long document did not paginate")
	}
	if n := bytes.Count(out, []byte("/Type /Page ")); n < 2 {
		t.Errorf("page objects = %d, want at least 2", n)
	}
}
