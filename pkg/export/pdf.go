package export

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
)

// PDFRenderer lays a table out on landscape A4 pages. The title and column
// header repeat at the top of every page and a page counter sits in the
// footer, so a long case history stays readable when printed.
type PDFRenderer struct{}

// NewPDFRenderer constructs a PDF renderer.
func NewPDFRenderer() *PDFRenderer {
	return &PDFRenderer{}
}

const pdfCellLimit = 90

// Render builds the document. Cell values longer than the column can hold
// are truncated with an ellipsis; the CSV export carries the full text.
func (r *PDFRenderer) Render(t Table, title string) ([]byte, error) {
	if len(t.Columns) == 0 {
		return nil, fmt.Errorf("export table has no columns")
	}

	doc := gofpdf.New("L", "mm", "A4", "")
	doc.SetMargins(12, 14, 12)
	doc.AliasNbPages("")

	pageWidth, _ := doc.GetPageSize()
	colWidth := (pageWidth - 24) / float64(len(t.Columns))

	doc.SetHeaderFuncMode(func() {
		if title != "" {
			doc.SetFont("Helvetica", "B", 13)
			doc.CellFormat(0, 9, title, "", 1, "L", false, 0, "")
			doc.Ln(1)
		}
		doc.SetFont("Helvetica", "B", 9)
		doc.SetFillColor(228, 228, 228)
		for _, col := range t.Columns {
			doc.CellFormat(colWidth, 7, col, "1", 0, "C", true, 0, "")
		}
		doc.Ln(-1)
		doc.SetFont("Helvetica", "", 8)
	}, true)

	doc.SetFooterFunc(func() {
		doc.SetY(-12)
		doc.SetFont("Helvetica", "I", 8)
		doc.CellFormat(0, 8, fmt.Sprintf("Page %d of {nb}", doc.PageNo()), "", 0, "C", false, 0, "")
	})

	doc.AddPage()
	for _, row := range t.Rows {
		for i := range t.Columns {
			var cell string
			if i < len(row) {
				cell = truncateCell(row[i])
			}
			doc.CellFormat(colWidth, 6, cell, "1", 0, "", false, 0, "")
		}
		doc.Ln(-1)
	}

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, fmt.Errorf("emit pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func truncateCell(v string) string {
	if len(v) <= pdfCellLimit {
		return v
	}
	return v[:pdfCellLimit-3] + "..."
}
