package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// PDFExporter renders datasets and link code slips as PDF.
type PDFExporter struct{}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// Render creates a PDF document with an optional title and table body.
func (e *PDFExporter) Render(data Dataset) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("pdf requires at least one header")
	}
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(10, 15, 10)
	pdf.AddPage()

	if data.Title != "" {
		pdf.SetFont("Helvetica", "B", 14)
		pdf.CellFormat(0, 10, data.Title, "", 1, "L", false, 0, "")
		pdf.Ln(3)
	}

	pageWidth, _ := pdf.GetPageSize()
	left, _, right, _ := pdf.GetMargins()
	colWidth := (pageWidth - left - right) / float64(len(data.Headers))

	pdf.SetFont("Helvetica", "B", 9)
	pdf.SetFillColor(235, 235, 235)
	for _, header := range data.Headers {
		pdf.CellFormat(colWidth, 8, header, "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 9)
	for _, row := range data.Rows {
		for _, header := range data.Headers {
			pdf.CellFormat(colWidth, 7, row[header], "1", 0, "", false, 0, "")
		}
		pdf.Ln(-1)
	}

	return output(pdf)
}

// Slip is the printable card a parent hands to a scholar.
type Slip struct {
	ParentName string
	LinkCode   string
	ExpiresAt  time.Time
	IssuedAt   time.Time
}

// RenderSlip prints the link code in large type with its expiry.
func (e *PDFExporter) RenderSlip(slip Slip) ([]byte, error) {
	if slip.LinkCode == "" {
		return nil, fmt.Errorf("slip requires a link code")
	}
	pdf := gofpdf.New("P", "mm", "A5", "")
	pdf.SetMargins(8, 10, 8)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 13)
	pdf.CellFormat(0, 8, "Crescent account link", "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.MultiCell(0, 5, fmt.Sprintf("%s invited you to link accounts. Enter this code in Crescent:", slip.ParentName), "", "C", false)
	pdf.Ln(4)

	pdf.SetFont("Courier", "B", 32)
	pdf.CellFormat(0, 16, slip.LinkCode, "1", 1, "C", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "", 9)
	pdf.CellFormat(0, 5, "Issued: "+slip.IssuedAt.UTC().Format(time.RFC1123), "", 1, "C", false, 0, "")
	pdf.CellFormat(0, 5, "Valid until: "+slip.ExpiresAt.UTC().Format(time.RFC1123), "", 1, "C", false, 0, "")

	return output(pdf)
}

func output(pdf *gofpdf.Fpdf) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}
