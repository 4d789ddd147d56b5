package export

import (
	"fmt"
	"strings"
)

// Format is a supported document format.
type Format string

const (
	FormatCSV Format = "csv"
	FormatPDF Format = "pdf"
)

// ParseFormat normalises a query value, defaulting to fallback when empty.
func ParseFormat(raw string, fallback Format) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(raw))); f {
	case "":
		return fallback, nil
	case FormatCSV, FormatPDF:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", raw)
	}
}

// ContentType returns the MIME type for f.
func (f Format) ContentType() string {
	if f == FormatPDF {
		return "application/pdf"
	}
	return "text/csv"
}

// Filename appends the format extension to base.
func (f Format) Filename(base string) string {
	return base + "." + string(f)
}

// Dataset defines tabular export content.
type Dataset struct {
	Title   string
	Headers []string
	Rows    []map[string]string
}

// Document is a rendered export ready to be streamed.
type Document struct {
	Filename    string
	ContentType string
	Body        []byte
}

// Render produces data in format f.
func Render(f Format, data Dataset, base string) (*Document, error) {
	var (
		body []byte
		err  error
	)
	switch f {
	case FormatCSV:
		body, err = NewCSVExporter().Render(data)
	case FormatPDF:
		body, err = NewPDFExporter().Render(data)
	default:
		return nil, fmt.Errorf("unsupported export format %q", f)
	}
	if err != nil {
		return nil, err
	}
	return &Document{Filename: f.Filename(base), ContentType: f.ContentType(), Body: body}, nil
}
