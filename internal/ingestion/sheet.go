package ingestion

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/boletin/backend/internal/storage/models"
)

type Format string

const (
	FormatAuto Format = "auto"
	FormatCSV  Format = "csv"
	FormatHTML Format = "html"
)

var ErrUnsupportedFormat = errors.New("unsupported sheet format")

// ParseResult is the outcome of reading one sheet.
type ParseResult struct {
	Records []models.Record
	Rows    int
	// Dropped counts rows without a student ID.
	Dropped int
	Columns []string
}

// DetectFormat guesses the format from the content type and the body.
func DetectFormat(contentType string, body []byte) Format {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "text/html"):
		return FormatHTML
	case strings.Contains(ct, "csv"):
		return FormatCSV
	}
	trimmed := bytes.TrimLeft(body, " \t\r\n\ufeff")
	if bytes.HasPrefix(trimmed, []byte("<")) {
		return FormatHTML
	}
	return FormatCSV
}

func Parse(format Format, body []byte) (*ParseResult, error) {
	switch format {
	case FormatCSV:
		return ParseCSV(bytes.NewReader(body))
	case FormatHTML:
		return ParseHTML(bytes.NewReader(body))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// ParseCSV reads a sheet exported as CSV. Blank lines are skipped and rows
// may have fewer or more cells than the header.
func ParseCSV(r io.Reader) (*ParseResult, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, ErrNoHeader
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}

	rows := make([][]string, 0, 256)
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv row: %w", err)
		}
		rows = append(rows, row)
	}

	return mapRows(header, rows)
}

// ParseHTML reads the first table of a sheet published as a web page. Only
// td cells count, so row-number and column-letter th cells are skipped.
func ParseHTML(r io.Reader) (*ParseResult, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}

	table := doc.Find("table").First()
	if table.Length() == 0 {
		return nil, ErrNoHeader
	}

	var grid [][]string
	table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find("td")
		if cells.Length() == 0 {
			return
		}
		row := make([]string, 0, cells.Length())
		cells.Each(func(_ int, td *goquery.Selection) {
			row = append(row, strings.TrimSpace(td.Text()))
		})
		if isBlank(row) {
			return
		}
		grid = append(grid, row)
	})

	if len(grid) == 0 {
		return nil, ErrNoHeader
	}
	return mapRows(grid[0], grid[1:])
}

func mapRows(header []string, rows [][]string) (*ParseResult, error) {
	columns, err := newColumnMap(header)
	if err != nil {
		return nil, err
	}

	result := &ParseResult{Records: make([]models.Record, 0, len(rows))}
	for name := range columns {
		result.Columns = append(result.Columns, name)
	}
	sort.Strings(result.Columns)

	for _, row := range rows {
		if isBlank(row) {
			continue
		}
		result.Rows++
		rec, ok := columns.record(row)
		if !ok {
			result.Dropped++
			continue
		}
		result.Records = append(result.Records, rec)
	}
	return result, nil
}

func isBlank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
