// Package report renders table rows as the dashboard's semicolon separated CSV.
package report

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Separator is the field delimiter; spreadsheet tools in the target locale expect ';'.
const Separator = ';'

var ErrNoRows = errors.New("nothing to export")

// Tabular is a row that knows its column names and values.
type Tabular interface {
	Header() []string
	Record() []string
}

// WriteTable writes header then rows. Short rows are padded with empty fields.
func WriteTable(w io.Writer, header []string, rows [][]string) error {
	cw := csv.NewWriter(w)
	cw.Comma = Separator
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, row := range rows {
		if len(row) < len(header) {
			padded := make([]string, len(header))
			copy(padded, row)
			row = padded
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteRecords writes rows with the header of the first row. An empty slice is ErrNoRows.
func WriteRecords[T Tabular](w io.Writer, rows []T) error {
	if len(rows) == 0 {
		return ErrNoRows
	}
	records := make([][]string, len(rows))
	for i, r := range rows {
		records[i] = r.Record()
	}
	return WriteTable(w, rows[0].Header(), records)
}

func Marshal[T Tabular](rows []T) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteRecords(&buf, rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Filename makes sure name ends in ".csv".
func Filename(name string) string {
	name = strings.TrimSpace(name)
	if strings.HasSuffix(strings.ToLower(name), ".csv") {
		return name
	}
	return name + ".csv"
}
