// Package extract reads the scanner CSV and turns its rows into canonical
// customer records.
//
// The scanner appends rows; the daemon only cares about the most recent one.
// Latest re-parses the whole file on every call, so the cost is linear in file
// size. That is fine for the modest files a single scanner station produces.
package extract

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/Noob4Eternity/chokidar/internal/schema"
)

// ErrNoData is returned when the file holds a header and no data rows.
var ErrNoData = errors.New("no data rows")

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Extractor reads a scanner CSV file.
type Extractor struct {
	path        string
	transformer *schema.Transformer
}

// New creates an Extractor for the file at path.
func New(path string, transformer *schema.Transformer) *Extractor {
	return &Extractor{path: path, transformer: transformer}
}

// Path returns the source file path.
func (e *Extractor) Path() string {
	return e.path
}

// Latest returns the transformed last data row and the number of data rows in
// the file. It returns ErrNoData for a header-only file and schema.ErrEmptyRow
// when the last row has no identity fields.
func (e *Extractor) Latest() (*schema.Customer, int, error) {
	rows, err := ReadRows(e.path)
	if err != nil {
		return nil, 0, err
	}
	if len(rows) == 0 {
		return nil, 0, ErrNoData
	}

	customer, err := e.transformer.Transform(rows[len(rows)-1])
	if err != nil {
		return nil, len(rows), err
	}
	return customer, len(rows), nil
}

// ReadAll transforms every data row, skipping rows without identity fields.
// It returns the records in file order together with the number of rows
// skipped.
func (e *Extractor) ReadAll() ([]*schema.Customer, int, error) {
	rows, err := ReadRows(e.path)
	if err != nil {
		return nil, 0, err
	}

	customers := make([]*schema.Customer, 0, len(rows))
	skipped := 0
	for _, row := range rows {
		c, err := e.transformer.Transform(row)
		if errors.Is(err, schema.ErrEmptyRow) {
			skipped++
			continue
		}
		if err != nil {
			return nil, skipped, err
		}
		customers = append(customers, c)
	}
	return customers, skipped, nil
}

// ReadRows parses the file at path into rows keyed by its header.
func ReadRows(path string) ([]schema.Row, error) {
	// #nosec G304 - path comes from service configuration
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read source file %s: %w", path, err)
	}
	rows, err := ParseRows(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse source file %s: %w", path, err)
	}
	return rows, nil
}

// ParseRows parses CSV content whose first record is the header.
//
// Trailing whitespace is dropped before parsing so that a dangling blank or
// whitespace-only line never masks the last real row. Data rows that repeat
// the header are skipped.
func ParseRows(r io.Reader) ([]schema.Row, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimPrefix(data, utf8BOM)
	data = bytes.TrimRight(data, " \t\r\n")
	if len(data) == 0 {
		return nil, nil
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	var rows []schema.Row
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if slices.Equal(record, header) {
			continue
		}
		rows = append(rows, schema.NewRow(header, record))
	}
	return rows, nil
}

// EnsureFile creates the source directory and, if the file is absent, an
// empty file holding only the scanner header. It reports whether the file was
// created.
func EnsureFile(path string) (bool, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return false, fmt.Errorf("failed to create source directory %s: %w", dir, err)
	}

	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("failed to stat source file %s: %w", path, err)
	}

	if err := os.WriteFile(path, []byte(schema.HeaderLine()), 0644); err != nil {
		return false, fmt.Errorf("failed to create source file %s: %w", path, err)
	}
	return true, nil
}
