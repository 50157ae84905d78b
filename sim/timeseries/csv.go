package timeseries

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// indexColumns are leading header names treated as a row label, not data.
var indexColumns = map[string]bool{"date": true, "timestep": true, "index": true, "time": true}

// LoadCSV reads a CSV file into a Table. The first row is the header. A
// leading date/timestep/index column is skipped; every other column must be
// numeric. Empty cells become missing values.
func LoadCSV(name, path string) (*Table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("timeseries: opening %s: %w", path, err)
	}
	defer file.Close()
	return ReadCSV(name, file)
}

// ReadCSV is LoadCSV over an arbitrary reader.
func ReadCSV(name string, r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("timeseries: reading header of %q: %w", name, err)
	}
	first := 0
	if len(header) > 0 && indexColumns[strings.ToLower(strings.TrimSpace(header[0]))] {
		first = 1
	}
	if first >= len(header) {
		return nil, fmt.Errorf("timeseries: %q has no data columns", name)
	}

	names := make([]string, 0, len(header)-first)
	columns := make(map[string][]float64, len(header)-first)
	for _, h := range header[first:] {
		h = strings.TrimSpace(h)
		if _, dup := columns[h]; dup {
			return nil, fmt.Errorf("timeseries: %q has duplicate column %q", name, h)
		}
		names = append(names, h)
		columns[h] = nil
	}

	row := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("timeseries: reading %q at row %d: %w", name, row, err)
		}
		for i, col := range names {
			cell := strings.TrimSpace(record[first+i])
			v := math.NaN()
			if cell != "" {
				v, err = strconv.ParseFloat(cell, 64)
				if err != nil {
					return nil, fmt.Errorf("timeseries: %q column %q row %d: %w", name, col, row, err)
				}
			}
			columns[col] = append(columns[col], v)
		}
		row++
	}
	return NewTable(name, columns)
}
