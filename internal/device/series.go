package device

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Series is an evenly spaced sample sequence replayed cyclically.
type Series struct {
	Values []float64
	Step   int64 // seconds between samples
	Start  int64 // unix seconds of Values[0]
}

// NewSeries wraps in-memory samples.
func NewSeries(values []float64, step, start int64) *Series {
	if step <= 0 {
		step = 60
	}
	return &Series{Values: values, Step: step, Start: start}
}

// LoadSeries reads one column of a CSV data file.
//
// Comma and semicolon separators are both accepted. A first row that does
// not parse as numbers is treated as a header.
func LoadSeries(path string, column int, step, start int64) (*Series, error) {
	f, err := os.Open(path) //nolint:gosec // data file paths come from the scenario
	if err != nil {
		return nil, fmt.Errorf("opening series %s: %w", path, err)
	}
	defer f.Close()

	s, err := ReadSeries(f, column, step, start)
	if err != nil {
		return nil, fmt.Errorf("reading series %s: %w", path, err)
	}
	return s, nil
}

// ReadSeries parses CSV samples from r.
func ReadSeries(r io.Reader, column int, step, start int64) (*Series, error) {
	if column < 0 {
		return nil, fmt.Errorf("%w: column %d", ErrInvalidConfig, column)
	}

	br := bufio.NewReader(r)
	sep := ','
	if peek, _ := br.Peek(512); len(peek) > 0 { //nolint:errcheck // short input is fine
		line := string(peek)
		if i := strings.IndexByte(line, '\n'); i >= 0 {
			line = line[:i]
		}
		if strings.Contains(line, ";") && !strings.Contains(line, ",") {
			sep = ';'
		}
	}

	reader := csv.NewReader(br)
	reader.Comma = sep
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var values []float64
	for row := 0; ; row++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}
		if column >= len(record) {
			return nil, fmt.Errorf("%w: row %d has %d columns, want column %d", ErrInvalidConfig, row+1, len(record), column)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(record[column]), 64)
		if err != nil {
			if row == 0 {
				continue
			}
			return nil, fmt.Errorf("%w: row %d: %w", ErrInvalidValue, row+1, err)
		}
		values = append(values, v)
	}
	if len(values) == 0 {
		return nil, ErrNoData
	}
	return NewSeries(values, step, start), nil
}

// At returns the sample covering instant t. Instants outside the data wrap
// around, so a one-day file repeats every day.
func (s *Series) At(t int64) (float64, error) {
	if s == nil || len(s.Values) == 0 {
		return 0, ErrNoData
	}
	idx := (t - s.Start) / s.Step
	if (t-s.Start)%s.Step != 0 && t < s.Start {
		idx--
	}
	n := int64(len(s.Values))
	idx %= n
	if idx < 0 {
		idx += n
	}
	return s.Values[idx], nil
}

// Len returns the number of samples.
func (s *Series) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Values)
}
