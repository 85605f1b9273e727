// Package ingest reads the raw member, admission and claim tables.
package ingest

import (
	"bytes"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/dimchansky/utfbom"
	"github.com/go-gota/gota/dataframe"
	"github.com/opensource-health/readmit/internal/domain"
)

// frame is a string-typed view of one raw table with its column lookup.
type frame struct {
	table   string
	columns map[string]int
	rows    [][]string
}

// readFrame loads r as a string-typed dataframe and checks that every
// required column is present.
func readFrame(table string, r io.Reader, required []string) (*frame, error) {
	data, err := io.ReadAll(utfbom.SkipOnly(r))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", table, err)
	}

	var records [][]string
	df := dataframe.ReadCSV(bytes.NewReader(data), dataframe.HasHeader(true), dataframe.DetectTypes(false))
	if df.Err != nil {
		// gota refuses header-only input; an empty table is still valid here.
		header, herr := csv.NewReader(bytes.NewReader(data)).Read()
		if herr != nil || !headerOnly(data) {
			return nil, fmt.Errorf("read %s: %w", table, df.Err)
		}
		records = [][]string{header}
	} else {
		records = df.Records()
	}

	f := &frame{
		table:   table,
		columns: make(map[string]int, len(records[0])),
		rows:    records[1:],
	}
	for i, name := range records[0] {
		f.columns[strings.TrimSpace(name)] = i
	}
	for _, col := range required {
		if _, ok := f.columns[col]; !ok {
			return nil, &domain.SchemaError{Table: table, Column: col, Reason: "required column missing"}
		}
	}
	return f, nil
}

func headerOnly(data []byte) bool {
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	return err == nil && len(records) == 1
}

// cell gives typed access to one row of a frame.
type cell struct {
	f   *frame
	row int
}

func (f *frame) each(fn func(c cell) error) error {
	for i := range f.rows {
		if err := fn(cell{f: f, row: i}); err != nil {
			return err
		}
	}
	return nil
}

func (c cell) rowErr(column, value string, err error) error {
	return &domain.RowError{Table: c.f.table, Row: c.row + 1, Column: column, Value: value, Err: err}
}

func (c cell) raw(column string) string {
	return strings.TrimSpace(c.f.rows[c.row][c.f.columns[column]])
}

// isNull matches the spellings a missing value takes in exported tables.
func isNull(v string) bool {
	switch v {
	case "", "NaN", "nan", "NA", "<NA>", "null", "NULL":
		return true
	}
	return false
}

func (c cell) str(column string) string {
	v := c.raw(column)
	if isNull(v) {
		return ""
	}
	return v
}

func (c cell) key(column string) (string, error) {
	v := c.str(column)
	if v == "" {
		return "", c.rowErr(column, c.raw(column), fmt.Errorf("value is required"))
	}
	return v, nil
}

func (c cell) integer(column string) (int, error) {
	v := c.raw(column)
	if n, err := strconv.Atoi(v); err == nil {
		return n, nil
	}
	// Integer columns written through a float dtype come back as "3.0".
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, c.rowErr(column, v, fmt.Errorf("not an integer"))
	}
	return int(f), nil
}

func (c cell) flag(column string) (int, error) {
	n, err := c.integer(column)
	if err != nil {
		return 0, err
	}
	if n != 0 && n != 1 {
		return 0, c.rowErr(column, c.raw(column), fmt.Errorf("flag must be 0 or 1"))
	}
	return n, nil
}

func (c cell) real(column string) (float64, error) {
	v := c.raw(column)
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, c.rowErr(column, v, fmt.Errorf("not a number"))
	}
	return f, nil
}

func (c cell) amount(column string) (v sql.NullFloat64, err error) {
	raw := c.raw(column)
	if isNull(raw) {
		return v, nil
	}
	f, err := c.real(column)
	if err != nil {
		return v, err
	}
	if f < 0 {
		return v, c.rowErr(column, raw, fmt.Errorf("amount must be non-negative"))
	}
	v.Float64, v.Valid = f, true
	return v, nil
}

func (c cell) date(column string) (time.Time, error) {
	v := c.raw(column)
	t, err := domain.ParseDate(v)
	if err != nil {
		return time.Time{}, c.rowErr(column, v, fmt.Errorf("unparsable date"))
	}
	return t, nil
}
