package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"

	"github.com/opensource-health/readmit/internal/domain"
)

// Write exports tables to dir in every requested format and returns the
// paths written.
func Write(dir string, t *domain.Tables, formats []string, includeAudit bool) ([]string, error) {
	if len(formats) == 0 {
		formats = []string{FormatCSV}
	}
	var paths []string
	for _, format := range formats {
		var (
			written []string
			err     error
		)
		switch format {
		case FormatCSV:
			written, err = WriteCSV(dir, t, includeAudit)
		case FormatParquet:
			written, err = WriteParquet(dir, t, includeAudit)
		default:
			return paths, fmt.Errorf("export: unknown format %q", format)
		}
		if err != nil {
			return paths, err
		}
		paths = append(paths, written...)
	}
	return paths, nil
}

// WriteCSV writes one CSV file per table. Output is deterministic for
// identical tables.
func WriteCSV(dir string, t *domain.Tables, includeAudit bool) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("export: create %s: %w", dir, err)
	}

	var paths []string
	for _, table := range Render(t, includeAudit) {
		path := filepath.Join(dir, table.Name+".csv")
		if err := writeCSVFile(path, table); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func writeCSVFile(path string, table Table) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: create %s: %w", path, err)
	}
	if err := encodeCSV(f, table); err != nil {
		f.Close()
		return fmt.Errorf("export: write %s: %w", table.Name, err)
	}
	return f.Close()
}

// encodeCSV writes table through a string-typed dataframe. gota cannot
// hold a frame without rows, so header-only tables are written directly.
func encodeCSV(w io.Writer, table Table) error {
	if len(table.Rows) == 0 {
		cw := csv.NewWriter(w)
		if err := cw.Write(table.Header); err != nil {
			return err
		}
		cw.Flush()
		return cw.Error()
	}

	records := make([][]string, 0, len(table.Rows)+1)
	records = append(records, table.Header)
	records = append(records, table.Rows...)

	df := dataframe.LoadRecords(records,
		dataframe.HasHeader(true),
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.String),
	)
	if df.Err != nil {
		return df.Err
	}
	return df.WriteCSV(w)
}
