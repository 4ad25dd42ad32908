package source

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spigell/md-matcher/internal/directory"
)

// CSVFiles names the exported files. Metadata and Providers are optional.
type CSVFiles struct {
	Directors string `mapstructure:"directors"`
	Metadata  string `mapstructure:"metadata"`
	Providers string `mapstructure:"providers"`
}

// CSV reads the directory from exported CSV files.
type CSV struct {
	files CSVFiles
}

// NewCSV returns a CSV source. At least one of the director files must be set.
func NewCSV(files CSVFiles) (*CSV, error) {
	if files.Directors == "" && files.Metadata == "" {
		return nil, errors.New("csv source needs a directors or metadata file")
	}
	return &CSV{files: files}, nil
}

func (c *CSV) Name() string { return "csv" }

// Load reads every configured file. A configured file that cannot be read is
// an error; an unset file yields no rows.
func (c *CSV) Load(ctx context.Context) (*directory.RawData, error) {
	raw := &directory.RawData{}
	targets := []struct {
		path string
		dst  *[]directory.Row
	}{
		{c.files.Directors, &raw.Directors},
		{c.files.Metadata, &raw.Metadata},
		{c.files.Providers, &raw.Providers},
	}

	for _, target := range targets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if target.path == "" {
			continue
		}
		rows, err := readCSVFile(target.path)
		if err != nil {
			return nil, err
		}
		*target.dst = rows
	}

	return raw, nil
}

func readCSVFile(path string) ([]directory.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	rows, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return rows, nil
}

// ReadCSV parses a CSV document with a header line into rows keyed by
// ColumnKey of each header. Short records leave the trailing columns unset.
func ReadCSV(r io.Reader) ([]directory.Row, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("empty csv document")
	}
	if err != nil {
		return nil, err
	}

	keys := make([]string, len(header))
	for i, h := range header {
		keys[i] = ColumnKey(strings.TrimPrefix(h, "\ufeff"))
	}

	var rows []directory.Row
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if isBlankRecord(record) {
			continue
		}
		row := make(directory.Row, len(keys))
		for i, key := range keys {
			if key == "" || i >= len(record) {
				continue
			}
			row[key] = record[i]
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func isBlankRecord(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
