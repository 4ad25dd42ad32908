// Package source reads raw director and provider rows from CSV exports or a
// Postgres warehouse and hands them to the directory as string rows.
package source

import (
	"database/sql/driver"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/spigell/md-matcher/internal/directory"
)

var nonKeyChars = regexp.MustCompile(`[^a-z0-9]+`)

// ColumnKey normalizes a column header to the lower snake case key used in
// rows, so "Residing State  (Lives In)" becomes "residing_state_lives_in".
func ColumnKey(header string) string {
	key := nonKeyChars.ReplaceAllString(strings.ToLower(strings.TrimSpace(header)), "_")
	return strings.Trim(key, "_")
}

// NormalizeDirectorColumns applies ColumnKey to every configured column.
func NormalizeDirectorColumns(cols directory.DirectorColumns) directory.DirectorColumns {
	normalizeStringFields(&cols)
	return cols
}

// NormalizeProviderColumns applies ColumnKey to every configured column.
func NormalizeProviderColumns(cols directory.ProviderColumns) directory.ProviderColumns {
	normalizeStringFields(&cols)
	return cols
}

func normalizeStringFields(ptr any) {
	v := reflect.ValueOf(ptr).Elem()
	for i := 0; i < v.NumField(); i++ {
		f := v.Field(i)
		if f.Kind() == reflect.String && f.CanSet() {
			f.SetString(ColumnKey(f.String()))
		}
	}
}

// DecodeRows converts loosely typed records, as returned by database drivers,
// into string rows keyed by ColumnKey.
func DecodeRows(records []map[string]any) ([]directory.Row, error) {
	rows := make([]directory.Row, 0, len(records))
	for i, record := range records {
		keyed := make(map[string]any, len(record))
		for k, v := range record {
			keyed[ColumnKey(k)] = v
		}

		var row map[string]string
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			DecodeHook:       valueToStringHook,
			WeaklyTypedInput: true,
			Result:           &row,
		})
		if err != nil {
			return nil, err
		}
		if err := decoder.Decode(keyed); err != nil {
			return nil, fmt.Errorf("decode row %d: %w", i, err)
		}
		rows = append(rows, directory.Row(row))
	}
	return rows, nil
}

func valueToStringHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to.Kind() != reflect.String {
		return data, nil
	}
	switch v := data.(type) {
	case nil:
		return "", nil
	case time.Time:
		if v.Hour() == 0 && v.Minute() == 0 && v.Second() == 0 && v.Nanosecond() == 0 {
			return v.Format(time.DateOnly), nil
		}
		return v.Format(time.RFC3339), nil
	case []string:
		return strings.Join(v, ", "), nil
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, fmt.Sprint(item))
		}
		return strings.Join(parts, ", "), nil
	case driver.Valuer:
		value, err := v.Value()
		if err != nil {
			return nil, err
		}
		if value == nil {
			return "", nil
		}
		return fmt.Sprint(value), nil
	case fmt.Stringer:
		return v.String(), nil
	}
	return data, nil
}
