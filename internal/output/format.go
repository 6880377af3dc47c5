// Package output serialises run records and hands them to storage.
package output

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/JakeFAU/sitespider/internal/spider"
)

// Format selects the on-disk encoding.
type Format string

// Supported formats.
const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// ErrUnsupportedFormat is returned for any format other than json or csv.
var ErrUnsupportedFormat = errors.New("unsupported output format")

// ParseFormat validates s as a Format.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatCSV:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
}

// Extension returns the file extension without a dot.
func (f Format) Extension() string {
	return string(f)
}

// ContentType returns the MIME type stored alongside the object.
func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv; charset=utf-8"
	}
	return "application/json"
}

// Encode writes records to w in format f.
func Encode(w io.Writer, f Format, records []spider.Record) error {
	switch f {
	case FormatJSON:
		return EncodeJSON(w, records)
	case FormatCSV:
		return EncodeCSV(w, records)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, f)
	}
}

// EncodeJSON writes records as a single JSON array.
func EncodeJSON(w io.Writer, records []spider.Record) error {
	if records == nil {
		records = []spider.Record{}
	}
	if err := json.NewEncoder(w).Encode(records); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}

// DecodeJSON reads an array written by EncodeJSON.
func DecodeJSON(r io.Reader) ([]spider.Record, error) {
	var records []spider.Record
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	return records, nil
}

// EncodeCSV writes a header row built from the sorted keys of the first record
// followed by one row per record. Keys absent from a record are left empty.
// Nothing is written for an empty slice.
func EncodeCSV(w io.Writer, records []spider.Record) error {
	if len(records) == 0 {
		return nil
	}
	header := make([]string, 0, len(records[0]))
	for key := range records[0] {
		header = append(header, key)
	}
	sort.Strings(header)

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	row := make([]string, len(header))
	for _, rec := range records {
		for i, key := range header {
			cell, err := csvValue(rec[key])
			if err != nil {
				return fmt.Errorf("render csv field %q: %w", key, err)
			}
			row[i] = cell
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// csvValue renders scalars with fmt and nested values as JSON.
func csvValue(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case string:
		return val, nil
	case fmt.Stringer:
		return val.String(), nil
	case []any, []string, map[string]any:
		b, err := json.Marshal(val)
		if err != nil {
			return "", err
		}
		return string(b), nil
	default:
		return fmt.Sprint(val), nil
	}
}
