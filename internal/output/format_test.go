package output

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitespider/internal/spider"
)

func sampleRecords(n int) []spider.Record {
	records := make([]spider.Record, 0, n)
	for i := range n {
		records = append(records, spider.Record{
			"url":   "https://example.com/catalog/" + strings.Repeat("a", i+1),
			"title": "Item",
			"links": []string{"https://example.com/"},
		})
	}
	return records
}

func TestParseFormat(t *testing.T) {
	t.Parallel()

	f, err := ParseFormat(" CSV ")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)
	assert.Equal(t, "csv", f.Extension())
	assert.Equal(t, "text/csv; charset=utf-8", f.ContentType())

	f, err = ParseFormat("json")
	require.NoError(t, err)
	assert.Equal(t, "application/json", f.ContentType())

	_, err = ParseFormat("xml")
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestEncodeJSONRoundTrip(t *testing.T) {
	t.Parallel()

	records := sampleRecords(3)
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, FormatJSON, records))

	decoded, err := DecodeJSON(&buf)
	require.NoError(t, err)
	require.Len(t, decoded, 3)
	for i, rec := range decoded {
		assert.Equal(t, records[i]["url"], rec["url"])
		assert.Equal(t, []any{"https://example.com/"}, rec["links"])
	}
}

func TestEncodeJSONEmpty(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, EncodeJSON(&buf, nil))
	assert.Equal(t, "[]\n", buf.String())
}

func TestEncodeCSV(t *testing.T) {
	t.Parallel()

	records := []spider.Record{
		{"url": "https://example.com/a", "price": 12.5, "tags": []string{"x", "y"}},
		{"url": "https://example.com/b", "extra": "ignored", "price": nil},
	}
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, FormatCSV, records))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Equal(t, [][]string{
		{"price", "tags", "url"},
		{"12.5", `["x","y"]`, "https://example.com/a"},
		{"", "", "https://example.com/b"},
	}, rows)
}

func TestEncodeCSVEmptyWritesNothing(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, EncodeCSV(&buf, []spider.Record{}))
	assert.Zero(t, buf.Len())
}

func TestEncodeUnsupportedFormat(t *testing.T) {
	t.Parallel()

	err := Encode(&bytes.Buffer{}, Format("xls"), sampleRecords(1))
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}
