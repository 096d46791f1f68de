package csvcard

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Table is a parsed CSV upload: trimmed header labels plus one header→value
// map per data row.
type Table struct {
	Headers []string
	Rows    []map[string]string
}

// ParseTable parses raw CSV bytes. Exports from card scanners disagree on
// encoding, so the bytes go through a BOM-aware decode first (UTF-8 assumed
// when no BOM). Rows whose cells are all empty are dropped; short rows are
// padded and long rows truncated to the header width.
func ParseTable(data []byte) (*Table, error) {
	decoded, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), data)
	if err != nil {
		return nil, eris.Wrap(err, "csvcard: decode")
	}

	r := csv.NewReader(bytes.NewReader(decoded))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	headers, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, eris.New("csvcard: no header row")
		}
		return nil, eris.Wrap(err, "csvcard: read header")
	}
	for i, h := range headers {
		headers[i] = strings.TrimSpace(h)
	}

	t := &Table{Headers: headers}
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "csvcard: read row")
		}
		if len(row) < len(headers) {
			padded := make([]string, len(headers))
			copy(padded, row)
			row = padded
		}

		m := make(map[string]string, len(headers))
		blank := true
		for i, h := range headers {
			v := strings.TrimSpace(row[i])
			if v != "" {
				blank = false
			}
			m[h] = v
		}
		if blank {
			continue
		}
		t.Rows = append(t.Rows, m)
	}
	return t, nil
}
