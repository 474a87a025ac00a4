package transform

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedRecord marks a row whose structure does not match the schema.
// Such rows are counted and skipped, never written.
var ErrMalformedRecord = errors.New("malformed record")

// CleanRecord is one transformed row, values ordered as the schema columns.
type CleanRecord []Value

// Encode appends the canonical textual form of the record, used for segment
// checksums. Fields are separated by unit separators and records by newline
// so the encoding is unambiguous.
func (r CleanRecord) Encode(b *strings.Builder) {
	for i, v := range r {
		if i > 0 {
			b.WriteByte(0x1f)
		}
		b.WriteString(v.Canonical())
	}
	b.WriteByte('\n')
}

// Transformer turns raw CSV rows of one dataset into clean records. It is
// bound to a concrete header layout at construction so per-row work is
// index lookups only.
type Transformer struct {
	schema    Schema
	headerLen int
	// index maps each schema column position to the raw field position,
	// -1 for derived columns.
	index []int
}

// NewTransformer binds a schema to a CSV header. Every source column the
// schema references must be present in the header.
func NewTransformer(schema Schema, header []string) (*Transformer, error) {
	byName := make(map[string]int, len(header))
	for i, h := range header {
		byName[strings.TrimSpace(h)] = i
	}

	index := make([]int, len(schema.Columns))
	for i, col := range schema.Columns {
		if col.Source == "" {
			index[i] = -1
			continue
		}
		pos, ok := byName[col.Source]
		if !ok {
			return nil, fmt.Errorf("dataset %s: source column %q missing from header", schema.Dataset, col.Source)
		}
		index[i] = pos
	}

	return &Transformer{schema: schema, headerLen: len(header), index: index}, nil
}

// Schema returns the bound schema.
func (t *Transformer) Schema() Schema {
	return t.schema
}

// Transform converts one raw row. Rows with a field count different from the
// header are structurally malformed and return ErrMalformedRecord.
func (t *Transformer) Transform(raw []string) (CleanRecord, error) {
	if len(raw) != t.headerLen {
		return nil, fmt.Errorf("%w: %d fields, header has %d", ErrMalformedRecord, len(raw), t.headerLen)
	}

	rec := make(CleanRecord, len(t.schema.Columns))

	// Source-backed columns first so derived columns can see them.
	for i, col := range t.schema.Columns {
		if col.Parse == nil {
			continue
		}
		rec[i] = col.Parse(raw[t.index[i]])
	}

	get := func(name string) Value {
		for i, col := range t.schema.Columns {
			if col.Name == name {
				return rec[i]
			}
		}
		return Missing()
	}
	for i, col := range t.schema.Columns {
		if col.Derive != nil {
			rec[i] = col.Derive(get)
		}
	}

	return rec, nil
}

// TransformAll converts a batch of raw rows, returning the clean records and
// the count of structurally rejected rows.
func (t *Transformer) TransformAll(rows [][]string) ([]CleanRecord, int) {
	records := make([]CleanRecord, 0, len(rows))
	rejected := 0
	for _, row := range rows {
		rec, err := t.Transform(row)
		if err != nil {
			rejected++
			continue
		}
		records = append(records, rec)
	}
	return records, rejected
}
