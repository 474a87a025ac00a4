package catalog

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
)

// Read loads one bronze partition, returning the header and the raw data
// rows. Rows with a field count different from the header are returned as-is;
// structural validation belongs to the transformer, which counts and skips
// them per row instead of failing the partition.
func Read(p Partition) (header []string, rows [][]string, err error) {
	f, err := os.Open(p.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: opening bronze partition %s: %v", ErrSourceUnavailable, p.Path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.ReuseRecord = false

	header, err = r.Read()
	if err == io.EOF {
		return nil, nil, fmt.Errorf("bronze partition %s is empty", p.Path)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("reading header of %s: %w", p.Path, err)
	}

	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Unbalanced quotes produce a parse error for one record.
			// Treat it as a malformed row and keep reading.
			if _, ok := err.(*csv.ParseError); ok {
				rows = append(rows, nil)
				continue
			}
			return nil, nil, fmt.Errorf("reading %s: %w", p.Path, err)
		}
		rows = append(rows, row)
	}
	return header, rows, nil
}
