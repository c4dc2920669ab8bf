package core

import (
	"fmt"
	"sort"
	"strings"
)

// RecordsFromRows converts raw spreadsheet rows into records. The first row
// holds the column headers; every later row becomes one record. Headers and
// values are trimmed, and cells missing from short rows become "".
// Duplicate headers resolve to the right-most column.
//
// At least one data row is required; fewer yields ErrEmptySource.
func RecordsFromRows(rows [][]string) ([]Record, error) {
	if len(rows) < 2 {
		return nil, fmt.Errorf("%w: need a header row and at least one data row, got %d rows", ErrEmptySource, len(rows))
	}

	headers := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		headers[i] = strings.TrimSpace(h)
	}

	records := make([]Record, 0, len(rows)-1)
	for _, row := range rows[1:] {
		rec := make(Record, len(headers))
		for i, h := range headers {
			if h == "" {
				continue
			}
			value := ""
			if i < len(row) {
				value = strings.TrimSpace(row[i])
			}
			rec[h] = value
		}
		records = append(records, rec)
	}

	return records, nil
}

// Headers returns the record's column headers in sorted order.
func (r Record) Headers() []string {
	out := make([]string, 0, len(r))
	for h := range r {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}
