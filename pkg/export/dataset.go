// Package export renders report datasets into downloadable files.
package export

// Dataset is the tabular content of a report. Rows are keyed by header name
// so renderers stay independent of column order decisions made upstream.
type Dataset struct {
	Headers []string
	Rows    []map[string]string
}

// record flattens a row into header order. Missing cells render empty.
func (d Dataset) record(row map[string]string) []string {
	out := make([]string, len(d.Headers))
	for i, h := range d.Headers {
		out[i] = row[h]
	}
	return out
}
