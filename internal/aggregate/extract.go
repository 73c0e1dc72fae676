package aggregate

import "context"

// Extractor computes per-geography, per-combination count sums for one
// indicator. Grouping, filtering, and summing are pushed down to the
// RecordReader; the extractor's job is assembling the query: universe
// conjunction first, then any per-subindicator filter, grouped by the
// requested columns.
//
// Extraction is a pure read; ordering and empty-count exclusion are part of
// the RecordReader contract.
type Extractor struct {
	reader RecordReader
}

// NewExtractor returns an Extractor reading from r.
func NewExtractor(r RecordReader) *Extractor {
	return &Extractor{reader: r}
}

// Extract returns the summed rows for ind grouped by columns, narrowed by the
// indicator's universe plus any extra filters. Records must carry every
// requested column's key to participate.
func (e *Extractor) Extract(ctx context.Context, ind Indicator, columns []string, extra []Filter) ([]ExtractedRow, error) {
	filters := make([]Filter, 0, len(ind.Universe)+len(extra))
	filters = append(filters, ind.Universe...)
	filters = append(filters, extra...)

	return e.reader.GroupedCounts(ctx, CountQuery{
		DatasetID: ind.DatasetID,
		Columns:   columns,
		HasKeys:   columns,
		Filters:   filters,
	})
}
