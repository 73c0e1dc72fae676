// Package aggregate implements the indicator aggregation core: it turns raw
// per-row observations (geography, categorical group values, a count) into a
// nested per-geography structure keyed by group and subindicator value.
//
// The package is organised leaf-first:
//
//   - Breakdown is the tagged leaf variant (flat counts or grouped counts).
//   - Accumulator owns one geography's evolving result structure.
//   - Extractor computes per-geography, per-combination count sums by pushing
//     grouping and filtering down to a RecordReader.
//   - Coordinator fans out over an indicator's groups, discovers subindicator
//     values, and routes extracted rows into the right accumulators.
//
// Persistence is deliberately outside this package; the pipeline orchestrator
// (internal/pipeline) wraps a Coordinator run in a storage transaction.
package aggregate

import "context"

// Indicator describes one precomputed breakdown over a dataset. Groups are the
// categorical dimensions the raw data is broken down by; PrimaryGroup selects
// the dimension whose values become the leaf-level subindicators.
type Indicator struct {
	ID        int64  `json:"id"`
	DatasetID int64  `json:"dataset_id"`
	Name      string `json:"name"`
	Label     string `json:"label"`

	// Groups is the ordered list of grouping dimensions. It must be non-empty
	// and free of duplicates, and must contain PrimaryGroup.
	Groups       []string `json:"groups"`
	PrimaryGroup string   `json:"primary_group"`

	// Universe optionally restricts which raw records contribute. A nil or
	// empty universe means all records.
	Universe Universe `json:"universe,omitempty"`
}

// Filter is a single exact-match constraint on a group value.
type Filter struct {
	Group string `json:"group"`
	Value string `json:"value"`
}

// Universe is a conjunction of group=value constraints applied before
// aggregation.
type Universe []Filter

// ExtractedRow is one pre-summed observation: the total count for a distinct
// combination of group values within one geography.
type ExtractedRow struct {
	GeographyID string
	// Values maps group name to the value this row was grouped under. Only
	// the columns requested from the extractor are present.
	Values map[string]string
	Count  float64
}

// Data is the persisted per-geography payload. Field names form the external
// structural contract and must not change.
type Data struct {
	Groups        map[string]map[string]Breakdown `json:"groups"`
	Subindicators Breakdown                       `json:"subindicators"`
}

// IndicatorData is one persisted output row: the complete computed payload for
// one (indicator, geography) pair. Rows for an indicator are only ever written
// as a complete replacement set.
type IndicatorData struct {
	IndicatorID int64
	GeographyID string
	Data        Data
}

// CountQuery describes one grouped-sum request against the raw record store.
type CountQuery struct {
	DatasetID int64

	// Columns are the group columns to sum by, in addition to geography.
	Columns []string

	// HasKeys restricts the query to records that carry all of these group
	// keys; a record lacking a key does not participate in that dimension.
	HasKeys []string

	// Filters are exact group=value constraints (subindicator restriction
	// plus the indicator's universe conjunction).
	Filters []Filter
}

// RecordReader is the query surface the aggregation core needs from a raw
// record store. Implementations must:
//
//   - exclude records whose count field is absent or the empty string,
//   - sum counts per distinct (geography, column-value combination),
//   - return rows ordered by geography ascending and then by column values,
//     so repeated runs over identical data produce identical output.
//
// Reads are assumed safe for concurrent use; the Coordinator issues bounded
// parallel queries during subindicator extraction.
type RecordReader interface {
	// DistinctValues reports the distinct values a group takes among records
	// that carry the group's key, in ascending order.
	DistinctValues(ctx context.Context, datasetID int64, group string) ([]string, error)

	// GroupedCounts executes a CountQuery and returns the summed rows.
	GroupedCounts(ctx context.Context, q CountQuery) ([]ExtractedRow, error)
}
