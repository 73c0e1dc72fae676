package aggregate

import (
	"context"
	"fmt"
	"log"

	"golang.org/x/sync/errgroup"
)

// DefaultExtractWorkers bounds the per-value extraction fan-out when the
// caller does not configure one. One query per distinct subindicator value is
// issued within a group's pass; unbounded fan-out would hurt stores with
// small connection pools.
const DefaultExtractWorkers = 4

// Coordinator drives one indicator's aggregation: for every non-primary
// group it discovers the group's distinct subindicator values, extracts
// counts per value, and routes the results into per-geography accumulators;
// the primary group's pass fills each accumulator's subindicators.
//
// The accumulator map is owned by the running call and handed to the caller
// on completion; the Coordinator itself keeps no state between runs.
type Coordinator struct {
	reader  RecordReader
	workers int
}

// NewCoordinator returns a Coordinator reading from r. workers bounds the
// concurrent per-value extraction queries; values < 1 select
// DefaultExtractWorkers.
func NewCoordinator(r RecordReader, workers int) *Coordinator {
	if workers < 1 {
		workers = DefaultExtractWorkers
	}
	return &Coordinator{reader: r, workers: workers}
}

// Run builds the complete accumulator map for ind, keyed by geography id.
//
// Group passes follow the indicator's declaration order. Within a group the
// extraction calls for different subindicator values are independent and run
// on a bounded errgroup; routing into accumulators happens serially in
// discovery order so the result is deterministic.
func (c *Coordinator) Run(ctx context.Context, ind Indicator) (map[string]*Accumulator, error) {
	if err := checkIndicator(ind); err != nil {
		return nil, err
	}

	accs := make(map[string]*Accumulator)
	get := func(geographyID string) *Accumulator {
		a, ok := accs[geographyID]
		if !ok {
			a = NewAccumulator(geographyID, ind.Groups, ind.PrimaryGroup)
			accs[geographyID] = a
		}
		return a
	}

	ex := NewExtractor(c.reader)

	for _, group := range ind.Groups {
		if group == ind.PrimaryGroup {
			continue
		}

		values, err := c.reader.DistinctValues(ctx, ind.DatasetID, group)
		if err != nil {
			return nil, fmt.Errorf("discover subindicators for %q: %w", group, err)
		}
		log.Printf("coordinator: group=%s subindicators=%d", group, len(values))

		results := make([][]ExtractedRow, len(values))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(c.workers)
		for i, v := range values {
			i, v := i, v
			g.Go(func() error {
				rows, err := ex.Extract(gctx, ind, ind.Groups, []Filter{{Group: group, Value: v}})
				if err != nil {
					return fmt.Errorf("extract %s=%s: %w", group, v, err)
				}
				results[i] = rows
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		for i, v := range values {
			for _, chunk := range splitByGeography(results[i]) {
				if err := get(chunk.geographyID).AddData(group, v, chunk.rows); err != nil {
					return nil, err
				}
			}
		}
	}

	// Primary pass: group by the primary column alone so the leaf
	// subindicators are totals per primary value, summed across every other
	// dimension.
	rows, err := ex.Extract(ctx, ind, []string{ind.PrimaryGroup}, nil)
	if err != nil {
		return nil, fmt.Errorf("extract primary group %q: %w", ind.PrimaryGroup, err)
	}
	for _, chunk := range splitByGeography(rows) {
		if err := get(chunk.geographyID).AddSubindicator(chunk.rows); err != nil {
			return nil, err
		}
	}

	return accs, nil
}

// geographyChunk is a run of extracted rows sharing one geography.
type geographyChunk struct {
	geographyID string
	rows        []ExtractedRow
}

// splitByGeography slices rows (already ordered by geography, per the
// RecordReader contract) into per-geography chunks without copying.
func splitByGeography(rows []ExtractedRow) []geographyChunk {
	var chunks []geographyChunk
	start := 0
	for i := 1; i <= len(rows); i++ {
		if i == len(rows) || rows[i].GeographyID != rows[start].GeographyID {
			chunks = append(chunks, geographyChunk{
				geographyID: rows[start].GeographyID,
				rows:        rows[start:i],
			})
			start = i
		}
	}
	return chunks
}

// checkIndicator rejects indicator definitions the pipeline cannot process.
func checkIndicator(ind Indicator) error {
	if len(ind.Groups) == 0 {
		return &ValidationError{Reason: fmt.Sprintf("indicator %q has no groups", ind.Name)}
	}
	seen := make(map[string]struct{}, len(ind.Groups))
	for _, g := range ind.Groups {
		if g == "" {
			return &ValidationError{Reason: fmt.Sprintf("indicator %q has an empty group name", ind.Name)}
		}
		if _, dup := seen[g]; dup {
			return &ValidationError{Reason: fmt.Sprintf("indicator %q repeats group %q", ind.Name, g)}
		}
		seen[g] = struct{}{}
	}
	if _, ok := seen[ind.PrimaryGroup]; !ok {
		return &ValidationError{
			Reason: fmt.Sprintf("indicator %q primary group %q is not in groups", ind.Name, ind.PrimaryGroup),
		}
	}
	if len(ind.Groups) > 3 {
		// With the primary pinned, a leaf breakdown would retain more than
		// two dimensions; there is no defined output shape for that.
		return &UnsupportedError{
			Reason: fmt.Sprintf("indicator %q has %d groups; at most 3 are supported", ind.Name, len(ind.Groups)),
		}
	}
	return nil
}
