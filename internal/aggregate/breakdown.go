package aggregate

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// GroupCounts is one entry of a grouped breakdown: the counts for a single
// outer (primary-dimension) value, keyed by the inner dimension's values.
// The "group"/"values" field names are part of the persisted contract.
type GroupCounts struct {
	Group  string             `json:"group"`
	Values map[string]float64 `json:"values"`
}

// Breakdown is a tagged variant of the two leaf shapes this pipeline
// produces. Exactly one of Flat or Grouped is populated:
//
//   - Flat holds value→count pairs when a single grouping dimension remains.
//   - Grouped holds an ordered list of GroupCounts when two dimensions
//     remain; the outer order is first-seen order of the primary value.
//
// The zero value is the empty flat breakdown and marshals to {}.
type Breakdown struct {
	Flat    map[string]float64
	Grouped []GroupCounts
}

// IsGrouped reports whether the breakdown carries the two-dimension shape.
func (b Breakdown) IsGrouped() bool { return b.Grouped != nil }

// MarshalJSON renders the active variant: Grouped as a JSON array, Flat as a
// JSON object. An empty breakdown renders as {}.
func (b Breakdown) MarshalJSON() ([]byte, error) {
	if b.Grouped != nil {
		return json.Marshal(b.Grouped)
	}
	if b.Flat == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(b.Flat)
}

// UnmarshalJSON restores the variant from its serialized form by sniffing the
// leading token.
func (b *Breakdown) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return fmt.Errorf("breakdown: empty input")
	}
	if trimmed[0] == '[' {
		var grouped []GroupCounts
		if err := json.Unmarshal(trimmed, &grouped); err != nil {
			return err
		}
		b.Flat = nil
		b.Grouped = grouped
		return nil
	}
	var flat map[string]float64
	if err := json.Unmarshal(trimmed, &flat); err != nil {
		return err
	}
	b.Grouped = nil
	b.Flat = flat
	return nil
}

// buildBreakdown folds extracted rows into a leaf breakdown.
//
// groups fixes the column order (the indicator's declaration order); exclude
// names a column to drop before counting remaining dimensions (the group a
// subindicator filter already pinned), or is empty. After removing the count,
// the number of remaining columns selects the shape:
//
//	0 → ValidationError (a row must name at least one subindicator)
//	1 → flat value→count map
//	2 → grouped list, primary value as the outer key, first-seen order
//	3+ → UnsupportedError
func buildBreakdown(rows []ExtractedRow, groups []string, primary, exclude string) (Breakdown, error) {
	if len(rows) == 0 {
		return Breakdown{}, nil
	}

	remaining := make([]string, 0, len(groups))
	for _, g := range groups {
		if g == exclude {
			continue
		}
		if _, ok := rows[0].Values[g]; ok {
			remaining = append(remaining, g)
		}
	}

	switch len(remaining) {
	case 0:
		return Breakdown{}, &ValidationError{Reason: "missing subindicator in row"}

	case 1:
		col := remaining[0]
		flat := make(map[string]float64, len(rows))
		for _, r := range rows {
			flat[r.Values[col]] += r.Count
		}
		return Breakdown{Flat: flat}, nil

	case 2:
		// The primary dimension's value is the outer key; fall back to
		// declaration order when the primary column is not among the
		// remaining two.
		outer, inner := remaining[0], remaining[1]
		if inner == primary {
			outer, inner = inner, outer
		}

		var grouped []GroupCounts
		index := make(map[string]int, len(rows))
		for _, r := range rows {
			ov := r.Values[outer]
			i, ok := index[ov]
			if !ok {
				i = len(grouped)
				index[ov] = i
				grouped = append(grouped, GroupCounts{Group: ov, Values: map[string]float64{}})
			}
			grouped[i].Values[r.Values[inner]] += r.Count
		}
		return Breakdown{Grouped: grouped}, nil

	default:
		return Breakdown{}, &UnsupportedError{
			Reason: fmt.Sprintf("cannot break down %d grouping dimensions", len(remaining)),
		}
	}
}
