package aggregate

// Accumulator owns the evolving result structure for a single geography. It
// is created lazily by the Coordinator on the first contribution for its
// geography and filled in across multiple extraction passes.
type Accumulator struct {
	GeographyID string

	groups        []string
	primaryGroup  string
	groupData     map[string]map[string]Breakdown
	subindicators Breakdown
}

// NewAccumulator returns an empty accumulator for one geography. groups and
// primary carry the indicator's declaration order and primary dimension so
// breakdown construction stays deterministic.
func NewAccumulator(geographyID string, groups []string, primary string) *Accumulator {
	return &Accumulator{
		GeographyID:  geographyID,
		groups:       groups,
		primaryGroup: primary,
		groupData:    make(map[string]map[string]Breakdown),
	}
}

// AddData stores the leaf breakdown for a single (group, subindicator value)
// pair. rows are the extracted counts for records matching group == value;
// the pinned group's own column is dropped before the breakdown is built.
func (a *Accumulator) AddData(group, value string, rows []ExtractedRow) error {
	b, err := buildBreakdown(rows, a.groups, a.primaryGroup, group)
	if err != nil {
		return err
	}
	byValue, ok := a.groupData[group]
	if !ok {
		byValue = make(map[string]Breakdown)
		a.groupData[group] = byValue
	}
	byValue[value] = b
	return nil
}

// AddSubindicator computes the accumulator's own subindicator breakdown from
// the primary-group extraction. An empty input is a no-op and leaves the
// default empty state in place.
func (a *Accumulator) AddSubindicator(rows []ExtractedRow) error {
	if len(rows) == 0 {
		return nil
	}
	b, err := buildBreakdown(rows, a.groups, a.primaryGroup, "")
	if err != nil {
		return err
	}
	a.subindicators = b
	return nil
}

// Data snapshots the accumulator into the persisted payload shape. Every
// non-primary group that contributed appears under Groups; Subindicators is
// always present (the empty flat map when nothing was added).
func (a *Accumulator) Data() Data {
	groups := make(map[string]map[string]Breakdown, len(a.groupData))
	for g, byValue := range a.groupData {
		inner := make(map[string]Breakdown, len(byValue))
		for v, b := range byValue {
			inner[v] = b
		}
		groups[g] = inner
	}
	return Data{Groups: groups, Subindicators: a.subindicators}
}
