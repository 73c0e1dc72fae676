// Package memory implements the storage contract on in-process maps. It
// exists for tests and for running the pipeline against small ad hoc
// datasets without a database; grouping and summing happen in Go instead of
// SQL but follow the same RecordReader contract as the SQL backends.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/Geeker1/wazimap-ng/internal/aggregate"
	"github.com/Geeker1/wazimap-ng/internal/store"
)

func init() {
	store.Register("memory", func(ctx context.Context, cfg store.Config) (store.Store, error) {
		return New(), nil
	})
}

// Store is the in-memory backend. The zero value is not usable; construct
// with New.
type Store struct {
	recMu   sync.RWMutex
	records map[int64][]store.RawRecord

	dataMu sync.Mutex
	data   map[int64][]aggregate.IndicatorData
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		records: make(map[int64][]store.RawRecord),
		data:    make(map[int64][]aggregate.IndicatorData),
	}
}

// InsertRecords appends records to a dataset. Record data maps are copied so
// later caller mutations cannot leak in.
func (s *Store) InsertRecords(ctx context.Context, datasetID int64, recs []store.RawRecord) (int64, error) {
	s.recMu.Lock()
	defer s.recMu.Unlock()
	for _, r := range recs {
		data := make(map[string]string, len(r.Data))
		for k, v := range r.Data {
			data[k] = v
		}
		s.records[datasetID] = append(s.records[datasetID], store.RawRecord{
			GeographyID: r.GeographyID,
			Data:        data,
		})
	}
	return int64(len(recs)), nil
}

// DistinctValues returns the sorted distinct values of one column across the
// dataset. Records lacking the column are skipped.
func (s *Store) DistinctValues(ctx context.Context, datasetID int64, group string) ([]string, error) {
	s.recMu.RLock()
	defer s.recMu.RUnlock()

	seen := make(map[string]struct{})
	for _, r := range s.records[datasetID] {
		if v, ok := r.Data[group]; ok {
			seen[v] = struct{}{}
		}
	}
	values := make([]string, 0, len(seen))
	for v := range seen {
		values = append(values, v)
	}
	sort.Strings(values)
	return values, nil
}

// GroupedCounts filters, groups, and sums raw records in Go, mirroring what
// the SQL backends push down to the database.
func (s *Store) GroupedCounts(ctx context.Context, q aggregate.CountQuery) ([]aggregate.ExtractedRow, error) {
	s.recMu.RLock()
	defer s.recMu.RUnlock()

	type key struct {
		geo    string
		values string
	}
	sums := make(map[key]*aggregate.ExtractedRow)

records:
	for _, r := range s.records[q.DatasetID] {
		for _, k := range q.HasKeys {
			if _, ok := r.Data[k]; !ok {
				continue records
			}
		}
		for _, f := range q.Filters {
			if r.Data[f.Group] != f.Value {
				continue records
			}
		}
		raw, ok := r.Data[store.CountColumn]
		if !ok || raw == "" {
			continue
		}
		count, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, &aggregate.DataError{
				Reason: fmt.Sprintf("dataset %d geography %s: count %q is not numeric", q.DatasetID, r.GeographyID, raw),
			}
		}

		parts := make([]string, len(q.Columns))
		for i, c := range q.Columns {
			parts[i] = r.Data[c]
		}
		k := key{geo: r.GeographyID, values: strings.Join(parts, "\x00")}
		row, ok := sums[k]
		if !ok {
			values := make(map[string]string, len(q.Columns))
			for i, c := range q.Columns {
				values[c] = parts[i]
			}
			row = &aggregate.ExtractedRow{GeographyID: r.GeographyID, Values: values}
			sums[k] = row
		}
		row.Count += count
	}

	rows := make([]aggregate.ExtractedRow, 0, len(sums))
	for _, r := range sums {
		rows = append(rows, *r)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].GeographyID != rows[j].GeographyID {
			return rows[i].GeographyID < rows[j].GeographyID
		}
		for _, c := range q.Columns {
			if rows[i].Values[c] != rows[j].Values[c] {
				return rows[i].Values[c] < rows[j].Values[c]
			}
		}
		return false
	})
	return rows, nil
}

// IndicatorData returns a copy of the current output set, ordered by
// geography ascending.
func (s *Store) IndicatorData(ctx context.Context, indicatorID int64) ([]aggregate.IndicatorData, error) {
	s.dataMu.Lock()
	defer s.dataMu.Unlock()

	rows := make([]aggregate.IndicatorData, len(s.data[indicatorID]))
	copy(rows, s.data[indicatorID])
	sort.Slice(rows, func(i, j int) bool { return rows[i].GeographyID < rows[j].GeographyID })
	return rows, nil
}

type memTx struct {
	s *Store
}

func (t memTx) DeleteIndicatorData(ctx context.Context, indicatorID int64) error {
	delete(t.s.data, indicatorID)
	return nil
}

func (t memTx) InsertIndicatorData(ctx context.Context, rows []aggregate.IndicatorData) (int64, error) {
	for _, r := range rows {
		cur := t.s.data[r.IndicatorID]
		next := make([]aggregate.IndicatorData, 0, len(cur)+1)
		next = append(next, cur...)
		next = append(next, r)
		t.s.data[r.IndicatorID] = next
	}
	return int64(len(rows)), nil
}

// RunInTx runs fn against the output map under the data lock, restoring a
// pre-call snapshot if fn fails. Inserts always allocate fresh slices, so the
// shallow snapshot never aliases post-call state.
func (s *Store) RunInTx(ctx context.Context, fn func(tx store.Tx) error) error {
	s.dataMu.Lock()
	defer s.dataMu.Unlock()

	snapshot := make(map[int64][]aggregate.IndicatorData, len(s.data))
	for k, v := range s.data {
		snapshot[k] = v
	}
	if err := fn(memTx{s: s}); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

// EnsureSchema is a no-op; the maps are created by New.
func (s *Store) EnsureSchema(ctx context.Context) error { return nil }

func (s *Store) Close() {}
