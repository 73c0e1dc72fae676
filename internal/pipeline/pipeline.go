// Package pipeline ties the pieces together: it drives a full recompute of
// one or more indicators against a Store, wrapping the delete-and-repersist
// sequence in a single transaction so readers never observe a partial output
// set.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/Geeker1/wazimap-ng/internal/aggregate"
	"github.com/Geeker1/wazimap-ng/internal/metrics"
	"github.com/Geeker1/wazimap-ng/internal/store"
)

// RunSummary reports what one indicator recompute produced.
type RunSummary struct {
	IndicatorID int64  `json:"indicator_id"`
	Name        string `json:"name"`
	// Geographies is the number of distinct geographies written.
	Geographies int `json:"geographies"`
	// RecordCount is the number of output rows persisted.
	RecordCount int64 `json:"record_count"`
	// Elapsed is the wall-clock duration of the whole run.
	Elapsed time.Duration `json:"elapsed"`
}

// Orchestrator recomputes indicator output sets.
type Orchestrator struct {
	store   store.Store
	workers int
}

// New returns an Orchestrator reading from and writing to st. workers bounds
// the aggregation fan-out; values < 1 select the default.
func New(st store.Store, workers int) *Orchestrator {
	return &Orchestrator{store: st, workers: workers}
}

// Recompute replaces the stored output set for ind.
//
// The old rows are deleted, the aggregation runs, and the replacement rows
// are inserted, all inside one transaction. Any failure rolls back to the
// previous output set. Raw record reads go through the store's concurrent
// read path; only the output table is touched by the transaction.
func (o *Orchestrator) Recompute(ctx context.Context, ind aggregate.Indicator) (RunSummary, error) {
	sum := RunSummary{IndicatorID: ind.ID, Name: ind.Name}
	started := time.Now()

	err := o.store.RunInTx(ctx, func(tx store.Tx) error {
		if err := tx.DeleteIndicatorData(ctx, ind.ID); err != nil {
			return &aggregate.PersistenceError{Op: "delete indicator data", Err: err}
		}

		aggStart := time.Now()
		accs, err := aggregate.NewCoordinator(o.store, o.workers).Run(ctx, ind)
		metrics.RecordStep(ind.Name, "aggregate", err, time.Since(aggStart))
		if err != nil {
			return err
		}

		rows := buildRows(ind.ID, accs)

		persistStart := time.Now()
		n, err := tx.InsertIndicatorData(ctx, rows)
		metrics.RecordStep(ind.Name, "persist", err, time.Since(persistStart))
		if err != nil {
			return &aggregate.PersistenceError{Op: "insert indicator data", Err: err}
		}

		sum.Geographies = len(rows)
		sum.RecordCount = n
		return nil
	})
	sum.Elapsed = time.Since(started)
	if err != nil {
		return RunSummary{}, fmt.Errorf("recompute indicator %q: %w", ind.Name, err)
	}

	metrics.RecordRows(ind.Name, "persisted", sum.RecordCount)
	metrics.RecordGeographies(ind.Name, int64(sum.Geographies))
	log.Printf("pipeline: indicator=%s geographies=%d rows=%d elapsed=%s",
		ind.Name, sum.Geographies, sum.RecordCount, sum.Elapsed)
	return sum, nil
}

// RecomputeAll runs every indicator in order. A failing indicator does not
// stop the rest; its rolled-back output set stays as it was, and the
// collected errors come back joined after all runs finish.
func (o *Orchestrator) RecomputeAll(ctx context.Context, inds []aggregate.Indicator) ([]RunSummary, error) {
	var (
		summaries []RunSummary
		errs      []error
	)
	for _, ind := range inds {
		sum, err := o.Recompute(ctx, ind)
		if err != nil {
			log.Printf("pipeline: indicator=%s error=%v", ind.Name, err)
			errs = append(errs, err)
			continue
		}
		summaries = append(summaries, sum)
	}
	return summaries, errors.Join(errs...)
}

// buildRows flattens the accumulator map into output rows ordered by
// geography ascending, so repeated runs over the same records produce
// byte-identical output sets.
func buildRows(indicatorID int64, accs map[string]*aggregate.Accumulator) []aggregate.IndicatorData {
	geos := make([]string, 0, len(accs))
	for g := range accs {
		geos = append(geos, g)
	}
	sort.Strings(geos)

	rows := make([]aggregate.IndicatorData, 0, len(geos))
	for _, g := range geos {
		rows = append(rows, aggregate.IndicatorData{
			IndicatorID: indicatorID,
			GeographyID: g,
			Data:        accs[g].Data(),
		})
	}
	return rows
}
