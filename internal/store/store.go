// Package store contains the storage-agnostic contracts for the raw record
// store and the computed indicator output, plus a factory so callers can open
// a backend by kind without importing driver packages.
//
// Backends (postgres, sqlite, mysql, memory) register a constructor at init
// time; importing store/all as a blank import makes every built-in backend
// available. The CLI and the pipeline depend only on this package.
package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/Geeker1/wazimap-ng/internal/aggregate"
)

// RawRecord is one decoded observation as produced by ingestion. Data holds
// every uploaded column, including the "count" value kept verbatim as a
// string (it may be empty; exclusion happens at query time).
type RawRecord struct {
	GeographyID string
	Data        map[string]string
}

// Tx is the mutation surface available inside one atomic recompute. Both
// operations act on the indicator_data output set only; raw records are
// read-only during a run.
type Tx interface {
	// DeleteIndicatorData removes every output row for the indicator.
	DeleteIndicatorData(ctx context.Context, indicatorID int64) error

	// InsertIndicatorData bulk-writes the replacement output set and reports
	// the number of rows written.
	InsertIndicatorData(ctx context.Context, rows []aggregate.IndicatorData) (int64, error)
}

// Store is a queryable raw record store plus the transactional output table.
//
// The embedded RecordReader methods must be safe for concurrent use; RunInTx
// serializes the delete-then-repersist sequence for an indicator so readers
// observe either the fully old or fully new output set, never a mix.
type Store interface {
	aggregate.RecordReader

	// InsertRecords appends raw records to a dataset (ingestion path) and
	// reports the number of rows written.
	InsertRecords(ctx context.Context, datasetID int64, recs []RawRecord) (int64, error)

	// IndicatorData returns the current output set for an indicator, ordered
	// by geography ascending. Primarily a read-side and test surface.
	IndicatorData(ctx context.Context, indicatorID int64) ([]aggregate.IndicatorData, error)

	// RunInTx runs fn inside one atomic unit of work. fn returning an error
	// rolls back every mutation made through the Tx.
	RunInTx(ctx context.Context, fn func(tx Tx) error) error

	// EnsureSchema creates the backing tables when they do not exist.
	EnsureSchema(ctx context.Context) error

	Close()
}

// Config selects and parameterizes a backend.
type Config struct {
	// Kind names a registered backend: "postgres", "sqlite", "mysql",
	// "memory".
	Kind string `json:"kind"`

	// DSN is the backend connection string; ignored by the memory backend.
	DSN string `json:"dsn"`

	// DatasetTable and DataTable override the default table names
	// ("dataset_rows", "indicator_data") when non-empty.
	DatasetTable string `json:"dataset_table"`
	DataTable    string `json:"data_table"`

	// AutoCreate makes callers run EnsureSchema after opening.
	AutoCreate bool `json:"auto_create"`
}

// Factory constructs a Store for a Config.
type Factory func(ctx context.Context, cfg Config) (Store, error)

var (
	regMu     sync.RWMutex
	factories = map[string]Factory{}
)

// Register installs (or replaces) the factory for a backend kind. It is
// typically called from backend packages' init functions.
func Register(kind string, fn Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	factories[kind] = fn
}

// New opens a Store for cfg.Kind. Unknown kinds return an error listing
// nothing; callers wanting all built-ins should blank-import store/all.
func New(ctx context.Context, cfg Config) (Store, error) {
	regMu.RLock()
	fn, ok := factories[cfg.Kind]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no storage backend registered for kind=%q", cfg.Kind)
	}
	return fn(ctx, cfg)
}

// Default table names shared by the SQL backends.
const (
	DefaultDatasetTable = "dataset_rows"
	DefaultDataTable    = "indicator_data"
)

// CountColumn is the reserved key inside RawRecord.Data holding the
// observation's count. Records whose count is absent or empty are excluded
// from aggregation; a present non-numeric count is a data error.
const CountColumn = "count"

// TableNames resolves the configured or default table names.
func (c Config) TableNames() (datasetTable, dataTable string) {
	datasetTable, dataTable = c.DatasetTable, c.DataTable
	if datasetTable == "" {
		datasetTable = DefaultDatasetTable
	}
	if dataTable == "" {
		dataTable = DefaultDataTable
	}
	return datasetTable, dataTable
}
