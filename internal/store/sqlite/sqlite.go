// Package sqlite implements the storage contract on SQLite via the CGO-free
// modernc.org driver. Raw record payloads are stored as JSON text and queried
// with json_extract/json_type, so grouping and summing run inside the engine
// just like the server backends. It registers itself with the storage factory
// at init time under kind "sqlite".
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Geeker1/wazimap-ng/internal/aggregate"
	"github.com/Geeker1/wazimap-ng/internal/store"

	_ "modernc.org/sqlite"
)

func init() {
	store.Register("sqlite", func(ctx context.Context, cfg store.Config) (store.Store, error) {
		return Open(ctx, cfg)
	})
}

// Store is the SQLite backend.
type Store struct {
	db           *sql.DB
	datasetTable string
	dataTable    string
}

var _ store.Store = (*Store)(nil)

// Open connects to the database named by cfg.DSN. A DSN like
// "file::memory:?mode=memory&cache=shared" yields a process-local scratch
// database, which is what the tests use.
func Open(ctx context.Context, cfg store.Config) (*Store, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite ping: %w", err)
	}
	datasetTable, dataTable := cfg.TableNames()
	s := &Store{db: db, datasetTable: datasetTable, dataTable: dataTable}
	if cfg.AutoCreate {
		if err := s.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}
	return s, nil
}

// EnsureSchema creates the two tables and their lookup indexes when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			dataset_id INTEGER NOT NULL,
			geography_id TEXT NOT NULL,
			data TEXT NOT NULL
		)`, s.datasetTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %q ON %q (dataset_id)`,
			s.datasetTable+"_dataset_idx", s.datasetTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			indicator_id INTEGER NOT NULL,
			geography_id TEXT NOT NULL,
			data TEXT NOT NULL
		)`, s.dataTable),
		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %q ON %q (indicator_id, geography_id)`,
			s.dataTable+"_indicator_geo_idx", s.dataTable),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite schema: %w", err)
		}
	}
	return nil
}

// jsonPath builds the SQLite JSON path for a column key. The key is quoted so
// dots and spaces in uploaded header names do not split the path.
func jsonPath(key string) string {
	return `$."` + strings.ReplaceAll(key, `"`, `\"`) + `"`
}

// InsertRecords appends raw records inside one transaction using a prepared
// statement per batch.
func (s *Store) InsertRecords(ctx context.Context, datasetID int64, recs []store.RawRecord) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT INTO %q (dataset_id, geography_id, data) VALUES (?, ?, ?)`, s.datasetTable))
	if err != nil {
		return 0, fmt.Errorf("sqlite prepare insert: %w", err)
	}
	defer stmt.Close()

	var n int64
	for _, r := range recs {
		payload, err := json.Marshal(r.Data)
		if err != nil {
			return 0, fmt.Errorf("encode record for geography %s: %w", r.GeographyID, err)
		}
		if _, err := stmt.ExecContext(ctx, datasetID, r.GeographyID, string(payload)); err != nil {
			return 0, fmt.Errorf("sqlite insert record: %w", err)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite commit: %w", err)
	}
	return n, nil
}

// DistinctValues returns the sorted distinct values of one payload key across
// a dataset. json_type is used for key presence so empty strings still count.
func (s *Store) DistinctValues(ctx context.Context, datasetID int64, group string) ([]string, error) {
	query := fmt.Sprintf(
		`SELECT DISTINCT json_extract(data, ?) FROM %q
		 WHERE dataset_id = ? AND json_type(data, ?) IS NOT NULL
		 ORDER BY 1`, s.datasetTable)

	path := jsonPath(group)
	rows, err := s.db.QueryContext(ctx, query, path, datasetID, path)
	if err != nil {
		return nil, fmt.Errorf("sqlite distinct %q: %w", group, err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("sqlite distinct scan: %w", err)
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// GroupedCounts pushes the filter, group, and sum down to SQLite. Rows whose
// count is absent or empty are excluded by the WHERE clause; the numeric cast
// follows SQLite affinity, so ingestion is responsible for rejecting
// non-numeric counts before they land here.
func (s *Store) GroupedCounts(ctx context.Context, q aggregate.CountQuery) ([]aggregate.ExtractedRow, error) {
	var (
		sb   strings.Builder
		args []any
	)

	sb.WriteString("SELECT geography_id")
	for _, c := range q.Columns {
		sb.WriteString(", json_extract(data, ?)")
		args = append(args, jsonPath(c))
	}
	sb.WriteString(", SUM(CAST(json_extract(data, ?) AS REAL))")
	args = append(args, jsonPath(store.CountColumn))

	fmt.Fprintf(&sb, " FROM %q WHERE dataset_id = ?", s.datasetTable)
	args = append(args, q.DatasetID)

	sb.WriteString(" AND json_extract(data, ?) IS NOT NULL AND json_extract(data, ?) <> ''")
	args = append(args, jsonPath(store.CountColumn), jsonPath(store.CountColumn))

	for _, k := range q.HasKeys {
		sb.WriteString(" AND json_type(data, ?) IS NOT NULL")
		args = append(args, jsonPath(k))
	}
	for _, f := range q.Filters {
		sb.WriteString(" AND json_extract(data, ?) = ?")
		args = append(args, jsonPath(f.Group), f.Value)
	}

	sb.WriteString(" GROUP BY geography_id")
	for _, c := range q.Columns {
		sb.WriteString(", json_extract(data, ?)")
		args = append(args, jsonPath(c))
	}
	sb.WriteString(" ORDER BY geography_id")
	for _, c := range q.Columns {
		sb.WriteString(", json_extract(data, ?)")
		args = append(args, jsonPath(c))
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite grouped counts: %w", err)
	}
	defer rows.Close()

	return scanGrouped(rows, q.Columns)
}

// scanGrouped decodes geography + one column per grouped key + the summed
// count into ExtractedRow values.
func scanGrouped(rows *sql.Rows, columns []string) ([]aggregate.ExtractedRow, error) {
	var out []aggregate.ExtractedRow
	for rows.Next() {
		var (
			geo   string
			count float64
		)
		vals := make([]string, len(columns))
		dest := make([]any, 0, len(columns)+2)
		dest = append(dest, &geo)
		for i := range vals {
			dest = append(dest, &vals[i])
		}
		dest = append(dest, &count)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("sqlite grouped scan: %w", err)
		}
		m := make(map[string]string, len(columns))
		for i, c := range columns {
			m[c] = vals[i]
		}
		out = append(out, aggregate.ExtractedRow{GeographyID: geo, Values: m, Count: count})
	}
	return out, rows.Err()
}

// IndicatorData returns the stored output set ordered by geography.
func (s *Store) IndicatorData(ctx context.Context, indicatorID int64) ([]aggregate.IndicatorData, error) {
	query := fmt.Sprintf(
		`SELECT geography_id, data FROM %q WHERE indicator_id = ? ORDER BY geography_id`, s.dataTable)
	rows, err := s.db.QueryContext(ctx, query, indicatorID)
	if err != nil {
		return nil, fmt.Errorf("sqlite indicator data: %w", err)
	}
	defer rows.Close()

	var out []aggregate.IndicatorData
	for rows.Next() {
		var (
			geo     string
			payload string
		)
		if err := rows.Scan(&geo, &payload); err != nil {
			return nil, fmt.Errorf("sqlite indicator data scan: %w", err)
		}
		var data aggregate.Data
		if err := json.Unmarshal([]byte(payload), &data); err != nil {
			return nil, fmt.Errorf("decode indicator data for geography %s: %w", geo, err)
		}
		out = append(out, aggregate.IndicatorData{IndicatorID: indicatorID, GeographyID: geo, Data: data})
	}
	return out, rows.Err()
}

type sqliteTx struct {
	tx        *sql.Tx
	dataTable string
}

func (t sqliteTx) DeleteIndicatorData(ctx context.Context, indicatorID int64) error {
	_, err := t.tx.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %q WHERE indicator_id = ?`, t.dataTable), indicatorID)
	if err != nil {
		return fmt.Errorf("sqlite delete indicator data: %w", err)
	}
	return nil
}

func (t sqliteTx) InsertIndicatorData(ctx context.Context, rows []aggregate.IndicatorData) (int64, error) {
	stmt, err := t.tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT INTO %q (indicator_id, geography_id, data) VALUES (?, ?, ?)`, t.dataTable))
	if err != nil {
		return 0, fmt.Errorf("sqlite prepare insert: %w", err)
	}
	defer stmt.Close()

	var n int64
	for _, r := range rows {
		payload, err := json.Marshal(r.Data)
		if err != nil {
			return 0, fmt.Errorf("encode indicator data for geography %s: %w", r.GeographyID, err)
		}
		if _, err := stmt.ExecContext(ctx, r.IndicatorID, r.GeographyID, string(payload)); err != nil {
			return 0, fmt.Errorf("sqlite insert indicator data: %w", err)
		}
		n++
	}
	return n, nil
}

// RunInTx wraps fn in a database transaction; any error from fn rolls the
// whole unit back.
func (s *Store) RunInTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}
	if err := fn(sqliteTx{tx: tx, dataTable: s.dataTable}); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite commit: %w", err)
	}
	return nil
}

func (s *Store) Close() { s.db.Close() }
