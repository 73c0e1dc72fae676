// Package postgres implements the storage contract on Postgres using pgx v5.
// Raw record payloads live in a JSONB column; subindicator discovery and
// count aggregation are pushed down with the ->> and ?& operators so only
// grouped sums cross the wire. The replacement output set is written with
// COPY inside the recompute transaction. The package registers itself with
// the storage factory at init time under kind "postgres".
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Geeker1/wazimap-ng/internal/aggregate"
	"github.com/Geeker1/wazimap-ng/internal/store"
)

func init() {
	store.Register("postgres", func(ctx context.Context, cfg store.Config) (store.Store, error) {
		return Open(ctx, cfg)
	})
}

// Store is the Postgres backend.
type Store struct {
	pool         *pgxpool.Pool
	datasetTable string
	dataTable    string
}

var _ store.Store = (*Store)(nil)

// Open creates a connection pool for cfg.DSN.
func Open(ctx context.Context, cfg store.Config) (*Store, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	datasetTable, dataTable := cfg.TableNames()
	s := &Store{pool: pool, datasetTable: datasetTable, dataTable: dataTable}
	if cfg.AutoCreate {
		if err := s.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return s, nil
}

// EnsureSchema creates both tables plus the lookup and JSONB containment
// indexes when they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id bigserial PRIMARY KEY,
			dataset_id bigint NOT NULL,
			geography_id text NOT NULL,
			data jsonb NOT NULL
		)`, pgFQN(s.datasetTable)),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (dataset_id)`,
			pgIdent(flatName(s.datasetTable)+"_dataset_idx"), pgFQN(s.datasetTable)),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s USING gin (data jsonb_path_ops)`,
			pgIdent(flatName(s.datasetTable)+"_data_idx"), pgFQN(s.datasetTable)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id bigserial PRIMARY KEY,
			indicator_id bigint NOT NULL,
			geography_id text NOT NULL,
			data jsonb NOT NULL
		)`, pgFQN(s.dataTable)),
		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (indicator_id, geography_id)`,
			pgIdent(flatName(s.dataTable)+"_indicator_geo_idx"), pgFQN(s.dataTable)),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres schema: %w", err)
		}
	}
	return nil
}

// InsertRecords bulk-loads raw records with COPY.
func (s *Store) InsertRecords(ctx context.Context, datasetID int64, recs []store.RawRecord) (int64, error) {
	rows := make([][]any, 0, len(recs))
	for _, r := range recs {
		payload, err := json.Marshal(r.Data)
		if err != nil {
			return 0, fmt.Errorf("encode record for geography %s: %w", r.GeographyID, err)
		}
		rows = append(rows, []any{datasetID, r.GeographyID, string(payload)})
	}
	n, err := s.pool.CopyFrom(ctx, splitFQN(s.datasetTable),
		[]string{"dataset_id", "geography_id", "data"}, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, fmt.Errorf("copy records: %w", err)
	}
	return n, nil
}

// distinctSQL builds the subindicator discovery query. The column key is
// bound, never interpolated; $1 doubles as the ->> accessor and the ?
// key-existence probe.
func distinctSQL(datasetTable string) string {
	return fmt.Sprintf(
		`SELECT DISTINCT data->>$1 FROM %s WHERE dataset_id = $2 AND data ? $1 ORDER BY 1`,
		pgFQN(datasetTable))
}

// DistinctValues returns the sorted distinct values of one payload key across
// a dataset.
func (s *Store) DistinctValues(ctx context.Context, datasetID int64, group string) ([]string, error) {
	rows, err := s.pool.Query(ctx, distinctSQL(s.datasetTable), group, datasetID)
	if err != nil {
		return nil, fmt.Errorf("postgres distinct %q: %w", group, err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("postgres distinct scan: %w", err)
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// groupedCountsSQL builds the push-down aggregation query for q and returns
// it with its bind arguments. Key presence for every grouped column is one
// ?& check against a text array; grouping and ordering use output ordinals.
func groupedCountsSQL(datasetTable string, q aggregate.CountQuery) (string, []any) {
	var (
		sb   strings.Builder
		args []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	sb.WriteString("SELECT geography_id")
	for _, c := range q.Columns {
		fmt.Fprintf(&sb, ", data->>%s", arg(c))
	}
	countRef := arg(store.CountColumn)
	fmt.Fprintf(&sb, ", SUM((data->>%s)::double precision)", countRef)

	fmt.Fprintf(&sb, " FROM %s WHERE dataset_id = %s", pgFQN(datasetTable), arg(q.DatasetID))
	fmt.Fprintf(&sb, " AND data->>%s IS NOT NULL AND data->>%s <> ''", countRef, countRef)
	if len(q.HasKeys) > 0 {
		fmt.Fprintf(&sb, " AND data ?& %s", arg(q.HasKeys))
	}
	for _, f := range q.Filters {
		fmt.Fprintf(&sb, " AND data->>%s = %s", arg(f.Group), arg(f.Value))
	}

	ordinals := make([]string, 0, len(q.Columns)+1)
	for i := 0; i < len(q.Columns)+1; i++ {
		ordinals = append(ordinals, fmt.Sprint(i+1))
	}
	list := strings.Join(ordinals, ", ")
	fmt.Fprintf(&sb, " GROUP BY %s ORDER BY %s", list, list)

	return sb.String(), args
}

// GroupedCounts pushes the filter, group, and sum down to Postgres. Rows with
// an absent or empty count are excluded in the WHERE clause; the double
// precision cast assumes ingestion rejected non-numeric counts.
func (s *Store) GroupedCounts(ctx context.Context, q aggregate.CountQuery) ([]aggregate.ExtractedRow, error) {
	query, args := groupedCountsSQL(s.datasetTable, q)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres grouped counts: %w", err)
	}
	defer rows.Close()

	var out []aggregate.ExtractedRow
	for rows.Next() {
		var (
			geo   string
			count float64
		)
		vals := make([]string, len(q.Columns))
		dest := make([]any, 0, len(q.Columns)+2)
		dest = append(dest, &geo)
		for i := range vals {
			dest = append(dest, &vals[i])
		}
		dest = append(dest, &count)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("postgres grouped scan: %w", err)
		}
		m := make(map[string]string, len(q.Columns))
		for i, c := range q.Columns {
			m[c] = vals[i]
		}
		out = append(out, aggregate.ExtractedRow{GeographyID: geo, Values: m, Count: count})
	}
	return out, rows.Err()
}

// IndicatorData returns the stored output set ordered by geography.
func (s *Store) IndicatorData(ctx context.Context, indicatorID int64) ([]aggregate.IndicatorData, error) {
	query := fmt.Sprintf(
		`SELECT geography_id, data FROM %s WHERE indicator_id = $1 ORDER BY geography_id`,
		pgFQN(s.dataTable))
	rows, err := s.pool.Query(ctx, query, indicatorID)
	if err != nil {
		return nil, fmt.Errorf("postgres indicator data: %w", err)
	}
	defer rows.Close()

	var out []aggregate.IndicatorData
	for rows.Next() {
		var (
			geo     string
			payload []byte
		)
		if err := rows.Scan(&geo, &payload); err != nil {
			return nil, fmt.Errorf("postgres indicator data scan: %w", err)
		}
		var data aggregate.Data
		if err := json.Unmarshal(payload, &data); err != nil {
			return nil, fmt.Errorf("decode indicator data for geography %s: %w", geo, err)
		}
		out = append(out, aggregate.IndicatorData{IndicatorID: indicatorID, GeographyID: geo, Data: data})
	}
	return out, rows.Err()
}

type pgTx struct {
	tx        pgx.Tx
	dataTable string
}

func (t pgTx) DeleteIndicatorData(ctx context.Context, indicatorID int64) error {
	_, err := t.tx.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE indicator_id = $1`, pgFQN(t.dataTable)), indicatorID)
	if err != nil {
		return fmt.Errorf("postgres delete indicator data: %w", err)
	}
	return nil
}

func (t pgTx) InsertIndicatorData(ctx context.Context, rows []aggregate.IndicatorData) (int64, error) {
	copyRows := make([][]any, 0, len(rows))
	for _, r := range rows {
		payload, err := json.Marshal(r.Data)
		if err != nil {
			return 0, fmt.Errorf("encode indicator data for geography %s: %w", r.GeographyID, err)
		}
		copyRows = append(copyRows, []any{r.IndicatorID, r.GeographyID, string(payload)})
	}
	n, err := t.tx.CopyFrom(ctx, splitFQN(t.dataTable),
		[]string{"indicator_id", "geography_id", "data"}, pgx.CopyFromRows(copyRows))
	if err != nil {
		return 0, fmt.Errorf("copy indicator data: %w", err)
	}
	return n, nil
}

// RunInTx wraps fn in a database transaction on one pooled connection; any
// error from fn rolls the whole unit back.
func (s *Store) RunInTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres begin: %w", err)
	}
	if err := fn(pgTx{tx: tx, dataTable: s.dataTable}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres commit: %w", err)
	}
	return nil
}

func (s *Store) Close() { s.pool.Close() }

// pgIdent safely quotes a single identifier segment.
func pgIdent(id string) string { return `"` + strings.ReplaceAll(id, `"`, `""`) + `"` }

// pgFQN quotes a possibly schema-qualified name like "public.dataset_rows" to
// "public"."dataset_rows".
func pgFQN(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = pgIdent(p)
	}
	return strings.Join(parts, ".")
}

// flatName turns a possibly qualified table name into a flat token usable in
// index names.
func flatName(name string) string { return strings.ReplaceAll(name, ".", "_") }

// splitFQN converts "schema.table" into a pgx.Identifier {"schema","table"}.
func splitFQN(fqn string) pgx.Identifier {
	parts := strings.Split(fqn, ".")
	id := make(pgx.Identifier, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			id = append(id, p)
		}
	}
	return id
}
