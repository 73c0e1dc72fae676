// Package mysql implements the storage contract on MySQL 5.7+ via
// go-sql-driver. Raw record payloads are stored in a JSON column and queried
// with JSON_EXTRACT/JSON_CONTAINS_PATH so grouping and summing run inside the
// server. It registers itself with the storage factory at init time under
// kind "mysql".
package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"

	"github.com/Geeker1/wazimap-ng/internal/aggregate"
	"github.com/Geeker1/wazimap-ng/internal/store"
)

func init() {
	store.Register("mysql", func(ctx context.Context, cfg store.Config) (store.Store, error) {
		return Open(ctx, cfg)
	})
}

// Store is the MySQL backend.
type Store struct {
	db           *sql.DB
	datasetTable string
	dataTable    string
}

var _ store.Store = (*Store)(nil)

// Open connects with a go-sql-driver DSN such as
// "user:pass@tcp(127.0.0.1:3306)/wazimap?parseTime=true".
func Open(ctx context.Context, cfg store.Config) (*Store, error) {
	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("mysql open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("mysql ping: %w", err)
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

// EnsureSchema creates both tables and their lookup indexes when missing.
// MySQL has no CREATE INDEX IF NOT EXISTS, so the indexes ride along in the
// table definitions.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			dataset_id BIGINT NOT NULL,
			geography_id VARCHAR(128) NOT NULL,
			data JSON NOT NULL,
			INDEX (dataset_id)
		)`, myIdent(s.datasetTable)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			indicator_id BIGINT NOT NULL,
			geography_id VARCHAR(128) NOT NULL,
			data JSON NOT NULL,
			UNIQUE KEY (indicator_id, geography_id)
		)`, myIdent(s.dataTable)),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("mysql schema: %w", err)
		}
	}
	return nil
}

// jsonPath builds the MySQL JSON path for a column key, quoting it so dots
// and spaces in uploaded header names stay one path leg.
func jsonPath(key string) string {
	return `$."` + strings.ReplaceAll(key, `"`, `\"`) + `"`
}

// InsertRecords appends raw records inside one transaction using multi-row
// INSERT batches.
func (s *Store) InsertRecords(ctx context.Context, datasetID int64, recs []store.RawRecord) (int64, error) {
	const batchSize = 500

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("mysql begin: %w", err)
	}
	defer tx.Rollback()

	var n int64
	for start := 0; start < len(recs); start += batchSize {
		end := min(start+batchSize, len(recs))
		batch := recs[start:end]

		var (
			sb   strings.Builder
			args []any
		)
		fmt.Fprintf(&sb, `INSERT INTO %s (dataset_id, geography_id, data) VALUES `, myIdent(s.datasetTable))
		for i, r := range batch {
			payload, err := json.Marshal(r.Data)
			if err != nil {
				return 0, fmt.Errorf("encode record for geography %s: %w", r.GeographyID, err)
			}
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("(?, ?, ?)")
			args = append(args, datasetID, r.GeographyID, string(payload))
		}
		res, err := tx.ExecContext(ctx, sb.String(), args...)
		if err != nil {
			return 0, fmt.Errorf("mysql insert records: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("mysql rows affected: %w", err)
		}
		n += affected
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("mysql commit: %w", err)
	}
	return n, nil
}

// DistinctValues returns the sorted distinct values of one payload key across
// a dataset.
func (s *Store) DistinctValues(ctx context.Context, datasetID int64, group string) ([]string, error) {
	query := fmt.Sprintf(
		`SELECT DISTINCT JSON_UNQUOTE(JSON_EXTRACT(data, ?)) FROM %s
		 WHERE dataset_id = ? AND JSON_CONTAINS_PATH(data, 'one', ?)
		 ORDER BY 1`, myIdent(s.datasetTable))

	path := jsonPath(group)
	rows, err := s.db.QueryContext(ctx, query, path, datasetID, path)
	if err != nil {
		return nil, fmt.Errorf("mysql distinct %q: %w", group, err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("mysql distinct scan: %w", err)
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// groupedCountsSQL builds the push-down aggregation query for q. MySQL does
// not accept ordinals in GROUP BY under ONLY_FULL_GROUP_BY, so the extract
// expressions are repeated with their own bound paths.
func groupedCountsSQL(datasetTable string, q aggregate.CountQuery) (string, []any) {
	var (
		sb   strings.Builder
		args []any
	)
	extract := func(key string) string {
		args = append(args, jsonPath(key))
		return "JSON_UNQUOTE(JSON_EXTRACT(data, ?))"
	}

	sb.WriteString("SELECT geography_id")
	for _, c := range q.Columns {
		sb.WriteString(", " + extract(c))
	}
	sb.WriteString(", SUM(CAST(" + extract(store.CountColumn) + " AS DOUBLE))")

	fmt.Fprintf(&sb, " FROM %s WHERE dataset_id = ?", myIdent(datasetTable))
	args = append(args, q.DatasetID)

	sb.WriteString(" AND " + extract(store.CountColumn) + " IS NOT NULL")
	sb.WriteString(" AND " + extract(store.CountColumn) + " <> ''")

	for _, k := range q.HasKeys {
		sb.WriteString(" AND JSON_CONTAINS_PATH(data, 'one', ?)")
		args = append(args, jsonPath(k))
	}
	for _, f := range q.Filters {
		sb.WriteString(" AND " + extract(f.Group) + " = ?")
		args = append(args, f.Value)
	}

	sb.WriteString(" GROUP BY geography_id")
	for _, c := range q.Columns {
		sb.WriteString(", " + extract(c))
	}
	sb.WriteString(" ORDER BY geography_id")
	for _, c := range q.Columns {
		sb.WriteString(", " + extract(c))
	}

	return sb.String(), args
}

// GroupedCounts pushes the filter, group, and sum down to MySQL. Rows with an
// absent or empty count are excluded in the WHERE clause; the DOUBLE cast
// assumes ingestion rejected non-numeric counts.
func (s *Store) GroupedCounts(ctx context.Context, q aggregate.CountQuery) ([]aggregate.ExtractedRow, error) {
	query, args := groupedCountsSQL(s.datasetTable, q)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("mysql grouped counts: %w", err)
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
			return nil, fmt.Errorf("mysql grouped scan: %w", err)
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
		`SELECT geography_id, data FROM %s WHERE indicator_id = ? ORDER BY geography_id`,
		myIdent(s.dataTable))
	rows, err := s.db.QueryContext(ctx, query, indicatorID)
	if err != nil {
		return nil, fmt.Errorf("mysql indicator data: %w", err)
	}
	defer rows.Close()

	var out []aggregate.IndicatorData
	for rows.Next() {
		var (
			geo     string
			payload []byte
		)
		if err := rows.Scan(&geo, &payload); err != nil {
			return nil, fmt.Errorf("mysql indicator data scan: %w", err)
		}
		var data aggregate.Data
		if err := json.Unmarshal(payload, &data); err != nil {
			return nil, fmt.Errorf("decode indicator data for geography %s: %w", geo, err)
		}
		out = append(out, aggregate.IndicatorData{IndicatorID: indicatorID, GeographyID: geo, Data: data})
	}
	return out, rows.Err()
}

type myTx struct {
	tx        *sql.Tx
	dataTable string
}

func (t myTx) DeleteIndicatorData(ctx context.Context, indicatorID int64) error {
	_, err := t.tx.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE indicator_id = ?`, myIdent(t.dataTable)), indicatorID)
	if err != nil {
		return fmt.Errorf("mysql delete indicator data: %w", err)
	}
	return nil
}

func (t myTx) InsertIndicatorData(ctx context.Context, rows []aggregate.IndicatorData) (int64, error) {
	stmt, err := t.tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (indicator_id, geography_id, data) VALUES (?, ?, ?)`, myIdent(t.dataTable)))
	if err != nil {
		return 0, fmt.Errorf("mysql prepare insert: %w", err)
	}
	defer stmt.Close()

	var n int64
	for _, r := range rows {
		payload, err := json.Marshal(r.Data)
		if err != nil {
			return 0, fmt.Errorf("encode indicator data for geography %s: %w", r.GeographyID, err)
		}
		if _, err := stmt.ExecContext(ctx, r.IndicatorID, r.GeographyID, string(payload)); err != nil {
			return 0, fmt.Errorf("mysql insert indicator data: %w", err)
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
		return fmt.Errorf("mysql begin: %w", err)
	}
	if err := fn(myTx{tx: tx, dataTable: s.dataTable}); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("mysql commit: %w", err)
	}
	return nil
}

func (s *Store) Close() { s.db.Close() }

// myIdent quotes an identifier with backticks.
func myIdent(id string) string { return "`" + strings.ReplaceAll(id, "`", "``") + "`" }
