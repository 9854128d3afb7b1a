package results

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const defaultTableName = "xsim_pairs"

// PostgresStore implements Store using a PostgreSQL table. Open the *sql.DB
// with the "postgres" driver from github.com/lib/pq.
type PostgresStore struct {
	db        *sql.DB
	tableName string
}

// NewPostgresStore creates the table if it does not exist.
func NewPostgresStore(ctx context.Context, db *sql.DB, tableName string) (*PostgresStore, error) {
	if tableName == "" {
		tableName = defaultTableName
	}
	s := &PostgresStore{db: db, tableName: tableName}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("results: migrate %s: %w", tableName, err)
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	q := `CREATE TABLE IF NOT EXISTS ` + s.tableName + ` (
		id BIGSERIAL PRIMARY KEY,
		run_id TEXT NOT NULL,
		corpus TEXT NOT NULL,
		split TEXT NOT NULL,
		source TEXT NOT NULL,
		target TEXT NOT NULL,
		margin TEXT NOT NULL,
		errors INT NOT NULL DEFAULT 0,
		examples INT NOT NULL DEFAULT 0,
		skipped BOOLEAN NOT NULL DEFAULT false,
		at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_` + s.tableName + `_pair ON ` + s.tableName + ` (source, target);
	CREATE INDEX IF NOT EXISTS idx_` + s.tableName + `_run ON ` + s.tableName + ` (run_id);`
	_, err := s.db.ExecContext(ctx, q)
	return err
}

// Record implements Store.
func (s *PostgresStore) Record(ctx context.Context, r PairRecord) error {
	if r.At.IsZero() {
		r.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO `+s.tableName+` (run_id, corpus, split, source, target, margin, errors, examples, skipped, at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		r.RunID, r.Corpus, r.Split, r.Source, r.Target, r.Margin, r.Errors, r.Examples, r.Skipped, r.At)
	return err
}

// buildQuery renders q as a grouped SELECT and its arguments.
func (s *PostgresStore) buildQuery(q Query) (string, []interface{}) {
	args := []interface{}{}
	where := "1=1"
	n := 1
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where += fmt.Sprintf(" AND "+cond, n)
		n++
	}
	if q.Corpus != "" {
		add("corpus = $%d", q.Corpus)
	}
	if q.Source != "" {
		add("source = $%d", q.Source)
	}
	if q.Target != "" {
		add("target = $%d", q.Target)
	}
	if q.RunID != "" {
		add("run_id = $%d", q.RunID)
	}
	if !q.From.IsZero() {
		add("at >= $%d", q.From)
	}
	if !q.To.IsZero() {
		add("at <= $%d", q.To)
	}

	groupCol := "'all'"
	switch q.GroupBy {
	case GroupBySource:
		groupCol = "source"
	case GroupByTarget:
		groupCol = "target"
	case GroupByPair:
		groupCol = "source || '-' || target"
	case GroupByRun:
		groupCol = "run_id"
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	args = append(args, limit)

	query := `SELECT ` + groupCol + ` AS key,
		COUNT(*)::bigint AS pairs,
		COUNT(*) FILTER (WHERE skipped)::bigint AS skipped,
		COALESCE(SUM(errors) FILTER (WHERE NOT skipped), 0)::bigint AS errors,
		COALESCE(SUM(examples) FILTER (WHERE NOT skipped), 0)::bigint AS examples
		FROM ` + s.tableName + `
		WHERE ` + where + `
		GROUP BY 1
		ORDER BY 1
		LIMIT ` + fmt.Sprintf("$%d", n)
	return query, args
}

// Query implements Store.
func (s *PostgresStore) Query(ctx context.Context, q Query) ([]Aggregate, error) {
	query, args := s.buildQuery(q)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Aggregate
	for rows.Next() {
		var a Aggregate
		var k sql.NullString
		if err := rows.Scan(&k, &a.Pairs, &a.Skipped, &a.Errors, &a.Examples); err != nil {
			return nil, err
		}
		if k.Valid {
			a.Key = k.String
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

var _ Store = (*PostgresStore)(nil)
