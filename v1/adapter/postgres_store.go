package adapter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	gerrors "github.com/mirkobrombin/go-gracelock/v1/errors"
	"github.com/mirkobrombin/go-gracelock/v1/record"
)

// PostgresStore implements RecordStore on a pgx connection pool with
// native DATE, JSONB and TIMESTAMPTZ columns.
type PostgresStore struct {
	pool    *pgxpool.Pool
	table   string
	timeout time.Duration
	enc     rowEncoding
	now     func() time.Time
}

// PostgresOption configures a PostgresStore.
type PostgresOption func(*PostgresStore)

// WithPostgresTable overrides the table name.
func WithPostgresTable(name string) PostgresOption {
	return func(s *PostgresStore) { s.table = name }
}

// WithPostgresTimeout sets the per-statement timeout.
func WithPostgresTimeout(d time.Duration) PostgresOption {
	return func(s *PostgresStore) { s.timeout = d }
}

// NewPostgresStore returns a PostgresStore on pool and applies the table
// DDL.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	s := &PostgresStore{
		pool:    pool,
		table:   TableName,
		timeout: defaultGormOpTimeout,
		enc:     rowEncoding{native: true},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, stmt := range []string{createTableSQL(s.table, true), createIndexSQL(s.table)} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("execute ddl: %w", err)
		}
	}
	return s, nil
}

// OpenPostgres connects a pool to dsn and returns the store.
func OpenPostgres(ctx context.Context, dsn string, opts ...PostgresOption) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s, err := NewPostgresStore(ctx, pool, opts...)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() { s.pool.Close() }

func (s *PostgresStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, mapStoreErr(err)
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	return cctx, cancel, nil
}

// Get implements RecordStore.Get.
func (s *PostgresStore) Get(ctx context.Context, id string) (record.Record, bool, error) {
	cctx, cancel, err := s.withTimeout(ctx)
	if err != nil {
		return record.Record{}, false, err
	}
	defer cancel()
	rows, err := s.pool.Query(cctx, fmt.Sprintf("SELECT * FROM %s WHERE id = $1", s.table), id)
	if err != nil {
		return record.Record{}, false, mapStoreErr(err)
	}
	m, err := pgx.CollectExactlyOneRow(rows, pgx.RowToMap)
	if errors.Is(err, pgx.ErrNoRows) {
		return record.Record{}, false, nil
	}
	if err != nil {
		return record.Record{}, false, mapStoreErr(err)
	}
	return decodeRow(m), true, nil
}

// Update implements RecordStore.Update with UPDATE ... RETURNING.
func (s *PostgresStore) Update(ctx context.Context, id string, p record.Patch) (record.Record, error) {
	cols, err := s.enc.patch(id, p)
	if err != nil {
		return record.Record{}, err
	}
	if len(cols) == 0 {
		r, ok, err := s.Get(ctx, id)
		if err == nil && !ok {
			err = gerrors.ErrStaleRow
		}
		return r, err
	}
	names := make([]string, 0, len(cols))
	for name := range cols {
		names = append(names, name)
	}
	sort.Strings(names)
	sets := make([]string, len(names))
	args := make([]any, 0, len(names)+1)
	for i, name := range names {
		sets[i] = fmt.Sprintf("%s = $%d", name, i+1)
		args = append(args, cols[name])
	}
	args = append(args, id)
	sql := fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d RETURNING *", s.table, strings.Join(sets, ", "), len(args))

	cctx, cancel, err := s.withTimeout(ctx)
	if err != nil {
		return record.Record{}, err
	}
	defer cancel()
	rows, err := s.pool.Query(cctx, sql, args...)
	if err != nil {
		return record.Record{}, mapStoreErr(err)
	}
	m, err := pgx.CollectExactlyOneRow(rows, pgx.RowToMap)
	if errors.Is(err, pgx.ErrNoRows) {
		return record.Record{}, gerrors.ErrStaleRow
	}
	if err != nil {
		return record.Record{}, mapStoreErr(err)
	}
	return decodeRow(m), nil
}

// Insert implements RecordStore.Insert in a single transaction.
func (s *PostgresStore) Insert(ctx context.Context, recs []record.Record) ([]record.Record, error) {
	if len(recs) == 0 {
		return nil, nil
	}
	out := prepareInsert(recs, s.now())
	cctx, cancel, err := s.withTimeout(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	err = pgx.BeginFunc(cctx, s.pool, func(tx pgx.Tx) error {
		for _, r := range out {
			m, err := s.enc.row(r)
			if err != nil {
				return err
			}
			names := make([]string, 0, len(m))
			for name := range m {
				names = append(names, name)
			}
			sort.Strings(names)
			marks := make([]string, len(names))
			args := make([]any, len(names))
			for i, name := range names {
				marks[i] = fmt.Sprintf("$%d", i+1)
				args[i] = m[name]
			}
			sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", s.table, strings.Join(names, ", "), strings.Join(marks, ", "))
			if _, err := tx.Exec(cctx, sql, args...); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return out, nil
}

// Query implements RecordStore.Query using ILIKE search.
func (s *PostgresStore) Query(ctx context.Context, f Filter, rg Range) ([]record.Record, int, error) {
	where := ""
	var args []any
	if needle := strings.TrimSpace(f.Search); needle != "" {
		clauses := make([]string, len(SearchFields))
		for i, sf := range SearchFields {
			clauses[i] = fmt.Sprintf("%s ILIKE $1", sf)
		}
		where = " WHERE " + strings.Join(clauses, " OR ")
		args = append(args, "%"+needle+"%")
	}
	cctx, cancel, err := s.withTimeout(ctx)
	if err != nil {
		return nil, 0, err
	}
	defer cancel()

	var total int
	if err := s.pool.QueryRow(cctx, "SELECT COUNT(*) FROM "+s.table+where, args...).Scan(&total); err != nil {
		return nil, 0, mapStoreErr(err)
	}
	sql := "SELECT * FROM " + s.table + where + " ORDER BY created_at ASC, id ASC"
	if rg.Limit > 0 {
		sql += fmt.Sprintf(" LIMIT %d", rg.Limit)
	}
	if rg.Offset > 0 {
		sql += fmt.Sprintf(" OFFSET %d", rg.Offset)
	}
	rows, err := s.pool.Query(cctx, sql, args...)
	if err != nil {
		return nil, 0, mapStoreErr(err)
	}
	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, 0, mapStoreErr(err)
	}
	out := make([]record.Record, 0, len(maps))
	for _, m := range maps {
		out = append(out, decodeRow(m))
	}
	return out, total, nil
}

// Delete implements RecordStore.Delete.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	cctx, cancel, err := s.withTimeout(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	tag, err := s.pool.Exec(cctx, fmt.Sprintf("DELETE FROM %s WHERE id = $1", s.table), id)
	if err != nil {
		return mapStoreErr(err)
	}
	if tag.RowsAffected() == 0 {
		return gerrors.ErrStaleRow
	}
	return nil
}

// Pool exposes the underlying pool for integration hooks.
func (s *PostgresStore) Pool() *pgxpool.Pool { return s.pool }
