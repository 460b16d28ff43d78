package adapter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	gerrors "github.com/mirkobrombin/go-gracelock/v1/errors"
	"github.com/mirkobrombin/go-gracelock/v1/record"
)

const defaultGormOpTimeout = 5 * time.Second

// GormStore implements RecordStore on any GORM dialect. Columns are plain
// TEXT/DOUBLE PRECISION/BOOLEAN so the same schema works on sqlite and
// Postgres.
type GormStore struct {
	db      *gorm.DB
	table   string
	timeout time.Duration
	enc     rowEncoding
	now     func() time.Time
}

// GormOption configures a GormStore.
type GormOption func(*gormStoreOptions)

type gormStoreOptions struct {
	tableName string
	timeout   time.Duration
}

// WithGormTableName sets the table name for the GormStore.
func WithGormTableName(name string) GormOption {
	return func(o *gormStoreOptions) {
		o.tableName = name
	}
}

// WithGormTimeout sets the operation timeout for GORM calls.
func WithGormTimeout(d time.Duration) GormOption {
	return func(o *gormStoreOptions) {
		o.timeout = d
	}
}

// NewGormStore returns a GormStore and creates the table when missing.
func NewGormStore(db *gorm.DB, opts ...GormOption) (*GormStore, error) {
	o := gormStoreOptions{
		tableName: TableName,
		timeout:   defaultGormOpTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if err := db.Exec(createTableSQL(o.tableName, false)).Error; err != nil {
		return nil, fmt.Errorf("create %s: %w", o.tableName, err)
	}
	if err := db.Exec(createIndexSQL(o.tableName)).Error; err != nil {
		return nil, fmt.Errorf("index %s: %w", o.tableName, err)
	}
	return &GormStore{
		db:      db,
		table:   o.tableName,
		timeout: o.timeout,
		now:     time.Now,
	}, nil
}

func mapStoreErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return gerrors.ErrTimeout
	}
	return err
}

func (s *GormStore) session(ctx context.Context) (*gorm.DB, context.CancelFunc, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, mapStoreErr(err)
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	return s.db.WithContext(cctx), cancel, nil
}

func (s *GormStore) get(db *gorm.DB, id string) (record.Record, bool, error) {
	var rows []map[string]any
	if err := db.Table(s.table).Where("id = ?", id).Limit(1).Find(&rows).Error; err != nil {
		return record.Record{}, false, mapStoreErr(err)
	}
	if len(rows) == 0 {
		return record.Record{}, false, nil
	}
	return decodeRow(rows[0]), true, nil
}

// Get implements RecordStore.Get.
func (s *GormStore) Get(ctx context.Context, id string) (record.Record, bool, error) {
	db, cancel, err := s.session(ctx)
	if err != nil {
		return record.Record{}, false, err
	}
	defer cancel()
	return s.get(db, id)
}

// Update implements RecordStore.Update. The write and the re-read run in
// one transaction.
func (s *GormStore) Update(ctx context.Context, id string, p record.Patch) (record.Record, error) {
	cols, err := s.enc.patch(id, p)
	if err != nil {
		return record.Record{}, err
	}
	db, cancel, err := s.session(ctx)
	if err != nil {
		return record.Record{}, err
	}
	defer cancel()

	var out record.Record
	err = db.Transaction(func(tx *gorm.DB) error {
		if len(cols) > 0 {
			res := tx.Table(s.table).Where("id = ?", id).Updates(cols)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return gerrors.ErrStaleRow
			}
		}
		r, ok, err := s.get(tx, id)
		if err != nil {
			return err
		}
		if !ok {
			return gerrors.ErrStaleRow
		}
		out = r
		return nil
	})
	if err != nil {
		return record.Record{}, mapStoreErr(err)
	}
	return out, nil
}

// Insert implements RecordStore.Insert.
func (s *GormStore) Insert(ctx context.Context, recs []record.Record) ([]record.Record, error) {
	if len(recs) == 0 {
		return nil, nil
	}
	out := prepareInsert(recs, s.now())
	rows := make([]map[string]any, 0, len(out))
	for _, r := range out {
		m, err := s.enc.row(r)
		if err != nil {
			return nil, err
		}
		rows = append(rows, m)
	}
	db, cancel, err := s.session(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	if err := db.Table(s.table).CreateInBatches(rows, 100).Error; err != nil {
		return nil, mapStoreErr(err)
	}
	return out, nil
}

// Query implements RecordStore.Query.
func (s *GormStore) Query(ctx context.Context, f Filter, rg Range) ([]record.Record, int, error) {
	db, cancel, err := s.session(ctx)
	if err != nil {
		return nil, 0, err
	}
	defer cancel()

	base := func() *gorm.DB {
		q := db.Table(s.table)
		if needle := strings.ToLower(strings.TrimSpace(f.Search)); needle != "" {
			clauses := make([]string, len(SearchFields))
			args := make([]any, len(SearchFields))
			for i, sf := range SearchFields {
				clauses[i] = fmt.Sprintf("LOWER(%s) LIKE ?", sf)
				args[i] = "%" + needle + "%"
			}
			q = q.Where(strings.Join(clauses, " OR "), args...)
		}
		return q
	}

	var total int64
	if err := base().Count(&total).Error; err != nil {
		return nil, 0, mapStoreErr(err)
	}
	q := base().Order("created_at ASC").Order("id ASC")
	if rg.Offset > 0 {
		q = q.Offset(rg.Offset)
	}
	if rg.Limit > 0 {
		q = q.Limit(rg.Limit)
	}
	var rows []map[string]any
	if err := q.Find(&rows).Error; err != nil {
		return nil, 0, mapStoreErr(err)
	}
	out := make([]record.Record, 0, len(rows))
	for _, m := range rows {
		out = append(out, decodeRow(m))
	}
	return out, int(total), nil
}

// Delete implements RecordStore.Delete.
func (s *GormStore) Delete(ctx context.Context, id string) error {
	db, cancel, err := s.session(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	res := db.Exec(fmt.Sprintf("DELETE FROM %s WHERE id = ?", s.table), id)
	if res.Error != nil {
		return mapStoreErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return gerrors.ErrStaleRow
	}
	return nil
}
