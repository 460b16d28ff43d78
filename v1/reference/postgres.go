package reference

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	gerrors "github.com/mirkobrombin/go-gracelock/v1/errors"
	"github.com/mirkobrombin/go-gracelock/v1/record"
)

// PostgresLookup reads units of measure from the daily summary table
// through pgx.
type PostgresLookup struct {
	pool *pgxpool.Pool
}

// NewPostgresLookup returns a PostgresLookup, creating the table when
// missing.
func NewPostgresLookup(ctx context.Context, pool *pgxpool.Pool) (*PostgresLookup, error) {
	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (product TEXT PRIMARY KEY, uom TEXT)", SummaryTable)
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return nil, fmt.Errorf("create %s: %w", SummaryTable, err)
	}
	return &PostgresLookup{pool: pool}, nil
}

// UnitOfMeasure implements Lookup.
func (p *PostgresLookup) UnitOfMeasure(ctx context.Context, product string) (float64, error) {
	var uom *string
	err := p.pool.QueryRow(ctx, fmt.Sprintf("SELECT uom FROM %s WHERE product = $1", SummaryTable), product).Scan(&uom)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("uom for %q: %w", product, gerrors.ErrNotFound)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return 0, gerrors.ErrTimeout
		}
		return 0, err
	}
	if uom == nil {
		return 0, fmt.Errorf("uom for %q is empty: %w", product, gerrors.ErrValidation)
	}
	v, ok := record.ToFloat(*uom)
	if !ok {
		return 0, fmt.Errorf("uom for %q is %q: %w", product, *uom, gerrors.ErrValidation)
	}
	return v, nil
}

// Put upserts the unit of measure of product.
func (p *PostgresLookup) Put(ctx context.Context, product string, uom float64) error {
	_, err := p.pool.Exec(ctx, fmt.Sprintf(
		"INSERT INTO %s (product, uom) VALUES ($1, $2) ON CONFLICT (product) DO UPDATE SET uom = EXCLUDED.uom", SummaryTable),
		product, strconv.FormatFloat(uom, 'f', -1, 64))
	return err
}
