package reference

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	gerrors "github.com/mirkobrombin/go-gracelock/v1/errors"
	"github.com/mirkobrombin/go-gracelock/v1/record"
)

// SummaryTable holds the per-product reference data.
const SummaryTable = "daily_summary_2024"

// dailySummary maps the columns of the reference table used here. The uom
// column is text upstream and parsed on read.
type dailySummary struct {
	Product string `gorm:"primaryKey;column:product"`
	UOM     string `gorm:"column:uom"`
}

// GormLookup reads units of measure from the daily summary table.
type GormLookup struct {
	db    *gorm.DB
	table string
}

// NewGormLookup returns a GormLookup, creating the table when missing.
func NewGormLookup(db *gorm.DB) (*GormLookup, error) {
	if !db.Migrator().HasTable(SummaryTable) {
		if err := db.Table(SummaryTable).AutoMigrate(&dailySummary{}); err != nil {
			return nil, fmt.Errorf("migrate %s: %w", SummaryTable, err)
		}
	}
	return &GormLookup{db: db, table: SummaryTable}, nil
}

// UnitOfMeasure implements Lookup.
func (g *GormLookup) UnitOfMeasure(ctx context.Context, product string) (float64, error) {
	var row dailySummary
	err := g.db.WithContext(ctx).Table(g.table).Where("product = ?", product).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, fmt.Errorf("uom for %q: %w", product, gerrors.ErrNotFound)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return 0, gerrors.ErrTimeout
		}
		return 0, err
	}
	uom, ok := record.ToFloat(row.UOM)
	if !ok {
		return 0, fmt.Errorf("uom for %q is %q: %w", product, row.UOM, gerrors.ErrValidation)
	}
	return uom, nil
}

// Put upserts the unit of measure of product.
func (g *GormLookup) Put(ctx context.Context, product string, uom float64) error {
	row := dailySummary{Product: product, UOM: strconv.FormatFloat(uom, 'f', -1, 64)}
	return g.db.WithContext(ctx).Table(g.table).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "product"}},
		DoUpdates: clause.AssignmentColumns([]string{"uom"}),
	}).Create(&row).Error
}
