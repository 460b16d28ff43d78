// Package reference resolves product units of measure and derives the
// estimated unit count of a batch from its weight.
package reference

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"

	gerrors "github.com/mirkobrombin/go-gracelock/v1/errors"
	"github.com/mirkobrombin/go-gracelock/v1/record"
)

// Lookup resolves the unit of measure of a product. It returns
// errors.ErrNotFound when the product is unknown.
type Lookup interface {
	UnitOfMeasure(ctx context.Context, product string) (float64, error)
}

// EstimateUnits returns round(weight / uom) for product. Any lookup failure,
// missing input or non-positive operand yields 0.
func EstimateUnits(ctx context.Context, l Lookup, weight any, product any) float64 {
	p, _ := product.(string)
	p = strings.TrimSpace(p)
	if l == nil || p == "" || record.IsNull(weight) {
		return 0
	}
	wt, ok := record.ToFloat(weight)
	if !ok || wt <= 0 {
		return 0
	}
	uom, err := l.UnitOfMeasure(ctx, p)
	if err != nil {
		slog.Debug("gracelock: unit of measure unavailable", "product", p, "error", err)
		return 0
	}
	if uom <= 0 || math.IsNaN(uom) {
		return 0
	}
	return math.Round(wt / uom)
}

// MapLookup is a static Lookup, mostly for tests and seeding.
type MapLookup struct {
	mu    sync.RWMutex
	units map[string]float64
}

// NewMapLookup returns a MapLookup holding a copy of units.
func NewMapLookup(units map[string]float64) *MapLookup {
	m := &MapLookup{units: make(map[string]float64, len(units))}
	for k, v := range units {
		m.units[k] = v
	}
	return m
}

// Set stores the unit of measure of product.
func (m *MapLookup) Set(product string, uom float64) {
	m.mu.Lock()
	m.units[product] = uom
	m.mu.Unlock()
}

// Put is Set for callers writing through a context.
func (m *MapLookup) Put(ctx context.Context, product string, uom float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.Set(product, uom)
	return nil
}

// UnitOfMeasure implements Lookup.
func (m *MapLookup) UnitOfMeasure(ctx context.Context, product string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	v, ok := m.units[product]
	m.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("uom for %q: %w", product, gerrors.ErrNotFound)
	}
	return v, nil
}
