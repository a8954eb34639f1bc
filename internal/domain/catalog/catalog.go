package catalog

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested test or package does not exist.
var ErrNotFound = errors.New("catalog entry not found")

// Test is a single orderable lab test. Price is the MRP charged to patients
// absent a referral override; L2LPrice is the lab's own cost and is zero when
// it was never recorded.
type Test struct {
	ID        string
	Code      string
	Name      string
	Category  string
	Price     decimal.Decimal
	L2LPrice  decimal.Decimal
	UpdatedAt time.Time
}

// Package is a fixed-price bundle of tests. Its cost is never stored and is
// always derived from the constituent tests.
type Package struct {
	ID          string
	Name        string
	Price       decimal.Decimal
	TestIDs     []string
	Description string
	UpdatedAt   time.Time
}

// Overrides maps a test code to the price a referral source pays for it.
type Overrides map[string]decimal.Decimal

// Lookup returns the override for code, matching case-insensitively.
func (o Overrides) Lookup(code string) (decimal.Decimal, bool) {
	if len(o) == 0 {
		return decimal.Zero, false
	}
	if p, ok := o[code]; ok {
		return p, true
	}
	p, ok := o[NormalizeCode(code)]
	return p, ok
}

// NormalizeCode trims and upper-cases a test code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// PriceUpdate changes the MRP and/or cost of a single test. Nil fields are
// left untouched.
type PriceUpdate struct {
	TestID   string
	Price    *decimal.Decimal
	L2LPrice *decimal.Decimal
}

// TestRepository provides access to the test catalog.
type TestRepository interface {
	ListTests(ctx context.Context) ([]Test, error)
	UpdatePrices(ctx context.Context, updates []PriceUpdate) (int, error)
	DeleteTests(ctx context.Context, ids []string) error
}

// PackageRepository provides read access to test packages.
type PackageRepository interface {
	ListPackages(ctx context.Context) ([]Package, error)
}

// ReferralRepository resolves per-referral price overrides.
type ReferralRepository interface {
	Overrides(ctx context.Context, referralID string) (Overrides, error)
}
