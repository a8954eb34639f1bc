// Package priceimport updates catalog prices and costs from a spreadsheet
// export.
package priceimport

import (
	"context"
	"io"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/labdesk/internal/domain/catalog"
)

// Failure reasons.
const (
	ReasonNoMatch      = "no matching test"
	ReasonInvalidPrice = "invalid price"
	ReasonInvalidCost  = "invalid cost"
	ReasonNegative     = "negative amount"
	ReasonNoValue      = "no price or cost"
	ReasonTooLarge     = "amount out of range"
)

// maxAmount is the exclusive upper bound of a NUMERIC(12, 2) column.
var maxAmount = decimal.New(1, 10)

// RowFailure describes a skipped row.
type RowFailure struct {
	Line   int
	Ref    string
	Reason string
}

// Report summarizes an import run.
type Report struct {
	Rows    int
	Matched int
	// Updated counts tests whose stored values changed.
	Updated  int
	Failed   int
	Failures []RowFailure
	DryRun   bool
}

// Matcher finds catalog tests for a row.
type Matcher interface {
	TestByCode(code string) (catalog.Test, bool)
	TestByName(name string) (catalog.Test, bool)
}

// Plan matches rows against the catalog and returns the updates to apply.
// Rows are matched by code first, then by name. Unmatched or unparseable
// rows are recorded as failures and never create tests. When several rows
// hit the same test the later row wins field by field.
func Plan(rows []Row, m Matcher) (Report, []catalog.PriceUpdate) {
	r := Report{Rows: len(rows)}
	fail := func(row Row, reason string) {
		ref := row.Code
		if ref == "" {
			ref = row.Name
		}
		r.Failed++
		r.Failures = append(r.Failures, RowFailure{Line: row.Line, Ref: ref, Reason: reason})
	}

	current := make(map[string]catalog.Test)
	pending := make(map[string]*catalog.PriceUpdate)
	var order []string

	for _, row := range rows {
		t, ok := match(row, m)
		if !ok {
			fail(row, ReasonNoMatch)
			continue
		}

		price, reason := amount(row.Price, ReasonInvalidPrice)
		if reason != "" {
			fail(row, reason)
			continue
		}
		cost, reason := amount(row.Cost, ReasonInvalidCost)
		if reason != "" {
			fail(row, reason)
			continue
		}
		if price == nil && cost == nil {
			fail(row, ReasonNoValue)
			continue
		}
		r.Matched++

		u, seen := pending[t.ID]
		if !seen {
			u = &catalog.PriceUpdate{TestID: t.ID}
			pending[t.ID] = u
			current[t.ID] = t
			order = append(order, t.ID)
		}
		if price != nil {
			u.Price = price
		}
		if cost != nil {
			u.L2LPrice = cost
		}
	}

	var updates []catalog.PriceUpdate
	for _, id := range order {
		u, t := pending[id], current[id]
		if u.Price != nil && u.Price.Equal(t.Price) {
			u.Price = nil
		}
		if u.L2LPrice != nil && u.L2LPrice.Equal(t.L2LPrice) {
			u.L2LPrice = nil
		}
		if u.Price == nil && u.L2LPrice == nil {
			continue
		}
		updates = append(updates, *u)
	}
	r.Updated = len(updates)
	return r, updates
}

func match(row Row, m Matcher) (catalog.Test, bool) {
	if row.Code != "" {
		if t, ok := m.TestByCode(row.Code); ok {
			return t, true
		}
	}
	if row.Name != "" {
		return m.TestByName(row.Name)
	}
	return catalog.Test{}, false
}

// amount parses an optional cell. A nil result with an empty reason means
// the cell was blank.
func amount(cell, invalid string) (*decimal.Decimal, string) {
	if cell == "" {
		return nil, ""
	}
	v, err := ParseAmount(cell)
	if err != nil {
		return nil, invalid
	}
	if v.IsNegative() {
		return nil, ReasonNegative
	}
	v = v.Round(2)
	if v.GreaterThanOrEqual(maxAmount) {
		return nil, ReasonTooLarge
	}
	return &v, ""
}

// Importer applies price sheets to the catalog.
type Importer struct {
	tests catalog.TestRepository
}

// NewImporter creates an Importer writing to tests.
func NewImporter(tests catalog.TestRepository) *Importer {
	return &Importer{tests: tests}
}

// Import reads a CSV sheet (optionally gzip-compressed) and applies the
// matched updates in a single batch. With dryRun set nothing is written.
func (im *Importer) Import(ctx context.Context, src io.Reader, dryRun bool) (*Report, error) {
	r, closer, err := Decompress(src)
	if err != nil {
		return nil, errors.Wrap(err, "decompress")
	}
	defer func() { _ = closer.Close() }()

	rows, err := ReadRows(r)
	if err != nil {
		return nil, errors.Wrap(err, "read sheet")
	}

	tests, err := im.tests.ListTests(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list tests")
	}
	report, updates := Plan(rows, catalog.NewSnapshot(tests, nil))
	report.DryRun = dryRun

	if !dryRun && len(updates) > 0 {
		n, err := im.tests.UpdatePrices(ctx, updates)
		if err != nil {
			return nil, errors.Wrap(err, "update prices")
		}
		report.Updated = n
	}

	zctx.From(ctx).Info("Price sheet imported",
		zap.Int("rows", report.Rows),
		zap.Int("matched", report.Matched),
		zap.Int("updated", report.Updated),
		zap.Int("failed", report.Failed),
		zap.Bool("dry_run", dryRun),
	)
	return &report, nil
}
