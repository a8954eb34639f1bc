package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/xenking/labdesk/internal/domain/catalog"
)

// CostSource tells where a resolved line-item cost came from.
type CostSource int

const (
	// CostUnknown means nothing matched; the amount is zero.
	CostUnknown CostSource = iota
	// CostStored is the L2L frozen on the line item at order creation.
	CostStored
	// CostCatalog is the current catalog cost of the test with the same code.
	CostCatalog
	// CostPackage is the sum of the package constituents' current costs.
	CostPackage
)

func (s CostSource) String() string {
	switch s {
	case CostStored:
		return "stored"
	case CostCatalog:
		return "catalog"
	case CostPackage:
		return "package"
	default:
		return "unknown"
	}
}

// Backfilled reports whether the cost was estimated from the current catalog
// rather than read from the order.
func (s CostSource) Backfilled() bool {
	return s == CostCatalog || s == CostPackage
}

// ResolvedCost is the outcome of ResolveLineItemCost.
type ResolvedCost struct {
	Amount decimal.Decimal
	Source CostSource
	// Unresolved lists the codes or ids that could not be found in the
	// catalog while resolving this cost.
	Unresolved []string
}

// CostLookup is the part of the catalog needed to backfill costs.
type CostLookup interface {
	TestByID(id string) (catalog.Test, bool)
	TestByCode(code string) (catalog.Test, bool)
}

// ResolveLineItemCost returns the cost of a stored line item. The first
// matching source wins: the stored value, then the current catalog entry with
// the same code, then the sum of package constituents if it is positive, and
// finally zero. The stored order is never modified.
func ResolveLineItemCost(li LineItem, cat CostLookup) ResolvedCost {
	if li.L2LPrice.Valid {
		return ResolvedCost{Amount: li.L2LPrice.Decimal, Source: CostStored}
	}

	if li.Kind != KindPackage {
		if t, ok := lookupTest(cat, li.Code, li.ID); ok {
			return ResolvedCost{Amount: t.L2LPrice, Source: CostCatalog}
		}
		return ResolvedCost{Amount: zero, Source: CostUnknown, Unresolved: []string{li.Key()}}
	}

	sum := zero
	var missing []string
	for _, ref := range li.TestIDs {
		t, ok := cat.TestByID(ref)
		if !ok {
			t, ok = cat.TestByCode(ref)
		}
		if !ok {
			missing = append(missing, ref)
			continue
		}
		sum = sum.Add(t.L2LPrice)
	}
	if sum.IsPositive() {
		return ResolvedCost{Amount: sum, Source: CostPackage, Unresolved: missing}
	}
	if len(li.TestIDs) == 0 {
		missing = []string{li.Key()}
	}
	return ResolvedCost{Amount: zero, Source: CostUnknown, Unresolved: missing}
}

func lookupTest(cat CostLookup, code, id string) (catalog.Test, bool) {
	if code != "" {
		if t, ok := cat.TestByCode(code); ok {
			return t, true
		}
	}
	if id != "" {
		return cat.TestByID(id)
	}
	return catalog.Test{}, false
}
