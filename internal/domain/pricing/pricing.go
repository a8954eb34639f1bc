package pricing

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/xenking/labdesk/internal/domain/catalog"
)

var zero = decimal.Zero

// Kind distinguishes single tests from packages in an order.
type Kind string

const (
	KindTest    Kind = "test"
	KindPackage Kind = "package"
)

// PaymentStatus records whether an order has been fully collected.
type PaymentStatus string

const (
	// PaymentPaid means AdvancePaid equals TotalAmount. It is not an
	// independent flag.
	PaymentPaid    PaymentStatus = "Paid"
	PaymentPending PaymentStatus = "Pending"
)

// Valid reports whether s is a known payment status.
func (s PaymentStatus) Valid() bool {
	return s == PaymentPaid || s == PaymentPending
}

// Item is one selected test or package, resolved against the catalog.
type Item struct {
	Kind    Kind
	Test    catalog.Test
	Package catalog.Package
}

// TestItem selects a single catalog test.
func TestItem(t catalog.Test) Item { return Item{Kind: KindTest, Test: t} }

// PackageItem selects a package.
func PackageItem(p catalog.Package) Item { return Item{Kind: KindPackage, Package: p} }

// LineItem is the snapshot of a test or package stored on an order. Price and
// L2LPrice are frozen at creation; L2LPrice is null only on legacy orders that
// predate cost tracking.
type LineItem struct {
	Kind          Kind                `json:"kind"`
	ID            string              `json:"id"`
	Code          string              `json:"code,omitempty"`
	Name          string              `json:"name"`
	Category      string              `json:"category,omitempty"`
	Price         decimal.Decimal     `json:"price"`
	OriginalPrice decimal.Decimal     `json:"originalPrice"`
	L2LPrice      decimal.NullDecimal `json:"l2lPrice"`
	TestIDs       []string            `json:"tests,omitempty"`
	Partner       string              `json:"partner,omitempty"`
	Settled       bool                `json:"settled,omitempty"`
}

// Key identifies the line item for grouping: the test code, or the id for
// packages and code-less tests.
func (li LineItem) Key() string {
	if code := catalog.NormalizeCode(li.Code); code != "" {
		return code
	}
	return li.ID
}

// Draft is the input to PriceOrder.
type Draft struct {
	PatientID   string
	PatientName string
	Items       []Item

	// Overrides are the referral's per-test prices keyed by test code.
	Overrides            catalog.Overrides
	HomeCollectionCharge decimal.Decimal
	Discount             decimal.Decimal
	AdvancePaid          decimal.Decimal
	PaymentStatus        PaymentStatus

	// SettleInFull marks the order Paid and forces AdvancePaid to the
	// computed total, every time the draft is priced.
	SettleInFull bool
}

// Quote holds the committed monetary fields of an order.
type Quote struct {
	Lines                []LineItem
	Subtotal             decimal.Decimal
	HomeCollectionCharge decimal.Decimal
	Discount             decimal.Decimal
	Total                decimal.Decimal
	AdvancePaid          decimal.Decimal
	BalanceDue           decimal.Decimal
	PaymentStatus        PaymentStatus
}

// TestLookup resolves package constituents against the current catalog.
type TestLookup interface {
	TestByID(id string) (catalog.Test, bool)
}

// PriceOrder computes line items and totals for a draft. It has no side
// effects. The paid/advance consistency check is left to Quote.Validate so
// that an inconsistent draft can still be quoted back to the operator.
func PriceOrder(d Draft, lookup TestLookup) (Quote, error) {
	if strings.TrimSpace(d.PatientID) == "" {
		return Quote{}, ErrNoPatient
	}
	if len(d.Items) == 0 {
		return Quote{}, ErrNoTests
	}
	for _, a := range []struct {
		field string
		value decimal.Decimal
	}{
		{"homeCollectionCharge", d.HomeCollectionCharge},
		{"discount", d.Discount},
		{"advancePaid", d.AdvancePaid},
	} {
		if a.value.IsNegative() {
			return Quote{}, &NegativeAmountError{Field: a.field, Value: a.value}
		}
	}

	lines := make([]LineItem, 0, len(d.Items))
	subtotal := zero
	for i, item := range d.Items {
		var li LineItem
		switch item.Kind {
		case KindTest:
			li = testLine(item.Test, d.Overrides)
		case KindPackage:
			li = packageLine(item.Package, lookup)
		default:
			return Quote{}, &UnknownKindError{Index: i, Kind: item.Kind}
		}
		subtotal = subtotal.Add(li.Price)
		lines = append(lines, li)
	}

	total := subtotal.Add(d.HomeCollectionCharge).Sub(d.Discount)
	if total.IsNegative() {
		total = zero
	}

	q := Quote{
		Lines:                lines,
		Subtotal:             subtotal.Round(2),
		HomeCollectionCharge: d.HomeCollectionCharge.Round(2),
		Discount:             d.Discount.Round(2),
		Total:                total.Round(2),
		AdvancePaid:          d.AdvancePaid.Round(2),
		PaymentStatus:        d.PaymentStatus,
	}
	if q.PaymentStatus == "" {
		q.PaymentStatus = PaymentPending
	}
	if d.SettleInFull {
		return q.MarkPaid(), nil
	}
	q.BalanceDue = q.Total.Sub(q.AdvancePaid)
	return q, nil
}

// MarkPaid returns a copy of q marked Paid with the advance equal to the total.
func (q Quote) MarkPaid() Quote {
	q.PaymentStatus = PaymentPaid
	q.AdvancePaid = q.Total
	q.BalanceDue = zero
	return q
}

// Validate checks that the quote may be committed.
func (q Quote) Validate() error {
	if !q.PaymentStatus.Valid() {
		return &InvalidPaymentStatusError{Status: q.PaymentStatus}
	}
	if q.PaymentStatus == PaymentPaid && !q.AdvancePaid.Equal(q.Total) {
		return &PaidBalanceError{Total: q.Total, AdvancePaid: q.AdvancePaid}
	}
	return nil
}

func testLine(t catalog.Test, overrides catalog.Overrides) LineItem {
	price := t.Price
	if p, ok := overrides.Lookup(t.Code); ok {
		price = p
	}
	return LineItem{
		Kind:          KindTest,
		ID:            t.ID,
		Code:          catalog.NormalizeCode(t.Code),
		Name:          t.Name,
		Category:      t.Category,
		Price:         price,
		OriginalPrice: t.Price,
		L2LPrice:      decimal.NewNullDecimal(t.L2LPrice),
	}
}

func packageLine(p catalog.Package, lookup TestLookup) LineItem {
	ids := make([]string, len(p.TestIDs))
	copy(ids, p.TestIDs)
	cost, _ := packageCost(p.TestIDs, lookup)
	return LineItem{
		Kind:          KindPackage,
		ID:            p.ID,
		Name:          p.Name,
		Category:      "Package",
		Price:         p.Price,
		OriginalPrice: p.Price,
		L2LPrice:      decimal.NewNullDecimal(cost),
		TestIDs:       ids,
	}
}

// packageCost sums the current cost of the constituent tests. Constituents
// that cannot be resolved contribute zero and are returned separately.
func packageCost(testIDs []string, lookup TestLookup) (decimal.Decimal, []string) {
	sum := zero
	var missing []string
	for _, id := range testIDs {
		t, ok := lookup.TestByID(id)
		if !ok {
			missing = append(missing, id)
			continue
		}
		sum = sum.Add(t.L2LPrice)
	}
	return sum, missing
}
