package pricing

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
	half    = decimal.RequireFromString("0.5")
)

// Mode selects how BackfillProfit aggregates.
type Mode string

const (
	ModeByTest  Mode = "by-test"
	ModeByOrder Mode = "by-order"
)

// ParseMode validates a report mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeByTest, ModeByOrder:
		return Mode(s), nil
	case "":
		return ModeByTest, nil
	default:
		return "", fmt.Errorf("unknown report mode %q", s)
	}
}

// BilledOrder is the view of a stored order that profit reporting needs.
type BilledOrder struct {
	ID          string
	PatientName string
	Cancelled   bool
	TotalAmount decimal.Decimal
	Lines       []LineItem
}

// TestProfit aggregates every sale of one test or package.
type TestProfit struct {
	Key     string
	Name    string
	Count   int
	Revenue decimal.Decimal
	Cost    decimal.Decimal
	Profit  decimal.Decimal
}

// OrderProfit is the profit of a single order. Revenue is the billed total,
// which includes surcharges and discounts.
type OrderProfit struct {
	OrderID       string
	PatientName   string
	Revenue       decimal.Decimal
	Cost          decimal.Decimal
	Profit        decimal.Decimal
	MarginPercent int64
}

// ProfitReport is the result of one BackfillProfit run. Only the slice that
// matches Mode is populated.
type ProfitReport struct {
	Mode    Mode
	ByTest  []TestProfit
	ByOrder []OrderProfit

	Revenue decimal.Decimal
	Cost    decimal.Decimal
	Profit  decimal.Decimal

	// Backfilled counts line items whose cost came from the current catalog.
	Backfilled int
	// Unresolved lists codes or ids that contributed zero cost because they
	// could not be found, sorted and de-duplicated.
	Unresolved []string
}

// BackfillProfit computes profit over the non-cancelled orders. Line items
// keep their stored cost; missing costs are estimated from cat.
func BackfillProfit(orders []BilledOrder, cat CostLookup, mode Mode) (ProfitReport, error) {
	r := ProfitReport{Mode: mode, Revenue: zero, Cost: zero, Profit: zero}
	unresolved := make(map[string]struct{})

	resolve := func(li LineItem) decimal.Decimal {
		c := ResolveLineItemCost(li, cat)
		if c.Source.Backfilled() {
			r.Backfilled++
		}
		for _, u := range c.Unresolved {
			unresolved[u] = struct{}{}
		}
		return c.Amount
	}

	switch mode {
	case ModeByTest:
		byKey := make(map[string]*TestProfit)
		for _, o := range orders {
			if o.Cancelled {
				continue
			}
			for _, li := range o.Lines {
				key := li.Key()
				tp, ok := byKey[key]
				if !ok {
					tp = &TestProfit{Key: key, Name: li.Name, Revenue: zero, Cost: zero}
					byKey[key] = tp
				}
				tp.Count++
				tp.Revenue = tp.Revenue.Add(li.Price)
				tp.Cost = tp.Cost.Add(resolve(li))
			}
		}
		for _, tp := range byKey {
			tp.Profit = tp.Revenue.Sub(tp.Cost)
			r.ByTest = append(r.ByTest, *tp)
			r.Revenue = r.Revenue.Add(tp.Revenue)
			r.Cost = r.Cost.Add(tp.Cost)
		}
		sort.Slice(r.ByTest, func(i, j int) bool {
			a, b := r.ByTest[i], r.ByTest[j]
			if c := a.Revenue.Cmp(b.Revenue); c != 0 {
				return c > 0
			}
			return a.Key < b.Key
		})

	case ModeByOrder:
		for _, o := range orders {
			if o.Cancelled {
				continue
			}
			cost := zero
			for _, li := range o.Lines {
				cost = cost.Add(resolve(li))
			}
			profit := o.TotalAmount.Sub(cost)
			r.ByOrder = append(r.ByOrder, OrderProfit{
				OrderID:       o.ID,
				PatientName:   o.PatientName,
				Revenue:       o.TotalAmount,
				Cost:          cost,
				Profit:        profit,
				MarginPercent: MarginPercent(profit, o.TotalAmount),
			})
			r.Revenue = r.Revenue.Add(o.TotalAmount)
			r.Cost = r.Cost.Add(cost)
		}

	default:
		return ProfitReport{}, fmt.Errorf("unknown report mode %q", mode)
	}

	r.Profit = r.Revenue.Sub(r.Cost)
	for u := range unresolved {
		r.Unresolved = append(r.Unresolved, u)
	}
	sort.Strings(r.Unresolved)
	return r, nil
}

// MarginPercent returns round(100 * profit / revenue), rounding halves up,
// and 0 when revenue is zero.
func MarginPercent(profit, revenue decimal.Decimal) int64 {
	if revenue.IsZero() {
		return 0
	}
	return profit.Mul(hundred).Div(revenue).Add(half).Floor().IntPart()
}
