package pricing

import "github.com/shopspring/decimal"

// approxCostRatio is the rough share of a line's price assumed to be cost
// when no stored cost exists. It is only used by ApproximateDashboard.
var approxCostRatio = decimal.RequireFromString("0.40")

// DashboardEstimate is a rough gross-profit figure for the dashboard tile.
// It is an approximation and must not be used where BackfillProfit applies.
type DashboardEstimate struct {
	Orders      int
	Revenue     decimal.Decimal
	Cost        decimal.Decimal
	Profit      decimal.Decimal
	Estimated   int // line items costed with the heuristic
	Approximate bool
}

// ApproximateDashboard sums billed totals over non-cancelled orders and
// costs each line with its stored L2L, or 40% of its price when absent.
func ApproximateDashboard(orders []BilledOrder) DashboardEstimate {
	e := DashboardEstimate{Revenue: zero, Cost: zero, Approximate: true}
	for _, o := range orders {
		if o.Cancelled {
			continue
		}
		e.Orders++
		e.Revenue = e.Revenue.Add(o.TotalAmount)
		for _, li := range o.Lines {
			if li.L2LPrice.Valid {
				e.Cost = e.Cost.Add(li.L2LPrice.Decimal)
				continue
			}
			e.Estimated++
			e.Cost = e.Cost.Add(li.Price.Mul(approxCostRatio))
		}
	}
	e.Cost = e.Cost.Round(2)
	e.Profit = e.Revenue.Sub(e.Cost)
	return e
}
