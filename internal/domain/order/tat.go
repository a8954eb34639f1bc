package order

import (
	"strings"
	"time"

	"github.com/xenking/labdesk/internal/domain/pricing"
)

// DefaultTAT applies when no line item category has a configured turnaround.
const DefaultTAT = 24 * time.Hour

// ExpectedReportAt returns when results are due: created plus the longest
// configured turnaround among the categories of the ordered tests. Package
// lines contribute the categories of their constituent tests, resolved
// through lookup. Category keys are matched case-insensitively.
func ExpectedReportAt(created time.Time, lines []pricing.LineItem, lookup pricing.TestLookup, tatHours map[string]int) time.Time {
	byCategory := make(map[string]int, len(tatHours))
	for k, v := range tatHours {
		byCategory[normalizeCategory(k)] = v
	}

	longest := 0
	consider := func(category string) {
		if h := byCategory[normalizeCategory(category)]; h > longest {
			longest = h
		}
	}
	for _, li := range lines {
		if li.Kind != pricing.KindPackage {
			consider(li.Category)
			continue
		}
		if lookup == nil {
			continue
		}
		for _, id := range li.TestIDs {
			if t, ok := lookup.TestByID(id); ok {
				consider(t.Category)
			}
		}
	}
	if longest == 0 {
		return created.Add(DefaultTAT)
	}
	return created.Add(time.Duration(longest) * time.Hour)
}

func normalizeCategory(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
