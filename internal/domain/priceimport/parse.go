package priceimport

import (
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotANumber is returned by ParseAmount when nothing numeric remains.
var ErrNotANumber = errors.New("not a number")

// ParseAmount parses a spreadsheet money cell. Every character other than
// digits, '.' and '-' is dropped first, so currency symbols and thousands
// separators are accepted: "₹1,200.50" parses as 1200.50.
func ParseAmount(s string) (decimal.Decimal, error) {
	cleaned := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' {
			return r
		}
		return -1
	}, s)
	if strings.Trim(cleaned, ".-") == "" {
		return decimal.Decimal{}, errors.Wrapf(ErrNotANumber, "parse %q", s)
	}
	v, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Decimal{}, errors.Wrapf(ErrNotANumber, "parse %q", s)
	}
	return v, nil
}
