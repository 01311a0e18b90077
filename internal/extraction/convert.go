package extraction

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// dateFormats are tried in order; ISO first. Day and month may be
// unpadded, and non-ISO dates are always month first.
var dateFormats = []string{
	"2006-1-2",
	"2006/1/2",
	"1/2/2006",
	"1-2-2006",
}

// parseAmount accepts an optional leading "$" and "," thousands separators
func parseAmount(field, raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, &MalformedAmountError{Field: field, Raw: raw, Err: err}
	}
	return d, nil
}

func parseDate(field, raw string) (time.Time, error) {
	for _, format := range dateFormats {
		if t, err := time.Parse(format, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, &MalformedDateError{Field: field, Raw: raw}
}
