package extraction

import (
	"fmt"
	"regexp"
	"strconv"
)

// itemRow matches "<description> <quantity> $<unit price> $<line total>".
// Descriptions are a single word; multi-word descriptions have no column
// boundary in this layout and are not supported.
var itemRow = regexp.MustCompile(`([\p{L}\p{N}_]+)[ \t]+(\d+)[ \t]+\$[ \t]*(\d[\d,]*\.\d{2,})[ \t]+\$[ \t]*(\d[\d,]*\.\d{2,})`)

// ExtractLineItems returns every item row in document order. Lines that do
// not have the full row shape are skipped.
func ExtractLineItems(text string) ([]LineItem, error) {
	matches := itemRow.FindAllStringSubmatch(text, -1)
	items := make([]LineItem, 0, len(matches))

	for i, m := range matches {
		quantity, err := strconv.Atoi(m[2])
		if err != nil {
			return nil, &MalformedAmountError{Field: fmt.Sprintf("item %d quantity", i+1), Raw: m[2], Err: err}
		}
		unitPrice, err := parseAmount(fmt.Sprintf("item %d unit price", i+1), m[3])
		if err != nil {
			return nil, err
		}
		lineTotal, err := parseAmount(fmt.Sprintf("item %d line total", i+1), m[4])
		if err != nil {
			return nil, err
		}

		items = append(items, LineItem{
			Description: m[1],
			Quantity:    quantity,
			UnitPrice:   unitPrice,
			LineTotal:   lineTotal,
		})
	}

	return items, nil
}
