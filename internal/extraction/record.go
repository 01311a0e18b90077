package extraction

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Tolerance is the largest rounding difference accepted by Discrepancies
var Tolerance = decimal.New(1, -2)

// Record contains the structured data extracted from one invoice document
type Record struct {
	InvoiceNumber   string          `json:"invoice_number"`
	InvoiceDate     time.Time       `json:"invoice_date"`
	Supplier        string          `json:"supplier"`
	Customer        string          `json:"customer"`
	BillingAddress  string          `json:"billing_address"`
	ShippingAddress string          `json:"shipping_address"`
	SupplierGSTIN   string          `json:"supplier_gstin"`
	CustomerGSTIN   string          `json:"customer_gstin"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	TaxRate         decimal.Decimal `json:"tax_rate"` // Percent, zero when the label carries none
	Tax             decimal.Decimal `json:"tax"`
	Total           decimal.Decimal `json:"total"`
	Items           []LineItem      `json:"items"`
}

// LineItem is one row of the item table
type LineItem struct {
	Description string          `json:"description"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

// Discrepancy describes an amount that does not add up
type Discrepancy struct {
	Field    string
	Expected decimal.Decimal
	Actual   decimal.Decimal
}

func (d Discrepancy) String() string {
	return fmt.Sprintf("%s: expected %s, got %s", d.Field, d.Expected.StringFixed(2), d.Actual.StringFixed(2))
}

// Discrepancies checks that the total equals subtotal plus tax and that every
// line total equals quantity times unit price. Mismatches are reported, not
// treated as errors.
func (r Record) Discrepancies() []Discrepancy {
	var out []Discrepancy

	if want := r.Subtotal.Add(r.Tax); !withinTolerance(want, r.Total) {
		out = append(out, Discrepancy{Field: "total", Expected: want, Actual: r.Total})
	}

	for i, item := range r.Items {
		want := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		if !withinTolerance(want, item.LineTotal) {
			out = append(out, Discrepancy{
				Field:    fmt.Sprintf("items[%d].line_total", i),
				Expected: want,
				Actual:   item.LineTotal,
			})
		}
	}

	return out
}

func withinTolerance(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThan(Tolerance)
}
