package extraction

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Field names used as stable keys in layouts
const (
	FieldInvoiceNumber   = "invoice_number"
	FieldInvoiceDate     = "invoice_date"
	FieldSupplier        = "supplier"
	FieldCustomer        = "customer"
	FieldBillingAddress  = "billing_address"
	FieldShippingAddress = "shipping_address"
	FieldSupplierGSTIN   = "supplier_gstin"
	FieldCustomerGSTIN   = "customer_gstin"
	FieldSubtotal        = "subtotal"
	FieldTaxRate         = "tax_rate"
	FieldTax             = "tax"
	FieldTotal           = "total"
)

// DefaultLayout returns the field specs for the standard invoice layout
func DefaultLayout() []FieldSpec {
	return []FieldSpec{
		{Name: FieldInvoiceNumber, Label: "Invoice Number", Pattern: LabeledLine("Invoice Number"), Required: true},
		{Name: FieldInvoiceDate, Label: "Invoice Date", Pattern: LabeledLine("Invoice Date"), Required: true, Kind: KindDate},
		{Name: FieldSupplier, Label: "Supplier", Pattern: LabeledLine("Supplier"), Required: true},
		{Name: FieldCustomer, Label: "Customer", Pattern: LabeledLine("Customer"), Required: true},
		{Name: FieldBillingAddress, Label: "Billing Address", Pattern: LabeledLine("Billing Address"), Required: true},
		{Name: FieldShippingAddress, Label: "Shipping Address", Pattern: LabeledLine("Shipping Address"), Required: true},
		{Name: FieldSupplierGSTIN, Label: "Supplier GSTIN", Pattern: LabeledLine("Supplier GSTIN"), Required: true},
		{Name: FieldCustomerGSTIN, Label: "Customer GSTIN", Pattern: LabeledLine("Customer GSTIN"), Required: true},
		{Name: FieldSubtotal, Label: "Subtotal", Pattern: LabeledLine("Subtotal"), Required: true, Kind: KindAmount},
		{
			Name:    FieldTaxRate,
			Label:   "Tax Rate",
			Pattern: regexp.MustCompile(`(?m)^[ \t]*Tax[ \t]*\([ \t]*(\d+(?:\.\d+)?)[ \t]*%[ \t]*\)[ \t]*:`),
			Kind:    KindPercent,
		},
		{
			Name:     FieldTax,
			Label:    "Tax",
			Pattern:  regexp.MustCompile(`(?m)^[ \t]*Tax[ \t]*(?:\([^)\n]*\))?[ \t]*:[ \t]*(.*)$`),
			Required: true,
			Kind:     KindAmount,
		},
		{Name: FieldTotal, Label: "Total Amount", Pattern: LabeledLine("Total Amount"), Required: true, Kind: KindAmount},
	}
}

// layoutFile is the YAML shape of a layout override file:
//
//	fields:
//	  customer:
//	    label: Bill To
//	  tax:
//	    pattern: '(?m)^VAT:\s*(.*)$'
type layoutFile struct {
	Fields map[string]struct {
		Label   string `yaml:"label"`
		Pattern string `yaml:"pattern"`
	} `yaml:"fields"`
}

// LoadLayout reads a YAML layout file and applies it over DefaultLayout
func LoadLayout(path string) ([]FieldSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading layout: %w", err)
	}
	return ParseLayout(data)
}

// ParseLayout applies YAML overrides to DefaultLayout. A label override
// rebuilds the labeled-line pattern unless a pattern is given as well.
func ParseLayout(data []byte) ([]FieldSpec, error) {
	var file layoutFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("unmarshaling layout: %w", err)
	}

	specs := DefaultLayout()
	index := make(map[string]int, len(specs))
	for i, spec := range specs {
		index[spec.Name] = i
	}

	for name, override := range file.Fields {
		i, ok := index[name]
		if !ok {
			return nil, fmt.Errorf("unknown layout field %q", name)
		}
		if override.Label != "" {
			specs[i].Label = override.Label
			specs[i].Pattern = LabeledLine(override.Label)
		}
		if override.Pattern != "" {
			re, err := regexp.Compile(override.Pattern)
			if err != nil {
				return nil, fmt.Errorf("compiling pattern for %q: %w", name, err)
			}
			if re.NumSubexp() != 1 {
				return nil, fmt.Errorf("pattern for %q must have exactly one capture group, has %d", name, re.NumSubexp())
			}
			specs[i].Pattern = re
		}
	}

	return specs, nil
}
