package extraction

// Assembler turns document text into a Record by running every field spec of
// its layout and the line item extractor. It holds no per-document state and
// is safe for concurrent use.
type Assembler struct {
	fields   []FieldSpec
	failFast bool
}

// Option configures an Assembler
type Option func(*Assembler)

// WithLayout replaces the default field specs
func WithLayout(fields []FieldSpec) Option {
	return func(a *Assembler) {
		a.fields = fields
	}
}

// WithFailFast stops assembly at the first missing or malformed field
// instead of collecting all of them.
func WithFailFast() Option {
	return func(a *Assembler) {
		a.failFast = true
	}
}

// NewAssembler creates an Assembler using DefaultLayout unless overridden
func NewAssembler(opts ...Option) *Assembler {
	a := &Assembler{fields: DefaultLayout()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble extracts a Record from text. On failure it returns the zero Record
// and an *InvoiceParseError listing the offending fields.
func (a *Assembler) Assemble(text string) (Record, error) {
	var (
		rec  Record
		errs []error
	)

	for _, spec := range a.fields {
		if err := a.extractInto(&rec, text, spec); err != nil {
			errs = append(errs, err)
			if a.failFast {
				return Record{}, &InvoiceParseError{Errors: errs}
			}
		}
	}

	items, err := ExtractLineItems(text)
	if err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return Record{}, &InvoiceParseError{Errors: errs}
	}

	rec.Items = items
	return rec, nil
}

func (a *Assembler) extractInto(rec *Record, text string, spec FieldSpec) error {
	raw, err := ExtractField(text, spec)
	if err != nil || raw == "" {
		return err
	}

	switch spec.Kind {
	case KindDate:
		date, err := parseDate(spec.Label, raw)
		if err != nil {
			return err
		}
		if spec.Name == FieldInvoiceDate {
			rec.InvoiceDate = date
		}
		return nil
	case KindAmount, KindPercent:
		amount, err := parseAmount(spec.Label, raw)
		if err != nil {
			return err
		}
		switch spec.Name {
		case FieldSubtotal:
			rec.Subtotal = amount
		case FieldTaxRate:
			rec.TaxRate = amount
		case FieldTax:
			rec.Tax = amount
		case FieldTotal:
			rec.Total = amount
		}
		return nil
	}

	switch spec.Name {
	case FieldInvoiceNumber:
		rec.InvoiceNumber = raw
	case FieldSupplier:
		rec.Supplier = raw
	case FieldCustomer:
		rec.Customer = raw
	case FieldBillingAddress:
		rec.BillingAddress = raw
	case FieldShippingAddress:
		rec.ShippingAddress = raw
	case FieldSupplierGSTIN:
		rec.SupplierGSTIN = raw
	case FieldCustomerGSTIN:
		rec.CustomerGSTIN = raw
	}
	return nil
}
