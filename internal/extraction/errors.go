package extraction

import (
	"errors"
	"fmt"
	"strings"
)

// MissingFieldError reports a required field whose pattern did not match
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing field %q", e.Field)
}

// MalformedAmountError reports a matched amount or quantity that is not a number
type MalformedAmountError struct {
	Field string
	Raw   string
	Err   error
}

func (e *MalformedAmountError) Error() string {
	return fmt.Sprintf("malformed amount for %q: %q", e.Field, e.Raw)
}

func (e *MalformedAmountError) Unwrap() error {
	return e.Err
}

// MalformedDateError reports a matched date in none of the accepted formats
type MalformedDateError struct {
	Field string
	Raw   string
}

func (e *MalformedDateError) Error() string {
	return fmt.Sprintf("malformed date for %q: %q", e.Field, e.Raw)
}

// InvoiceParseError carries every field problem found while assembling a
// record. In fail-fast mode it carries exactly one.
type InvoiceParseError struct {
	Errors []error
}

func (e *InvoiceParseError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		msgs = append(msgs, err.Error())
	}
	return "parsing invoice: " + strings.Join(msgs, "; ")
}

func (e *InvoiceParseError) Unwrap() []error {
	return e.Errors
}

// Fields returns the labels of the offending fields in the order they were found
func (e *InvoiceParseError) Fields() []string {
	fields := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		var (
			missing *MissingFieldError
			amount  *MalformedAmountError
			date    *MalformedDateError
		)
		switch {
		case errors.As(err, &missing):
			fields = append(fields, missing.Field)
		case errors.As(err, &amount):
			fields = append(fields, amount.Field)
		case errors.As(err, &date):
			fields = append(fields, date.Field)
		}
	}
	return fields
}
