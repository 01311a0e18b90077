package extraction

import (
	"regexp"
	"strings"
)

// FieldSpec describes one scalar field to pull out of the document text.
// Pattern must have exactly one capture group holding the value.
type FieldSpec struct {
	Name     string
	Label    string
	Pattern  *regexp.Regexp
	Required bool
	Kind     Kind
}

// Kind selects how a captured value is converted into the record
type Kind int

const (
	KindText Kind = iota
	KindDate
	KindAmount
	KindPercent
)

// LabeledLine builds the pattern for a "Label: value" line. The label must
// start the line (leading blanks allowed) and the value runs to end of line.
func LabeledLine(label string) *regexp.Regexp {
	return regexp.MustCompile(`(?m)^[ \t]*` + regexp.QuoteMeta(label) + `:[ \t]*(.*)$`)
}

// Find returns the trimmed value of the first match in document order.
// A value made only of whitespace is reported as absent.
func (s FieldSpec) Find(text string) (string, bool) {
	match := s.Pattern.FindStringSubmatch(text)
	if len(match) < 2 {
		return "", false
	}
	value := strings.TrimSpace(match[1])
	if value == "" {
		return "", false
	}
	return value, true
}

// ExtractField returns the value of spec in text. An absent required field is
// a *MissingFieldError; an absent optional field is an empty string.
func ExtractField(text string, spec FieldSpec) (string, error) {
	value, ok := spec.Find(text)
	if !ok && spec.Required {
		return "", &MissingFieldError{Field: spec.Label}
	}
	return value, nil
}
