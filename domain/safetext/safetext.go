// Package safetext provides a string type for user-entered text that is
// stored and later rendered without markup escaping.
package safetext

import (
	"fmt"
	"strings"
)

// String is user-entered text guaranteed to carry no markup-significant
// characters. Construct values with New, or validate raw input with
// Validate before converting.
type String string

// New validates s and returns it as a String.
func New(s string) (String, error) {
	if err := Validate(s); err != nil {
		return "", err
	}
	return String(s), nil
}

// Validate reports whether s is acceptable as safe text. Angle brackets
// are rejected so stored values can be rendered verbatim.
func Validate(s string) error {
	if i := strings.IndexAny(s, "<>"); i >= 0 {
		return fmt.Errorf("text contains forbidden character %q", s[i])
	}
	return nil
}

// String returns the value as a plain string.
func (s String) String() string {
	return string(s)
}
