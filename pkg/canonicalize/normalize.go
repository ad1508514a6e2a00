package canonicalize

import (
	"fmt"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// CheckString rejects strings that would canonicalize ambiguously: invalid UTF-8, anything not in
// Unicode NFC form, and control characters. Two visually identical identifiers must not be able to
// produce two distinct signing payloads.
func CheckString(field, s string) error {
	if !utf8.ValidString(s) {
		return fmt.Errorf("%s: invalid utf-8", field)
	}
	if !norm.NFC.IsNormalString(s) {
		return fmt.Errorf("%s: not in NFC form", field)
	}
	for _, r := range s {
		if unicode.IsControl(r) {
			return fmt.Errorf("%s: contains control character %U", field, r)
		}
	}
	return nil
}
