package util

import (
	"errors"
	"fmt"
	"regexp"
)

// MinPhoneDigits is the shortest accepted canonical phone number.
const MinPhoneDigits = 6

var (
	nonDigitRegex = regexp.MustCompile(`\D`)

	ErrEmptyPhone = errors.New("phone number cannot be empty")
	ErrShortPhone = errors.New("phone number is too short")
)

// CanonicalizePhone strips channel prefixes ("whatsapp:", "+") and any other
// non-digit characters, yielding the conversation key for a phone number.
func CanonicalizePhone(raw string) (string, error) {
	if raw == "" {
		return "", ErrEmptyPhone
	}
	canonical := nonDigitRegex.ReplaceAllString(raw, "")
	if canonical == "" {
		return "", fmt.Errorf("%w: no digits found in %q", ErrEmptyPhone, raw)
	}
	if len(canonical) < MinPhoneDigits {
		return "", fmt.Errorf("%w: %q (minimum %d digits)", ErrShortPhone, canonical, MinPhoneDigits)
	}
	return canonical, nil
}
