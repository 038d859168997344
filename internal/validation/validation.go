package validation

import (
	"errors"
	"strings"
	"unicode"
)

// ErrCityEmpty is returned when city is empty or whitespace-only after trim.
var ErrCityEmpty = errors.New("city query parameter is required")

// ErrCityTooLong is returned when city length exceeds the maximum.
var ErrCityTooLong = errors.New("city is too long")

// ErrCityInvalidChars is returned when city contains '/' or control characters.
var ErrCityInvalidChars = errors.New("city contains invalid characters")

// ValidateCity trims the input and enforces a maximum length (maxLen runes, 0 = no
// limit). '/' and control characters are rejected so object keys stay flat and
// printable; everything else, including case, is passed through as given.
func ValidateCity(input string, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	if len(r) == 0 {
		return "", ErrCityEmpty
	}
	if maxLen > 0 && len(r) > maxLen {
		return "", ErrCityTooLong
	}
	for _, c := range r {
		if c == '/' || unicode.IsControl(c) {
			return "", ErrCityInvalidChars
		}
	}
	return s, nil
}
