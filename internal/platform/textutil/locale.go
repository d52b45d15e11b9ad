package textutil

import (
	"fmt"
	"strings"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
)

// NormalizeCurrency validates an ISO 4217 code and returns it upper-cased.
func NormalizeCurrency(code string) (string, error) {
	unit, err := currency.ParseISO(strings.TrimSpace(code))
	if err != nil {
		return "", fmt.Errorf("invalid currency %q: %w", code, err)
	}
	return unit.String(), nil
}

// CurrencyScale returns the number of minor-unit digits for the currency (2 for USD, 0 for JPY).
func CurrencyScale(code string) (int, error) {
	unit, err := currency.ParseISO(strings.TrimSpace(code))
	if err != nil {
		return 0, fmt.Errorf("invalid currency %q: %w", code, err)
	}
	scale, _ := currency.Standard.Rounding(unit)
	return scale, nil
}

// NormalizeLocale canonicalises a BCP 47 tag, falling back when it does not parse.
func NormalizeLocale(tag, fallback string) string {
	parsed, err := language.Parse(strings.TrimSpace(tag))
	if err != nil || parsed == language.Und {
		return fallback
	}
	return parsed.String()
}

// BaseLanguage returns the primary language subtag, e.g. "fr" for "fr-CA".
func BaseLanguage(tag string) string {
	parsed, err := language.Parse(strings.TrimSpace(tag))
	if err != nil {
		return ""
	}
	base, confidence := parsed.Base()
	if confidence == language.No {
		return ""
	}
	return base.String()
}
