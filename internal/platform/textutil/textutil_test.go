package textutil

import "testing"

func TestCleanText(t *testing.T) {
	cases := map[string]string{
		"  Jane   <b>Doe</b> ":             "Jane Doe",
		"<script>alert(1)</script>Street": "Street",
		"Tom & Jerry":                      "Tom & Jerry",
	}
	for in, want := range cases {
		if got := CleanText(in, 0); got != want {
			t.Fatalf("CleanText(%q) = %q, want %q", in, got, want)
		}
	}
	if got := CleanText("abcdef", 3); got != "abc" {
		t.Fatalf("expected truncation, got %q", got)
	}
}

func TestCurrencyHelpers(t *testing.T) {
	code, err := NormalizeCurrency("usd")
	if err != nil || code != "USD" {
		t.Fatalf("unexpected currency %q %v", code, err)
	}
	if _, err := NormalizeCurrency("ZZZ1"); err == nil {
		t.Fatalf("expected invalid currency error")
	}
	if scale, _ := CurrencyScale("JPY"); scale != 0 {
		t.Fatalf("expected JPY scale 0, got %d", scale)
	}
	if scale, _ := CurrencyScale("NGN"); scale != 2 {
		t.Fatalf("expected NGN scale 2, got %d", scale)
	}
}

func TestLocaleHelpers(t *testing.T) {
	if got := NormalizeLocale("en_gb", "en"); got != "en-GB" {
		t.Fatalf("unexpected locale %q", got)
	}
	if got := NormalizeLocale("", "en"); got != "en" {
		t.Fatalf("expected fallback, got %q", got)
	}
	if got := BaseLanguage("fr-CA"); got != "fr" {
		t.Fatalf("unexpected base %q", got)
	}
}
