package extract

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	numberPattern = regexp.MustCompile(`\d[\d\s\x{00a0}\x{202f}.,']*`)
	digitsPattern = regexp.MustCompile(`\d+`)
)

var currencyMarkers = []struct {
	marker string
	code   string
}{
	{"kč", "CZK"},
	{"czk", "CZK"},
	{"€", "EUR"},
	{"eur", "EUR"},
	{"zł", "PLN"},
	{"pln", "PLN"},
	{"ft", "HUF"},
	{"huf", "HUF"},
	{"£", "GBP"},
	{"$", "USD"},
}

// ParsePrice reads a displayed price such as "1 234,50 Kč", "12 990 Kč",
// "1.234,56 €" or "€1,234.56". It reports ok=false when no amount is found.
func ParsePrice(text string) (float64, string, bool) {
	currency := detectCurrency(text)
	raw := numberPattern.FindString(text)
	if raw == "" {
		return 0, currency, false
	}
	clean := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\u00a0', '\u202f', '\'':
			return -1
		}
		return r
	}, raw)
	clean = strings.TrimRight(clean, ".,")
	clean = normalizeSeparators(clean)
	value, err := strconv.ParseFloat(clean, 64)
	if err != nil || value < 0 {
		return 0, currency, false
	}
	return value, currency, true
}

// ParseCount reads the first integer in text, ignoring grouping spaces
// ("1 024 recenzí" -> 1024).
func ParseCount(text string) (int, bool) {
	raw := numberPattern.FindString(text)
	if raw == "" {
		return 0, false
	}
	digits := strings.Join(digitsPattern.FindAllString(strings.SplitN(raw, ",", 2)[0], -1), "")
	if digits == "" {
		return 0, false
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return n, true
}

// ParsePercent reads a percentage such as "95 %" or "87,5%" clamped to [0,100].
func ParsePercent(text string) (float64, bool) {
	value, _, ok := ParsePrice(text)
	if !ok {
		return 0, false
	}
	switch {
	case value < 0:
		value = 0
	case value > 100:
		value = 100
	}
	return value, true
}

func detectCurrency(text string) string {
	lower := strings.ToLower(text)
	for _, c := range currencyMarkers {
		if strings.Contains(lower, c.marker) {
			return c.code
		}
	}
	return ""
}

// normalizeSeparators decides which of '.' and ',' is the decimal mark and
// returns a strconv-friendly string.
func normalizeSeparators(s string) string {
	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			return strings.Replace(s, ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")
	case lastComma >= 0:
		if isDecimalTail(s, lastComma, ",") {
			return strings.Replace(s, ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")
	case lastDot >= 0:
		if isDecimalTail(s, lastDot, ".") {
			return s
		}
		return strings.ReplaceAll(s, ".", "")
	default:
		return s
	}
}

// isDecimalTail reports whether sep appears once and is followed by one or
// two digits, which marks it as a decimal separator rather than grouping.
func isDecimalTail(s string, idx int, sep string) bool {
	if strings.Count(s, sep) != 1 {
		return false
	}
	tail := len(s) - idx - 1
	return tail == 1 || tail == 2
}
