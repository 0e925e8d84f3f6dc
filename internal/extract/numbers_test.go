package extract

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParsePrice(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in       string
		want     float64
		currency string
		ok       bool
	}{
		{in: "1 234,50 Kč", want: 1234.50, currency: "CZK", ok: true},
		{in: "12 990 Kč", want: 12990, currency: "CZK", ok: true},
		{in: "12\u00a0990\u00a0Kč", want: 12990, currency: "CZK", ok: true},
		{in: "od 499 Kč", want: 499, currency: "CZK", ok: true},
		{in: "1 299,- Kč", want: 1299, currency: "CZK", ok: true},
		{in: "1.234,56 €", want: 1234.56, currency: "EUR", ok: true},
		{in: "€1,234.56", want: 1234.56, currency: "EUR", ok: true},
		{in: "12.990 Kč", want: 12990, currency: "CZK", ok: true},
		{in: "19,9 zł", want: 19.9, currency: "PLN", ok: true},
		{in: "Cena neuvedena", ok: false},
		{in: "", ok: false},
	}

	for _, tc := range tests {
		got, currency, ok := ParsePrice(tc.in)
		require.Equal(t, tc.ok, ok, tc.in)
		if !tc.ok {
			continue
		}
		require.InDelta(t, tc.want, got, 0.0001, tc.in)
		require.Equal(t, tc.currency, currency, tc.in)
	}
}

func TestParseCount(t *testing.T) {
	t.Parallel()

	n, ok := ParseCount("1 024 recenzí")
	require.True(t, ok)
	require.Equal(t, 1024, n)

	n, ok = ParseCount("(37)")
	require.True(t, ok)
	require.Equal(t, 37, n)

	_, ok = ParseCount("Zatím bez hodnocení")
	require.False(t, ok)
}

func TestParsePercent(t *testing.T) {
	t.Parallel()

	v, ok := ParsePercent("95 %")
	require.True(t, ok)
	require.InDelta(t, 95.0, v, 0.0001)

	v, ok = ParsePercent("87,5%")
	require.True(t, ok)
	require.InDelta(t, 87.5, v, 0.0001)

	v, ok = ParsePercent("140 %")
	require.True(t, ok)
	require.InDelta(t, 100.0, v, 0.0001)

	_, ok = ParsePercent("n/a")
	require.False(t, ok)
}
