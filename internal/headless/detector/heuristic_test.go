package detector

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

func TestHeuristic_ShouldPromote_EmptyBody(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100)
	resp := crawler.FetchResponse{
		StatusCode: 200,
		Body:       []byte(""),
	}
	require.True(t, h.ShouldPromote(resp))
}

func TestHeuristic_ShouldPromote_SPAMarkers(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100)
	resp := crawler.FetchResponse{
		StatusCode: 200,
		Body:       []byte(`<div id="__next"></div>`),
	}
	require.True(t, h.ShouldPromote(resp))
}

func TestHeuristic_ShouldPromote_ScriptDensity(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(1000)
	resp := crawler.FetchResponse{
		StatusCode: 200,
		Body:       []byte(`<html><script>var a=1;</script><p>t</p></html>`),
	}
	require.True(t, h.ShouldPromote(resp))
}

func TestHeuristic_ShouldPromote_DisabledForNon200(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100)
	resp := crawler.FetchResponse{
		StatusCode: 404,
		Body:       []byte("not found"),
	}
	require.False(t, h.ShouldPromote(resp))
}

func TestHeuristic_ShouldPromote_MissingListingMarkers(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(10, "c-product__link", " ", "product-name")
	shell := crawler.FetchResponse{
		StatusCode: 200,
		Body:       []byte(`<html><body><div class="c-product-list" data-loading="true"></div></body></html>`),
	}
	require.True(t, h.ShouldPromote(shell))

	rendered := crawler.FetchResponse{
		StatusCode: 200,
		Body:       []byte(`<html><body><a class="c-product__link" href="/p">p</a></body></html>`),
	}
	require.False(t, h.ShouldPromote(rendered))
	require.Len(t, h.ExpectMarkers, 2)
}

func TestHeuristic_Reason(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(0, "c-product__link")
	require.Equal(t, defaultBodyThreshold, h.BodyLengthThreshold)

	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "whitespace", body: "  \n ", want: "empty body"},
		{name: "react root", body: `<div data-reactroot=""><a class="c-product__link">x</a></div>`, want: "app shell"},
		{name: "no grid", body: `<html><body><p>Naše nabídka se načítá a může to chvíli trvat.</p></body></html>`, want: "listing markers missing"},
		{name: "rendered", body: `<html><body><a class="c-product__link" href="/p">Mixér</a></body></html>`, want: ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := h.Reason(crawler.FetchResponse{StatusCode: 200, Body: []byte(tc.body)})
			require.Equal(t, tc.want, got)
		})
	}
}
