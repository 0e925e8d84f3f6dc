package crawler

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"golang.org/x/net/publicsuffix"
)

var errUnsupportedURL = errors.New("unsupported url")

// trackingParams are dropped from page URLs before they are used as keys.
var trackingParams = map[string]struct{}{
	"gclid":   {},
	"fbclid":  {},
	"msclkid": {},
	"yclid":   {},
	"ref":     {},
	"ref_src": {},
	"_ga":     {},
	"mc_cid":  {},
	"mc_eid":  {},
}

// CanonicalProductURL is the dedup key of a product page: scheme, host and
// path only. The query and fragment never identify a different product.
func CanonicalProductURL(raw string, base *url.URL) (string, error) {
	u, err := resolve(raw, base)
	if err != nil {
		return "", err
	}
	u.RawQuery = ""
	u.ForceQuery = false
	return u.String(), nil
}

// CanonicalPageURL normalizes a listing URL. Non-tracking query parameters
// are kept (sorted) since they usually carry pagination state.
func CanonicalPageURL(raw string, base *url.URL) (string, error) {
	u, err := resolve(raw, base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for key := range q {
		if isTrackingParam(key) {
			q.Del(key)
		}
	}
	u.RawQuery = q.Encode()
	u.ForceQuery = false
	return u.String(), nil
}

// SameSite reports whether two hosts share a registrable domain, so that
// category subdomains and product subdomains of one site match.
func SameSite(a, b string) bool {
	ha := hostOf(a)
	hb := hostOf(b)
	if ha == "" || hb == "" {
		return false
	}
	if ha == hb {
		return true
	}
	ra, errA := publicsuffix.EffectiveTLDPlusOne(ha)
	rb, errB := publicsuffix.EffectiveTLDPlusOne(hb)
	if errA != nil || errB != nil {
		return false
	}
	return ra == rb
}

func resolve(raw string, base *url.URL) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty", errUnsupportedURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme %q", errUnsupportedURL, u.Scheme)
	}
	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: missing host", errUnsupportedURL)
	}
	u.User = nil
	u.Fragment = ""
	u.RawFragment = ""
	u.Path = cleanPath(u.Path)
	u.RawPath = ""
	return u, nil
}

func cleanPath(p string) string {
	if p == "" || p == "/" {
		return "/"
	}
	cleaned := path.Clean("/" + p)
	if cleaned == "/" {
		return cleaned
	}
	return strings.TrimSuffix(cleaned, "/")
}

func isTrackingParam(key string) bool {
	key = strings.ToLower(key)
	if strings.HasPrefix(key, "utm_") {
		return true
	}
	_, ok := trackingParams[key]
	return ok
}

func hostOf(raw string) string {
	if !strings.Contains(raw, "://") {
		return strings.ToLower(raw)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
