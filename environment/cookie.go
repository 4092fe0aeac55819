package environment

import (
	"net/http"
	"net/url"
	"strings"
)

// CookieValue looks up name in a document.cookie style header ("a=1; b=2").
// Values are URL-decoded; an undecodable value is returned raw.
func CookieValue(header, name string) (string, bool) {
	if header == "" {
		return "", false
	}

	for _, part := range strings.Split(header, "; ") {
		key, value, _ := strings.Cut(part, "=")
		if key != name {
			continue
		}
		if decoded, err := url.PathUnescape(value); err == nil {
			return decoded, true
		}
		return value, true
	}

	return "", false
}

// CookieHeader formats cookies the way document.cookie exposes them.
func CookieHeader(cookies []*http.Cookie) string {
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}
