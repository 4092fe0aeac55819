package collector

import (
	"net/url"

	"github.com/st-keller/dust-client/environment"
)

// Referrer computes the Referer header for a request to target under the
// strict-origin-when-cross-origin policy. The page URL is preferred, with
// the document referrer as fallback.
func Referrer(page environment.Location, target *url.URL) string {
	ref := page.Href
	if ref == "" {
		ref = page.Referrer
	}
	if ref == "" {
		return ""
	}

	u, err := url.Parse(ref)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return ""
	}
	u.User = nil
	u.Fragment = ""

	// no referrer on a TLS downgrade
	if u.Scheme == "https" && target.Scheme == "http" {
		return ""
	}

	if u.Scheme == target.Scheme && u.Host == target.Host {
		return u.String()
	}

	return u.Scheme + "://" + u.Host + "/"
}
