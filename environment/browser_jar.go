package environment

import (
	"net/http"
	"net/url"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// browserJar is an http.CookieJar backed by Chrome's cookie store.
// CookieJar has no error path, so a failed DevTools call drops the cookies;
// the mirror then reports them missing.
type browserJar struct {
	page *rod.Page
}

func (j *browserJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	if len(cookies) == 0 {
		// a nil slice would clear every browser cookie
		return
	}
	_ = j.page.SetCookies(cookieParams(u, cookies, time.Now()))
}

func (j *browserJar) Cookies(u *url.URL) []*http.Cookie {
	cookies, err := j.page.Cookies([]string{u.String()})
	if err != nil {
		return nil
	}
	return httpCookies(cookies)
}

func cookieParams(u *url.URL, cookies []*http.Cookie, now time.Time) []*proto.NetworkCookieParam {
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))

	for _, c := range cookies {
		p := &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			URL:      u.String(),
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HttpOnly,
		}

		switch c.SameSite {
		case http.SameSiteLaxMode:
			p.SameSite = proto.NetworkCookieSameSiteLax
		case http.SameSiteStrictMode:
			p.SameSite = proto.NetworkCookieSameSiteStrict
		case http.SameSiteNoneMode:
			p.SameSite = proto.NetworkCookieSameSiteNone
		}

		// Max-Age wins over Expires; no expiry leaves a session cookie
		switch {
		case c.MaxAge > 0:
			p.Expires = proto.TimeSinceEpoch(now.Add(time.Duration(c.MaxAge) * time.Second).Unix())
		case c.MaxAge < 0:
			p.Expires = proto.TimeSinceEpoch(now.Add(-time.Hour).Unix())
		case !c.Expires.IsZero():
			p.Expires = proto.TimeSinceEpoch(c.Expires.Unix())
		}

		params = append(params, p)
	}

	return params
}

func httpCookies(cookies []*proto.NetworkCookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		out = append(out, &http.Cookie{Name: c.Name, Value: c.Value})
	}
	return out
}
