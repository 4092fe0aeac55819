package collector

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/st-keller/dust-client/environment"
	"github.com/st-keller/dust-client/standard"
	"github.com/st-keller/dust-client/transport"
	"github.com/st-keller/dust-client/types"
)

func newTestClient(t *testing.T, base string, page environment.Location) (*Client, *standard.ConnectivityTracker) {
	t.Helper()

	httpClient, err := transport.Build(transport.Options{Timeout: 5 * time.Second, WithCookies: true})
	require.NoError(t, err)

	tracker := standard.NewConnectivityTracker()
	c, err := New(Options{
		BaseURL:    base,
		HTTPClient: httpClient,
		Page:       page,
		UserAgent:  "dust-test",
		Tracker:    tracker,
		Now:        func() time.Time { return time.UnixMilli(1700000000000) },
	})
	require.NoError(t, err)

	return c, tracker
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New(Options{BaseURL: "ftp://example.com"})
	assert.Error(t, err)

	c, err := New(Options{})
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL, c.BaseURL().String())
}

func TestIPSendsQueryAndHeaders(t *testing.T) {
	var got *http.Request
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"remote_addr":"203.0.113.7"}`))
	}))
	defer ts.Close()

	page := environment.Location{Href: "https://shop.example/cart?x=1#top"}
	c, tracker := newTestClient(t, ts.URL, page)

	body, err := c.IP(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"remote_addr":"203.0.113.7"}`, string(body))

	require.NotNil(t, got)
	assert.Equal(t, PathIP, got.URL.Path)
	assert.Equal(t, "1700000000000", got.URL.Query().Get("t"))
	assert.Equal(t, "https://shop.example/cart?x=1#top", got.URL.Query().Get("r"))
	assert.Equal(t, "dust-test", got.Header.Get("User-Agent"))
	// https page, http collector: no referrer
	assert.Empty(t, got.Header.Get("Referer"))

	stats := tracker.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, ProviderIPMe, stats[0].Service)
	assert.Equal(t, 1, stats[0].SuccessCalls)
}

func TestIPNonJSONIsError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>nope</html>"))
	}))
	defer ts.Close()

	c, _ := newTestClient(t, ts.URL, environment.Location{})

	_, err := c.IPProvider().Lookup(context.Background())
	assert.ErrorIs(t, err, ErrNotJSON)
}

func TestBeatOutcome(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer ts.Close()

	c, tracker := newTestClient(t, ts.URL, environment.Location{})

	ok, err := c.Beat(context.Background(), time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	status.Store(http.StatusServiceUnavailable)
	ok, err = c.Beat(context.Background(), time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	stats := tracker.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, 2, stats[0].TotalCalls)
	assert.Equal(t, 1, stats[0].SuccessCalls)
}

func TestBeatNetworkError(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	base := ts.URL
	ts.Close()

	c, _ := newTestClient(t, base, environment.Location{})

	ok, err := c.Beat(context.Background(), time.Now())
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestSendDeviceStatusError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota", http.StatusTooManyRequests)
	}))
	defer ts.Close()

	c, _ := newTestClient(t, ts.URL, environment.Location{})

	err := c.SendDevice(context.Background(), types.Report{R: "https://a.example/"})

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusTooManyRequests, se.Code)
	assert.Equal(t, "quota", se.Body)
}

func TestIpifyProvider(t *testing.T) {
	var cookieSeen, refSeen string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookieSeen = r.Header.Get("Cookie")
		refSeen = r.Header.Get("Referer")
		_, _ = w.Write([]byte(`{"ip":"198.51.100.4"}`))
	}))
	defer ts.Close()

	p := NewIpify(ts.URL+"/?format=json", nil, nil)
	assert.Equal(t, ProviderIpify, p.Name())

	body, err := p.Lookup(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"ip":"198.51.100.4"}`, string(body))
	assert.Empty(t, cookieSeen)
	assert.Empty(t, refSeen)
}

func TestIpifyFailures(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	tracker := standard.NewConnectivityTracker()
	_, err := NewIpify(ts.URL, nil, tracker).Lookup(context.Background())

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.Code)

	stats := tracker.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, 0, stats[0].SuccessCalls)
}

func TestReferrerPolicy(t *testing.T) {
	target, _ := url.Parse("https://dust.tahakara.dev/ip?t=1")

	tests := []struct {
		name string
		page environment.Location
		want string
	}{
		{"cross origin sends origin", environment.Location{Href: "https://shop.example/cart?id=7"}, "https://shop.example/"},
		{"same origin sends full url", environment.Location{Href: "https://dust.tahakara.dev/page?q=1#frag"}, "https://dust.tahakara.dev/page?q=1"},
		{"falls back to document referrer", environment.Location{Referrer: "https://news.example/a"}, "https://news.example/"},
		{"nothing known", environment.Location{}, ""},
		{"non-http page", environment.Location{Href: "file:///tmp/x.html"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Referrer(tt.page, target))
		})
	}

	plain, _ := url.Parse("http://localhost:8080/beat")
	assert.Empty(t, Referrer(environment.Location{Href: "https://shop.example/"}, plain))
	assert.Equal(t, "http://shop.example/", Referrer(environment.Location{Href: "http://shop.example/x"}, plain))
}

func TestServerIssuesCookies(t *testing.T) {
	srv := NewServer(ServerOptions{})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/beat", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"alive"}`, rec.Body.String())

	cookies := map[string]*http.Cookie{}
	for _, c := range rec.Result().Cookies() {
		cookies[c.Name] = c
	}

	require.Contains(t, cookies, CookieSession)
	require.Contains(t, cookies, CookieDevice)

	_, err := uuid.Parse(cookies[CookieSession].Value)
	assert.NoError(t, err)
	assert.Equal(t, 86400, cookies[CookieSession].MaxAge)
	assert.Equal(t, 31536000, cookies[CookieDevice].MaxAge)
	assert.True(t, cookies[CookieSession].HttpOnly)
	assert.False(t, cookies[CookieSession].Secure)
	assert.Equal(t, 1, srv.Beats())
}

func TestServerKeepsValidCookiesAndReplacesJunk(t *testing.T) {
	srv := NewServer(ServerOptions{SecureCookies: true})
	keep := uuid.NewString()

	req := httptest.NewRequest(http.MethodPost, "/beat", nil)
	req.AddCookie(&http.Cookie{Name: CookieSession, Value: keep})
	req.AddCookie(&http.Cookie{Name: CookieDevice, Value: "not-a-uuid"})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	for _, c := range rec.Result().Cookies() {
		assert.True(t, c.Secure)
		assert.Equal(t, http.SameSiteNoneMode, c.SameSite)

		switch c.Name {
		case CookieSession:
			assert.Equal(t, keep, c.Value)
		case CookieDevice:
			assert.NotEqual(t, "not-a-uuid", c.Value)
			_, err := uuid.Parse(c.Value)
			assert.NoError(t, err)
		}
	}
}

func TestServerIPEcho(t *testing.T) {
	srv := NewServer(ServerOptions{})

	req := httptest.NewRequest(http.MethodGet, "/ip?t=1", nil)
	req.RemoteAddr = "192.0.2.10:5555"
	req.Header.Set("X-Forwarded-For", "203.0.113.1")
	req.Header.Set("Referer", "https://shop.example/")

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	var info map[string]*string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))

	require.NotNil(t, info["remote_addr"])
	assert.Equal(t, "192.0.2.10", *info["remote_addr"])
	require.NotNil(t, info["x_forwarded_for"])
	assert.Equal(t, "203.0.113.1", *info["x_forwarded_for"])
	assert.Equal(t, "https://shop.example/", *info["referrer"])
	assert.Nil(t, info["cf_connecting_ip"])
}

func TestServerPixel(t *testing.T) {
	srv := NewServer(ServerOptions{})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dust", nil))

	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "\x89PNG"))
}

func TestServerRejectsInvalidDevice(t *testing.T) {
	srv := NewServer(ServerOptions{})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/device", strings.NewReader("{")))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, srv.Reports())
}

func TestClientAgainstServer(t *testing.T) {
	srv := NewServer(ServerOptions{})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	page := environment.Location{Href: ts.URL + "/index.html"}
	c, _ := newTestClient(t, ts.URL, page)

	ok, err := c.Beat(context.Background(), time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	ua := "Mozilla/5.0"
	report := types.Report{
		R: page.Href,
		Device: types.DeviceSnapshot{
			UserAgent: ua,
			IPAddress: &types.AddressRecord{ProviderA: json.RawMessage(`{"ip":"1.2.3.4"}`)},
		},
	}
	require.NoError(t, c.SendDevice(context.Background(), report))

	reports := srv.Reports()
	require.Len(t, reports, 1)
	assert.Equal(t, page.Href, reports[0].Query)
	assert.Equal(t, ua, reports[0].Report.Device.UserAgent)
	assert.JSONEq(t, `{"ip":"1.2.3.4"}`, string(reports[0].Report.Device.IPAddress.ProviderA))

	// the jar replays the identifiers issued on the beat
	assert.NotEmpty(t, reports[0].Session)
	jarCookies := c.http.Jar.Cookies(c.BaseURL())
	var session string
	for _, ck := range jarCookies {
		if ck.Name == CookieSession {
			session = ck.Value
		}
	}
	assert.Equal(t, session, reports[0].Session)
}
