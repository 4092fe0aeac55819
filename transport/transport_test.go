package transport

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildWithoutCookies(t *testing.T) {
	client, err := Build(Options{Timeout: 3 * time.Second})
	require.NoError(t, err)

	assert.Nil(t, client.Jar)
	assert.Equal(t, 3*time.Second, client.Timeout)
}

func TestBuildWithCookiesStoresResponseCookies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "dust", Value: "abc123", Path: "/"})
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client, err := Build(Options{WithCookies: true})
	require.NoError(t, err)
	require.NotNil(t, client.Jar)

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	cookies := client.Jar.Cookies(u)
	require.Len(t, cookies, 1)
	assert.Equal(t, "abc123", cookies[0].Value)
}

func TestBuildRejectsPartialTLS(t *testing.T) {
	_, err := Build(Options{CertPath: "/certs/client.cert.pem"})
	assert.ErrorContains(t, err, "keyPath required")

	_, err = Build(Options{CertPath: "/nope/c.pem", KeyPath: "/nope/k.pem", CAPath: "/nope/ca.pem"})
	assert.ErrorContains(t, err, "failed to load client certificate")
}
