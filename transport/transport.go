// Package transport builds the HTTP clients used to talk to the collector and address providers.
package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"
	"os"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/publicsuffix"
)

// Options configures Build.
type Options struct {
	// Timeout bounds each request. Zero means no client-side timeout.
	Timeout time.Duration

	// Jar attaches a cookie store (credentials included). Nil with
	// WithCookies=true creates a fresh public-suffix aware jar.
	Jar         http.CookieJar
	WithCookies bool

	// Optional mTLS material. All three must be set together.
	CertPath string
	KeyPath  string
	CAPath   string
}

// Build creates an HTTP/2-capable client that falls back to HTTP/1.1.
func Build(opts Options) (*http.Client, error) {
	tlsConfig, err := buildTLS(opts)
	if err != nil {
		return nil, err
	}

	base := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig:       tlsConfig,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}

	if err := http2.ConfigureTransport(base); err != nil {
		return nil, fmt.Errorf("failed to configure http2 transport: %w", err)
	}

	client := &http.Client{
		Transport: base,
		Timeout:   opts.Timeout,
	}

	switch {
	case opts.Jar != nil:
		client.Jar = opts.Jar
	case opts.WithCookies:
		jar, err := NewJar()
		if err != nil {
			return nil, err
		}
		client.Jar = jar
	}

	return client, nil
}

// NewJar creates a cookie jar using the public suffix list.
func NewJar() (*cookiejar.Jar, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	return jar, nil
}

func buildTLS(opts Options) (*tls.Config, error) {
	if opts.CertPath == "" && opts.KeyPath == "" && opts.CAPath == "" {
		return &tls.Config{MinVersion: tls.VersionTLS12}, nil
	}

	if opts.CertPath == "" {
		return nil, fmt.Errorf("certPath required")
	}
	if opts.KeyPath == "" {
		return nil, fmt.Errorf("keyPath required")
	}
	if opts.CAPath == "" {
		return nil, fmt.Errorf("caPath required")
	}

	clientCert, err := tls.LoadX509KeyPair(opts.CertPath, opts.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load client certificate: %w", err)
	}

	caCert, err := os.ReadFile(opts.CAPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to parse CA certificate")
	}

	// mTLS pins TLS 1.3
	return &tls.Config{
		Certificates: []tls.Certificate{clientCert},
		RootCAs:      caCertPool,
		MinVersion:   tls.VersionTLS13,
	}, nil
}
