package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/st-keller/dust-client/standard"
)

// DefaultIpifyURL is the public address echo service.
const DefaultIpifyURL = "https://api.ipify.org?format=json"

// Ipify is the generic public-IP address provider. It sends no cookies and
// no referrer.
type Ipify struct {
	url     string
	http    *http.Client
	tracker *standard.ConnectivityTracker
}

// NewIpify creates the provider. httpClient must not carry a cookie jar;
// a nil client gets a plain one with a 10s timeout.
func NewIpify(endpoint string, httpClient *http.Client, tracker *standard.ConnectivityTracker) *Ipify {
	if endpoint == "" {
		endpoint = DefaultIpifyURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if tracker == nil {
		tracker = standard.NewConnectivityTracker()
	}
	return &Ipify{url: endpoint, http: httpClient, tracker: tracker}
}

func (*Ipify) Name() string { return ProviderIpify }

// Lookup fetches the address echo; any transport, status or decode failure
// is returned as an error.
func (p *Ipify) Lookup(ctx context.Context) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create ipify request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := p.http.Do(req)
	latency := time.Since(start)
	if err != nil {
		p.tracker.TrackFailure(ProviderIpify, p.url, latency, err.Error())
		return nil, fmt.Errorf("ipify request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus("ipify", resp); err != nil {
		p.tracker.TrackFailure(ProviderIpify, p.url, latency, err.Error())
		return nil, err
	}

	body, err := readJSON(resp.Body)
	if err != nil {
		p.tracker.TrackFailure(ProviderIpify, p.url, latency, err.Error())
		return nil, err
	}

	p.tracker.TrackSuccess(ProviderIpify, p.url, latency)

	return body, nil
}
