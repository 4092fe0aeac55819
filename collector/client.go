// Package collector implements the HTTP contract between the dust client and
// the collector service, the third-party address echo and a local collector.
package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/st-keller/dust-client/environment"
	"github.com/st-keller/dust-client/logger"
	"github.com/st-keller/dust-client/standard"
	"github.com/st-keller/dust-client/types"
)

// DefaultBaseURL is the production collector.
const DefaultBaseURL = "https://dust.tahakara.dev"

// Collector endpoints.
const (
	PathIP     = "/ip"
	PathBeat   = "/beat"
	PathDevice = "/device"
)

// Provider names as they appear in the address record.
const (
	ProviderIpify = "ipfy"
	ProviderIPMe  = "ipme"
)

// StatusError is returned when an endpoint answers with a non-2xx status.
type StatusError struct {
	Endpoint string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: HTTP %d", e.Endpoint, e.Code)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Endpoint, e.Code, e.Body)
}

// ErrNotJSON is returned when a lookup body does not parse as JSON.
var ErrNotJSON = errors.New("response body is not JSON")

// Options configures a Client.
type Options struct {
	BaseURL string

	// HTTPClient should carry a cookie jar: collector calls include credentials.
	HTTPClient *http.Client

	Page      environment.Location
	UserAgent string
	Tracker   *standard.ConnectivityTracker
	Logger    logger.Logger
	Now       func() time.Time
}

// Client talks to the collector.
type Client struct {
	base      *url.URL
	http      *http.Client
	page      environment.Location
	userAgent string
	tracker   *standard.ConnectivityTracker
	log       logger.Logger
	now       func() time.Time
}

// New validates opts and creates a Client.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}

	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid collector URL %q: %w", opts.BaseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid collector URL %q: scheme must be http or https", opts.BaseURL)
	}

	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Tracker == nil {
		opts.Tracker = standard.NewConnectivityTracker()
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewTestLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Client{
		base:      base,
		http:      opts.HTTPClient,
		page:      opts.Page,
		userAgent: opts.UserAgent,
		tracker:   opts.Tracker,
		log:       opts.Logger.WithComponent("collector"),
		now:       opts.Now,
	}, nil
}

// BaseURL returns the collector base URL.
func (c *Client) BaseURL() *url.URL {
	u := *c.base
	return &u
}

// IP calls GET /ip?t=<unixMillis>&r=<page> and returns the JSON body.
func (c *Client) IP(ctx context.Context) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("t", strconv.FormatInt(c.now().UnixMilli(), 10))
	q.Set("r", c.page.Href)

	resp, err := c.do(ctx, ProviderIPMe, http.MethodGet, PathIP, q, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus(PathIP, resp); err != nil {
		return nil, err
	}

	return readJSON(resp.Body)
}

// Beat calls GET /beat?t=<at>&r=<page>. ok is false for a non-2xx answer;
// err is set only when the request itself failed.
func (c *Client) Beat(ctx context.Context, at time.Time) (bool, error) {
	q := url.Values{}
	q.Set("t", strconv.FormatInt(at.UnixMilli(), 10))
	q.Set("r", c.page.Href)

	resp, err := c.do(ctx, "beat", http.MethodGet, PathBeat, q, nil)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode >= 200 && resp.StatusCode < 300, nil
}

// SendDevice posts the report as JSON to /device?r=<page>.
func (c *Client) SendDevice(ctx context.Context, report types.Report) error {
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal device report: %w", err)
	}

	q := url.Values{}
	q.Set("r", report.R)

	resp, err := c.do(ctx, "device", http.MethodPost, PathDevice, q, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return checkStatus(PathDevice, resp)
}

// IPProvider exposes the /ip endpoint as an address provider.
func (c *Client) IPProvider() *IPEndpoint {
	return &IPEndpoint{client: c}
}

// IPEndpoint is the collector-operated address provider.
type IPEndpoint struct {
	client *Client
}

func (*IPEndpoint) Name() string { return ProviderIPMe }

func (p *IPEndpoint) Lookup(ctx context.Context) (json.RawMessage, error) {
	return p.client.IP(ctx)
}

func (c *Client) do(ctx context.Context, service, method, path string, q url.Values, body []byte) (*http.Response, error) {
	target := c.base.JoinPath(path)
	target.RawQuery = q.Encode()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", path, err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if ref := Referrer(c.page, target); ref != "" {
		req.Header.Set("Referer", ref)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	latency := time.Since(start)

	endpoint := c.base.JoinPath(path).String()
	switch {
	case err != nil:
		c.tracker.TrackFailure(service, endpoint, latency, err.Error())
		return nil, fmt.Errorf("%s request failed: %w", path, err)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		c.tracker.TrackFailure(service, endpoint, latency, "HTTP "+strconv.Itoa(resp.StatusCode))
	default:
		c.tracker.TrackSuccess(service, endpoint, latency)
	}

	c.log.Debug().Str("path", path).Int("status", resp.StatusCode).Dur("latency", latency).Msg("Collector call")

	return resp, nil
}

func checkStatus(endpoint string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	return &StatusError{Endpoint: endpoint, Code: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
}

func readJSON(r io.Reader) (json.RawMessage, error) {
	data, err := io.ReadAll(io.LimitReader(r, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	data = bytes.TrimSpace(data)
	if !json.Valid(data) {
		return nil, ErrNotJSON
	}

	return json.RawMessage(data), nil
}
