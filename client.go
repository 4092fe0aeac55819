package dust

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"runtime"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/st-keller/dust-client/collector"
	"github.com/st-keller/dust-client/environment"
	"github.com/st-keller/dust-client/fingerprint"
	"github.com/st-keller/dust-client/heartbeat"
	"github.com/st-keller/dust-client/logger"
	"github.com/st-keller/dust-client/mirror"
	"github.com/st-keller/dust-client/resolver"
	"github.com/st-keller/dust-client/standard"
	"github.com/st-keller/dust-client/storage"
	"github.com/st-keller/dust-client/transport"
	"github.com/st-keller/dust-client/types"
)

// Option customises New.
type Option func(*options)

type options struct {
	source      environment.Source
	store       mirror.Store
	httpClient  *http.Client
	ipifyClient *http.Client
	log         logger.Logger
}

// WithSource replaces the host environment source (e.g. a browser page).
// A source that implements environment.CookieStore also supplies the cookie
// jar for collector calls.
func WithSource(s environment.Source) Option {
	return func(o *options) { o.source = s }
}

// WithStore replaces the bbolt storage the cookies are mirrored into.
func WithStore(s mirror.Store) Option {
	return func(o *options) { o.store = s }
}

// WithHTTPClient sets the client used for collector calls. It should carry
// a cookie jar.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithIpifyClient sets the client used for the generic address provider.
func WithIpifyClient(c *http.Client) Option {
	return func(o *options) { o.ipifyClient = c }
}

// WithLogger sets the base logger. Warnings and errors are still captured
// in RecentLogs, provided the logger's level lets them through.
func WithLogger(l logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// LoadResult describes one run of the load sequence.
type LoadResult struct {
	Session  string
	Address  *types.AddressRecord
	Mirrored map[string]mirror.Outcome
	Sent     bool
	Err      error // device report failure, if any

	// Fingerprint is the checksum of the sent snapshot, address excluded.
	Fingerprint string
}

// Client owns the heartbeat monitor and runs the load sequence.
type Client struct {
	config  Config
	session string
	log     logger.Logger

	logs         *standard.RecentLogs
	connectivity *standard.ConnectivityTracker

	source    environment.Source
	reader    *environment.Reader
	store     mirror.Store
	closer    io.Closer // set when the client opened the store itself
	mirror    *mirror.Mirror
	collector *collector.Client
	resolver  *resolver.Resolver
	monitor   *heartbeat.Monitor
	page      environment.Location

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	beat    *heartbeat.Handle
	loaded  chan LoadResult
	done    chan struct{}
}

// New creates a client. Nothing is sent until Start or RunLoadSequence.
func New(config Config, opts ...Option) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logs := standard.NewRecentLogs(100, zerolog.WarnLevel)

	base := o.log
	if base == nil {
		l, err := logger.New(config.Log, logs)
		if err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
		base = l
	} else {
		base = logger.Wrap(base.With().Logger().Hook(logs))
	}

	session := uuid.NewString()
	log := base.WithFields(map[string]interface{}{"session": session})

	cookieURL, err := url.Parse(config.CollectorURL)
	if err != nil {
		return nil, fmt.Errorf("invalid collector URL: %w", err)
	}

	collectorHTTP := o.httpClient
	if collectorHTTP == nil {
		var jar http.CookieJar
		if cs, ok := o.source.(environment.CookieStore); ok {
			jar = cs.Jar()
		}

		c, err := transport.Build(transport.Options{
			Timeout:     config.Timeout,
			Jar:         jar,
			WithCookies: true,
			CertPath:    config.CertPath,
			KeyPath:     config.KeyPath,
			CAPath:      config.CAPath,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to build collector HTTP client: %w", err)
		}
		collectorHTTP = c
	}

	ipifyHTTP := o.ipifyClient
	if ipifyHTTP == nil {
		c, err := transport.Build(transport.Options{Timeout: config.Timeout})
		if err != nil {
			return nil, fmt.Errorf("failed to build ipify HTTP client: %w", err)
		}
		ipifyHTTP = c
	}

	client := &Client{
		config:       config,
		session:      session,
		log:          log,
		logs:         logs,
		connectivity: standard.NewConnectivityTracker(),
	}

	source := o.source
	if source == nil {
		source = environment.NewHostSource(environment.HostConfig{
			UserAgent: DefaultUserAgent(),
			AppName:   "dust-client",
			Version:   Version,
			Location:  environment.Location{Href: config.PageURL, Referrer: config.Referrer},
			Jar:       collectorHTTP.Jar,
			CookieURL: cookieURL,
		})
	}
	client.source = source
	client.reader = environment.NewReader(source, log)
	client.page = client.location()

	store := o.store
	if store == nil {
		s, err := storage.Open(config.StoragePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open storage: %w", err)
		}
		store = s
		client.closer = s
	}
	client.store = store
	client.mirror = mirror.New(store, log)

	if collectorHTTP.Jar != nil {
		client.restoreCookies(collectorHTTP.Jar, cookieURL)
	}

	coll, err := collector.New(collector.Options{
		BaseURL:    config.CollectorURL,
		HTTPClient: collectorHTTP,
		Page:       client.page,
		UserAgent:  client.userAgent(),
		Tracker:    client.connectivity,
		Logger:     log,
	})
	if err != nil {
		client.closeStore()
		return nil, fmt.Errorf("failed to create collector client: %w", err)
	}
	client.collector = coll

	ipify := collector.NewIpify(config.IpifyURL, ipifyHTTP, client.connectivity)
	client.resolver = resolver.New(ipify, coll.IPProvider(), config.Timeout, log)
	client.monitor = heartbeat.New(coll, log, nil)

	log.Info().
		Str("collector", config.CollectorURL).
		Str("page", client.page.Href).
		Msg("Dust client initialized")

	return client, nil
}

// restoreCookies puts mirrored values the jar no longer holds back into it,
// so a restarted agent presents the same device id to the collector.
func (c *Client) restoreCookies(jar http.CookieJar, u *url.URL) {
	present := make(map[string]bool)
	for _, ck := range jar.Cookies(u) {
		present[ck.Name] = true
	}

	var restored []*http.Cookie
	for _, e := range mirror.DefaultEntries {
		if present[e.Cookie] {
			continue
		}

		value, found, err := c.store.Get(e.Key)
		if err != nil {
			c.log.Warn().Err(err).Str("key", e.Key).Msg("Failed to read mirrored cookie")
			continue
		}
		if !found || value == "" {
			continue
		}

		restored = append(restored, &http.Cookie{Name: e.Cookie, Value: value, Path: "/"})
	}

	if len(restored) == 0 {
		return
	}

	jar.SetCookies(u, restored)
	c.log.Debug().Int("cookies", len(restored)).Msg("Restored mirrored cookies")
}

// location asks the source for the page, falling back to the configured URL.
func (c *Client) location() environment.Location {
	loc, err := c.source.Location(context.Background())
	if err != nil {
		c.log.Debug().Err(err).Msg("Page location unavailable")
	}
	if loc.Href == "" {
		loc.Href = c.config.PageURL
	}
	if loc.Referrer == "" {
		loc.Referrer = c.config.Referrer
	}
	return loc
}

func (c *Client) userAgent() string {
	nav, err := c.source.Navigator(context.Background())
	if err == nil && nav != nil && nav.UserAgent != "" {
		return nav.UserAgent
	}
	return DefaultUserAgent()
}

// DefaultUserAgent identifies the agent when no browser user agent is known.
func DefaultUserAgent() string {
	return fmt.Sprintf("dust-client/%s (Go/%s; %s/%s)",
		Version, strings.TrimPrefix(runtime.Version(), "go"), runtime.GOOS, runtime.GOARCH)
}

// RunLoadSequence resolves the address, mirrors the cookies and, when at
// least one address provider answered, posts the device report. Each step
// completes before the next starts. Network failures are logged and
// reported in the result, never returned.
func (c *Client) RunLoadSequence(ctx context.Context) LoadResult {
	log := c.log.WithComponent("orchestrator")
	result := LoadResult{Session: c.session}

	result.Address = c.resolver.Resolve(ctx)

	cookies, err := c.source.Cookies(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read cookies")
		result.Mirrored = make(map[string]mirror.Outcome, len(mirror.DefaultEntries))
		for _, e := range mirror.DefaultEntries {
			result.Mirrored[e.Key] = mirror.Failed
		}
	} else {
		result.Mirrored = c.mirror.All(cookies, mirror.DefaultEntries)
	}

	if !result.Address.Usable() {
		log.Warn().Msg("IP data is not available, skipping device info")
		return result
	}

	device := c.reader.Read(ctx)
	device.IPAddress = result.Address

	report := types.Report{
		Beat:   c.monitor.State(),
		Device: device,
		R:      c.page.Href,
	}

	if err := c.collector.SendDevice(ctx, report); err != nil {
		log.Error().Err(err).Msg("Failed to send device info")
		result.Err = err
		return result
	}

	result.Sent = true
	result.Fingerprint = fingerprint.Of(device)
	log.Info().Str("fingerprint", result.Fingerprint).Msg("Device info sent")

	return result
}

// Start launches the heartbeat loop and, alongside it, one load sequence.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return fmt.Errorf("client already running")
	}
	if c.done != nil {
		return fmt.Errorf("client already stopped")
	}

	ctx, cancel := context.WithCancel(ctx)
	c.running = true
	c.cancel = cancel
	c.loaded = make(chan LoadResult, 1)
	c.done = make(chan struct{})

	c.beat = c.monitor.Start(ctx, c.config.HeartbeatInterval)

	go func() {
		defer close(c.done)
		c.loaded <- c.RunLoadSequence(ctx)
	}()

	c.log.Info().Dur("heartbeat_interval", c.config.HeartbeatInterval).Msg("Dust client started")

	return nil
}

// Loaded delivers the result of the load sequence started by Start.
func (c *Client) Loaded() <-chan LoadResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loaded
}

// Stop cancels the load sequence, stops the heartbeat and closes storage.
func (c *Client) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		c.closeStore()
		return
	}
	c.running = false
	c.cancel()
	beat, done := c.beat, c.done
	c.mu.Unlock()

	beat.Stop()
	<-done

	c.closeStore()
	c.log.Info().Msg("Dust client stopped")
}

func (c *Client) closeStore() {
	if c.closer == nil {
		return
	}
	if err := c.closer.Close(); err != nil && !errors.Is(err, storage.ErrClosed) {
		c.log.Warn().Err(err).Msg("Failed to close storage")
	}
	c.closer = nil
}

// HeartbeatState returns a copy of the heartbeat counters.
func (c *Client) HeartbeatState() types.HeartbeatState {
	return c.monitor.State()
}

// Session returns the id attached to this client's log lines.
func (c *Client) Session() string {
	return c.session
}

// Page returns the page location the client reports for.
func (c *Client) Page() environment.Location {
	return c.page
}

// Connectivity returns the tracker recording collector and provider calls.
func (c *Client) Connectivity() *standard.ConnectivityTracker {
	return c.connectivity
}

// RecentLogs returns the captured warnings and errors.
func (c *Client) RecentLogs() *standard.RecentLogs {
	return c.logs
}
