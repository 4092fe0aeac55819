package standard

import (
	"sort"
	"sync"
	"time"
)

// ConnectionCall represents a single call to a remote endpoint.
type ConnectionCall struct {
	Timestamp time.Time
	Success   bool
	Latency   time.Duration
	Error     string
}

// Connection tracks calls to a single remote endpoint.
type Connection struct {
	Service string
	URL     string
	calls   []ConnectionCall
}

// ConnectivityTracker records collector and provider calls.
type ConnectivityTracker struct {
	mu          sync.Mutex
	connections map[string]*Connection
	window      time.Duration
}

// EndpointStats summarises the calls to one endpoint within the window.
type EndpointStats struct {
	Service      string    `json:"service"`
	URL          string    `json:"url"`
	Status       string    `json:"status"`
	LastCall     time.Time `json:"last_call"`
	TotalCalls   int       `json:"total_calls"`
	SuccessCalls int       `json:"success_calls"`
	SuccessRate  float64   `json:"success_rate"`
	LatencyP50   int64     `json:"latency_p50_ms"`
	LatencyP95   int64     `json:"latency_p95_ms"`
	RecentErrors []string  `json:"recent_errors"`
}

// NewConnectivityTracker creates a tracker keeping one hour of calls.
func NewConnectivityTracker() *ConnectivityTracker {
	return &ConnectivityTracker{
		connections: make(map[string]*Connection),
		window:      time.Hour,
	}
}

// TrackSuccess records a successful call.
func (t *ConnectivityTracker) TrackSuccess(service, url string, latency time.Duration) {
	t.track(service, url, ConnectionCall{
		Timestamp: time.Now().UTC(),
		Success:   true,
		Latency:   latency,
	})
}

// TrackFailure records a failed call.
func (t *ConnectivityTracker) TrackFailure(service, url string, latency time.Duration, errorMsg string) {
	t.track(service, url, ConnectionCall{
		Timestamp: time.Now().UTC(),
		Success:   false,
		Latency:   latency,
		Error:     errorMsg,
	})
}

func (t *ConnectivityTracker) track(service, url string, call ConnectionCall) {
	t.mu.Lock()
	defer t.mu.Unlock()

	conn, exists := t.connections[service]
	if !exists {
		conn = &Connection{Service: service, URL: url}
		t.connections[service] = conn
	}

	conn.calls = append(conn.calls, call)
	t.pruneOldCalls(conn)
}

// pruneOldCalls drops calls older than the window.
func (t *ConnectivityTracker) pruneOldCalls(conn *Connection) {
	cutoff := time.Now().Add(-t.window)
	for i, call := range conn.calls {
		if call.Timestamp.After(cutoff) {
			conn.calls = conn.calls[i:]
			return
		}
	}
	conn.calls = nil
}

// Stats returns per-endpoint statistics sorted by service name.
func (t *ConnectivityTracker) Stats() []EndpointStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]EndpointStats, 0, len(t.connections))

	for _, conn := range t.connections {
		if len(conn.calls) == 0 {
			continue
		}

		stats := EndpointStats{
			Service:      conn.Service,
			URL:          conn.URL,
			RecentErrors: make([]string, 0),
		}
		latencies := make([]float64, 0, len(conn.calls))

		for _, call := range conn.calls {
			stats.TotalCalls++
			if call.Success {
				stats.SuccessCalls++
			} else if len(stats.RecentErrors) < 5 {
				stats.RecentErrors = append(stats.RecentErrors, call.Error)
			}

			latencies = append(latencies, float64(call.Latency.Milliseconds()))

			if call.Timestamp.After(stats.LastCall) {
				stats.LastCall = call.Timestamp
			}
		}

		stats.SuccessRate = float64(stats.SuccessCalls) / float64(stats.TotalCalls)

		sort.Float64s(latencies)
		stats.LatencyP50 = int64(percentile(latencies, 0.50))
		stats.LatencyP95 = int64(percentile(latencies, 0.95))

		switch {
		case stats.SuccessRate < 0.9:
			stats.Status = "unhealthy"
		case stats.SuccessRate < 0.95:
			stats.Status = "degraded"
		default:
			stats.Status = "healthy"
		}

		out = append(out, stats)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Service < out[j].Service })

	return out
}

// percentile calculates the percentile of a sorted slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	index := int(float64(len(sorted)-1) * p)
	return sorted[index]
}
