package collector

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/st-keller/dust-client/logger"
	"github.com/st-keller/dust-client/types"
)

// Cookie names and lifetimes issued by the collector.
const (
	CookieSession = "dust"
	CookieDevice  = "dust-device"

	SessionMaxAge = 24 * time.Hour
	DeviceMaxAge  = 365 * 24 * time.Hour
)

// pixel is a transparent 1x1 PNG served at /dust.
var pixel = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0d, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

// forwardingHeaders are echoed back by /ip, keyed by their JSON name.
var forwardingHeaders = []struct{ key, header string }{
	{"x_forwarded_for", "X-Forwarded-For"},
	{"x_real_ip", "X-Real-IP"},
	{"cf_connecting_ip", "CF-Connecting-IP"},
	{"forwarded", "Forwarded"},
	{"true_client_ip", "True-Client-IP"},
	{"via", "Via"},
	{"client_ip", "Client-IP"},
	{"x_cluster_client_ip", "X-Cluster-Client-IP"},
	{"x_forwarded", "X-Forwarded"},
	{"x_forwarded_host", "X-Forwarded-Host"},
	{"x_forwarded_proto", "X-Forwarded-Proto"},
}

// ServerOptions configures a local collector.
type ServerOptions struct {
	// SecureCookies marks issued cookies Secure with SameSite=None. Leave
	// off for plain-HTTP development servers.
	SecureCookies bool
	MaxReports    int
	Logger        logger.Logger
}

// Received is a device report as seen by the collector.
type Received struct {
	Report     types.Report
	Raw        json.RawMessage
	Query      string
	Session    string
	Device     string
	ReceivedAt time.Time
}

// Server is a minimal collector for development and tests.
type Server struct {
	router chi.Router
	opts   ServerOptions
	log    logger.Logger

	mu      sync.Mutex
	reports []Received
	beats   int
}

type cookieKey struct{}

type issued struct {
	session string
	device  string
}

// NewServer builds the collector router.
func NewServer(opts ServerOptions) *Server {
	if opts.MaxReports <= 0 {
		opts.MaxReports = 1000
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewTestLogger()
	}

	s := &Server{opts: opts, log: opts.Logger.WithComponent("collector-server")}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.cookies)

	r.HandleFunc(PathIP, s.handleIP)
	r.HandleFunc(PathBeat, s.handleBeat)
	r.HandleFunc(PathDevice, s.handleDevice)
	r.HandleFunc("/dust", s.handlePixel)

	s.router = r

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Reports returns a copy of the received device reports.
func (s *Server) Reports() []Received {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Received, len(s.reports))
	copy(out, s.reports)
	return out
}

// Beats returns how many heartbeats were received.
func (s *Server) Beats() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.beats
}

// cookies keeps valid identifiers and issues fresh ones otherwise. Both
// cookies are re-sent on every response to slide their expiry.
func (s *Server) cookies(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ids := issued{
			session: validOrNew(r, CookieSession),
			device:  validOrNew(r, CookieDevice),
		}

		http.SetCookie(w, s.cookie(CookieSession, ids.session, SessionMaxAge))
		http.SetCookie(w, s.cookie(CookieDevice, ids.device, DeviceMaxAge))

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), cookieKey{}, ids)))
	})
}

func (s *Server) cookie(name, value string, maxAge time.Duration) *http.Cookie {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	if s.opts.SecureCookies {
		c.Secure = true
		c.SameSite = http.SameSiteNoneMode
	}
	return c
}

func validOrNew(r *http.Request, name string) string {
	if c, err := r.Cookie(name); err == nil {
		if _, err := uuid.Parse(c.Value); err == nil {
			return c.Value
		}
	}
	return uuid.NewString()
}

func idsFrom(ctx context.Context) issued {
	ids, _ := ctx.Value(cookieKey{}).(issued)
	return ids
}

func (s *Server) handleIP(w http.ResponseWriter, r *http.Request) {
	info := map[string]*string{}

	for _, h := range forwardingHeaders {
		info[h.key] = headerOrNil(r, h.header)
	}

	remote := headerOrNil(r, "CF-Connecting-IP")
	if remote == nil {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		remote = &host
	}
	info["remote_addr"] = remote
	info["referrer"] = headerOrNil(r, "Referer")

	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleBeat(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.beats++
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"message": "alive"})
}

func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}

	var report types.Report
	if err := json.Unmarshal(raw, &report); err != nil {
		s.log.Debug().Err(err).Msg("Rejected device report")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	ids := idsFrom(r.Context())
	rec := Received{
		Report:     report,
		Raw:        json.RawMessage(raw),
		Query:      r.URL.Query().Get("r"),
		Session:    ids.session,
		Device:     ids.device,
		ReceivedAt: time.Now(),
	}

	s.mu.Lock()
	s.reports = append(s.reports, rec)
	if len(s.reports) > s.opts.MaxReports {
		s.reports = s.reports[len(s.reports)-s.opts.MaxReports:]
	}
	s.mu.Unlock()

	s.log.Info().Str("session", ids.session).Str("device", ids.device).Msg("Device report received")

	writeJSON(w, http.StatusOK, map[string]string{"message": "received"})
}

func (s *Server) handlePixel(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pixel)
}

func headerOrNil(r *http.Request, name string) *string {
	v := strings.TrimSpace(r.Header.Get(name))
	if v == "" {
		return nil
	}
	return &v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
