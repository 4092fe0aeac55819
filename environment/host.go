package environment

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// HostConfig configures a HostSource.
type HostConfig struct {
	UserAgent string
	AppName   string
	Version   string
	Location  Location

	// Jar and CookieURL back Cookies(); a nil Jar reports cookies disabled.
	Jar       http.CookieJar
	CookieURL *url.URL
}

// HostSource answers environment queries about the machine the agent runs
// on. Display, network-information and WebGL queries are unsupported.
type HostSource struct {
	cfg         HostConfig
	runtimeKind string
}

// NewHostSource creates a HostSource.
func NewHostSource(cfg HostConfig) *HostSource {
	return &HostSource{cfg: cfg, runtimeKind: detectRuntime()}
}

func (h *HostSource) Navigator(ctx context.Context) (*Navigator, error) {
	lang := languageTag(os.Getenv("LANG"))

	nav := &Navigator{
		UserAgent:     h.cfg.UserAgent,
		Platform:      h.platform(ctx),
		Language:      lang,
		Languages:     []string{lang},
		AppName:       h.cfg.AppName,
		AppVersion:    h.cfg.Version,
		Product:       "Go",
		ProductSub:    strings.TrimPrefix(runtime.Version(), "go"),
		VendorSub:     h.runtimeKind,
		CookieEnabled: h.cfg.Jar != nil,
		DoNotTrack:    os.Getenv("DNT"),
	}

	if n, err := cpu.CountsWithContext(ctx, true); err == nil && n > 0 {
		nav.HardwareConcurrency = &n
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil && vm.Total > 0 {
		gib := roundMemory(float64(vm.Total) / (1 << 30))
		nav.DeviceMemory = &gib
	}

	return nav, nil
}

func (h *HostSource) platform(ctx context.Context) string {
	info, err := host.InfoWithContext(ctx)
	if err != nil || info.Platform == "" {
		return fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH)
	}
	if info.PlatformVersion != "" {
		return fmt.Sprintf("%s %s (%s; %s)", info.Platform, info.PlatformVersion, info.OS, info.KernelArch)
	}
	return fmt.Sprintf("%s (%s; %s)", info.Platform, info.OS, info.KernelArch)
}

func (*HostSource) Screen(context.Context) (*Screen, error) { return nil, ErrUnsupported }

func (*HostSource) Connection(context.Context) (*Connection, error) { return nil, ErrUnsupported }

func (*HostSource) GPU(context.Context) (*GPU, error) { return nil, ErrUnsupported }

func (*HostSource) Locale(context.Context) (*Locale, error) {
	tz := os.Getenv("TZ")
	if tz == "" {
		tz = time.Local.String()
	}
	if tz == "Local" {
		tz, _ = time.Now().Zone()
	}

	return &Locale{Timezone: tz, Locale: languageTag(os.Getenv("LANG"))}, nil
}

func (h *HostSource) Location(context.Context) (Location, error) {
	return h.cfg.Location, nil
}

func (h *HostSource) Cookies(context.Context) (string, error) {
	if h.cfg.Jar == nil || h.cfg.CookieURL == nil {
		return "", nil
	}
	return CookieHeader(h.cfg.Jar.Cookies(h.cfg.CookieURL)), nil
}

// roundMemory rounds down to a power of two like navigator.deviceMemory.
func roundMemory(gib float64) float64 {
	if gib < 0.25 {
		return 0.25
	}
	return math.Pow(2, math.Floor(math.Log2(gib)))
}

// languageTag converts a POSIX locale ("en_US.UTF-8") to a BCP 47 tag ("en-US").
func languageTag(posix string) string {
	tag, _, _ := strings.Cut(posix, ".")
	tag, _, _ = strings.Cut(tag, "@")
	if tag == "" || tag == "C" || tag == "POSIX" {
		return "en-US"
	}
	return strings.ReplaceAll(tag, "_", "-")
}

// detectRuntime determines how the agent process is being run.
func detectRuntime() string {
	if os.Getenv("INVOCATION_ID") != "" {
		return "systemd"
	}

	if _, err := os.Stat("/.dockerenv"); err == nil {
		return "docker"
	}

	if data, err := os.ReadFile("/proc/self/cgroup"); err == nil {
		cgroup := string(data)
		if strings.Contains(cgroup, "docker") || strings.Contains(cgroup, "containerd") {
			return "docker"
		}
	}

	return "standalone"
}
