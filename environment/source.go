// Package environment reads device, browser and page attributes and turns
// them into a DeviceSnapshot.
package environment

import (
	"context"
	"errors"
	"net/http"
)

// ErrUnsupported is returned by a Source that cannot answer a query.
var ErrUnsupported = errors.New("environment: not supported by source")

// Navigator mirrors the navigator object fields the snapshot needs.
type Navigator struct {
	UserAgent           string   `json:"userAgent"`
	Platform            string   `json:"platform"`
	Language            string   `json:"language"`
	Languages           []string `json:"languages"`
	DeviceMemory        *float64 `json:"deviceMemory"`
	HardwareConcurrency *int     `json:"hardwareConcurrency"`
	AppCodeName         string   `json:"appCodeName"`
	AppName             string   `json:"appName"`
	AppVersion          string   `json:"appVersion"`
	Product             string   `json:"product"`
	ProductSub          string   `json:"productSub"`
	Vendor              string   `json:"vendor"`
	VendorSub           string   `json:"vendorSub"`
	MaxTouchPoints      int      `json:"maxTouchPoints"`
	CookieEnabled       bool     `json:"cookieEnabled"`
	JavaEnabled         *bool    `json:"javaEnabled"`
	DoNotTrack          string   `json:"doNotTrack"`
}

// Screen mirrors the screen object plus devicePixelRatio.
type Screen struct {
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	AvailWidth  int     `json:"availWidth"`
	AvailHeight int     `json:"availHeight"`
	ColorDepth  int     `json:"colorDepth"`
	PixelRatio  float64 `json:"pixelRatio"`
}

// Connection mirrors the network-information API.
type Connection struct {
	EffectiveType string   `json:"effectiveType"`
	Downlink      *float64 `json:"downlink"`
	RTT           *int     `json:"rtt"`
	SaveData      bool     `json:"saveData"`
}

// GPU holds the unmasked WebGL renderer and vendor strings.
type GPU struct {
	Renderer string `json:"renderer"`
	Vendor   string `json:"vendor"`
}

// Locale holds the resolved Intl date-time options.
type Locale struct {
	Timezone string `json:"timeZone"`
	Locale   string `json:"locale"`
}

// Location identifies the page the client runs for.
type Location struct {
	Href     string `json:"href"`
	Referrer string `json:"referrer"`
}

// Source answers read-only queries about the environment.
// A nil result with a nil error means the API exists but reported nothing.
type Source interface {
	Navigator(ctx context.Context) (*Navigator, error)
	Screen(ctx context.Context) (*Screen, error)
	Connection(ctx context.Context) (*Connection, error)
	GPU(ctx context.Context) (*GPU, error)
	Locale(ctx context.Context) (*Locale, error)
	Location(ctx context.Context) (Location, error)
	Cookies(ctx context.Context) (string, error)
}

// CookieStore is implemented by sources that own the page's cookie store.
// Collector requests made for such a source go through the same store.
type CookieStore interface {
	Jar() http.CookieJar
}
