package environment

import (
	"context"
	"errors"
	"strconv"

	"github.com/st-keller/dust-client/logger"
	"github.com/st-keller/dust-client/types"
)

// Reader builds device snapshots from a Source. Every query degrades to
// nil/false on failure; Read never returns an error.
type Reader struct {
	source Source
	log    logger.Logger
}

// NewReader creates a Reader over source.
func NewReader(source Source, log logger.Logger) *Reader {
	return &Reader{source: source, log: log.WithComponent("environment")}
}

// Read queries the source and assembles a snapshot without an address record.
func (r *Reader) Read(ctx context.Context) types.DeviceSnapshot {
	var snap types.DeviceSnapshot

	if nav, err := r.source.Navigator(ctx); r.ok("navigator", err) && nav != nil {
		applyNavigator(&snap, nav)
	}

	if scr, err := r.source.Screen(ctx); r.ok("screen", err) && scr != nil {
		snap.Screen = &types.Screen{
			Width:       scr.Width,
			Height:      scr.Height,
			AvailWidth:  scr.AvailWidth,
			AvailHeight: scr.AvailHeight,
			ColorDepth:  scr.ColorDepth,
			PixelRatio:  scr.PixelRatio,
		}
	}

	if conn, err := r.source.Connection(ctx); r.ok("connection", err) && conn != nil {
		snap.Network = network(conn)
	}

	if gpu, err := r.source.GPU(ctx); r.ok("gpu", err) && gpu != nil {
		snap.Hardware.GPU = nonEmpty(gpu.Renderer)
		snap.Hardware.WebGLVendor = nonEmpty(gpu.Vendor)
	}

	if loc, err := r.source.Locale(ctx); r.ok("locale", err) && loc != nil {
		snap.Timezone = nonEmpty(loc.Timezone)
		snap.Locale = nonEmpty(loc.Locale)
	}

	return snap
}

func (r *Reader) ok(query string, err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, ErrUnsupported) {
		r.log.Debug().Str("query", query).Msg("Environment query unsupported")
	} else {
		r.log.Debug().Err(err).Str("query", query).Msg("Environment query failed")
	}
	return false
}

func applyNavigator(snap *types.DeviceSnapshot, nav *Navigator) {
	snap.UserAgent = nav.UserAgent
	snap.Platform = nav.Platform
	snap.Language = nav.Language
	snap.Languages = nav.Languages

	if nav.DeviceMemory != nil && *nav.DeviceMemory > 0 {
		mem := *nav.DeviceMemory
		snap.Hardware.DeviceMemory = &mem
	}
	if nav.HardwareConcurrency != nil && *nav.HardwareConcurrency > 0 {
		cores := *nav.HardwareConcurrency
		snap.Hardware.Cores = &cores
	}

	snap.Browser = types.Browser{
		AppCodeName: nav.AppCodeName,
		AppName:     nav.AppName,
		AppVersion:  nav.AppVersion,
		Product:     nav.Product,
		ProductSub:  nav.ProductSub,
		Vendor:      nav.Vendor,
		VendorSub:   nav.VendorSub,
	}

	snap.TouchSupport = nav.MaxTouchPoints > 0
	snap.CookiesEnabled = nav.CookieEnabled
	snap.JavaEnabled = nav.JavaEnabled
	snap.DoNotTrack = nav.DoNotTrack == "1"
}

func network(conn *Connection) types.Network {
	n := types.Network{
		ConnectionType: nonEmpty(conn.EffectiveType),
		SaveData:       conn.SaveData,
	}

	if conn.Downlink != nil {
		n.Downlink = FormatDownlink(*conn.Downlink)
	}
	if conn.RTT != nil && *conn.RTT > 0 {
		rtt := *conn.RTT
		n.RTT = &rtt
	}

	return n
}

// FormatDownlink renders a downlink hint in Mbps, e.g. "1.45 Mbps".
func FormatDownlink(mbps float64) *string {
	s := strconv.FormatFloat(mbps, 'f', -1, 64) + " Mbps"
	return &s
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
