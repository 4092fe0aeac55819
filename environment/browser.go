package environment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

const navigatorJS = `() => ({
	userAgent: navigator.userAgent,
	platform: navigator.platform,
	language: navigator.language,
	languages: Array.from(navigator.languages || []),
	deviceMemory: navigator.deviceMemory ?? null,
	hardwareConcurrency: navigator.hardwareConcurrency ?? null,
	appCodeName: navigator.appCodeName,
	appName: navigator.appName,
	appVersion: navigator.appVersion,
	product: navigator.product,
	productSub: navigator.productSub,
	vendor: navigator.vendor,
	vendorSub: navigator.vendorSub,
	maxTouchPoints: navigator.maxTouchPoints || 0,
	cookieEnabled: !!navigator.cookieEnabled,
	javaEnabled: navigator.javaEnabled ? !!navigator.javaEnabled() : null,
	doNotTrack: navigator.doNotTrack || ""
})`

const screenJS = `() => ({
	width: screen.width,
	height: screen.height,
	availWidth: screen.availWidth,
	availHeight: screen.availHeight,
	colorDepth: screen.colorDepth,
	pixelRatio: window.devicePixelRatio
})`

const connectionJS = `() => {
	const c = navigator.connection;
	if (!c) return null;
	return {
		effectiveType: c.effectiveType || "",
		downlink: typeof c.downlink === "number" ? c.downlink : null,
		rtt: typeof c.rtt === "number" ? c.rtt : null,
		saveData: !!c.saveData
	};
}`

// The canvas is detached and its context released before returning.
const gpuJS = `() => {
	const canvas = document.createElement("canvas");
	const gl = canvas.getContext("webgl") || canvas.getContext("experimental-webgl");
	if (!gl) return null;
	const info = gl.getExtension("WEBGL_debug_renderer_info");
	const out = info ? {
		renderer: gl.getParameter(info.UNMASKED_RENDERER_WEBGL) || "",
		vendor: gl.getParameter(info.UNMASKED_VENDOR_WEBGL) || ""
	} : null;
	const lose = gl.getExtension("WEBGL_lose_context");
	if (lose) lose.loseContext();
	canvas.width = 0;
	canvas.height = 0;
	return out;
}`

const localeJS = `() => {
	const o = Intl.DateTimeFormat().resolvedOptions();
	return { timeZone: o.timeZone || "", locale: o.locale || "" };
}`

const locationJS = `() => ({ href: window.location.href, referrer: document.referrer || "" })`

// BrowserSource answers environment queries by evaluating them in a live
// Chrome page driven through Rod.
type BrowserSource struct {
	page      *rod.Page
	cookieURL string
}

// NewBrowserSource wraps an already-navigated page. Cookies also reports
// the cookies the browser holds for cookieURL, when set.
func NewBrowserSource(page *rod.Page, cookieURL string) *BrowserSource {
	return &BrowserSource{page: page, cookieURL: cookieURL}
}

// BrowserOptions configures OpenBrowserSource.
type BrowserOptions struct {
	// ControlURL is the DevTools URL of a running browser. Empty launches a
	// local headless Chrome.
	ControlURL string
	PageURL    string

	// CookieURL is the collector whose cookies are mirrored.
	CookieURL string

	// Stealth opens the page with the headless markers patched out, so the
	// snapshot reports what a regular desktop Chrome would.
	Stealth bool
}

// OpenBrowserSource opens opts.PageURL and waits for it to load. The
// returned close function shuts the page and browser down.
func OpenBrowserSource(ctx context.Context, opts BrowserOptions) (*BrowserSource, func() error, error) {
	var lnch *launcher.Launcher

	controlURL := opts.ControlURL
	if controlURL == "" {
		lnch = launcher.New().Headless(true)
		u, err := lnch.Launch()
		if err != nil {
			return nil, nil, fmt.Errorf("browser: launch: %w", err)
		}
		controlURL = u
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		if lnch != nil {
			lnch.Kill()
		}
		return nil, nil, fmt.Errorf("browser: connect: %w", err)
	}

	closeFn := func() error {
		err := b.Close()
		if lnch != nil {
			lnch.Kill()
		}
		return err
	}

	var (
		page *rod.Page
		err  error
	)
	if opts.Stealth {
		page, err = stealth.Page(b)
		if err == nil {
			err = page.Navigate(opts.PageURL)
		}
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: opts.PageURL})
	}
	if err != nil {
		_ = closeFn()
		return nil, nil, fmt.Errorf("browser: open %s: %w", opts.PageURL, err)
	}

	if err := page.WaitLoad(); err != nil {
		_ = closeFn()
		return nil, nil, fmt.Errorf("browser: wait load %s: %w", opts.PageURL, err)
	}

	return NewBrowserSource(page, opts.CookieURL), closeFn, nil
}

func (s *BrowserSource) Navigator(ctx context.Context) (*Navigator, error) {
	return evalJSON[Navigator](ctx, s.page, navigatorJS)
}

func (s *BrowserSource) Screen(ctx context.Context) (*Screen, error) {
	return evalJSON[Screen](ctx, s.page, screenJS)
}

func (s *BrowserSource) Connection(ctx context.Context) (*Connection, error) {
	conn, err := evalJSON[Connection](ctx, s.page, connectionJS)
	if err == nil && conn == nil {
		return nil, ErrUnsupported
	}
	return conn, err
}

func (s *BrowserSource) GPU(ctx context.Context) (*GPU, error) {
	return evalJSON[GPU](ctx, s.page, gpuJS)
}

func (s *BrowserSource) Locale(ctx context.Context) (*Locale, error) {
	return evalJSON[Locale](ctx, s.page, localeJS)
}

func (s *BrowserSource) Location(ctx context.Context) (Location, error) {
	loc, err := evalJSON[Location](ctx, s.page, locationJS)
	if err != nil || loc == nil {
		return Location{}, err
	}
	return *loc, nil
}

// Cookies reads the browser's cookie store for the current page and the
// collector. HttpOnly cookies are included.
func (s *BrowserSource) Cookies(ctx context.Context) (string, error) {
	page := s.page.Context(ctx)

	info, err := page.Info()
	if err != nil {
		return "", fmt.Errorf("browser: read cookies: %w", err)
	}

	urls := []string{info.URL}
	if s.cookieURL != "" && s.cookieURL != info.URL {
		urls = append(urls, s.cookieURL)
	}

	cookies, err := page.Cookies(urls)
	if err != nil {
		return "", fmt.Errorf("browser: read cookies: %w", err)
	}

	return CookieHeader(httpCookies(cookies)), nil
}

// Jar exposes the browser's cookie store to Go HTTP clients.
func (s *BrowserSource) Jar() http.CookieJar {
	return &browserJar{page: s.page}
}

// evalJSON evaluates js and decodes its JSON result; a null result yields nil.
func evalJSON[T any](ctx context.Context, page *rod.Page, js string) (*T, error) {
	res, err := page.Context(ctx).Eval(js)
	if err != nil {
		return nil, fmt.Errorf("browser: eval: %w", err)
	}

	var out *T
	if err := json.Unmarshal([]byte(res.Value.JSON("", "")), &out); err != nil {
		return nil, fmt.Errorf("browser: decode: %w", err)
	}

	return out, nil
}
