// Package engine abstracts the browser backend that performs the actual
// rendering. The session layer talks to these interfaces only; the concrete
// implementation drives Chromium over the DevTools protocol.
package engine

import (
	"context"
	"time"
)

// Engine creates browser handles, either by launching a local process or by
// attaching to a browser that is already running elsewhere.
type Engine interface {
	// Launch starts a local browser process and connects to it.
	Launch(ctx context.Context, opts LaunchOptions) (Handle, error)

	// Connect attaches to a running browser. Exactly one of
	// opts.WSEndpoint and opts.DiscoveryURL must be set.
	Connect(ctx context.Context, opts ConnectOptions) (Handle, error)
}

// Handle is a live connection to one browser instance.
type Handle interface {
	// Connected reports whether the underlying link is still up.
	Connected() bool

	// WSEndpoint returns the direct websocket address of the browser.
	// The session layer records it so a reconnect can skip discovery.
	WSEndpoint() string

	// NewPage opens a fresh page.
	NewPage(ctx context.Context) (Page, error)

	// Pages lists every page currently open in the browser, including
	// ones opened outside this process.
	Pages(ctx context.Context) ([]Page, error)

	// Disconnect detaches from the browser without terminating it.
	Disconnect() error

	// Close detaches and, for locally launched browsers, terminates the
	// process and removes its scratch profile directory.
	Close() error
}

// Page is a single renderable browser page.
type Page interface {
	// SetContent replaces the page document with the given HTML.
	SetContent(html string, opts SetContentOptions) error

	// Evaluate runs a script in the page and returns its result.
	Evaluate(script string, args ...any) (any, error)

	// Screenshot rasterizes the current page state.
	Screenshot(opts ScreenshotOptions) ([]byte, error)

	// SetViewport resizes the page viewport.
	SetViewport(width, height int) error

	// URL returns the page's current address.
	URL() string

	// Close closes the page.
	Close() error
}

// LaunchOptions configures a local browser launch.
type LaunchOptions struct {
	// ExecutablePath is the browser binary to run. Empty means
	// auto-discover a Chromium install on this machine.
	ExecutablePath string

	// Headless runs the browser without a visible window.
	Headless bool

	// ExtraArgs are appended to the command line. They win over the
	// built-in defaults when the same flag appears in both.
	ExtraArgs []string

	// ProxyServer, when set, is merged in as --proxy-server unless the
	// flag is already present in ExtraArgs.
	ProxyServer string

	// Timeout bounds how long to wait for the browser to expose its
	// devtools endpoint after the process starts.
	Timeout time.Duration
}

// ConnectOptions configures an attach to a running browser.
type ConnectOptions struct {
	// WSEndpoint is a direct ws:// or wss:// devtools address.
	WSEndpoint string

	// DiscoveryURL is an http(s) base address whose /json/version route
	// yields the direct websocket address.
	DiscoveryURL string

	// Headers are sent with the discovery request and the CDP handshake.
	Headers map[string]string

	// Timeout bounds the connect attempt. Zero means the backend default.
	Timeout time.Duration
}

// SetContentOptions controls how SetContent waits for the document.
type SetContentOptions struct {
	// WaitUntil: "load", "domcontentloaded" or "networkidle".
	WaitUntil string

	// Timeout in excess of zero bounds the wait.
	Timeout time.Duration
}

// ScreenshotOptions controls rasterization.
type ScreenshotOptions struct {
	// Format is "png" (default) or "jpeg".
	Format string

	// Quality applies to jpeg only, 0-100.
	Quality int

	// FullPage captures the whole scrollable page instead of the viewport.
	FullPage bool

	// Clip restricts the capture to a region when non-nil.
	Clip *Clip
}

// Clip is a capture region in CSS pixels.
type Clip struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}
