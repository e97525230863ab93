package engine

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/playwright-community/playwright-go"
	"github.com/sirupsen/logrus"
)

// Chromium drives Chromium browsers over the DevTools protocol through the
// Playwright driver. One instance is shared by every session; the driver
// process is started lazily on first use.
type Chromium struct {
	mu  sync.Mutex
	pw  *playwright.Playwright
	log *logrus.Entry
}

// NewChromium creates the Chromium engine. The Playwright driver is not
// started until the first Launch or Connect call.
func NewChromium(log *logrus.Entry) *Chromium {
	return &Chromium{log: log}
}

// driver returns the running Playwright instance, starting it if needed.
// Browser binaries are never installed by the driver; we launch or attach to
// Chromium ourselves.
func (e *Chromium) driver() (*playwright.Playwright, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pw != nil {
		return e.pw, nil
	}

	opts := &playwright.RunOptions{
		Verbose:             false,
		SkipInstallBrowsers: true,
		Stdout:              io.Discard,
		Stderr:              io.Discard,
	}

	if err := playwright.Install(opts); err != nil {
		return nil, fmt.Errorf("failed to install playwright driver: %w", err)
	}

	pw, err := playwright.Run(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright driver: %w", err)
	}

	e.pw = pw
	return pw, nil
}

// Connect attaches to a running browser, resolving the discovery URL to a
// direct websocket address first when needed.
func (e *Chromium) Connect(ctx context.Context, opts ConnectOptions) (Handle, error) {
	ws := opts.WSEndpoint
	if ws == "" {
		if opts.DiscoveryURL == "" {
			return nil, fmt.Errorf("connect requires a websocket or discovery endpoint")
		}
		resolved, err := resolveWSEndpoint(ctx, opts.DiscoveryURL, opts.Headers)
		if err != nil {
			return nil, err
		}
		e.log.WithFields(logrus.Fields{"discovery": opts.DiscoveryURL, "ws": resolved}).
			Debug("resolved direct websocket endpoint")
		ws = resolved
	}

	pw, err := e.driver()
	if err != nil {
		return nil, err
	}

	cdpOpts := playwright.BrowserTypeConnectOverCDPOptions{}
	if len(opts.Headers) > 0 {
		cdpOpts.Headers = opts.Headers
	}
	if opts.Timeout > 0 {
		cdpOpts.Timeout = playwright.Float(float64(opts.Timeout.Milliseconds()))
	}

	browser, err := pw.Chromium.ConnectOverCDP(ws, cdpOpts)
	if err != nil {
		return nil, classifyConnectError(ctx, ws, err)
	}

	e.log.WithField("ws", ws).Info("attached to browser")
	return &chromiumHandle{browser: browser, ws: ws, log: e.log}, nil
}

// Stop shuts down the Playwright driver. Handles must be closed first.
func (e *Chromium) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pw == nil {
		return nil
	}
	if err := e.pw.Stop(); err != nil {
		return fmt.Errorf("failed to stop playwright driver: %w", err)
	}
	e.pw = nil
	return nil
}
