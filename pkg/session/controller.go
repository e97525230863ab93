// Package session owns the single long-lived connection to the browser
// engine: connect and launch, the reconnection protocol, and page reference
// counting for on-demand teardown.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/entrhq/rasterd/pkg/engine"
)

// ReconnectPolicy bounds automatic reconnection. Immutable for the lifetime
// of a controller.
type ReconnectPolicy struct {
	// Enabled turns the reconnection protocol on.
	Enabled bool

	// Interval is the base backoff; attempt n sleeps Interval*(n-1)
	// before running.
	Interval time.Duration

	// MaxRetries is the attempt budget per reconnection sequence.
	MaxRetries int
}

// Options configures a session controller. Fields are fixed for the
// controller's lifetime; a config change means a new controller.
type Options struct {
	// Mode selects local launch or remote attach.
	Mode Mode

	// Endpoint is the configured connection string. Required in remote
	// mode; unused in local mode.
	Endpoint string

	// ExecutablePath is the browser binary for local mode. Empty means
	// auto-discover.
	ExecutablePath string

	// ExtraArgs are extra browser flags for local mode.
	ExtraArgs []string

	// ProxyServer is merged into the launch arguments when set.
	ProxyServer string

	// Headless runs the local browser without a window.
	Headless bool

	// Headers accompany remote connect requests.
	Headers map[string]string

	// ConnectTimeout bounds individual connect and launch calls.
	ConnectTimeout time.Duration

	// Reconnect is the reconnection policy.
	Reconnect ReconnectPolicy

	// OnDemand opens the session lazily and tears it down once no
	// tracked pages remain open.
	OnDemand bool
}

// attempt is one in-flight connect or reconnect sequence. Callers that find
// one running wait on done and share its outcome instead of starting their
// own.
type attempt struct {
	done chan struct{}
	err  error
}

// Controller owns at most one live engine handle and serializes every
// transition on it.
type Controller struct {
	mu sync.Mutex

	opts Options
	eng  engine.Engine
	log  *logrus.Entry

	state        State
	handle       engine.Handle
	lastEndpoint string
	activePages  int
	gen          int
	inflight     *attempt

	// sleep is swappable so tests can observe backoff without waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewController creates a controller in the disconnected state.
func NewController(eng engine.Engine, opts Options, log *logrus.Entry) *Controller {
	return &Controller{
		opts:  opts,
		eng:   eng,
		log:   log,
		state: StateDisconnected,
		sleep: sleepContext,
	}
}

// State returns the current session state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Mode returns the configured session mode.
func (c *Controller) Mode() Mode {
	return c.opts.Mode
}

// LastEndpoint returns the most recent direct websocket address, or "" when
// none is known.
func (c *Controller) LastEndpoint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastEndpoint
}

// ActivePages returns the tracked page count. Only meaningful in on-demand
// mode.
func (c *Controller) ActivePages() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activePages
}

// Start establishes the initial connection. It fails fast: no retries, and
// classification errors surface before any I/O happens.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.inflight != nil {
		c.mu.Unlock()
		return ErrAttemptInProgress
	}
	if c.handle != nil && c.handle.Connected() {
		c.mu.Unlock()
		return nil
	}
	att := &attempt{done: make(chan struct{})}
	c.inflight = att
	c.state = StateConnecting
	dead := c.handle
	c.handle = nil
	c.mu.Unlock()

	if dead != nil {
		if err := dead.Disconnect(); err != nil {
			c.log.WithError(err).Debug("error discarding dead handle")
		}
	}

	handle, err := c.open(ctx)
	c.finish(att, handle, err)
	return err
}

// Stop tears the session down. Teardown is best-effort and idempotent:
// state is reset even when the underlying disconnect errors, which is only
// logged.
func (c *Controller) Stop() {
	c.mu.Lock()
	handle := c.handle
	c.handle = nil
	c.lastEndpoint = ""
	c.activePages = 0
	c.gen++
	c.state = StateDisconnected
	c.mu.Unlock()

	if handle == nil {
		return
	}

	var err error
	if c.opts.Mode == ModeRemote {
		err = handle.Disconnect()
	} else {
		err = handle.Close()
	}
	if err != nil {
		c.log.WithError(err).Warn("error detaching from browser during stop")
	} else {
		c.log.Info("session stopped")
	}
}

// EnsureConnected makes sure a live handle exists before the caller touches
// the engine. Connected sessions return immediately. A dropped session
// enters the reconnection protocol; in on-demand mode with no handle a
// fresh start runs instead. Only one attempt sequence ever runs at a time:
// concurrent callers wait for the in-flight one and share its outcome.
func (c *Controller) EnsureConnected(ctx context.Context) error {
	for {
		c.mu.Lock()
		if c.handle != nil && c.handle.Connected() {
			c.mu.Unlock()
			return nil
		}
		if att := c.inflight; att != nil {
			c.mu.Unlock()
			select {
			case <-att.done:
				if att.err != nil {
					return att.err
				}
				// The owner reconnected; loop to confirm the
				// handle is still live.
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		freshStart := c.opts.OnDemand && c.handle == nil
		att := &attempt{done: make(chan struct{})}
		c.inflight = att
		dead := c.handle
		c.handle = nil
		c.activePages = 0
		c.gen++
		if freshStart {
			c.state = StateConnecting
		} else {
			c.state = StateReconnecting
		}
		c.mu.Unlock()

		if dead != nil {
			c.log.Warn("browser connection lost, reconnecting")
			if err := dead.Disconnect(); err != nil {
				c.log.WithError(err).Debug("error discarding dead handle")
			}
		}

		var handle engine.Handle
		var err error
		if freshStart {
			handle, err = c.open(ctx)
		} else {
			handle, err = c.reconnect(ctx)
		}
		c.finish(att, handle, err)
		return err
	}
}

// AcquirePage opens a page on the live session, reconnecting first if
// needed. In on-demand mode the returned page is reference-counted and its
// close may trigger session teardown.
func (c *Controller) AcquirePage(ctx context.Context) (engine.Page, error) {
	if err := c.EnsureConnected(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	handle := c.handle
	gen := c.gen
	c.mu.Unlock()
	if handle == nil {
		return nil, fmt.Errorf("no live browser handle")
	}

	page, err := handle.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	if !c.opts.OnDemand {
		return page, nil
	}

	c.mu.Lock()
	if gen == c.gen {
		c.activePages++
	}
	c.mu.Unlock()

	return &trackedPage{Page: page, ctrl: c, gen: gen}, nil
}

// open performs the initial connect or launch for the configured mode.
func (c *Controller) open(ctx context.Context) (engine.Handle, error) {
	switch c.opts.Mode {
	case ModeRemote:
		if strings.TrimSpace(c.opts.Endpoint) == "" {
			return nil, ErrMissingEndpoint
		}
		return c.connectTo(ctx, c.opts.Endpoint)
	case ModeLocal:
		handle, err := c.eng.Launch(ctx, engine.LaunchOptions{
			ExecutablePath: c.opts.ExecutablePath,
			Headless:       c.opts.Headless,
			ExtraArgs:      c.opts.ExtraArgs,
			ProxyServer:    c.opts.ProxyServer,
			Timeout:        c.opts.ConnectTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to launch browser: %w", err)
		}
		return handle, nil
	default:
		return nil, fmt.Errorf("unknown session mode %q", c.opts.Mode)
	}
}

// connectTo classifies a connection string and attaches through the engine.
// Invalid strings fail here, before any I/O.
func (c *Controller) connectTo(ctx context.Context, raw string) (engine.Handle, error) {
	ep := ClassifyEndpoint(raw)

	connectOpts := engine.ConnectOptions{
		Headers: c.opts.Headers,
		Timeout: c.opts.ConnectTimeout,
	}
	switch ep.Kind {
	case KindDirectSocket:
		connectOpts.WSEndpoint = ep.URL
	case KindDiscovery:
		connectOpts.DiscoveryURL = ep.URL
	default:
		return nil, fmt.Errorf("%w %q: %s", ErrInvalidEndpoint, raw, ep.Reason)
	}

	handle, err := c.eng.Connect(ctx, connectOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to browser at %s: %w", raw, err)
	}
	return handle, nil
}

// reconnect runs the bounded retry loop. The last-known direct endpoint is
// preferred over the configured one; when it turns out to be stale it is
// dropped and the configured endpoint is tried immediately, without
// consuming a retry slot.
func (c *Controller) reconnect(ctx context.Context) (engine.Handle, error) {
	policy := c.opts.Reconnect
	if !policy.Enabled {
		return nil, ErrReconnectDisabled
	}

	c.mu.Lock()
	last := c.lastEndpoint
	c.mu.Unlock()
	configured := c.opts.Endpoint

	if last == "" && configured == "" {
		return nil, ErrNoReconnectTarget
	}
	if policy.MaxRetries <= 0 {
		return nil, fmt.Errorf("reconnect failed: retry budget is zero")
	}

	var lastErr error
	for attemptNo := 1; attemptNo <= policy.MaxRetries; attemptNo++ {
		if attemptNo > 1 {
			backoff := policy.Interval * time.Duration(attemptNo-1)
			if err := c.sleep(ctx, backoff); err != nil {
				return nil, err
			}
		}

		target := configured
		usingLast := last != ""
		if usingLast {
			target = last
		}

		handle, err := c.connectTo(ctx, target)
		if err == nil {
			return handle, nil
		}
		lastErr = err
		c.log.WithError(err).WithFields(logrus.Fields{
			"attempt": attemptNo,
			"target":  target,
		}).Warn("reconnect attempt failed")

		// A stale endpoint will not come back: forget it and fall
		// back to the configured endpoint within the same attempt.
		if usingLast && errors.Is(err, engine.ErrDiscoveryStale) {
			c.mu.Lock()
			c.lastEndpoint = ""
			c.mu.Unlock()
			last = ""

			if configured == "" {
				return nil, fmt.Errorf("reconnect target went stale and no configured endpoint remains: %w", err)
			}
			handle, err = c.connectTo(ctx, configured)
			if err == nil {
				return handle, nil
			}
			lastErr = err
			c.log.WithError(err).WithField("target", configured).Warn("fallback to configured endpoint failed")
		}
	}

	return nil, fmt.Errorf("reconnect failed after %d attempts: %w", policy.MaxRetries, lastErr)
}

// finish commits the outcome of an attempt and wakes every waiter.
func (c *Controller) finish(att *attempt, handle engine.Handle, err error) {
	c.mu.Lock()
	if err == nil {
		c.handle = handle
		c.lastEndpoint = handle.WSEndpoint()
		c.gen++
		c.state = StateConnected
	} else {
		c.state = StateFailed
	}
	c.inflight = nil
	c.mu.Unlock()

	if err == nil {
		c.log.WithField("endpoint", handle.WSEndpoint()).Info("session connected")
	} else {
		c.log.WithError(err).Error("session connection failed")
	}

	att.err = err
	close(att.done)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
