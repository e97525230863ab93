// Package enginetest provides an in-memory engine implementation for tests
// in the session and service packages.
package enginetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/entrhq/rasterd/pkg/engine"
)

// FakeEngine implements engine.Engine with scriptable behavior. The zero
// value launches and connects successfully, handing out fresh handles.
type FakeEngine struct {
	mu sync.Mutex

	// LaunchFunc overrides Launch behavior when set.
	LaunchFunc func(opts engine.LaunchOptions) (engine.Handle, error)

	// ConnectFunc overrides Connect behavior when set.
	ConnectFunc func(opts engine.ConnectOptions) (engine.Handle, error)

	launchCalls  int
	connectCalls []engine.ConnectOptions
	handles      []*FakeHandle
	handleSeq    int
}

func (f *FakeEngine) Launch(ctx context.Context, opts engine.LaunchOptions) (engine.Handle, error) {
	f.mu.Lock()
	f.launchCalls++
	f.mu.Unlock()

	if f.LaunchFunc != nil {
		return f.LaunchFunc(opts)
	}
	return f.newHandle(), nil
}

func (f *FakeEngine) Connect(ctx context.Context, opts engine.ConnectOptions) (engine.Handle, error) {
	f.mu.Lock()
	f.connectCalls = append(f.connectCalls, opts)
	f.mu.Unlock()

	if f.ConnectFunc != nil {
		return f.ConnectFunc(opts)
	}
	return f.newHandle(), nil
}

func (f *FakeEngine) newHandle() *FakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handleSeq++
	handle := NewFakeHandle(fmt.Sprintf("ws://127.0.0.1:9222/devtools/browser/%d", f.handleSeq))
	f.handles = append(f.handles, handle)
	return handle
}

// Handles returns every handle the default Launch/Connect paths handed out.
func (f *FakeEngine) Handles() []*FakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeHandle(nil), f.handles...)
}

// LaunchCalls returns how many times Launch ran.
func (f *FakeEngine) LaunchCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.launchCalls
}

// ConnectCalls returns a copy of the options passed to each Connect call, in
// order.
func (f *FakeEngine) ConnectCalls() []engine.ConnectOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]engine.ConnectOptions(nil), f.connectCalls...)
}

// FakeHandle implements engine.Handle.
type FakeHandle struct {
	mu sync.Mutex

	ws        string
	connected bool
	pages     []*FakePage

	// DisconnectErr and CloseErr are returned by the respective calls
	// (the handle still transitions to disconnected).
	DisconnectErr error
	CloseErr      error

	disconnects int
	closes      int
}

// NewFakeHandle returns a connected handle with the given websocket address.
func NewFakeHandle(ws string) *FakeHandle {
	return &FakeHandle{ws: ws, connected: true}
}

func (h *FakeHandle) Connected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connected
}

// SetConnected flips the reported link state, simulating a dropped browser.
func (h *FakeHandle) SetConnected(connected bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connected = connected
}

func (h *FakeHandle) WSEndpoint() string {
	return h.ws
}

func (h *FakeHandle) NewPage(ctx context.Context) (engine.Page, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.connected {
		return nil, fmt.Errorf("browser is not connected")
	}
	page := &FakePage{url: "about:blank", ScreenshotData: []byte("fake-image")}
	h.pages = append(h.pages, page)
	return page, nil
}

func (h *FakeHandle) Pages(ctx context.Context) ([]engine.Page, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var open []engine.Page
	for _, p := range h.pages {
		if !p.Closed() {
			open = append(open, p)
		}
	}
	return open, nil
}

func (h *FakeHandle) Disconnect() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconnects++
	h.connected = false
	return h.DisconnectErr
}

func (h *FakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closes++
	h.connected = false
	return h.CloseErr
}

// Disconnects returns how many times Disconnect ran.
func (h *FakeHandle) Disconnects() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.disconnects
}

// Closes returns how many times Close ran.
func (h *FakeHandle) Closes() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closes
}

// OpenedPages returns every page the handle ever created, closed ones
// included.
func (h *FakeHandle) OpenedPages() []*FakePage {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*FakePage(nil), h.pages...)
}

// AddPage injects an already-open page, e.g. one "opened outside" the
// tracked path with a meaningful URL.
func (h *FakeHandle) AddPage(url string) *FakePage {
	h.mu.Lock()
	defer h.mu.Unlock()
	page := &FakePage{url: url, ScreenshotData: []byte("fake-image")}
	h.pages = append(h.pages, page)
	return page
}

// FakePage implements engine.Page.
type FakePage struct {
	mu sync.Mutex

	url     string
	content string
	closed  bool
	width   int
	height  int

	// ScreenshotData is the byte payload Screenshot returns.
	ScreenshotData []byte

	// SetContentErr, ScreenshotErr and CloseErr force failures.
	SetContentErr error
	ScreenshotErr error
	CloseErr      error

	// EvaluateFunc overrides Evaluate when set.
	EvaluateFunc func(script string, args ...any) (any, error)

	evaluated []string
}

func (p *FakePage) SetContent(html string, opts engine.SetContentOptions) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.SetContentErr != nil {
		return p.SetContentErr
	}
	p.content = html
	return nil
}

// Content returns the HTML last passed to SetContent.
func (p *FakePage) Content() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.content
}

func (p *FakePage) Evaluate(script string, args ...any) (any, error) {
	p.mu.Lock()
	p.evaluated = append(p.evaluated, script)
	fn := p.EvaluateFunc
	p.mu.Unlock()

	if fn != nil {
		return fn(script, args...)
	}
	return nil, nil
}

// Evaluated returns every script passed to Evaluate.
func (p *FakePage) Evaluated() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.evaluated...)
}

func (p *FakePage) Screenshot(opts engine.ScreenshotOptions) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ScreenshotErr != nil {
		return nil, p.ScreenshotErr
	}
	return p.ScreenshotData, nil
}

func (p *FakePage) SetViewport(width, height int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.width, p.height = width, height
	return nil
}

// Viewport returns the last SetViewport dimensions.
func (p *FakePage) Viewport() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.width, p.height
}

func (p *FakePage) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

// SetURL changes the reported page address.
func (p *FakePage) SetURL(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
}

func (p *FakePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return p.CloseErr
}

// Closed reports whether Close ran.
func (p *FakePage) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
