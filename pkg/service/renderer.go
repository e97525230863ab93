// Package service is the facade external callers use: it coordinates the
// session controller, the resource server and the engine pages into render
// operations.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/entrhq/rasterd/pkg/assets"
	"github.com/entrhq/rasterd/pkg/engine"
	"github.com/entrhq/rasterd/pkg/session"
)

// Options are the renderer's fixed settings.
type Options struct {
	// FontPath, when set, is served to pages through the resource
	// server and referenced from assembled documents.
	FontPath string

	// ViewportWidth and ViewportHeight are the default page size.
	ViewportWidth  int
	ViewportHeight int

	// NavTimeout bounds content loading when a render carries no
	// per-call timeout.
	NavTimeout time.Duration
}

// RenderOptions are per-render overrides.
type RenderOptions struct {
	// Width and Height override the default viewport when positive.
	Width  int
	Height int

	// FullPage captures the whole scrollable page.
	FullPage bool

	// Format is "png" (default) or "jpeg"; Quality applies to jpeg.
	Format  string
	Quality int

	// Clip restricts the capture region.
	Clip *engine.Clip

	// WaitUntil defers the capture until the given load state.
	WaitUntil string

	// Timeout overrides the default content-load timeout. It is passed
	// through to the engine, not enforced here.
	Timeout time.Duration
}

// RenderCallback runs against the page between content load and capture,
// e.g. to replay canvas draw commands.
type RenderCallback func(page engine.Page) error

// ImageResult is a finished render.
type ImageResult struct {
	RequestID string
	Data      []byte
	Format    string
	Elapsed   time.Duration
}

// Health is a snapshot of the service for the health endpoint.
type Health struct {
	State       string `json:"state"`
	Mode        string `json:"mode"`
	ActivePages int    `json:"activePages"`
	FontServing bool   `json:"fontServing"`
}

// Renderer is the service facade.
type Renderer struct {
	ctrl  *session.Controller
	fonts *assets.Server
	opts  Options
	log   *logrus.Entry
}

// NewRenderer wires the facade together.
func NewRenderer(ctrl *session.Controller, fonts *assets.Server, opts Options, log *logrus.Entry) *Renderer {
	return &Renderer{ctrl: ctrl, fonts: fonts, opts: opts, log: log}
}

// EnsureConnected verifies the browser session is usable.
func (r *Renderer) EnsureConnected(ctx context.Context) error {
	return r.ctrl.EnsureConnected(ctx)
}

// GetPage hands out a page on the live session, connecting or reconnecting
// first as needed. The caller owns the page and must close it.
func (r *Renderer) GetPage(ctx context.Context) (engine.Page, error) {
	return r.ctrl.AcquirePage(ctx)
}

// Render rasterizes the given HTML content. Fragments are wrapped in a
// document shell that loads the configured font; full documents pass
// through untouched.
func (r *Renderer) Render(ctx context.Context, content string, opts RenderOptions, callback RenderCallback) (*ImageResult, error) {
	start := time.Now()
	requestID := uuid.NewString()
	log := r.log.WithField("request_id", requestID)

	fontURL := ""
	if r.opts.FontPath != "" {
		url, err := r.fonts.Start(r.opts.FontPath)
		if err != nil {
			return nil, fmt.Errorf("failed to start resource server: %w", err)
		}
		fontURL = url
	}

	page, err := r.ctrl.AcquirePage(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := page.Close(); err != nil {
			log.WithError(err).Debug("error closing render page")
		}
	}()

	width, height := r.opts.ViewportWidth, r.opts.ViewportHeight
	if opts.Width > 0 {
		width = opts.Width
	}
	if opts.Height > 0 {
		height = opts.Height
	}
	if err := page.SetViewport(width, height); err != nil {
		return nil, err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = r.opts.NavTimeout
	}
	doc := BuildDocument(content, fontURL)
	if err := page.SetContent(doc, engine.SetContentOptions{
		WaitUntil: opts.WaitUntil,
		Timeout:   timeout,
	}); err != nil {
		return nil, err
	}

	if callback != nil {
		if err := callback(page); err != nil {
			return nil, fmt.Errorf("render callback failed: %w", err)
		}
	}

	format := opts.Format
	if format == "" {
		format = "png"
	}
	data, err := page.Screenshot(engine.ScreenshotOptions{
		Format:   format,
		Quality:  opts.Quality,
		FullPage: opts.FullPage,
		Clip:     opts.Clip,
	})
	if err != nil {
		return nil, err
	}

	elapsed := time.Since(start)
	log.WithFields(logrus.Fields{
		"bytes":   len(data),
		"format":  format,
		"elapsed": elapsed,
	}).Debug("render finished")

	return &ImageResult{
		RequestID: requestID,
		Data:      data,
		Format:    format,
		Elapsed:   elapsed,
	}, nil
}

// Restart destroys the session and the resource server and brings the
// session back up, reporting the outcome as a status string.
func (r *Renderer) Restart(ctx context.Context) string {
	r.ctrl.Stop()
	r.fonts.Stop()

	if err := r.ctrl.Start(ctx); err != nil {
		return fmt.Sprintf("Failed to restart render session: %v", err)
	}
	return "Render session restarted"
}

// Health reports the current session and resource server state.
func (r *Renderer) Health() Health {
	return Health{
		State:       r.ctrl.State().String(),
		Mode:        string(r.ctrl.Mode()),
		ActivePages: r.ctrl.ActivePages(),
		FontServing: r.fonts.Listening(),
	}
}

// Stop tears everything down. Best-effort, safe to call more than once.
func (r *Renderer) Stop() {
	r.ctrl.Stop()
	r.fonts.Stop()
}
