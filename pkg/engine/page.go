package engine

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/sirupsen/logrus"
)

const processExitGrace = 5 * time.Second

// chromiumHandle wraps one CDP-attached browser, plus the local process when
// this side launched it.
type chromiumHandle struct {
	browser     playwright.Browser
	ws          string
	proc        *exec.Cmd
	userDataDir string
	log         *logrus.Entry
}

func (h *chromiumHandle) Connected() bool {
	return h.browser.IsConnected()
}

func (h *chromiumHandle) WSEndpoint() string {
	return h.ws
}

func (h *chromiumHandle) NewPage(ctx context.Context) (Page, error) {
	page, err := h.browser.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	return &chromiumPage{page: page}, nil
}

func (h *chromiumHandle) Pages(ctx context.Context) ([]Page, error) {
	var pages []Page
	for _, bctx := range h.browser.Contexts() {
		for _, p := range bctx.Pages() {
			pages = append(pages, &chromiumPage{page: p})
		}
	}
	return pages, nil
}

// Disconnect detaches the CDP link. The browser itself keeps running, which
// is what remote sessions want.
func (h *chromiumHandle) Disconnect() error {
	if err := h.browser.Close(); err != nil {
		return fmt.Errorf("failed to detach from browser: %w", err)
	}
	return nil
}

// Close detaches and, for a locally launched browser, terminates the process
// and removes its profile directory. Cleanup is best-effort; all failures are
// collected so no step is skipped.
func (h *chromiumHandle) Close() error {
	var errs []error

	if err := h.browser.Close(); err != nil {
		errs = append(errs, err)
	}

	if h.proc != nil && h.proc.Process != nil {
		if err := h.terminateProcess(); err != nil {
			errs = append(errs, err)
		}
	}

	if h.userDataDir != "" {
		if err := os.RemoveAll(h.userDataDir); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing browser: %v", errs)
	}
	return nil
}

// terminateProcess asks the browser to exit and kills it if it lingers.
func (h *chromiumHandle) terminateProcess() error {
	proc := h.proc.Process
	_ = proc.Signal(os.Interrupt)

	done := make(chan error, 1)
	go func() {
		_, err := proc.Wait()
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(processExitGrace):
		h.log.Warn("browser did not exit in time, killing it")
		if err := proc.Kill(); err != nil {
			return fmt.Errorf("failed to kill browser process: %w", err)
		}
		return <-done
	}
}

// chromiumPage adapts a Playwright page to the engine Page interface.
type chromiumPage struct {
	page playwright.Page
}

func (p *chromiumPage) SetContent(html string, opts SetContentOptions) error {
	pwOpts := playwright.PageSetContentOptions{}
	if opts.WaitUntil != "" {
		waitUntil := playwright.WaitUntilState(opts.WaitUntil)
		pwOpts.WaitUntil = &waitUntil
	}
	if opts.Timeout > 0 {
		pwOpts.Timeout = playwright.Float(float64(opts.Timeout.Milliseconds()))
	}

	if err := p.page.SetContent(html, pwOpts); err != nil {
		return fmt.Errorf("failed to set page content: %w", err)
	}
	return nil
}

func (p *chromiumPage) Evaluate(script string, args ...any) (any, error) {
	result, err := p.page.Evaluate(script, args...)
	if err != nil {
		return nil, fmt.Errorf("evaluate failed: %w", err)
	}
	return result, nil
}

func (p *chromiumPage) Screenshot(opts ScreenshotOptions) ([]byte, error) {
	pwOpts := playwright.PageScreenshotOptions{}

	if opts.Format != "" {
		format := playwright.ScreenshotType(opts.Format)
		pwOpts.Type = &format
	}
	if opts.Format == "jpeg" && opts.Quality > 0 {
		pwOpts.Quality = playwright.Int(opts.Quality)
	}
	if opts.FullPage {
		pwOpts.FullPage = playwright.Bool(true)
	}
	if opts.Clip != nil {
		pwOpts.Clip = &playwright.Rect{
			X:      opts.Clip.X,
			Y:      opts.Clip.Y,
			Width:  opts.Clip.Width,
			Height: opts.Clip.Height,
		}
	}

	data, err := p.page.Screenshot(pwOpts)
	if err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	return data, nil
}

func (p *chromiumPage) SetViewport(width, height int) error {
	if err := p.page.SetViewportSize(width, height); err != nil {
		return fmt.Errorf("failed to set viewport: %w", err)
	}
	return nil
}

func (p *chromiumPage) URL() string {
	return p.page.URL()
}

func (p *chromiumPage) Close() error {
	if err := p.page.Close(); err != nil {
		return fmt.Errorf("failed to close page: %w", err)
	}
	return nil
}
