package session

import (
	"context"
	"sync"

	"github.com/entrhq/rasterd/pkg/engine"
)

// blankPageURL is the address of the engine's default empty page. Pages
// still parked there carry no meaningful content.
const blankPageURL = "about:blank"

// trackedPage decorates an engine page with reference counting. Closing it
// decrements the controller's active page count exactly once, even when the
// underlying close errors or Close is called twice, and then lets the
// controller evaluate on-demand teardown.
type trackedPage struct {
	engine.Page

	ctrl *Controller
	gen  int
	once sync.Once
}

func (p *trackedPage) Close() error {
	var err error
	p.once.Do(func() {
		err = p.Page.Close()
		// Decrement regardless of the close outcome; the reference
		// is gone either way.
		p.ctrl.releasePage(p.gen)
	})
	return err
}

// releasePage drops one page reference. References from a previous session
// generation are ignored: their browser is already gone and they must not
// skew the count of the current one.
func (c *Controller) releasePage(gen int) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	if c.activePages > 0 {
		c.activePages--
	} else {
		c.log.Warn("page reference counter underflow")
	}
	remaining := c.activePages
	handle := c.handle
	onDemand := c.opts.OnDemand
	c.mu.Unlock()

	if !onDemand || remaining != 0 || handle == nil {
		return
	}
	c.maybeTeardown(handle, gen)
}

// maybeTeardown stops the session once no tracked references remain and no
// page holds meaningful content. The page query catches pages opened
// outside the tracked path, which keep the session alive.
func (c *Controller) maybeTeardown(handle engine.Handle, gen int) {
	pages, err := handle.Pages(context.Background())
	if err != nil {
		c.log.WithError(err).Warn("could not list pages for teardown check")
		return
	}
	for _, page := range pages {
		if page.URL() != blankPageURL {
			return
		}
	}

	c.mu.Lock()
	idle := gen == c.gen && c.activePages == 0
	c.mu.Unlock()
	if !idle {
		return
	}

	c.log.Info("no pages remain open, tearing down browser session")
	c.Stop()
}
