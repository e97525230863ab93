package session

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/rasterd/pkg/engine"
	"github.com/entrhq/rasterd/pkg/engine/enginetest"
)

func newOnDemandController(t *testing.T) (*Controller, *enginetest.FakeEngine) {
	t.Helper()
	eng := &enginetest.FakeEngine{}
	ctrl := newTestController(eng, Options{Mode: ModeLocal, OnDemand: true})
	return ctrl, eng
}

func TestAcquirePage_CountsReferences(t *testing.T) {
	ctrl, _ := newOnDemandController(t)
	ctx := context.Background()

	p1, err := ctrl.AcquirePage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, ctrl.ActivePages())

	p2, err := ctrl.AcquirePage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, ctrl.ActivePages())

	require.NoError(t, p1.Close())
	assert.Equal(t, 1, ctrl.ActivePages())

	require.NoError(t, p2.Close())
	assert.Equal(t, 0, ctrl.ActivePages())
}

func TestTrackedPage_DoubleCloseDecrementsOnce(t *testing.T) {
	ctrl, _ := newOnDemandController(t)
	ctx := context.Background()

	p1, err := ctrl.AcquirePage(ctx)
	require.NoError(t, err)
	_, err = ctrl.AcquirePage(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, ctrl.ActivePages())

	require.NoError(t, p1.Close())
	assert.Equal(t, 1, ctrl.ActivePages())
	// Closing again must not decrement a second time.
	assert.NoError(t, p1.Close())
	assert.Equal(t, 1, ctrl.ActivePages())
}

func TestTrackedPage_DecrementsEvenWhenCloseFails(t *testing.T) {
	ctrl, _ := newOnDemandController(t)
	ctx := context.Background()

	p1, err := ctrl.AcquirePage(ctx)
	require.NoError(t, err)
	_, err = ctrl.AcquirePage(ctx)
	require.NoError(t, err)

	tracked, ok := p1.(*trackedPage)
	require.True(t, ok)
	tracked.Page.(*enginetest.FakePage).CloseErr = errors.New("target crashed")

	err = p1.Close()
	assert.Error(t, err)
	// The reference is gone either way.
	assert.Equal(t, 1, ctrl.ActivePages())
}

func TestTeardown_WhenLastPageCloses(t *testing.T) {
	ctrl, _ := newOnDemandController(t)
	ctx := context.Background()

	page, err := ctrl.AcquirePage(ctx)
	require.NoError(t, err)
	require.Equal(t, StateConnected, ctrl.State())

	require.NoError(t, page.Close())

	// Count hit zero and only blank pages remained: session torn down.
	assert.Equal(t, StateDisconnected, ctrl.State())
	assert.Equal(t, 0, ctrl.ActivePages())
	assert.Empty(t, ctrl.LastEndpoint())
}

func TestTeardown_SkippedWhileMeaningfulPageOpen(t *testing.T) {
	ctrl, eng := newOnDemandController(t)
	ctx := context.Background()

	var handle *enginetest.FakeHandle
	eng.LaunchFunc = func(opts engine.LaunchOptions) (engine.Handle, error) {
		handle = enginetest.NewFakeHandle("ws://127.0.0.1:9222/devtools/browser/1")
		return handle, nil
	}

	page, err := ctrl.AcquirePage(ctx)
	require.NoError(t, err)

	// A page opened outside the tracked path, with real content loaded.
	handle.AddPage("https://dashboard.example.com/panel/4")

	require.NoError(t, page.Close())

	// Reference count is zero but the untracked page keeps the session
	// alive.
	assert.Equal(t, 0, ctrl.ActivePages())
	assert.Equal(t, StateConnected, ctrl.State())
}

func TestTeardown_SkippedWhileReferencesRemain(t *testing.T) {
	ctrl, _ := newOnDemandController(t)
	ctx := context.Background()

	p1, err := ctrl.AcquirePage(ctx)
	require.NoError(t, err)
	_, err = ctrl.AcquirePage(ctx)
	require.NoError(t, err)

	require.NoError(t, p1.Close())
	assert.Equal(t, StateConnected, ctrl.State())
	assert.Equal(t, 1, ctrl.ActivePages())
}

func TestAcquirePage_UntrackedWithoutOnDemand(t *testing.T) {
	eng := &enginetest.FakeEngine{}
	ctrl := newTestController(eng, Options{Mode: ModeLocal})
	require.NoError(t, ctrl.Start(context.Background()))

	page, err := ctrl.AcquirePage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, ctrl.ActivePages())

	require.NoError(t, page.Close())
	// Without on-demand mode, closing the last page never stops the
	// session.
	assert.Equal(t, StateConnected, ctrl.State())
}

func TestStaleReference_DoesNotSkewNewSession(t *testing.T) {
	ctrl, _ := newOnDemandController(t)
	ctx := context.Background()

	stale, err := ctrl.AcquirePage(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, ctrl.ActivePages())

	// The session is replaced underneath the outstanding reference.
	ctrl.Stop()
	fresh, err := ctrl.AcquirePage(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, ctrl.ActivePages())

	// Closing the stale page must not decrement the new session's count
	// or tear it down.
	_ = stale.Close()
	assert.Equal(t, 1, ctrl.ActivePages())
	assert.Equal(t, StateConnected, ctrl.State())

	require.NoError(t, fresh.Close())
	assert.Equal(t, 0, ctrl.ActivePages())
}
