package engine

import "errors"

// Sentinel error kinds for connect and launch failures. The session layer
// branches on these with errors.Is to decide whether a failure is terminal,
// retryable, or should trigger the stale-discovery fallback.
var (
	// ErrConnectionRefused marks endpoints with nothing listening.
	ErrConnectionRefused = errors.New("connection refused")

	// ErrHandshakeRejected marks endpoints that answered but refused the
	// websocket upgrade.
	ErrHandshakeRejected = errors.New("handshake rejected")

	// ErrDiscoveryStale marks endpoints that no longer resolve to a
	// browser: a 404 or otherwise unexpected discovery response.
	ErrDiscoveryStale = errors.New("discovery endpoint stale")

	// ErrExecutableMissing marks a local launch with no usable browser
	// binary. Never retried.
	ErrExecutableMissing = errors.New("browser executable not found")
)
