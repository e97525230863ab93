package session

import "errors"

// Terminal session errors. These are never retried; callers can branch on
// them with errors.Is.
var (
	// ErrReconnectDisabled is returned when the session drops and the
	// reconnect policy is off.
	ErrReconnectDisabled = errors.New("session disconnected and reconnection is disabled")

	// ErrNoReconnectTarget is returned when neither a last-known direct
	// endpoint nor a configured endpoint exists to reconnect to.
	ErrNoReconnectTarget = errors.New("session disconnected and no reconnection target is available")

	// ErrInvalidEndpoint is returned for connection strings the
	// classifier rejects. Carries the classifier's reason when wrapped.
	ErrInvalidEndpoint = errors.New("invalid endpoint")

	// ErrMissingEndpoint is returned when remote mode is configured
	// without a connection string.
	ErrMissingEndpoint = errors.New("remote mode requires an endpoint")

	// ErrAttemptInProgress is returned by Start when a connection
	// attempt already owns the session.
	ErrAttemptInProgress = errors.New("a connection attempt is already in progress")
)
