package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

const probeHandshakeTimeout = 3 * time.Second

// versionInfo is the subset of the CDP /json/version document we need.
type versionInfo struct {
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// resolveWSEndpoint asks a discovery endpoint for the browser's direct
// websocket address via the CDP /json/version route.
func resolveWSEndpoint(ctx context.Context, baseURL string, headers map[string]string) (string, error) {
	versionURL := strings.TrimSuffix(baseURL, "/") + "/json/version"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, versionURL, nil)
	if err != nil {
		return "", fmt.Errorf("building discovery request for %s: %w", versionURL, err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		if errors.Is(err, syscall.ECONNREFUSED) {
			return "", fmt.Errorf("%w: discovery request to %s: %v", ErrConnectionRefused, versionURL, err)
		}
		return "", fmt.Errorf("discovery request to %s failed: %w", versionURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", fmt.Errorf("%w: %s returned 404", ErrDiscoveryStale, versionURL)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: unexpected response %d from %s", ErrDiscoveryStale, resp.StatusCode, versionURL)
	}

	var info versionInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", fmt.Errorf("%w: decoding %s response: %v", ErrDiscoveryStale, versionURL, err)
	}
	if info.WebSocketDebuggerURL == "" {
		return "", fmt.Errorf("%w: %s response carries no webSocketDebuggerUrl", ErrDiscoveryStale, versionURL)
	}

	return info.WebSocketDebuggerURL, nil
}

// classifyConnectError turns a failed CDP connect into one of the sentinel
// kinds by probing the websocket endpoint directly. The original failure is
// kept in the message so callers always see the underlying cause.
func classifyConnectError(ctx context.Context, wsURL string, cause error) error {
	dialer := websocket.Dialer{HandshakeTimeout: probeHandshakeTimeout}

	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if err == nil {
		// The endpoint accepts websockets, so the failure happened at
		// the protocol layer. Report the original cause unclassified.
		_ = conn.Close()
		return fmt.Errorf("cdp connect to %s failed: %w", wsURL, cause)
	}
	if resp != nil {
		defer resp.Body.Close()
	}

	switch {
	case errors.Is(err, websocket.ErrBadHandshake):
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %s no longer resolves: %v", ErrDiscoveryStale, wsURL, cause)
		}
		return fmt.Errorf("%w: websocket upgrade to %s refused: %v", ErrHandshakeRejected, wsURL, cause)
	case errors.Is(err, syscall.ECONNREFUSED):
		return fmt.Errorf("%w: %s: %v", ErrConnectionRefused, wsURL, cause)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %s unreachable (%v): %v", ErrConnectionRefused, wsURL, netErr, cause)
	}

	return fmt.Errorf("cdp connect to %s failed: %w", wsURL, cause)
}
