package session

import (
	"fmt"
	"net/url"
	"strings"
)

// EndpointKind classifies a connection string.
type EndpointKind int

const (
	// KindDirectSocket is a ws:// or wss:// address usable as-is.
	KindDirectSocket EndpointKind = iota

	// KindDiscovery is an http:// or https:// address the browser's
	// direct socket must first be negotiated from.
	KindDiscovery

	// KindInvalid is anything else; Reason says why.
	KindInvalid
)

func (k EndpointKind) String() string {
	switch k {
	case KindDirectSocket:
		return "direct-socket"
	case KindDiscovery:
		return "discovery"
	default:
		return "invalid"
	}
}

// Endpoint is a classified connection string.
type Endpoint struct {
	Kind   EndpointKind
	URL    string
	Reason string
}

// ClassifyEndpoint parses a connection string into a typed target. It is a
// pure function: the controller calls it on the initial connect and again on
// every reconnect attempt.
func ClassifyEndpoint(raw string) Endpoint {
	parsed, err := url.Parse(raw)
	if err != nil {
		return Endpoint{
			Kind:   KindInvalid,
			URL:    raw,
			Reason: fmt.Sprintf("unparseable URL: %v", err),
		}
	}

	scheme := strings.ToLower(parsed.Scheme)
	switch scheme {
	case "ws", "wss":
		if parsed.Host == "" {
			return Endpoint{Kind: KindInvalid, URL: raw, Reason: "unparseable URL: missing host"}
		}
		return Endpoint{Kind: KindDirectSocket, URL: raw}
	case "http", "https":
		if parsed.Host == "" {
			return Endpoint{Kind: KindInvalid, URL: raw, Reason: "unparseable URL: missing host"}
		}
		return Endpoint{Kind: KindDiscovery, URL: raw}
	case "":
		return Endpoint{Kind: KindInvalid, URL: raw, Reason: "unsupported scheme: URL has no scheme (want ws, wss, http or https)"}
	default:
		return Endpoint{
			Kind:   KindInvalid,
			URL:    raw,
			Reason: fmt.Sprintf("unsupported scheme %q (want ws, wss, http or https)", scheme),
		}
	}
}
