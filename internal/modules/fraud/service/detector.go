package service

import (
	"net/http"
	"strings"
)

// ProxyDetector inspects request metadata for signs of relayed traffic.
// Real fingerprinting lives in a separate system behind this interface.
type ProxyDetector interface {
	Detect(headers http.Header, userAgent string) (signal string, detected bool)
}

var (
	DefaultProxyHeaders = []string{
		"Via",
		"Forwarded",
		"X-Forwarded-For",
		"X-Forwarded-Host",
		"X-Proxy-Id",
		"Proxy-Connection",
	}
	DefaultProxyAgentMarkers = []string{"proxy", "vpn", "tor"}
)

// HeaderProxyDetector trips on any forwarding header or on a user-agent
// containing one of the markers, case-insensitively.
type HeaderProxyDetector struct {
	Headers      []string
	AgentMarkers []string
}

func NewHeaderProxyDetector() *HeaderProxyDetector {
	return &HeaderProxyDetector{
		Headers:      DefaultProxyHeaders,
		AgentMarkers: DefaultProxyAgentMarkers,
	}
}

func (d *HeaderProxyDetector) Detect(headers http.Header, userAgent string) (string, bool) {
	for _, name := range d.Headers {
		if headers.Get(name) != "" {
			return "header:" + http.CanonicalHeaderKey(name), true
		}
	}

	ua := strings.ToLower(userAgent)
	for _, marker := range d.AgentMarkers {
		if strings.Contains(ua, marker) {
			return "user_agent:" + marker, true
		}
	}
	return "", false
}
