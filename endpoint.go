package mouse_telemetry

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Endpoint represents a parsed collection endpoint URL
type Endpoint struct {
	String string
	Scheme string
	Host   string
	Port   int
	Path   string
}

// ParseEndpoint parses and validates a collection endpoint URL
func ParseEndpoint(raw string) (*Endpoint, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("endpoint is empty")
	}

	parsedURL, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("the \"%s\" endpoint is invalid: %w", raw, err)
	}

	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("the \"%s\" endpoint must contain a scheme and a host", raw)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("the scheme of the \"%s\" endpoint must be either \"http\" or \"https\"", raw)
	}
	if parsedURL.Hostname() == "" {
		return nil, fmt.Errorf("the \"%s\" endpoint must contain a host", raw)
	}

	port := 80
	if parsedURL.Scheme == "https" {
		port = 443
	}
	if parsedURL.Port() != "" {
		portNum, err := strconv.Atoi(parsedURL.Port())
		if err != nil || portNum <= 0 || portNum > 65535 {
			return nil, fmt.Errorf("the \"%s\" endpoint has an invalid port", raw)
		}
		port = portNum
	}

	return &Endpoint{
		String: raw,
		Scheme: parsedURL.Scheme,
		Host:   parsedURL.Hostname(),
		Port:   port,
		Path:   parsedURL.EscapedPath(),
	}, nil
}

// Key identifies the endpoint origin for rate limiting
func (e *Endpoint) Key() string {
	return fmt.Sprintf("%s://%s:%d", e.Scheme, e.Host, e.Port)
}
