package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// ErrInvalidListenerURL is returned when a bind URL cannot be used for a listener.
var ErrInvalidListenerURL = errors.New("invalid listener URL")

// ListenerURL is the single bind endpoint of the host.
// It is a value type with unexported fields so it cannot change once resolved.
type ListenerURL struct {
	scheme string
	host   string
	port   int
}

// ParseListenerURL parses a bind URL such as "https://0.0.0.0:8443".
//
// The wildcard hosts "*" and "+" bind all IPv4 interfaces. When the port is
// omitted the scheme default is used (443 for https, 80 for http); port 0
// asks the kernel for an ephemeral port.
func ParseListenerURL(raw string) (ListenerURL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ListenerURL{}, fmt.Errorf("%w: empty", ErrInvalidListenerURL)
	}
	if strings.Contains(raw, ";") || strings.Contains(raw, ",") {
		return ListenerURL{}, fmt.Errorf("%w: %q lists more than one endpoint", ErrInvalidListenerURL, raw)
	}

	// url.Parse rejects "*" as a host, so swap wildcards before parsing
	normalized := raw
	for _, wildcard := range []string{"://*", "://+"} {
		normalized = strings.Replace(normalized, wildcard, "://0.0.0.0", 1)
	}

	u, err := url.Parse(normalized)
	if err != nil {
		return ListenerURL{}, fmt.Errorf("%w: %v", ErrInvalidListenerURL, err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "https" && scheme != "http" {
		return ListenerURL{}, fmt.Errorf("%w: scheme must be http or https, got %q", ErrInvalidListenerURL, u.Scheme)
	}
	if u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return ListenerURL{}, fmt.Errorf("%w: %q must not carry user info, query or fragment", ErrInvalidListenerURL, raw)
	}
	if u.Path != "" && u.Path != "/" {
		return ListenerURL{}, fmt.Errorf("%w: %q must not carry a path", ErrInvalidListenerURL, raw)
	}

	host := u.Hostname()
	if host == "" {
		return ListenerURL{}, fmt.Errorf("%w: %q has no host", ErrInvalidListenerURL, raw)
	}

	port := defaultPort(scheme)
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil || port < 0 || port > 65535 {
			return ListenerURL{}, fmt.Errorf("%w: port %q must be between 0 and 65535", ErrInvalidListenerURL, p)
		}
	}

	return ListenerURL{scheme: scheme, host: host, port: port}, nil
}

func defaultPort(scheme string) int {
	if scheme == "https" {
		return 443
	}
	return 80
}

// Scheme returns "https" or "http".
func (l ListenerURL) Scheme() string { return l.scheme }

// Host returns the bind host without brackets.
func (l ListenerURL) Host() string { return l.host }

// Port returns the configured port. Zero means an ephemeral port.
func (l ListenerURL) Port() int { return l.port }

// IsTLS reports whether the listener must terminate TLS.
func (l ListenerURL) IsTLS() bool { return l.scheme == "https" }

// IsZero reports whether the value was never parsed.
func (l ListenerURL) IsZero() bool { return l.scheme == "" }

// Address returns the host:port pair handed to net.Listen.
func (l ListenerURL) Address() string {
	return net.JoinHostPort(l.host, strconv.Itoa(l.port))
}

// String renders the listener back as a URL.
func (l ListenerURL) String() string {
	if l.IsZero() {
		return ""
	}
	return l.scheme + "://" + l.Address()
}
