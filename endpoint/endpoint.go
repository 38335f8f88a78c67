// Package endpoint parses the "host[:port]" addresses that name a foreign or
// external scope in a logical file name.
package endpoint

import (
	"net"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Endpoint is a parsed host/port pair. Port is 0 when the input had no
// ":port" suffix, meaning "use the protocol default".
type Endpoint struct {
	Host string
	Port int
}

// Parse parses "host" or "host:port" into an Endpoint. IPv6 literals must be
// bracketed ("[::1]:7070") when a port is present, matching net.SplitHostPort
// conventions.
func Parse(s string) (Endpoint, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Endpoint{}, errors.New("endpoint: empty address")
	}
	if !strings.Contains(s, ":") {
		return Endpoint{Host: s}, nil
	}
	// net.SplitHostPort rejects a bare "host:port" only if malformed;
	// distinguish "host:port" from a bracket-less IPv6 literal by requiring
	// the part after the last colon to be numeric when not bracketed.
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		// Could be an unbracketed IPv6 literal with no port.
		if ip := net.ParseIP(s); ip != nil {
			return Endpoint{Host: s}, nil
		}
		return Endpoint{}, errors.Wrapf(err, "endpoint: invalid address %q", s)
	}
	port := 0
	if portStr != "" {
		port, err = strconv.Atoi(portStr)
		if err != nil {
			return Endpoint{}, errors.Wrapf(err, "endpoint: invalid port in %q", s)
		}
	}
	return Endpoint{Host: host, Port: port}, nil
}

// URL renders the canonical lowercase "host:port" (or bare "host" when Port
// is 0) form that the LFN grammar stores.
func (e Endpoint) URL() string {
	host := strings.ToLower(e.Host)
	if e.Port == 0 {
		return host
	}
	return net.JoinHostPort(host, strconv.Itoa(e.Port))
}

// String implements fmt.Stringer.
func (e Endpoint) String() string { return e.URL() }
