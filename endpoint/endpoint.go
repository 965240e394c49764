// Package endpoint holds the address of the remote vision device and the
// file that remembers it between runs.
package endpoint

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

var ErrInvalidEndpoint = errors.New("endpoint: invalid address")

// Endpoint is the device address. An endpoint with an empty host or a zero
// port is inert: nothing will try to connect to it.
type Endpoint struct {
	Host string
	Port uint16
}

// Inert reports whether the endpoint is incomplete.
func (e Endpoint) Inert() bool { return e.Host == "" || e.Port == 0 }

// Address returns the dialable "host:port" form.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(int(e.Port)))
}

func (e Endpoint) String() string {
	if e.Inert() {
		return "<unset>"
	}
	return e.Address()
}

// Parse accepts "host:port". IPv6 hosts must be bracketed.
func Parse(s string) (Endpoint, error) {
	s = strings.TrimSpace(s)
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w %q: %w", ErrInvalidEndpoint, s, err)
	}
	if host == "" {
		return Endpoint{}, fmt.Errorf("%w %q: empty host", ErrInvalidEndpoint, s)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || port == 0 {
		return Endpoint{}, fmt.Errorf("%w %q: bad port %q", ErrInvalidEndpoint, s, portStr)
	}
	return Endpoint{Host: host, Port: uint16(port)}, nil
}
