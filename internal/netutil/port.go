// Package netutil binds the API listener with fallback addresses.
package netutil

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
)

// ErrNoAddr is returned when neither the preferred address nor any
// candidate could be bound.
var ErrNoAddr = errors.New("no available bind addresses")

// Listen binds preferred, or the first free candidate when autoFallback is
// set. The returned listener is already bound, so the chosen address cannot
// be taken between selection and serve.
func Listen(preferred string, candidates []string, autoFallback bool) (net.Listener, error) {
	if preferred != "" {
		ln, err := net.Listen("tcp", preferred)
		if err == nil {
			return ln, nil
		}
		if !autoFallback {
			return nil, fmt.Errorf("preferred bind address in use: %s: %w", preferred, err)
		}
		slog.Warn("preferred bind address unavailable, trying fallbacks", "addr", preferred, "error", err)
	}

	for _, addr := range candidates {
		if addr == preferred {
			continue
		}
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			slog.Debug("bind candidate unavailable", "addr", addr, "error", err)
			continue
		}
		return ln, nil
	}
	return nil, ErrNoAddr
}
