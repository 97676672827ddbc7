// Package ports probes for free TCP ports so the broker can start even
// when its configured port is held by a stale process.
package ports

import (
	"fmt"
	"net"
)

// searchSpan bounds how far above the preferred port Pick will look.
const searchSpan = 100

// Pick returns the preferred port when it is free, otherwise the first
// free port in (preferred, preferred+searchSpan].
func Pick(preferred int) (int, error) {
	if Available(preferred) {
		return preferred, nil
	}
	limit := preferred + searchSpan
	if limit > 65535 {
		limit = 65535
	}
	for candidate := preferred + 1; candidate <= limit; candidate++ {
		if Available(candidate) {
			return candidate, nil
		}
	}
	return 0, fmt.Errorf("no free port in range %d-%d", preferred, limit)
}

// Available reports whether the port can currently be bound.
func Available(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
