package dispatcher

import (
	"errors"
	"net"
	"syscall"
)

// shouldEvictOnError reports whether err indicates the underlying
// transport is actually broken (and so the connection should be evicted
// from the pool) as opposed to a transient, retryable condition like a
// request timeout.
func shouldEvictOnError(err error) bool {
	if err == nil {
		return false
	}

	for _, sysErr := range []syscall.Errno{syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.EPIPE, syscall.ECONNABORTED} {
		if errors.Is(err, sysErr) {
			return true
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return !netErr.Timeout()
	}

	return false
}
