package handle

import (
	"context"
	"errors"
	"net"
	"net/url"
	"os"
	"time"
)

var schemes = map[string]string{
	"http": "80", "https": "443",
}

// hostPort returns the dial host and port of u, filling in the scheme's
// default port.
func hostPort(u *url.URL) (string, string) {
	port := u.Port()
	if port == "" {
		port = schemes[u.Scheme]
	}
	return u.Hostname(), port
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// connectError maps a failed dial onto a native code. viaProxy selects the
// proxy flavour of the resolve failure.
func connectError(err error, host string, viaProxy bool, started time.Time) *Error {
	var dnsErr *net.DNSError
	switch {
	case errors.As(err, &dnsErr) && !dnsErr.IsTimeout:
		if viaProxy {
			return newError(CodeCouldntResolveProxy, err, "Could not resolve proxy: %s", host)
		}
		return newError(CodeCouldntResolveHost, err, "Could not resolve host: %s", host)
	case isTimeout(err):
		return newError(CodeOperationTimedOut, err, "Connection timed out after %d milliseconds", time.Since(started).Milliseconds())
	}
	return newError(CodeCouldntConnect, err, "Failed to connect to %s: %v", host, err)
}
