// Package handle implements the transport primitive the adapter pools: a
// reusable worker that performs one HTTP/1.1 exchange at a time and keeps
// its connection warm between exchanges.
//
// A handle is configured with an [Options] set, performed, and then either
// reset for reuse or closed. Failures are reported as *[Error] values
// carrying a native [Code] and a human readable message; the adapter maps
// those into its own error taxonomy.
package handle

import (
	"context"
	"io"
)

type Handle interface {
	// Apply replaces the option set used by the next Perform.
	Apply(o Options)
	// Perform executes the configured request. Response header lines and
	// body bytes are delivered through Options.HeaderFunc and
	// Options.WriteFunc.
	Perform(ctx context.Context) error
	// ResponseCode is the status code of the last Perform.
	ResponseCode() int
	// Reset clears options and per-request state but keeps the connection.
	Reset()
	Close() error
}

type AuthMethod int

const (
	AuthNone AuthMethod = iota
	AuthBasic
	AuthAny // pick whatever the proxy accepts, basic is the only scheme offered
)

type Options struct {
	URL        string
	HTTPHeader []string // "Name: value" lines, sent as-is

	CustomRequest string // method override, empty means GET (or POST with a body)
	NoBody        bool   // do not read a response body

	PostFields []byte    // in-memory request body
	Upload     bool      // stream the request body from ReadFrom
	ReadFrom   io.Reader // request body stream

	TimeoutMS        int64
	ConnectTimeoutMS int64

	SSLVerifyHost int // 0 or 2
	SSLVerifyPeer int // 0 or 2
	CAInfo        string
	CAPath        string
	SSLCert       string
	SSLKey        string

	Proxy        string // proxy host
	ProxyPort    int
	ProxyScheme  string // "http" or "https"
	ProxyAuth    AuthMethod
	ProxyUserPwd string // "user:password"

	Resolve *ResolveConfig

	HeaderFunc func(line []byte)
	WriteFunc  func(p []byte) (int, error)
}
