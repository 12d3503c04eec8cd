// Package classify maps native transport failures onto the small error
// taxonomy callers act on: TLS, proxy, connect timeout, read timeout and
// everything else as a generic connection failure.
package classify

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/frankli0324/go-http-adapter/internal/handle"
)

type Kind int

const (
	KindConnection Kind = iota // default
	KindTLS
	KindProxy
	KindConnectTimeout
	KindReadTimeout
)

func (k Kind) String() string {
	switch k {
	case KindTLS:
		return "tls"
	case KindProxy:
		return "proxy"
	case KindConnectTimeout:
		return "connect_timeout"
	case KindReadTimeout:
		return "read_timeout"
	}
	return "connection"
}

// CodeEmptyPool is the native code attached to a pool that had no handle
// to give out.
const CodeEmptyPool handle.Code = -1

var tlsCodes = map[handle.Code]bool{
	handle.CodeSSLCACert:               true,
	handle.CodeSSLCACertBadFile:        true,
	handle.CodeSSLCertProblem:          true,
	handle.CodeSSLCipher:               true,
	handle.CodeSSLConnectError:         true,
	handle.CodeSSLCRLBadFile:           true,
	handle.CodeSSLEngineInitFailed:     true,
	handle.CodeSSLEngineNotFound:       true,
	handle.CodeSSLEngineSetFailed:      true,
	handle.CodeSSLInvalidCertStatus:    true,
	handle.CodeSSLIssuerError:          true,
	handle.CodeSSLPeerCertificate:      true,
	handle.CodeSSLPinnedPubKeyNotMatch: true,
	handle.CodeSSLShutdownFailed:       true,
}

var proxyConnectRe = regexp.MustCompile(`Received HTTP (?:code|status) \d{3} from proxy after CONNECT`)

// Classify picks the kind of a native failure. TLS codes win over the
// proxy check, which wins over the timeout split.
func Classify(code handle.Code, message string) Kind {
	switch {
	case tlsCodes[code]:
		return KindTLS
	case code == handle.CodeCouldntResolveProxy || proxyConnectRe.MatchString(message):
		return KindProxy
	case code == handle.CodeOperationTimedOut:
		if strings.HasPrefix(message, "Connection timed out") {
			return KindConnectTimeout
		}
		return KindReadTimeout
	}
	return KindConnection
}

// Error is a classified transport failure. It keeps the native code and
// message for diagnostics.
type Error struct {
	Kind    Kind
	Code    handle.Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("adapter: %s error (native code %d): %s", e.Kind, e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error of the same kind, so errors.Is(err, ErrTLS) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == 0 && t.Message == "" && e.Kind == t.Kind
}

var (
	ErrConnection     = &Error{Kind: KindConnection}
	ErrTLS            = &Error{Kind: KindTLS}
	ErrProxy          = &Error{Kind: KindProxy}
	ErrConnectTimeout = &Error{Kind: KindConnectTimeout}
	ErrReadTimeout    = &Error{Kind: KindReadTimeout}
)

// New classifies a native failure.
func New(code handle.Code, message string, cause error) *Error {
	return &Error{Kind: Classify(code, message), Code: code, Message: message, Cause: cause}
}

// FromError classifies err when it is a native handle failure or one of
// the extra retryable signals. ok is false for anything else, which callers
// treat as fatal.
func FromError(err error, retryable ...error) (*Error, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce, true
	}
	var he *handle.Error
	if errors.As(err, &he) {
		return New(he.Code, he.Message, err), true
	}
	for _, r := range retryable {
		if errors.Is(err, r) {
			return &Error{Kind: KindConnection, Code: CodeEmptyPool, Message: err.Error(), Cause: err}, true
		}
	}
	return nil, false
}
