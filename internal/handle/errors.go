package handle

import "fmt"

// Code is a native transport failure code. Values follow libcurl's
// numbering so diagnostics read the same as curl's.
type Code int

const (
	CodeOK                      Code = 0
	CodeUnsupportedProtocol     Code = 1
	CodeURLMalformat            Code = 3
	CodeCouldntResolveProxy     Code = 5
	CodeCouldntResolveHost      Code = 6
	CodeCouldntConnect          Code = 7
	CodeWeirdServerReply        Code = 8
	CodeWriteError              Code = 23
	CodeReadError               Code = 26
	CodeOperationTimedOut       Code = 28
	CodeSSLConnectError         Code = 35
	CodeAbortedByCallback       Code = 42
	CodeSSLPeerCertificate      Code = 51
	CodeGotNothing              Code = 52
	CodeSSLEngineNotFound       Code = 53
	CodeSSLEngineSetFailed      Code = 54
	CodeSendError               Code = 55
	CodeRecvError               Code = 56
	CodeSSLCertProblem          Code = 58
	CodeSSLCipher               Code = 59
	CodeSSLCACert               Code = 60
	CodeSSLEngineInitFailed     Code = 66
	CodeSSLCACertBadFile        Code = 77
	CodeSSLShutdownFailed       Code = 80
	CodeSSLCRLBadFile           Code = 82
	CodeSSLIssuerError          Code = 83
	CodeSSLPinnedPubKeyNotMatch Code = 90
	CodeSSLInvalidCertStatus    Code = 91
)

// Error is a native transport failure.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("handle: error %d: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func newError(code Code, cause error, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}
