package model

import (
	"io"
	"net/http"
	"time"
)

// Request describes a request that has already been built by the caller.
// It must not be modified once handed to the adapter.
type Request struct {
	Method string
	URL    string
	Body   interface{}
	Header http.Header

	Timeout Timeout
	Verify  Verify
	Cert    Cert

	// Proxies maps a URL scheme ("http", "https") to the proxy URL used for
	// requests of that scheme.
	Proxies map[string]string
}

// Timeout is either a single total timeout or a (connect, read) pair.
// The zero value means no timeout.
type Timeout struct {
	Total   time.Duration
	Connect time.Duration
	Read    time.Duration
	split   bool
}

func TotalTimeout(d time.Duration) Timeout {
	return Timeout{Total: d}
}

func SplitTimeout(connect, read time.Duration) Timeout {
	return Timeout{Connect: connect, Read: read, split: true}
}

func (t Timeout) IsSplit() bool { return t.split }

type VerifyMode int

const (
	VerifyDefault VerifyMode = iota // verify against the default trust store
	VerifyDisabled
	VerifyCustom // verify against Verify.Path, a CA bundle file or a directory
)

// Verify is the TLS verification policy. The zero value verifies against
// the default trust store.
type Verify struct {
	Mode VerifyMode
	Path string
}

func VerifyPath(path string) Verify {
	return Verify{Mode: VerifyCustom, Path: path}
}

var NoVerify = Verify{Mode: VerifyDisabled}

// Cert is an optional client certificate, either a single file holding
// both the certificate and the key, or a certificate/key pair.
type Cert struct {
	File string
	Key  string
}

func CertFile(path string) Cert { return Cert{File: path} }

func CertKeyPair(cert, key string) Cert { return Cert{File: cert, Key: key} }

func (c Cert) IsZero() bool { return c.File == "" }

type Response struct {
	Proto      string
	Reason     string
	StatusCode int
	Header     http.Header

	ContentLength int64
	Body          io.ReadCloser
	Content       []byte
	Cookies       []*http.Cookie

	// URL is the effective URL of the response.
	URL      string
	Request  *Request
	Attempts int
}
