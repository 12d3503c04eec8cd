// Package request turns a prepared request into the option set of a
// transport handle. Translation never touches the network.
package request

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"golang.org/x/net/http/httpguts"

	"github.com/frankli0324/go-http-adapter/internal/handle"
	"github.com/frankli0324/go-http-adapter/internal/model"
)

var ErrInvalidHeader = errors.New("adapter: invalid header")

// methods whose requests always carry a body, even an empty one
var bodyMethods = map[string]bool{"POST": true, "PUT": true, "PATCH": true}

// Translation is the handle configuration for one request.
type Translation struct {
	Options handle.Options
	// ChunkedUpload is set when the body is a stream of unknown length.
	ChunkedUpload bool
}

// Translate maps pr onto handle options. The result does not carry
// callbacks or proxy settings, those belong to the response collector and
// the pool.
func Translate(pr *model.PreparedRequest) (*Translation, error) {
	t := &Translation{}
	o := &t.Options
	o.URL = pr.U.String()

	headers, err := headerLines(pr.Header)
	if err != nil {
		return nil, err
	}
	o.HTTPHeader = headers

	switch {
	case pr.Method == "HEAD":
		o.NoBody = true
	case pr.BodyKind == model.BodyBuffer:
		o.PostFields = pr.Buffer
	case pr.BodyKind == model.BodyStream:
		o.Upload = true
		o.ReadFrom = pr.Stream
		t.ChunkedUpload = true
	case bodyMethods[pr.Method]:
		// announced as Content-Length: 0
		o.PostFields = []byte{}
	}
	// method goes after the body, a body alone would otherwise imply POST
	if pr.Method != "GET" {
		o.CustomRequest = pr.Method
	}

	translateTimeout(o, pr.Timeout)
	if err := translateVerify(o, pr.Verify); err != nil {
		return nil, err
	}
	if !pr.Cert.IsZero() {
		o.SSLCert = pr.Cert.File
		o.SSLKey = pr.Cert.Key
	}
	return t, nil
}

// headerLines renders headers as "Name: value" lines sorted by name. Names
// are sent exactly as given.
func headerLines(h map[string][]string) ([]string, error) {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)

	lines := make([]string, 0, len(names))
	for _, name := range names {
		if !httpguts.ValidHeaderFieldName(name) {
			return nil, fmt.Errorf("%w: name %q", ErrInvalidHeader, name)
		}
		for _, v := range h[name] {
			if !httpguts.ValidHeaderFieldValue(v) {
				return nil, fmt.Errorf("%w: value for %q", ErrInvalidHeader, name)
			}
			lines = append(lines, name+": "+v)
		}
	}
	return lines, nil
}

func translateTimeout(o *handle.Options, t model.Timeout) {
	if t.IsSplit() {
		o.TimeoutMS = (t.Connect + t.Read).Milliseconds()
		o.ConnectTimeoutMS = t.Connect.Milliseconds()
		return
	}
	o.TimeoutMS = t.Total.Milliseconds()
}

func translateVerify(o *handle.Options, v model.Verify) error {
	switch v.Mode {
	case model.VerifyDisabled:
		o.SSLVerifyHost, o.SSLVerifyPeer = 0, 0
		return nil
	case model.VerifyCustom:
		if v.Path == "" {
			return errors.New("adapter: empty CA bundle path")
		}
	}
	o.SSLVerifyHost, o.SSLVerifyPeer = 2, 2

	path := v.Path
	if v.Mode == model.VerifyDefault {
		path = DefaultCABundlePath()
	}
	if path == "" {
		return nil
	}
	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		o.CAPath = path
	} else {
		o.CAInfo = path
	}
	return nil
}

var caBundles = []string{
	"/etc/ssl/certs/ca-certificates.crt",                // Debian/Ubuntu/Gentoo etc.
	"/etc/pki/tls/certs/ca-bundle.crt",                  // Fedora/RHEL 6
	"/etc/ssl/ca-bundle.pem",                            // OpenSUSE
	"/etc/pki/tls/cacert.pem",                           // OpenELEC
	"/etc/pki/ca-trust/extracted/pem/tls-ca-bundle.pem", // CentOS/RHEL 7
	"/etc/ssl/cert.pem",                                 // Alpine Linux, macOS
}

var (
	defaultCAOnce sync.Once
	defaultCA     string
)

// DefaultCABundlePath is the system CA bundle, or "" when none of the well
// known locations exist and the platform trust store is used instead.
func DefaultCABundlePath() string {
	defaultCAOnce.Do(func() {
		if p := os.Getenv("SSL_CERT_FILE"); p != "" {
			defaultCA = p
			return
		}
		for _, p := range caBundles {
			if _, err := os.Stat(p); err == nil {
				defaultCA = p
				return
			}
		}
	})
	return defaultCA
}
