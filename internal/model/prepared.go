package model

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
)

var (
	ErrUnsupportedMethod = errors.New("adapter: method not supported")
	ErrInvalidURL        = errors.New("adapter: invalid url")
)

var supportedMethods = map[string]bool{
	"GET": true, "HEAD": true, "POST": true, "PUT": true,
	"PATCH": true, "DELETE": true, "OPTIONS": true,
}

type BodyKind int

const (
	BodyNone BodyKind = iota
	BodyBuffer
	BodyStream
)

type PreparedRequest struct {
	*Request

	U      *url.URL
	Method string

	BodyKind BodyKind
	Buffer   []byte    // set when BodyKind == BodyBuffer
	Stream   io.Reader // set when BodyKind == BodyStream
}

// Prepare validates the request and classifies its body. It never touches
// the network.
func (r *Request) Prepare() (*PreparedRequest, error) {
	method := strings.ToUpper(r.Method)
	if method == "" {
		method = "GET"
	}
	if !supportedMethods[method] {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMethod, r.Method)
	}

	u, err := url.Parse(r.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, url.InvalidHostError("empty host"))
	}

	pr := &PreparedRequest{Request: r, U: u, Method: method}
	if err := pr.classifyBody(); err != nil {
		return nil, err
	}
	return pr, nil
}

// should only be called once at [Prepare]
func (r *PreparedRequest) classifyBody() error {
	switch b := r.Request.Body.(type) {
	case nil:
		r.BodyKind = BodyNone
	case []byte:
		r.setBuffer(b)
	case string:
		r.setBuffer([]byte(b))
	case *bytes.Buffer:
		r.setBuffer(b.Bytes())
	case *bytes.Reader:
		snapshot := *b
		buf, err := io.ReadAll(&snapshot)
		if err != nil {
			return err
		}
		r.setBuffer(buf)
	case *strings.Reader:
		snapshot := *b
		buf, err := io.ReadAll(&snapshot)
		if err != nil {
			return err
		}
		r.setBuffer(buf)
	case io.Reader:
		r.BodyKind = BodyStream
		r.Stream = b
	default:
		return fmt.Errorf("unsupported body type: %T", r.Request.Body)
	}
	return nil
}

func (r *PreparedRequest) setBuffer(b []byte) {
	if len(b) == 0 {
		r.BodyKind = BodyNone
		return
	}
	r.BodyKind = BodyBuffer
	r.Buffer = b
}
