package handle

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/frankli0324/go-http-adapter/internal/handle/chunked"
)

// protoError is a response that does not parse as HTTP/1.x.
type protoError struct{ msg string }

func (e *protoError) Error() string { return "malformed HTTP response: " + e.msg }

// sourceError is a failure reading the upload stream.
type sourceError struct{ err error }

func (e *sourceError) Error() string { return "read upload: " + e.err.Error() }
func (e *sourceError) Unwrap() error { return e.err }

type source struct{ r io.Reader }

func (s source) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && err != io.EOF {
		err = &sourceError{err}
	}
	return n, err
}

// callbackError is a failure returned by Options.WriteFunc.
type callbackError struct{ err error }

func (e *callbackError) Error() string { return "write callback: " + e.err.Error() }
func (e *callbackError) Unwrap() error { return e.err }

type exchange struct {
	o      *Options
	method string
	target string // request-target, origin-form or absolute-form
	host   string // Host header value unless one is given in HTTPHeader
	proxy  string // Proxy-Authorization value for plain proxied requests
}

func headerName(line string) string {
	name, _, _ := strings.Cut(line, ":")
	return strings.TrimSpace(name)
}

func (ex *exchange) userHeader(name string) (string, bool) {
	for _, line := range ex.o.HTTPHeader {
		if strings.EqualFold(headerName(line), name) {
			_, v, _ := strings.Cut(line, ":")
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}

// writeRequest writes the request head and body of an http 1.1 request
// e.g.:
//
//	POST /upload HTTP/1.1\r\n
//	Host: www.example.com\r\n
//	Content-Length: 8\r\n
//	\r\n
//	somedata
func (ex *exchange) writeRequest(w *bufio.Writer) error {
	o := ex.o
	w.WriteString(ex.method)
	w.WriteByte(' ')
	w.WriteString(ex.target)
	w.WriteString(" HTTP/1.1\r\n")

	if _, ok := ex.userHeader("Host"); !ok {
		w.WriteString("Host: " + ex.host + "\r\n")
	}
	if ex.proxy != "" {
		w.WriteString("Proxy-Authorization: " + ex.proxy + "\r\n")
	}
	_, hasCL := ex.userHeader("Content-Length")
	te, hasTE := ex.userHeader("Transfer-Encoding")
	chunkedBody := false
	switch {
	case o.Upload && o.ReadFrom != nil:
		if !hasCL && !hasTE {
			w.WriteString("Transfer-Encoding: chunked\r\n")
			chunkedBody = true
		} else {
			chunkedBody = hasTE && strings.EqualFold(te, "chunked")
		}
	case o.PostFields != nil && !hasCL:
		w.WriteString("Content-Length: " + strconv.Itoa(len(o.PostFields)) + "\r\n")
	}
	for _, line := range o.HTTPHeader {
		w.WriteString(line)
		w.WriteString("\r\n")
	}
	if _, err := w.WriteString("\r\n"); err != nil {
		return err
	}

	switch {
	case o.Upload && o.ReadFrom != nil:
		if chunkedBody {
			cw := chunked.NewWriter(w)
			if _, err := io.Copy(cw, source{o.ReadFrom}); err != nil {
				return err
			}
			if err := cw.Close(); err != nil {
				return err
			}
		} else if _, err := io.Copy(w, source{o.ReadFrom}); err != nil {
			return err
		}
	case o.PostFields != nil:
		if _, err := w.Write(o.PostFields); err != nil {
			return err
		}
	}
	return w.Flush()
}

type responseMeta struct {
	code      int
	closeConn bool
	received  int64
}

// countingSink forwards body bytes to the write callback.
type countingSink struct {
	fn func([]byte) (int, error)
	n  *int64
}

func (s countingSink) Write(p []byte) (int, error) {
	*s.n += int64(len(p))
	if s.fn == nil {
		return len(p), nil
	}
	n, err := s.fn(p)
	if err == nil && n != len(p) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return n, &callbackError{err}
	}
	return n, nil
}

func (ex *exchange) readLine(br *bufio.Reader, meta *responseMeta) ([]byte, error) {
	line, err := br.ReadBytes('\n')
	meta.received += int64(len(line))
	if err != nil {
		if err == io.EOF && len(line) > 0 {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	if ex.o.HeaderFunc != nil {
		ex.o.HeaderFunc(line)
	}
	return line, nil
}

// readResponse reads status line, header lines and body, skipping interim
// 1xx responses. Every raw header line, blank separators included, is
// handed to HeaderFunc.
func (ex *exchange) readResponse(br *bufio.Reader) (*responseMeta, error) {
	meta := &responseMeta{}
	var (
		proto         string
		contentLength int64
		isChunked     bool
		connection    string
	)
	for {
		line, err := ex.readLine(br, meta)
		if err != nil {
			return meta, err
		}
		status := strings.TrimRight(string(line), "\r\n")
		var rest string
		var ok bool
		proto, rest, ok = strings.Cut(status, " ")
		if !ok || !strings.HasPrefix(proto, "HTTP/") {
			return meta, &protoError{"bad status line " + strconv.Quote(status)}
		}
		codeStr, _, _ := strings.Cut(strings.TrimLeft(rest, " "), " ")
		if len(codeStr) != 3 {
			return meta, &protoError{"bad status code " + strconv.Quote(codeStr)}
		}
		if meta.code, err = strconv.Atoi(codeStr); err != nil || meta.code < 100 {
			return meta, &protoError{"bad status code " + strconv.Quote(codeStr)}
		}

		contentLength, isChunked, connection = -1, false, ""
		for {
			line, err := ex.readLine(br, meta)
			if err != nil {
				if err == io.EOF {
					err = io.ErrUnexpectedEOF
				}
				return meta, err
			}
			line = bytes.TrimRight(line, "\r\n")
			if len(line) == 0 {
				break
			}
			name, value, ok := strings.Cut(string(line), ":")
			if !ok {
				continue
			}
			value = strings.TrimSpace(value)
			switch strings.ToLower(strings.TrimSpace(name)) {
			case "content-length":
				n, err := strconv.ParseInt(value, 10, 64)
				if err != nil || n < 0 || (contentLength != -1 && contentLength != n) {
					return meta, &protoError{"invalid Content-Length " + strconv.Quote(value)}
				}
				contentLength = n
			case "transfer-encoding":
				isChunked = strings.EqualFold(value, "chunked")
			case "connection":
				connection = strings.ToLower(value)
			}
		}
		if meta.code >= 200 || meta.code == 101 {
			break
		}
	}

	meta.closeConn = connection == "close" || (proto == "HTTP/1.0" && connection != "keep-alive")

	sink := countingSink{fn: ex.o.WriteFunc, n: &meta.received}
	switch {
	case ex.o.NoBody || ex.method == "HEAD" || meta.code == 204 || meta.code == 304 || meta.code < 200:
		return meta, nil
	case isChunked:
		_, err := io.Copy(sink, chunked.NewReader(br))
		return meta, err
	case contentLength >= 0:
		n, err := io.CopyN(sink, br, contentLength)
		if err == io.EOF && n < contentLength {
			err = io.ErrUnexpectedEOF
		}
		return meta, err
	default:
		meta.closeConn = true
		_, err := io.Copy(sink, br)
		return meta, err
	}
}

func formatProxyAuth(userpwd string) string {
	return "Basic " + basicAuth(userpwd)
}

func requestTarget(method, path, rawQuery string) string {
	if path == "" {
		path = "/"
	}
	if method == "OPTIONS" && path == "*" {
		return "*"
	}
	if rawQuery != "" {
		return fmt.Sprintf("%s?%s", path, rawQuery)
	}
	return path
}
