// Package response accumulates what a transport handle reports about a
// response and turns it into a [model.Response].
package response

import (
	"bytes"
	"io"
	"net/http"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"

	"github.com/frankli0324/go-http-adapter/internal/handle"
	"github.com/frankli0324/go-http-adapter/internal/model"
)

// Collector is fed header lines and body bytes by a handle and builds the
// response once the handle is done. It is used by one request only.
type Collector struct {
	req    *model.PreparedRequest
	latin1 *encoding.Decoder

	proto  string
	reason string
	header http.Header
	raw    bytes.Buffer // header lines with a colon, as received
	body   bytes.Buffer
}

func NewCollector(req *model.PreparedRequest) *Collector {
	return &Collector{req: req, latin1: charmap.ISO8859_1.NewDecoder(), header: http.Header{}}
}

// Bind installs the collector as the handle's header and body callbacks.
func (c *Collector) Bind(o *handle.Options) {
	o.HeaderFunc = c.AddHeaderLine
	o.WriteFunc = c.Write
}

// AddHeaderLine parses one raw header line. Header bytes are ISO-8859-1.
// A status line starts a new header block, lines without a colon are
// dropped, and each value is split once on the first colon and trimmed.
func (c *Collector) AddHeaderLine(line []byte) {
	decoded, err := c.latin1.Bytes(line)
	if err != nil {
		return
	}
	s := strings.TrimRight(string(decoded), "\r\n")

	if strings.HasPrefix(s, "HTTP/") {
		// a final response follows an interim one, forget the interim headers
		c.proto, c.reason = parseStatusLine(s)
		c.header = http.Header{}
		c.raw.Reset()
		return
	}
	name, value, ok := strings.Cut(s, ":")
	if !ok {
		return
	}
	c.raw.Write(line)

	name, value = strings.TrimSpace(name), strings.TrimSpace(value)
	if http.CanonicalHeaderKey(name) == "Set-Cookie" {
		c.header.Add(name, value)
		return
	}
	c.header.Set(name, value)
}

func parseStatusLine(s string) (proto, reason string) {
	proto, rest, _ := strings.Cut(s, " ")
	_, reason, _ = strings.Cut(strings.TrimLeft(rest, " "), " ")
	return proto, strings.TrimSpace(reason)
}

func (c *Collector) Write(p []byte) (int, error) {
	return c.body.Write(p)
}

// Header is the header map collected so far.
func (c *Collector) Header() http.Header { return c.header }

// RawHeader returns the header lines kept for cookie parsing, verbatim.
func (c *Collector) RawHeader() []byte { return c.raw.Bytes() }

// Finalize builds the response. code is the status the handle reported.
func (c *Collector) Finalize(code int) *model.Response {
	content := c.body.Bytes()
	resp := &model.Response{
		Proto:         c.proto,
		Reason:        c.reason,
		StatusCode:    code,
		Header:        c.header,
		ContentLength: int64(len(content)),
		Body:          io.NopCloser(bytes.NewReader(content)),
		Content:       content,
		Cookies:       (&http.Response{Header: c.header}).Cookies(),
	}
	if c.req != nil {
		resp.URL = c.req.U.String()
		resp.Request = c.req.Request
	}
	return resp
}
