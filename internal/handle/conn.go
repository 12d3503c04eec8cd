package handle

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"syscall"
	"time"
)

var aLongTimeAgo = time.Unix(1, 0)

// Conn is the HTTP/1.1 [Handle]. It keeps at most one connection open and
// reuses it while consecutive requests share a route.
//
// A Conn must not be used by more than one goroutine at a time.
type Conn struct {
	opts Options
	code int

	conn   net.Conn
	br     *bufio.Reader
	route  string
	closed bool
}

var _ Handle = (*Conn)(nil)

func New() *Conn { return &Conn{} }

func (c *Conn) Apply(o Options)   { c.opts = o }
func (c *Conn) ResponseCode() int { return c.code }

func (c *Conn) Reset() {
	c.opts = Options{}
	c.code = 0
}

func (c *Conn) Close() error {
	c.closed = true
	return c.closeConn()
}

func (c *Conn) closeConn() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn, c.br, c.route = nil, nil, ""
	return err
}

// routeKey identifies everything that decides whether an open connection
// can carry a request.
func (o *Options) routeKey(u *url.URL, host, port string) string {
	dns := ""
	if o.Resolve != nil {
		dns = o.Resolve.CustomDNSServer + "/" + o.Resolve.Network
	}
	return fmt.Sprintf("%s|%s|%s|%s:%d/%s@%s|%d%d|%s|%s|%s|%s|%s",
		u.Scheme, host, port,
		o.Proxy, o.ProxyPort, o.ProxyScheme, o.ProxyUserPwd,
		o.SSLVerifyHost, o.SSLVerifyPeer, o.CAInfo, o.CAPath, o.SSLCert, o.SSLKey, dns)
}

func (o *Options) method() string {
	switch {
	case o.CustomRequest != "":
		return o.CustomRequest
	case o.PostFields != nil || o.Upload:
		return "POST"
	}
	return "GET"
}

// Perform runs the configured request. Header lines and body bytes are
// streamed to the callbacks as they arrive.
func (c *Conn) Perform(ctx context.Context) error {
	if err := c.perform(ctx); err != nil {
		return err
	}
	return nil
}

func (c *Conn) perform(ctx context.Context) *Error {
	if c.closed {
		return newError(CodeCouldntConnect, net.ErrClosed, "handle is closed")
	}
	o := &c.opts
	c.code = 0
	u, err := url.Parse(o.URL)
	if err != nil {
		return newError(CodeURLMalformat, err, "URL rejected: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return newError(CodeUnsupportedProtocol, nil, "Protocol %q not supported", u.Scheme)
	}
	if u.Hostname() == "" {
		return newError(CodeURLMalformat, nil, "No host part in the URL")
	}

	started := time.Now()
	if o.TimeoutMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(o.TimeoutMS)*time.Millisecond)
		defer cancel()
	}

	host, port := hostPort(u)
	ex := &exchange{
		o:      o,
		method: o.method(),
		target: requestTarget(o.method(), u.EscapedPath(), u.RawQuery),
		host:   u.Host,
	}
	if o.Proxy != "" && u.Scheme == "http" {
		// plain http goes through the proxy in absolute-form
		ex.target = u.Scheme + "://" + u.Host + ex.target
		ex.proxy = o.proxyAuthorization()
	}

	route := o.routeKey(u, host, port)
	if c.conn != nil && (c.route != route || c.br.Buffered() != 0 || !alive(c.conn)) {
		c.closeConn()
	}
	reused := c.conn != nil
	if !reused {
		if e := c.connect(ctx, u, host, port, started); e != nil {
			return c.interrupted(ctx, e)
		}
		c.route = route
	}

	e := c.roundTrip(ctx, ex, started)
	if e != nil && reused && !o.Upload && ctx.Err() == nil &&
		(e.Code == CodeGotNothing || e.Code == CodeSendError) {
		// the kept-alive connection went stale while idle
		if e = c.connect(ctx, u, host, port, started); e != nil {
			return c.interrupted(ctx, e)
		}
		c.route = route
		e = c.roundTrip(ctx, ex, started)
	}
	return e
}

func (c *Conn) interrupted(ctx context.Context, e *Error) *Error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return newError(CodeAbortedByCallback, ctx.Err(), "Operation was aborted")
	}
	return e
}

func (c *Conn) connect(ctx context.Context, u *url.URL, host, port string, started time.Time) *Error {
	o := &c.opts
	if o.ConnectTimeoutMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(o.ConnectTimeoutMS)*time.Millisecond)
		defer cancel()
	}

	var conn net.Conn
	if o.Proxy != "" {
		pc, e := o.dialProxy(ctx, started)
		if e != nil {
			return e
		}
		conn = pc
		if u.Scheme == "https" {
			if conn, e = o.tunnel(ctx, pc, host, port); e != nil {
				pc.Close()
				return e
			}
		}
	} else {
		var err error
		if conn, err = dialTCP(ctx, o.Resolve, host, port); err != nil {
			return connectError(err, host, false, started)
		}
	}

	if u.Scheme == "https" {
		cfg, e := o.tlsConfig(host)
		if e != nil {
			conn.Close()
			return e
		}
		tc := tls.Client(conn, cfg)
		if err := tc.HandshakeContext(ctx); err != nil {
			conn.Close()
			if isTimeout(err) {
				return connectError(err, host, false, started)
			}
			return tlsError(err)
		}
		conn = tc
	}
	c.conn, c.br = conn, bufio.NewReader(conn)
	return nil
}

func (c *Conn) roundTrip(ctx context.Context, ex *exchange, started time.Time) *Error {
	conn := c.conn
	if dl, ok := ctx.Deadline(); ok {
		conn.SetDeadline(dl)
	} else {
		conn.SetDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(aLongTimeAgo) })
	defer stop()

	if err := ex.writeRequest(bufio.NewWriter(conn)); err != nil {
		c.closeConn()
		return ioError(ctx, err, nil, started)
	}
	meta, err := ex.readResponse(c.br)
	c.code = meta.code
	if err != nil {
		c.closeConn()
		return ioError(ctx, err, meta, started)
	}
	if meta.closeConn {
		c.closeConn()
	}
	return nil
}

// ioError maps a failed exchange onto a native code. meta is nil when the
// request could not be sent.
func ioError(ctx context.Context, err error, meta *responseMeta, started time.Time) *Error {
	var (
		cb  *callbackError
		src *sourceError
		pe  *protoError
	)
	received := int64(0)
	if meta != nil {
		received = meta.received
	}
	switch {
	case errors.As(err, &cb):
		return newError(CodeWriteError, err, "Failure writing output to destination")
	case errors.As(err, &src):
		return newError(CodeReadError, err, "Failed to read upload data: %v", src.err)
	case errors.Is(ctx.Err(), context.Canceled):
		return newError(CodeAbortedByCallback, err, "Operation was aborted")
	case ctx.Err() != nil || isTimeout(err):
		return newError(CodeOperationTimedOut, err, "Operation timed out after %d milliseconds with %d bytes received",
			time.Since(started).Milliseconds(), received)
	case errors.As(err, &pe):
		return newError(CodeWeirdServerReply, err, "%s", pe.msg)
	case meta == nil:
		return newError(CodeSendError, err, "Failed sending data to the peer: %v", err)
	case received == 0 && (err == io.EOF || errors.Is(err, syscall.ECONNRESET)):
		return newError(CodeGotNothing, err, "Empty reply from server")
	}
	return newError(CodeRecvError, err, "Failure when receiving data from the peer: %v", err)
}
