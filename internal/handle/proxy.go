package handle

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"net"
	"strconv"
	"strings"
	"time"
)

const defaultProxyPort = 1080

func basicAuth(userpwd string) string {
	return base64.StdEncoding.EncodeToString([]byte(userpwd))
}

func (o *Options) proxyAuthorization() string {
	if o.ProxyAuth == AuthNone || o.ProxyUserPwd == "" {
		return ""
	}
	return formatProxyAuth(o.ProxyUserPwd)
}

// dialProxy connects to the configured proxy, wrapping the connection in
// TLS for https proxies.
func (o *Options) dialProxy(ctx context.Context, started time.Time) (net.Conn, *Error) {
	port := o.ProxyPort
	if port == 0 {
		port = defaultProxyPort
	}
	conn, err := dialTCP(ctx, o.Resolve, o.Proxy, strconv.Itoa(port))
	if err != nil {
		return nil, connectError(err, o.Proxy, true, started)
	}
	if o.ProxyScheme == "https" {
		cfg, e := o.tlsConfig(o.Proxy)
		if e != nil {
			conn.Close()
			return nil, e
		}
		c := tls.Client(conn, cfg)
		if err := c.HandshakeContext(ctx); err != nil {
			conn.Close()
			if isTimeout(err) {
				return nil, connectError(err, o.Proxy, true, started)
			}
			return nil, tlsError(err)
		}
		conn = c
	}
	return conn, nil
}

// tunnel asks the proxy on conn to open a CONNECT tunnel to host:port.
func (o *Options) tunnel(ctx context.Context, conn net.Conn, host, port string) (net.Conn, *Error) {
	if dl, ok := ctx.Deadline(); ok {
		conn.SetDeadline(dl)
		defer conn.SetDeadline(time.Time{})
	}
	target := net.JoinHostPort(host, port)
	w := bufio.NewWriter(conn)
	w.WriteString("CONNECT " + target + " HTTP/1.1\r\nHost: " + target + "\r\n")
	if auth := o.proxyAuthorization(); auth != "" {
		w.WriteString("Proxy-Authorization: " + auth + "\r\n")
	}
	w.WriteString("Proxy-Connection: Keep-Alive\r\n\r\n")
	if err := w.Flush(); err != nil {
		return nil, newError(CodeSendError, err, "Failed sending CONNECT to proxy: %v", err)
	}

	br := bufio.NewReader(conn)
	status, err := br.ReadString('\n')
	if err != nil {
		if isTimeout(err) {
			return nil, newError(CodeOperationTimedOut, err, "Proxy CONNECT aborted due to timeout")
		}
		return nil, newError(CodeRecvError, err, "Proxy CONNECT aborted")
	}
	_, rest, _ := strings.Cut(strings.TrimSpace(status), " ")
	codeStr, _, _ := strings.Cut(rest, " ")
	code, err := strconv.Atoi(codeStr)
	if err != nil {
		return nil, newError(CodeWeirdServerReply, err, "Invalid CONNECT response: %q", status)
	}
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, newError(CodeRecvError, err, "Proxy CONNECT aborted")
		}
		if strings.TrimRight(line, "\r\n") == "" {
			break
		}
	}
	if code != 200 {
		return nil, newError(CodeRecvError, nil, "Received HTTP code %d from proxy after CONNECT", code)
	}
	return &bufferedConn{Conn: conn, r: br}, nil
}
