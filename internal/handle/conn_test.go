package handle

import (
	"bytes"
	"context"
	"encoding/pem"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	lines []string
	body  bytes.Buffer
}

func (r *recorder) options(url string) Options {
	return Options{
		URL:        url,
		HeaderFunc: func(l []byte) { r.lines = append(r.lines, string(l)) },
		WriteFunc:  r.body.Write,
	}
}

func nativeError(t *testing.T, err error) *Error {
	t.Helper()
	var e *Error
	require.True(t, errors.As(err, &e), "expected *handle.Error, got %v", err)
	return e
}

// countingServer counts the connections a test server accepts.
func countingServer(t *testing.T, h http.HandlerFunc) (*httptest.Server, *int32) {
	var n int32
	srv := httptest.NewUnstartedServer(h)
	srv.Config.ConnState = func(_ net.Conn, s http.ConnState) {
		if s == http.StateNew {
			atomic.AddInt32(&n, 1)
		}
	}
	srv.Start()
	t.Cleanup(srv.Close)
	return srv, &n
}

func TestPerformGet(t *testing.T) {
	srv, _ := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Path", r.URL.RequestURI())
		w.Header().Set("X-Custom", r.Header.Get("X-Custom"))
		io.WriteString(w, "hello")
	})
	c := New()
	defer c.Close()
	rec := &recorder{}
	o := rec.options(srv.URL + "/path?q=1")
	o.HTTPHeader = []string{"X-Custom: v"}
	c.Apply(o)
	require.NoError(t, c.Perform(context.Background()))
	assert.Equal(t, 200, c.ResponseCode())
	assert.Equal(t, "hello", rec.body.String())
	assert.Equal(t, "HTTP/1.1 200 OK\r\n", rec.lines[0])
	assert.Contains(t, rec.lines, "X-Path: /path?q=1\r\n")
	assert.Contains(t, rec.lines, "X-Custom: v\r\n")
	assert.Equal(t, "\r\n", rec.lines[len(rec.lines)-1])
}

func TestPerformBodies(t *testing.T) {
	srv, _ := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		io.WriteString(w, r.Method+" "+strings.Join(r.TransferEncoding, ",")+" "+string(b))
	})
	for name, tc := range map[string]struct {
		opts func(o *Options)
		want string
	}{
		"PostFields": {func(o *Options) { o.PostFields = []byte("somedata") }, "POST  somedata"},
		"Put":        {func(o *Options) { o.CustomRequest = "PUT"; o.PostFields = []byte("x") }, "PUT  x"},
		"Upload": {func(o *Options) {
			o.CustomRequest = "PATCH"
			o.Upload = true
			o.ReadFrom = io.MultiReader(strings.NewReader("some"), strings.NewReader("data"))
		}, "PATCH chunked somedata"},
		"Delete": {func(o *Options) { o.CustomRequest = "DELETE" }, "DELETE  "},
	} {
		tc := tc
		t.Run(name, func(t *testing.T) {
			c := New()
			defer c.Close()
			rec := &recorder{}
			o := rec.options(srv.URL)
			tc.opts(&o)
			c.Apply(o)
			require.NoError(t, c.Perform(context.Background()))
			assert.Equal(t, tc.want, rec.body.String())
		})
	}
}

func TestPerformHead(t *testing.T) {
	srv, _ := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "5")
		io.WriteString(w, "hello")
	})
	c := New()
	defer c.Close()
	for i := 0; i < 2; i++ {
		rec := &recorder{}
		o := rec.options(srv.URL)
		o.CustomRequest, o.NoBody = "HEAD", true
		c.Apply(o)
		require.NoError(t, c.Perform(context.Background()))
		assert.Equal(t, 200, c.ResponseCode())
		assert.Empty(t, rec.body.String())
		c.Reset()
	}
}

func TestPerformReusesConnection(t *testing.T) {
	srv, conns := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ok")
	})
	c := New()
	defer c.Close()
	for i := 0; i < 3; i++ {
		rec := &recorder{}
		c.Apply(rec.options(srv.URL))
		require.NoError(t, c.Perform(context.Background()))
		assert.Equal(t, "ok", rec.body.String())
		c.Reset()
		assert.Zero(t, c.ResponseCode())
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(conns))
}

func TestPerformReconnects(t *testing.T) {
	srv, conns := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ok")
	})
	c := New()
	defer c.Close()

	c.Apply((&recorder{}).options(srv.URL))
	require.NoError(t, c.Perform(context.Background()))
	srv.CloseClientConnections()

	rec := &recorder{}
	c.Apply(rec.options(srv.URL))
	require.NoError(t, c.Perform(context.Background()))
	assert.Equal(t, "ok", rec.body.String())
	assert.EqualValues(t, 2, atomic.LoadInt32(conns))
}

func TestPerformConnectionClose(t *testing.T) {
	srv, conns := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Connection", "close")
		io.WriteString(w, "bye")
	})
	c := New()
	defer c.Close()
	for i := 0; i < 2; i++ {
		c.Apply((&recorder{}).options(srv.URL))
		require.NoError(t, c.Perform(context.Background()))
	}
	assert.EqualValues(t, 2, atomic.LoadInt32(conns))
}

func TestPerformTimeout(t *testing.T) {
	srv, _ := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	c := New()
	defer c.Close()
	o := (&recorder{}).options(srv.URL)
	o.TimeoutMS = 50
	c.Apply(o)
	e := nativeError(t, c.Perform(context.Background()))
	assert.Equal(t, CodeOperationTimedOut, e.Code)
	assert.True(t, strings.HasPrefix(e.Message, "Operation timed out after "), e.Message)
	assert.Contains(t, e.Message, "with 0 bytes received")
}

func TestPerformCanceled(t *testing.T) {
	srv, _ := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	c := New()
	defer c.Close()
	c.Apply((&recorder{}).options(srv.URL))
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	e := nativeError(t, c.Perform(ctx))
	assert.Equal(t, CodeAbortedByCallback, e.Code)
}

func TestPerformCouldntConnect(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	l.Close()

	c := New()
	defer c.Close()
	c.Apply((&recorder{}).options("http://" + addr))
	e := nativeError(t, c.Perform(context.Background()))
	assert.Equal(t, CodeCouldntConnect, e.Code)
}

func TestPerformGotNothing(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			bufioDrain(conn)
			conn.Close()
		}
	}()

	c := New()
	defer c.Close()
	c.Apply((&recorder{}).options("http://" + l.Addr().String()))
	e := nativeError(t, c.Perform(context.Background()))
	assert.Equal(t, CodeGotNothing, e.Code)
	assert.Equal(t, "Empty reply from server", e.Message)
}

// bufioDrain reads a request head without answering it.
func bufioDrain(conn net.Conn) {
	buf := make([]byte, 4096)
	var got []byte
	for !bytes.Contains(got, []byte("\r\n\r\n")) {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		got = append(got, buf[:n]...)
	}
}

func TestPerformWeirdServerReply(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		bufioDrain(conn)
		io.WriteString(conn, "SSH-2.0-OpenSSH_9.0\r\n")
		conn.Close()
	}()

	c := New()
	defer c.Close()
	c.Apply((&recorder{}).options("http://" + l.Addr().String()))
	e := nativeError(t, c.Perform(context.Background()))
	assert.Equal(t, CodeWeirdServerReply, e.Code)
}

func TestPerformBadURL(t *testing.T) {
	c := New()
	defer c.Close()
	c.Apply(Options{URL: "ftp://somefakeurl"})
	assert.Equal(t, CodeUnsupportedProtocol, nativeError(t, c.Perform(context.Background())).Code)
	c.Apply(Options{URL: "http://"})
	assert.Equal(t, CodeURLMalformat, nativeError(t, c.Perform(context.Background())).Code)
}

func TestPerformAfterClose(t *testing.T) {
	c := New()
	require.NoError(t, c.Close())
	c.Apply(Options{URL: "http://somefakeurl"})
	assert.Error(t, c.Perform(context.Background()))
	assert.NoError(t, c.Close())
}

func TestConnectError(t *testing.T) {
	now := time.Now()
	e := connectError(context.DeadlineExceeded, "h", false, now)
	assert.Equal(t, CodeOperationTimedOut, e.Code)
	assert.True(t, strings.HasPrefix(e.Message, "Connection timed out after "))

	dnsErr := &net.DNSError{Err: "no such host", Name: "h", IsNotFound: true}
	assert.Equal(t, CodeCouldntResolveHost, connectError(dnsErr, "h", false, now).Code)
	assert.Equal(t, CodeCouldntResolveProxy, connectError(dnsErr, "h", true, now).Code)
	assert.Equal(t, CodeCouldntConnect, connectError(errors.New("refused"), "h", false, now).Code)
}

func writeCA(t *testing.T, srv *httptest.Server) string {
	p := filepath.Join(t.TempDir(), "ca.pem")
	data := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw})
	require.NoError(t, os.WriteFile(p, data, 0o600))
	return p
}

func TestPerformTLS(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "secure")
	}))
	defer srv.Close()

	t.Run("UnknownAuthority", func(t *testing.T) {
		c := New()
		defer c.Close()
		o := (&recorder{}).options(srv.URL)
		o.SSLVerifyPeer, o.SSLVerifyHost = 2, 2
		c.Apply(o)
		assert.Equal(t, CodeSSLCACert, nativeError(t, c.Perform(context.Background())).Code)
	})
	t.Run("VerifyDisabled", func(t *testing.T) {
		c := New()
		defer c.Close()
		rec := &recorder{}
		c.Apply(rec.options(srv.URL))
		require.NoError(t, c.Perform(context.Background()))
		assert.Equal(t, "secure", rec.body.String())
	})
	t.Run("CAInfo", func(t *testing.T) {
		c := New()
		defer c.Close()
		rec := &recorder{}
		o := rec.options(srv.URL)
		o.SSLVerifyPeer, o.SSLVerifyHost = 2, 2
		o.CAInfo = writeCA(t, srv)
		c.Apply(o)
		require.NoError(t, c.Perform(context.Background()))
		assert.Equal(t, "secure", rec.body.String())
	})
	t.Run("CAPath", func(t *testing.T) {
		c := New()
		defer c.Close()
		o := (&recorder{}).options(srv.URL)
		o.SSLVerifyPeer, o.SSLVerifyHost = 2, 0
		o.CAPath = filepath.Dir(writeCA(t, srv))
		c.Apply(o)
		require.NoError(t, c.Perform(context.Background()))
	})
	t.Run("BadCAFile", func(t *testing.T) {
		c := New()
		defer c.Close()
		o := (&recorder{}).options(srv.URL)
		o.SSLVerifyPeer, o.SSLVerifyHost = 2, 2
		o.CAInfo = filepath.Join(t.TempDir(), "missing.pem")
		c.Apply(o)
		assert.Equal(t, CodeSSLCACertBadFile, nativeError(t, c.Perform(context.Background())).Code)
	})
	t.Run("BadClientCert", func(t *testing.T) {
		c := New()
		defer c.Close()
		o := (&recorder{}).options(srv.URL)
		o.SSLCert = filepath.Join(t.TempDir(), "missing.pem")
		c.Apply(o)
		assert.Equal(t, CodeSSLCertProblem, nativeError(t, c.Perform(context.Background())).Code)
	})
}

// proxyServer answers plain proxied requests itself and tunnels CONNECT
// requests carrying the expected credentials.
func proxyServer(t *testing.T, auth string) (*httptest.Server, int) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodConnect {
			w.Header().Set("X-Proxy-Auth", r.Header.Get("Proxy-Authorization"))
			io.WriteString(w, "proxied "+r.URL.String())
			return
		}
		if r.Header.Get("Proxy-Authorization") != auth {
			w.WriteHeader(http.StatusProxyAuthRequired)
			return
		}
		upstream, err := net.Dial("tcp", r.Host)
		if err != nil {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		defer upstream.Close()
		conn, brw, err := w.(http.Hijacker).Hijack()
		if err != nil {
			return
		}
		defer conn.Close()
		io.WriteString(conn, "HTTP/1.1 200 Connection established\r\n\r\n")
		go io.Copy(upstream, brw)
		io.Copy(conn, upstream)
	}))
	t.Cleanup(srv.Close)
	_, port, _ := net.SplitHostPort(srv.Listener.Addr().String())
	p, _ := net.LookupPort("tcp", port)
	return srv, p
}

func TestPerformProxy(t *testing.T) {
	const auth = "Basic dXNlcjpwYXNz"
	_, port := proxyServer(t, auth)

	t.Run("PlainHTTP", func(t *testing.T) {
		c := New()
		defer c.Close()
		rec := &recorder{}
		o := rec.options("http://somefakeurl.invalid/x?y=1")
		o.Proxy, o.ProxyPort, o.ProxyScheme = "127.0.0.1", port, "http"
		o.ProxyAuth, o.ProxyUserPwd = AuthAny, "user:pass"
		c.Apply(o)
		require.NoError(t, c.Perform(context.Background()))
		assert.Equal(t, "proxied http://somefakeurl.invalid/x?y=1", rec.body.String())
		assert.Contains(t, rec.lines, "X-Proxy-Auth: "+auth+"\r\n")
	})
	t.Run("ConnectRejected", func(t *testing.T) {
		c := New()
		defer c.Close()
		o := (&recorder{}).options("https://somefakeurl.invalid/")
		o.Proxy, o.ProxyPort = "127.0.0.1", port
		c.Apply(o)
		e := nativeError(t, c.Perform(context.Background()))
		assert.Equal(t, CodeRecvError, e.Code)
		assert.Equal(t, "Received HTTP code 407 from proxy after CONNECT", e.Message)
	})
	t.Run("Tunnel", func(t *testing.T) {
		target := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "tunnelled")
		}))
		defer target.Close()
		c := New()
		defer c.Close()
		rec := &recorder{}
		o := rec.options(target.URL)
		o.Proxy, o.ProxyPort = "127.0.0.1", port
		o.ProxyAuth, o.ProxyUserPwd = AuthBasic, "user:pass"
		c.Apply(o)
		require.NoError(t, c.Perform(context.Background()))
		assert.Equal(t, "tunnelled", rec.body.String())
	})
}
