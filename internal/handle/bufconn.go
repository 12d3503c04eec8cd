package handle

import (
	"bufio"
	"net"
)

// bufferedConn drains bytes already buffered while talking to a proxy
// before reading from the connection again.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) {
	if c.r.Buffered() > 0 {
		return c.r.Read(p)
	}
	return c.Conn.Read(p)
}

func (c *bufferedConn) NetConn() net.Conn { return c.Conn }
