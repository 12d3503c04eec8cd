//go:build darwin || linux

package handle

import (
	"net"

	"golang.org/x/sys/unix"
)

// alive reports whether an idle keep-alive connection can still be written
// to. An idle connection that polls readable has either been closed by the
// peer or received bytes nobody asked for, both make it unusable.
func alive(c net.Conn) bool {
	rc := rawConn(c)
	if rc == nil {
		return true
	}
	ok := true
	err := rc.Control(func(fd uintptr) {
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, 0)
		if err != nil {
			return
		}
		if n > 0 && fds[0].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
			ok = false
		}
	})
	return err == nil && ok
}
