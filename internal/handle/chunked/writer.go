package chunked

import (
	"fmt"
	"io"
)

// NewWriter encodes everything written to it as chunks on w. Close writes
// the terminating zero-length chunk but does not close w.
func NewWriter(w io.Writer) io.WriteCloser {
	return &writer{w}
}

type writer struct {
	wire io.Writer
}

func (cw *writer) Write(data []byte) (n int, err error) {
	// a 0-length chunk would terminate the body
	if len(data) == 0 {
		return 0, nil
	}
	if _, err = fmt.Fprintf(cw.wire, "%x\r\n", len(data)); err != nil {
		return 0, err
	}
	if n, err = cw.wire.Write(data); err != nil {
		return
	}
	if n != len(data) {
		return n, io.ErrShortWrite
	}
	if _, err = io.WriteString(cw.wire, "\r\n"); err != nil {
		return
	}
	if f, ok := cw.wire.(interface{ Flush() error }); ok {
		err = f.Flush()
	}
	return
}

func (cw *writer) Close() error {
	n, err := io.WriteString(cw.wire, "0\r\n\r\n")
	if err == nil && n != 5 {
		return io.ErrShortWrite
	}
	return err
}
