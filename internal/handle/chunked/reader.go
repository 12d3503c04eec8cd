// Package chunked implements the HTTP/1.1 chunked transfer coding used by
// handles for streamed uploads and for chunked response bodies.
package chunked

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

var (
	ErrMalformed = errors.New("chunked: malformed chunked encoding")
	ErrTooLarge  = errors.New("chunked: chunk length too large")
)

// NewReader decodes a chunked body from r. It stops after the last chunk
// and its trailer section, leaving r positioned at the next message.
func NewReader(r io.Reader) io.Reader {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &reader{r: br}
}

type reader struct {
	r         *bufio.Reader
	remaining int64 // bytes left in the current chunk
	inChunk   bool
	done      bool
}

func (c *reader) readLine() ([]byte, error) {
	line, err := c.r.ReadSlice('\n')
	if err == bufio.ErrBufferFull {
		return nil, ErrTooLarge
	}
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return bytes.TrimRight(line, "\r\n"), nil
}

func (c *reader) readChunkHeader() (int64, error) {
	line, err := c.readLine()
	if err != nil {
		return 0, err
	}
	if i := bytes.IndexByte(line, ';'); i >= 0 {
		line = line[:i] // chunk extensions are ignored
	}
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return 0, ErrMalformed
	}
	if len(line) > 15 {
		return 0, ErrTooLarge
	}
	var n int64
	for _, b := range line {
		switch {
		case '0' <= b && b <= '9':
			b = b - '0'
		case 'a' <= b && b <= 'f':
			b = b - 'a' + 10
		case 'A' <= b && b <= 'F':
			b = b - 'A' + 10
		default:
			return 0, ErrMalformed
		}
		n = n<<4 | int64(b)
	}
	return n, nil
}

func (c *reader) skipTrailer() error {
	for {
		line, err := c.readLine()
		if err != nil {
			return err
		}
		if len(line) == 0 {
			return nil
		}
	}
}

func (c *reader) Read(p []byte) (n int, err error) {
	if c.done {
		return 0, io.EOF
	}
	if !c.inChunk {
		size, err := c.readChunkHeader()
		if err != nil {
			return 0, err
		}
		if size == 0 {
			c.done = true
			if err := c.skipTrailer(); err != nil {
				return 0, err
			}
			return 0, io.EOF
		}
		c.remaining, c.inChunk = size, true
	}
	if int64(len(p)) > c.remaining {
		p = p[:c.remaining]
	}
	n, err = c.r.Read(p)
	c.remaining -= int64(n)
	if err == io.EOF {
		return n, io.ErrUnexpectedEOF
	}
	if c.remaining == 0 {
		cr, _ := c.r.ReadByte()
		lf, err := c.r.ReadByte()
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return n, err
		}
		if cr != '\r' || lf != '\n' {
			return n, ErrMalformed
		}
		c.inChunk = false
	}
	return n, err
}
