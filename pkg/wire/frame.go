// Package wire implements the length-prefixed framing protocol shared by
// every component of the game store: a 4-byte big-endian unsigned length
// followed by that many bytes of UTF-8 JSON.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// MaxFrameSize is the largest payload a peer may send. Anything larger is
// treated as a protocol violation and the connection is torn down.
const MaxFrameSize = 10 * 1024 * 1024 // 10 MiB

var (
	// ErrClosed means the peer closed the connection cleanly between frames.
	ErrClosed = errors.New("wire: connection closed")
	// ErrTooLarge means the peer announced a frame over MaxFrameSize.
	ErrTooLarge = errors.New("wire: frame exceeds size limit")
	// ErrTruncated means the stream ended in the middle of a frame.
	ErrTruncated = errors.New("wire: truncated frame")
)

// Conn wraps a net.Conn with framed reads and writes. Writes are serialized
// through a mutex so a frame is never interleaved; reads are expected from a
// single goroutine (the session loop).
type Conn struct {
	conn net.Conn

	wmu    sync.Mutex
	closed bool
}

// NewConn wraps a net.Conn.
func NewConn(c net.Conn) *Conn {
	return &Conn{conn: c}
}

// RemoteAddr returns the peer address, for logging.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// ReadFrame reads one complete frame. A deadline of zero means no timeout.
func (c *Conn) ReadFrame(deadline time.Duration) ([]byte, error) {
	if deadline > 0 {
		c.conn.SetReadDeadline(time.Now().Add(deadline))
	} else {
		c.conn.SetReadDeadline(time.Time{})
	}

	var header [4]byte
	if _, err := io.ReadFull(c.conn, header[:]); err != nil {
		if err == io.EOF {
			return nil, ErrClosed
		}
		if err == io.ErrUnexpectedEOF {
			return nil, ErrTruncated
		}
		return nil, fmt.Errorf("wire: read header: %w", err)
	}

	length := binary.BigEndian.Uint32(header[:])
	if length > MaxFrameSize {
		return nil, ErrTooLarge
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(c.conn, payload); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, ErrTruncated
		}
		return nil, fmt.Errorf("wire: read payload: %w", err)
	}
	return payload, nil
}

// WriteFrame writes one complete frame. The header and payload go out in a
// single Write call so the frame is atomic with respect to other writers.
func (c *Conn) WriteFrame(payload []byte) error {
	if len(payload) > MaxFrameSize {
		return ErrTooLarge
	}

	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[4:], payload)

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if _, err := c.conn.Write(buf); err != nil {
		return fmt.Errorf("wire: write frame: %w", err)
	}
	return nil
}

// Close shuts down the underlying connection. Safe to call more than once.
func (c *Conn) Close() {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if !c.closed {
		c.closed = true
		c.conn.Close()
	}
}

// IsTimeout reports whether err is a read deadline expiry rather than a
// broken connection.
func IsTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
