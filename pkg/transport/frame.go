package transport

import (
	"net"
	"sync"
	"time"

	"github.com/backkem/sae/pkg/sae"
)

const (
	// AddrHeaderSize is the destination and source MAC prefix of each frame.
	AddrHeaderSize = 12

	// MaxFrameBodySize bounds a frame body (the 802.11 MMPDU body limit).
	MaxFrameBodySize = 2304
)

// BroadcastAddr is the all-ones MAC address.
var BroadcastAddr = sae.MacAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// FrameConn carries addressed management frame bodies over a packet-preserving
// net.Conn such as a PipeConn. Each frame is
//
//	DA(6) | SA(6) | body
//
// FrameConn does not filter by destination; that is up to the receiver.
type FrameConn struct {
	conn  net.Conn
	local sae.MacAddr

	readMu sync.Mutex
	buf    []byte
}

// NewFrameConn wraps conn for the station with address local.
func NewFrameConn(conn net.Conn, local sae.MacAddr) *FrameConn {
	return &FrameConn{
		conn:  conn,
		local: local,
		buf:   make([]byte, AddrHeaderSize+MaxFrameBodySize),
	}
}

// LocalAddr returns the station address frames are sent from.
func (c *FrameConn) LocalAddr() sae.MacAddr {
	return c.local
}

// WriteFrame sends body to dst.
func (c *FrameConn) WriteFrame(dst sae.MacAddr, body []byte) error {
	if len(body) > MaxFrameBodySize {
		return ErrFrameTooLarge
	}
	frame := make([]byte, 0, AddrHeaderSize+len(body))
	frame = append(frame, dst[:]...)
	frame = append(frame, c.local[:]...)
	frame = append(frame, body...)
	_, err := c.conn.Write(frame)
	return err
}

// ReadFrame blocks until a frame arrives. The returned body is a copy.
func (c *FrameConn) ReadFrame() (src, dst sae.MacAddr, body []byte, err error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	n, err := c.conn.Read(c.buf)
	if err != nil {
		return src, dst, nil, err
	}
	if n < AddrHeaderSize {
		return src, dst, nil, ErrFrameTooShort
	}
	copy(dst[:], c.buf[0:6])
	copy(src[:], c.buf[6:12])
	body = make([]byte, n-AddrHeaderSize)
	copy(body, c.buf[AddrHeaderSize:n])
	return src, dst, body, nil
}

// SetReadDeadline sets the deadline for ReadFrame.
func (c *FrameConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// Close closes the underlying connection.
func (c *FrameConn) Close() error {
	return c.conn.Close()
}
