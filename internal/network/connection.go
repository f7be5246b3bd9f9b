package network

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ottdwire/ottdwire/internal/events"
	"github.com/ottdwire/ottdwire/internal/protocol"
	"github.com/ottdwire/ottdwire/internal/util"
)

// writeTimeout bounds every packet write on a stream connection.
const writeTimeout = 10 * time.Second

// ReadFrame reads one length-prefixed packet from a byte stream and returns
// it whole, header included.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [2]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	size := int(binary.LittleEndian.Uint16(header[:]))
	if size < protocol.HeaderSize {
		return nil, &protocol.DecodeError{
			Field:  "packet length",
			Offset: 0,
			Err:    fmt.Errorf("%w: %d (minimum %d)", protocol.ErrInvalidLength, size, protocol.HeaderSize),
		}
	}

	frame := make([]byte, size)
	copy(frame, header[:])
	if _, err := io.ReadFull(r, frame[len(header):]); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("failed to read %d byte packet: %w", size, err)
	}
	return frame, nil
}

// Connection carries Game Coordinator packets over a TCP stream.
type Connection struct {
	mu     sync.Mutex
	conn   net.Conn
	parser *protocol.Parser
	logger zerolog.Logger

	connectedAt  time.Time
	lastActivity time.Time

	closed bool
}

// NewConnection wraps an established stream.
func NewConnection(conn net.Conn, parser *protocol.Parser) *Connection {
	now := time.Now()
	return &Connection{
		conn:         conn,
		parser:       parser,
		connectedAt:  now,
		lastActivity: now,
		logger:       util.ComponentLogger("coordinator_conn").With().Str("remote", conn.RemoteAddr().String()).Logger(),
	}
}

// ReadPacket reads and decodes the next packet. It blocks until a whole
// packet arrived or timeout passed; a zero timeout waits forever. A packet
// that fails to decode is returned as an error after its bytes have been
// consumed, so the stream stays aligned.
func (c *Connection) ReadPacket(timeout time.Duration) (*events.Event, error) {
	if timeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(timeout))
	} else {
		c.conn.SetReadDeadline(time.Time{})
	}

	frame, err := ReadFrame(c.conn)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()

	ev, _, err := c.parser.ParseCoordinator(frame, c.conn.RemoteAddr().String())
	if err != nil {
		return nil, err
	}
	return ev, nil
}

// WritePacket encodes and sends one packet.
func (c *Connection) WritePacket(p protocol.CoordinatorPayload) error {
	data, err := c.parser.EncodeCoordinator(p)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("connection is closed")
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := c.conn.Write(data); err != nil {
		return fmt.Errorf("failed to write packet: %w", err)
	}

	c.lastActivity = time.Now()
	return nil
}

// Close closes the connection. Closing twice is a no-op.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.logger.Debug().Dur("duration", time.Since(c.connectedAt)).Msg("connection closed")
	return c.conn.Close()
}

// IsClosed reports whether Close has been called.
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// LastActivity returns when a packet was last read or written.
func (c *Connection) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// RemoteAddr returns the coordinator's address.
func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}
