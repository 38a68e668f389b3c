package hub

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mkravtsov/wakewatch/internal/protocol"
)

// defaultSendBuffer is the per-connection outbound queue depth. A peer that
// cannot drain this many frames is effectively dead and will be reaped.
const defaultSendBuffer = 32

// writeTimeout bounds a single websocket write.
const writeTimeout = 10 * time.Second

// ErrSendQueueFull is returned when a peer's outbound queue overflows.
var ErrSendQueueFull = errors.New("send queue full")

// wsSender adapts a websocket connection to the registry's Sender interface.
// Frames are queued to a single writer goroutine, which preserves FIFO order
// per connection and keeps writes off the broadcast path.
type wsSender struct {
	// conn is the underlying websocket.
	conn *websocket.Conn
	// outbound carries queued envelopes to the write pump.
	outbound chan *protocol.Envelope

	// mu guards closed against concurrent Send/Close.
	mu sync.Mutex
	// closed is set once the outbound channel has been closed.
	closed bool
}

// newWSSender starts the write pump for the connection.
func newWSSender(conn *websocket.Conn) *wsSender {
	s := &wsSender{
		conn:     conn,
		outbound: make(chan *protocol.Envelope, defaultSendBuffer),
	}

	go s.writePump()

	return s
}

// Send queues the envelope for delivery. It never blocks: a full queue means
// the peer has stopped draining and the frame is dropped with an error.
func (s *wsSender) Send(envelope *protocol.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return websocket.ErrCloseSent
	}

	select {
	case s.outbound <- envelope:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close stops the sender. Queued frames are still flushed by the write pump
// before the socket closes, so a final AUTH_FAILED reaches the peer.
func (s *wsSender) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	s.closed = true
	close(s.outbound)
}

// writePump drains the outbound queue onto the socket, then closes it.
func (s *wsSender) writePump() {
	for envelope := range s.outbound {
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))

		if err := s.conn.WriteJSON(envelope); err != nil {
			// The read pump observes the broken socket and deregisters;
			// keep draining so Close never blocks senders.
			continue
		}
	}

	_ = s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeTimeout),
	)
	_ = s.conn.Close()
}
