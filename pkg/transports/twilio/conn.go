package twilio

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/harunnryd/callrelay/pkg/errorsx"
)

// ErrConnClosed is returned by Send and Recv once the stream is closed.
var ErrConnClosed = errors.New("twilio: media stream closed")

// Conn is one Twilio media stream. Recv must be called from a single
// goroutine; Send is safe for concurrent use and never blocks on the socket.
type Conn struct {
	ws      *websocket.Conn
	logger  *slog.Logger
	sendCh  chan []byte
	done    chan struct{}
	once    sync.Once
	onStart func(*Conn)

	mu        sync.Mutex
	streamSID string
	callSID   string
	from      string
}

func newConn(ws *websocket.Conn, logger *slog.Logger, buffer int) *Conn {
	if buffer <= 0 {
		buffer = 256
	}
	c := &Conn{
		ws:     ws,
		logger: logger,
		sendCh: make(chan []byte, buffer),
		done:   make(chan struct{}),
	}
	go c.loop()
	return c
}

// Recv returns the next well-formed message. Malformed messages are logged
// and skipped.
func (c *Conn) Recv() (Inbound, error) {
	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return Inbound{}, ErrConnClosed
			default:
			}
			return Inbound{}, errorsx.Wrap(err, errorsx.ReasonTransportClosed)
		}
		in, err := ParseInbound(msg)
		if err != nil {
			c.logger.Warn("twilio_malformed_message", "stream_sid", c.StreamSID(), "error", err)
			continue
		}
		if in.Event == EventStart && in.Start != nil {
			c.mu.Lock()
			c.streamSID = in.Start.StreamSID
			c.callSID = in.Start.CallSID
			c.from = in.Start.From
			c.mu.Unlock()
			if c.onStart != nil {
				c.onStart(c)
			}
		}
		return in, nil
	}
}

// Send queues msg for the writer goroutine.
func (c *Conn) Send(msg Outbound) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonTransportSend)
	}
	select {
	case <-c.done:
		return errorsx.Wrap(ErrConnClosed, errorsx.ReasonTransportSend)
	default:
	}
	select {
	case c.sendCh <- b:
		return nil
	case <-c.done:
		return errorsx.Wrap(ErrConnClosed, errorsx.ReasonTransportSend)
	}
}

// Close ends the stream and unblocks a pending Recv. It is idempotent.
func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) StreamSID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streamSID
}

func (c *Conn) CallSID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callSID
}

func (c *Conn) From() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.from
}

func (c *Conn) loop() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.sendCh:
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Warn("twilio_write_failed",
					"stream_sid", c.StreamSID(),
					"reason_code", string(errorsx.ReasonTransportSend),
					"error", err,
				)
				_ = c.Close()
				return
			}
		}
	}
}
