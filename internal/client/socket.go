package client

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/antonkrylov/livecon/internal/logging"
)

var (
	// ErrNotConnected is returned by Send when no socket is open.
	ErrNotConnected = errors.New("not connected")
	// ErrSendQueueFull is returned by Send when the write pump is behind.
	ErrSendQueueFull = errors.New("send queue full")
)

// SocketOptions tune a websocket connection.
type SocketOptions struct {
	Header           http.Header
	HandshakeTimeout time.Duration
	QueueSize        int
	PingInterval     time.Duration
	PongWait         time.Duration
	WriteTimeout     time.Duration
	ReadLimit        int64
	Logger           *slog.Logger
}

func (o *SocketOptions) setDefaults() {
	if o.HandshakeTimeout == 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	if o.QueueSize == 0 {
		o.QueueSize = 64
	}
	if o.PingInterval == 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.PongWait == 0 {
		o.PongWait = 2 * o.PingInterval
	}
	if o.WriteTimeout == 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.ReadLimit == 0 {
		o.ReadLimit = 16 << 20
	}
	if o.Logger == nil {
		o.Logger = logging.Discard()
	}
}

// Socket is one websocket connection with a FIFO outbound queue drained by
// a single write pump, so frames leave in the order Send accepted them.
type Socket struct {
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	closed sync.Once
	exited chan struct{}
	opts   SocketOptions
}

// DialSocket opens a websocket to rawURL and starts its write pump.
func DialSocket(ctx context.Context, rawURL string, opts SocketOptions) (*Socket, error) {
	opts.setDefaults()
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: opts.HandshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, rawURL, opts.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	s := &Socket{
		conn:   conn,
		send:   make(chan []byte, opts.QueueSize),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
		opts:   opts,
	}
	go s.writePump()
	return s, nil
}

// Send queues one text frame without blocking.
func (s *Socket) Send(frame []byte) error {
	select {
	case <-s.done:
		return ErrNotConnected
	default:
	}
	select {
	case s.send <- frame:
		return nil
	case <-s.done:
		return ErrNotConnected
	default:
		return ErrSendQueueFull
	}
}

// ReadLoop delivers text frames to handle, one at a time and in arrival
// order, until the connection fails or is closed. It always returns a
// non-nil error describing why reading stopped.
func (s *Socket) ReadLoop(handle func([]byte)) error {
	defer s.Close()
	s.conn.SetReadLimit(s.opts.ReadLimit)
	_ = s.conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	})
	s.conn.SetPingHandler(func(data string) error {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
		err := s.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(s.opts.WriteTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	for {
		typ, data, err := s.conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
		if typ != websocket.TextMessage {
			s.opts.Logger.Warn("non-text frame dropped", "type", typ, "bytes", len(data))
			continue
		}
		handle(data)
	}
}

// Close sends a close frame and tears the connection down. Safe to call
// more than once.
func (s *Socket) Close() error {
	s.closed.Do(func() { close(s.done) })
	<-s.exited
	return nil
}

func (s *Socket) writePump() {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
		close(s.exited)
	}()
	for {
		select {
		case <-s.done:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			_ = s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case frame := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.opts.Logger.Error("write frame", "err", err)
				s.closed.Do(func() { close(s.done) })
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.closed.Do(func() { close(s.done) })
				return
			}
		}
	}
}

// closeInfo classifies the error that ended a read loop the way a browser
// close event does: a code, a reason and whether the close was clean.
func closeInfo(err error) (code int, reason string, clean bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		clean = ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway
		return ce.Code, ce.Text, clean
	}
	if err == nil {
		return websocket.CloseNormalClosure, "", true
	}
	return websocket.CloseAbnormalClosure, err.Error(), false
}
