package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/antonkrylov/livecon/internal/logging"
	"github.com/antonkrylov/livecon/internal/protocol"
)

// ErrConnClosed is returned by Emit after the connection has gone away.
var ErrConnClosed = errors.New("connection closed")

// ServerOptions tune per-connection behaviour.
type ServerOptions struct {
	Logger       *slog.Logger
	QueueSize    int
	// RequestQueue bounds requests read but not yet handled.
	RequestQueue int
	PingInterval time.Duration
	PongWait     time.Duration
	WriteTimeout time.Duration
	ReadLimit    int64
	// CheckOrigin is passed to the websocket upgrader; nil allows any
	// origin.
	CheckOrigin func(r *http.Request) bool
	// ReadOnly rejects every API call that changes server state.
	ReadOnly bool
}

func (o *ServerOptions) setDefaults() {
	if o.Logger == nil {
		o.Logger = logging.Discard()
	}
	if o.QueueSize == 0 {
		o.QueueSize = 256
	}
	if o.RequestQueue == 0 {
		o.RequestQueue = 64
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
		o.ReadLimit = 512 * 1024
	}
	if o.CheckOrigin == nil {
		o.CheckOrigin = func(*http.Request) bool { return true }
	}
}

// Server accepts websocket connections and hands their requests to a
// Service. Each connection keeps reading while a request runs, queues what
// it reads, and handles the queue one request at a time through a single
// writer, so render commands for overlapping requests never interleave.
type Server struct {
	svc      *Service
	opts     ServerOptions
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[string]*conn
	wg    sync.WaitGroup
}

// NewServer creates a dispatcher server for svc.
func NewServer(svc *Service, opts ServerOptions) *Server {
	opts.setDefaults()
	return &Server{
		svc:    svc,
		opts:   opts,
		logger: opts.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin:     opts.CheckOrigin,
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		conns: make(map[string]*conn),
	}
}

// Handler returns the HTTP handler serving /ws and the JSON API.
func (s *Server) Handler() http.Handler {
	return s.router()
}

// ConnCount returns the number of open connections.
func (s *Server) ConnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Close disconnects every client and waits for their handlers to return.
func (s *Server) Close() {
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.shutdown()
	}
	s.wg.Wait()
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		s.logger.Warn("websocket upgrade", "remote", r.RemoteAddr, "err", err)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &conn{
		id:     uuid.NewString(),
		ws:     ws,
		send:   make(chan []byte, s.opts.QueueSize),
		reqs:   make(chan protocol.RequestEnvelope, s.opts.RequestQueue),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
		opts:   &s.opts,
	}
	c.logger = s.logger.With("conn", c.id)

	s.mu.Lock()
	s.conns[c.id] = c
	s.mu.Unlock()
	s.wg.Add(3)
	c.logger.Info("connection opened", "remote", r.RemoteAddr)

	go func() {
		defer s.wg.Done()
		c.writePump()
	}()
	go func() {
		defer s.wg.Done()
		c.readPump()
	}()
	go func() {
		defer s.wg.Done()
		c.handleRequests(s.svc)
		s.mu.Lock()
		delete(s.conns, c.id)
		s.mu.Unlock()
		c.logger.Info("connection closed")
	}()
}

type conn struct {
	id     string
	ws     *websocket.Conn
	send   chan []byte
	reqs   chan protocol.RequestEnvelope
	done   chan struct{}
	once   sync.Once
	ctx    context.Context
	cancel context.CancelFunc
	opts   *ServerOptions
	logger *slog.Logger
}

// Emit queues one render command behind everything emitted before it. It
// blocks while the queue is full so slow clients apply backpressure to the
// running script instead of losing output.
func (c *conn) Emit(cmd protocol.RenderCommand) error {
	frame, err := protocol.EncodeRender(cmd)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return ErrConnClosed
	}
}

func (c *conn) shutdown() {
	c.once.Do(func() {
		close(c.done)
		c.cancel()
	})
}

// readPump decodes frames into the request queue until reading fails,
// which shuts the connection down and cancels any running request.
func (c *conn) readPump() {
	defer c.shutdown()
	c.ws.SetReadLimit(c.opts.ReadLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})
	c.ws.SetPingHandler(func(data string) error {
		_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		err := c.ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(c.opts.WriteTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	for {
		typ, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.logger.Warn("read", "err", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		if typ != websocket.TextMessage {
			c.logger.Warn("non-text frame dropped", "type", typ)
			continue
		}
		req, err := protocol.DecodeRequest(data)
		if err != nil {
			c.logger.Warn("request dropped", "err", err)
			continue
		}
		select {
		case c.reqs <- req:
		case <-c.done:
			return
		}
	}
}

// handleRequests runs queued requests in arrival order until the
// connection shuts down.
func (c *conn) handleRequests(svc *Service) {
	for {
		select {
		case <-c.done:
			return
		case req := <-c.reqs:
			svc.Handle(c.ctx, c.id, req, c)
		}
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()
	for {
		select {
		case <-c.done:
			c.flush()
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			_ = c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case frame := <-c.send:
			if err := c.write(frame); err != nil {
				c.logger.Warn("write", "err", err)
				c.shutdown()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown()
				return
			}
		}
	}
}

// flush writes frames that were queued before shutdown.
func (c *conn) flush() {
	for {
		select {
		case frame := <-c.send:
			if c.write(frame) != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *conn) write(frame []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}
