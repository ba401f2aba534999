package client

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/grpc/backoff"

	"github.com/antonkrylov/livecon/internal/logging"
)

// Handler receives connection events in the order they happen. It is
// satisfied by *console.Controller.
type Handler interface {
	OnOpen()
	OnMessage(frame []byte)
	OnClose(code int, reason string, clean bool)
	OnError(err error)
}

// DefaultBackoff mirrors the reconnect policy used for the control plane.
var DefaultBackoff = backoff.Config{
	BaseDelay:  250 * time.Millisecond,
	Multiplier: 1.6,
	Jitter:     0.2,
	MaxDelay:   5 * time.Second,
}

// SessionOptions configure a Session.
type SessionOptions struct {
	URL       string
	Reconnect bool
	// MaxAttempts caps consecutive failed dials when reconnecting. Zero
	// means no cap.
	MaxAttempts int
	Backoff     backoff.Config
	Socket      SocketOptions
	Logger      *slog.Logger
}

// Session keeps a websocket open on behalf of a Handler and is the
// Handler's outbound transport. Requests are never replayed after a
// reconnect.
type Session struct {
	opts SessionOptions

	mu   sync.Mutex
	sock *Socket

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewSession returns a session; nothing is dialed until Run.
func NewSession(opts SessionOptions) *Session {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Backoff == (backoff.Config{}) {
		opts.Backoff = DefaultBackoff
	}
	if opts.Socket.Logger == nil {
		opts.Socket.Logger = opts.Logger
	}
	return &Session{opts: opts, sleep: sleepContext}
}

// Send transmits one frame on the current connection.
func (s *Session) Send(frame []byte) error {
	s.mu.Lock()
	sock := s.sock
	s.mu.Unlock()
	if sock == nil {
		return ErrNotConnected
	}
	return sock.Send(frame)
}

// Run dials the server and pumps events into h until ctx is done, the
// connection ends without Reconnect, or the attempt cap is hit. A context
// cancellation is reported as a clean close and a nil error.
func (s *Session) Run(ctx context.Context, h Handler) error {
	logger := s.opts.Logger.With("url", s.opts.URL)
	failures := 0
	for {
		sock, err := DialSocket(ctx, s.opts.URL, s.opts.Socket)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			h.OnError(fmt.Errorf("dial: %w", err))
			if !s.opts.Reconnect {
				return fmt.Errorf("dial %s: %w", s.opts.URL, err)
			}
			failures++
			if s.opts.MaxAttempts > 0 && failures >= s.opts.MaxAttempts {
				return fmt.Errorf("dial %s: giving up after %d attempts: %w", s.opts.URL, failures, err)
			}
			delay := Delay(s.opts.Backoff, failures)
			logger.Warn("dial failed, retrying", "err", err, "attempt", failures, "delay", delay)
			if s.sleep(ctx, delay) != nil {
				return nil
			}
			continue
		}
		failures = 0

		s.setSocket(sock)
		h.OnOpen()
		logger.Info("connected")
		stop := context.AfterFunc(ctx, func() { sock.Close() })
		readErr := sock.ReadLoop(h.OnMessage)
		stop()
		s.setSocket(nil)

		if ctx.Err() != nil {
			h.OnClose(websocket.CloseNormalClosure, "client shutdown", true)
			return nil
		}
		code, reason, clean := closeInfo(readErr)
		if !clean {
			h.OnError(readErr)
		}
		h.OnClose(code, reason, clean)
		if !s.opts.Reconnect {
			if clean {
				return nil
			}
			return fmt.Errorf("connection lost: %w", readErr)
		}
		delay := Delay(s.opts.Backoff, 0)
		logger.Warn("connection lost, reconnecting", "code", code, "reason", reason, "delay", delay)
		if s.sleep(ctx, delay) != nil {
			return nil
		}
	}
}

func (s *Session) setSocket(sock *Socket) {
	s.mu.Lock()
	s.sock = sock
	s.mu.Unlock()
}

// Delay returns the wait before the given retry. Retry 0 waits BaseDelay;
// each further retry multiplies by Multiplier up to MaxDelay, and the result
// is randomized by ±Jitter.
func Delay(cfg backoff.Config, retries int) time.Duration {
	if retries <= 0 {
		return cfg.BaseDelay
	}
	d, limit := float64(cfg.BaseDelay), float64(cfg.MaxDelay)
	for d < limit && retries > 0 {
		d *= cfg.Multiplier
		retries--
	}
	if d > limit {
		d = limit
	}
	d *= 1 + cfg.Jitter*(rand.Float64()*2-1)
	if d < 0 {
		return 0
	}
	return time.Duration(d)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
