package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	headerEncoding = "Content-Encoding"
	headerOffset   = "Livecon-Offset"
)

type jetStreamMirror struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	opts   *JetStreamOptions
	logger *slog.Logger
}

func newJetStreamMirror(ctx context.Context, opts *JetStreamOptions, logger *slog.Logger) (*jetStreamMirror, error) {
	cfg := *opts
	cfg.setDefaults()
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	natsOpts := []nats.Option{nats.Name("livecon-server")}
	if cfg.User != "" {
		natsOpts = append(natsOpts, nats.UserInfo(cfg.User, cfg.Password))
	}
	conn, err := nats.Connect(url, natsOpts...)
	if err != nil {
		return nil, err
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, err
	}
	m := &jetStreamMirror{
		conn:   conn,
		js:     js,
		opts:   &cfg,
		logger: logger,
	}
	if err := m.ensureStreams(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return m, nil
}

func (m *jetStreamMirror) Close() {
	if m.conn != nil {
		m.conn.Drain()
		m.conn.Close()
	}
}

func (m *jetStreamMirror) ensureStreams(ctx context.Context) error {
	if err := m.ensureStream(ctx, &nats.StreamConfig{
		Name:       m.opts.RunsStream,
		Subjects:   []string{m.runsWildcard()},
		Storage:    nats.FileStorage,
		Retention:  nats.LimitsPolicy,
		MaxMsgs:    -1,
		MaxBytes:   m.opts.RunsMaxBytes,
		Discard:    nats.DiscardOld,
		Duplicates: m.opts.DupeWindow,
	}); err != nil {
		return err
	}
	return m.ensureStream(ctx, &nats.StreamConfig{
		Name:       m.opts.OutputStream,
		Subjects:   []string{m.outputWildcard()},
		Storage:    nats.FileStorage,
		Retention:  nats.LimitsPolicy,
		MaxMsgs:    -1,
		MaxBytes:   m.opts.OutputMaxBytes,
		Discard:    nats.DiscardOld,
		Duplicates: m.opts.DupeWindow,
	})
}

func (m *jetStreamMirror) ensureStream(ctx context.Context, cfg *nats.StreamConfig) error {
	if _, err := m.js.StreamInfo(cfg.Name, nats.Context(ctx)); err != nil {
		if errors.Is(err, nats.ErrStreamNotFound) {
			_, addErr := m.js.AddStream(cfg, nats.Context(ctx))
			return addErr
		}
		return err
	}
	_, err := m.js.UpdateStream(cfg, nats.Context(ctx))
	return err
}

func (m *jetStreamMirror) hydrate(ctx context.Context, st *Store) error {
	if err := m.replayRuns(ctx, st); err != nil {
		return err
	}
	return m.replayOutput(ctx, st)
}

func (m *jetStreamMirror) replayRuns(ctx context.Context, st *Store) error {
	sub, err := m.js.PullSubscribe(
		m.runsWildcard(),
		"",
		nats.BindStream(m.opts.RunsStream),
		nats.DeliverAll(),
		nats.AckExplicit(),
	)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()
	return m.drain(ctx, sub, func(msg *nats.Msg) error {
		var run Run
		if err := json.Unmarshal(msg.Data, &run); err != nil || run.ID == "" {
			m.logger.Error("run replay decode", "subject", msg.Subject, "err", err)
			return msg.Ack()
		}
		st.applyReplayedRun(run)
		return msg.Ack()
	})
}

func (m *jetStreamMirror) replayOutput(ctx context.Context, st *Store) error {
	sub, err := m.js.PullSubscribe(
		m.outputWildcard(),
		"",
		nats.BindStream(m.opts.OutputStream),
		nats.DeliverAll(),
		nats.AckExplicit(),
	)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()
	return m.drain(ctx, sub, func(msg *nats.Msg) error {
		id, offset, fragment, err := decodeFragment(msg)
		if err != nil {
			m.logger.Error("output replay decode", "subject", msg.Subject, "err", err)
			return msg.Ack()
		}
		st.applyReplayedFragment(id, offset, fragment)
		return msg.Ack()
	})
}

func (m *jetStreamMirror) drain(ctx context.Context, sub *nats.Subscription, handler func(*nats.Msg) error) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msgs, err := sub.Fetch(64, nats.MaxWait(500*time.Millisecond))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) {
				return nil
			}
			if errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			return err
		}
		for _, msg := range msgs {
			if err := handler(msg); err != nil {
				return err
			}
		}
		if len(msgs) == 0 {
			return nil
		}
	}
}

func (m *jetStreamMirror) publishRun(run Run) error {
	payload, err := json.Marshal(run)
	if err != nil {
		return err
	}
	msgID := fmt.Sprintf("run:%s:%d", run.ID, run.Version)
	_, err = m.js.Publish(m.runSubject(run.ID), payload, nats.MsgId(msgID))
	return err
}

func (m *jetStreamMirror) publishFragment(id string, offset uint64, fragment string) error {
	msg, err := encodeFragment(m.outputSubject(id), offset, fragment)
	if err != nil {
		return err
	}
	_, err = m.js.PublishMsg(msg, nats.MsgId(fmt.Sprintf("out:%s:%d", id, offset)))
	return err
}

func encodeFragment(subject string, offset uint64, fragment string) (*nats.Msg, error) {
	blob, err := compress([]byte(fragment))
	if err != nil {
		return nil, err
	}
	msg := nats.NewMsg(subject)
	msg.Data = blob
	msg.Header.Set(headerEncoding, "zstd")
	msg.Header.Set(headerOffset, strconv.FormatUint(offset, 10))
	return msg, nil
}

func decodeFragment(msg *nats.Msg) (id string, offset uint64, fragment string, err error) {
	id = msg.Subject[strings.LastIndexByte(msg.Subject, '.')+1:]
	if id == "" {
		return "", 0, "", fmt.Errorf("subject %q has no run id", msg.Subject)
	}
	offset, err = strconv.ParseUint(msg.Header.Get(headerOffset), 10, 64)
	if err != nil {
		return "", 0, "", fmt.Errorf("offset header: %w", err)
	}
	data := msg.Data
	if msg.Header.Get(headerEncoding) == "zstd" {
		data, err = decompress(data)
		if err != nil {
			return "", 0, "", err
		}
	}
	return id, offset, string(data), nil
}

func (m *jetStreamMirror) runSubject(id string) string {
	return fmt.Sprintf("%s.runs.%s", m.opts.EventsPrefix, id)
}

func (m *jetStreamMirror) outputSubject(id string) string {
	return fmt.Sprintf("%s.output.%s", m.opts.EventsPrefix, id)
}

func (m *jetStreamMirror) runsWildcard() string {
	return fmt.Sprintf("%s.runs.*", m.opts.EventsPrefix)
}

func (m *jetStreamMirror) outputWildcard() string {
	return fmt.Sprintf("%s.output.*", m.opts.EventsPrefix)
}
