package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	apperrors "github.com/odvcencio/tandem/pkg/errors"
	"github.com/odvcencio/tandem/pkg/logging"
)

// NATSBus is a MessageBus over core NATS. There is no JetStream and no
// persistence: subscribers that are offline miss events.
type NATSBus struct {
	nc     *nats.Conn
	logger *slog.Logger
	closed atomic.Bool
}

// NewNATSBus dials cfg.URL. Once connected the client reconnects forever.
func NewNATSBus(cfg Config) (*NATSBus, error) {
	def := DefaultConfig()
	if cfg.URL == "" {
		cfg.URL = def.URL
	}
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	logger := logging.For(cfg.Logger, logging.CategoryBus).With("url", cfg.URL)

	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.Timeout(cfg.Timeout),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(*nats.Conn) {
			logger.Info("nats reconnected")
		}),
	)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeBusPublish, "connecting to nats").
			WithContext("url", cfg.URL).
			WithRetryable(true)
	}
	return &NATSBus{nc: nc, logger: logger}, nil
}

// Publish hands data to the NATS client's outbound buffer. It does not wait
// for the server.
func (b *NATSBus) Publish(ctx context.Context, subject string, data []byte) error {
	if b.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.nc.Publish(subject, data); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeBusPublish, "publishing").
			WithContext("subject", subject)
	}
	return nil
}

// Subscribe delivers matching messages on the NATS client's goroutine. The
// subscription ends when ctx is done.
func (b *NATSBus) Subscribe(ctx context.Context, subject string, handler MessageHandler) (Subscription, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	ns, err := b.nc.Subscribe(subject, func(m *nats.Msg) {
		handler(&Message{Subject: m.Subject, Data: m.Data})
	})
	if err != nil {
		return nil, err
	}
	sub := &natsSubscription{ns: ns}
	if done := ctx.Done(); done != nil {
		go func() {
			<-done
			_ = sub.Unsubscribe()
		}()
	}
	return sub, nil
}

// Close drains pending messages before closing. Draining failures fall back
// to an immediate close.
func (b *NATSBus) Close() error {
	if b.closed.Swap(true) {
		return ErrClosed
	}
	if err := b.nc.Drain(); err != nil {
		b.logger.Debug("nats drain failed", "error", err)
		b.nc.Close()
	}
	return nil
}

type natsSubscription struct {
	ns *nats.Subscription
}

func (s *natsSubscription) Unsubscribe() error {
	err := s.ns.Unsubscribe()
	if errors.Is(err, nats.ErrBadSubscription) || errors.Is(err, nats.ErrConnectionClosed) {
		return nil
	}
	return err
}

func (s *natsSubscription) Subject() string {
	return s.ns.Subject
}
