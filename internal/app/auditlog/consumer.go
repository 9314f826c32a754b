package auditlog

import (
	"context"
	"errors"
	"time"

	"github.com/duashare/project/internal/sharding"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

const (
	ConsumerName  = "prayer-audit"
	handleTimeout = 3 * time.Second
)

// QueueSubscriber is the slice of nats.JetStreamContext the consumer needs.
type QueueSubscriber interface {
	QueueSubscribe(subj, queue string, cb nats.MsgHandler, opts ...nats.SubOpt) (*nats.Subscription, error)
}

type disposition int

const (
	ack disposition = iota
	term
	nak
)

// dispose maps a handling result to the JetStream acknowledgement.
// Malformed payloads are terminated so they are not redelivered forever.
func dispose(err error) disposition {
	switch {
	case err == nil:
		return ack
	case errors.Is(err, ErrInvalidEventPayload), errors.Is(err, ErrUnsupportedEventType):
		return term
	default:
		return nak
	}
}

// Subscribe binds a durable queue consumer over every prayer change subject.
func (s *Service) Subscribe(ctx context.Context, js QueueSubscriber, logger zerolog.Logger) (*nats.Subscription, error) {
	return js.QueueSubscribe(sharding.AllEvents(), ConsumerName, func(msg *nats.Msg) {
		var seq uint64
		if meta, err := msg.Metadata(); err == nil {
			seq = meta.Sequence.Stream
		}

		handleCtx, cancel := context.WithTimeout(ctx, handleTimeout)
		defer cancel()
		err := s.Handle(handleCtx, msg.Data, seq)

		switch dispose(err) {
		case ack:
			_ = msg.Ack()
		case term:
			logger.Warn().Err(err).Uint64("seq", seq).Msg("discarding change event")
			_ = msg.Term()
		case nak:
			logger.Error().Err(err).Uint64("seq", seq).Msg("recording change event failed")
			_ = msg.Nak()
		}
	}, nats.Durable(ConsumerName), nats.ManualAck(), nats.DeliverAll())
}
