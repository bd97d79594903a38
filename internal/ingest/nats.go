package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"alertmanager/internal/config"
	"alertmanager/internal/domain"
)

// NATSSubscriber consumes JSON alerts from a JetStream queue consumer and
// forwards them to the sink. Malformed payloads are acked (redelivery cannot
// fix them); pipeline failures are nacked with a delay for redelivery.
type NATSSubscriber struct {
	nc     *nats.Conn
	sub    *nats.Subscription
	logger *slog.Logger
}

// NewNATSSubscriber creates the JetStream queue consumer.
// Params: NATS ingest config, normalizer, sink, per-alert timeout, and logger.
// Returns: started subscriber or initialization error.
func NewNATSSubscriber(
	cfg config.NATSIngestConfig,
	normalizer *Normalizer,
	sink AlertSink,
	processTimeout time.Duration,
	logger *slog.Logger,
) (*NATSSubscriber, error) {
	nc, err := nats.Connect(strings.Join(cfg.URL, ","))
	if err != nil {
		return nil, fmt.Errorf("connect nats ingest: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init for ingest: %w", err)
	}

	subscriber := &NATSSubscriber{nc: nc, logger: logger}
	nackDelay := time.Duration(cfg.NackDelayMS) * time.Millisecond
	subOpts := []nats.SubOpt{
		nats.BindStream(cfg.Stream),
		nats.Durable(cfg.ConsumerName),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.AckWait(time.Duration(cfg.AckWaitSec) * time.Second),
		nats.MaxDeliver(cfg.MaxDeliver),
		nats.MaxAckPending(cfg.MaxAckPending),
		nats.DeliverAll(),
	}

	sub, err := js.QueueSubscribe(cfg.Subject, cfg.DeliverGroup, func(message *nats.Msg) {
		alert, parseErr := normalizer.ParseJSON(message.Data, domain.QueryOptions{})
		if parseErr != nil {
			logger.Warn("nats ingest decode failed", "subject", message.Subject, "error", parseErr.Error())
			subscriber.ackMessage(message, "malformed")
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
		result, processErr := sink.Process(ctx, alert, domain.QueryOptions{})
		cancel()
		if processErr != nil && !errors.Is(processErr, domain.ErrMalformedPayload) {
			logger.Error("nats ingest process failed",
				"subject", message.Subject, "event_id", alert.EventID, "error", processErr.Error())
			subscriber.nackMessage(message, nackDelay)
			return
		}
		logger.Debug("nats ingest processed",
			"subject", message.Subject, "event_id", alert.EventID, "status", string(result.Status))
		subscriber.ackMessage(message, "processed")
	}, subOpts...)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("queue subscribe %q/%q: %w", cfg.Subject, cfg.DeliverGroup, err)
	}
	subscriber.sub = sub
	return subscriber, nil
}

// ackMessage acknowledges one message and logs ack failures.
// Params: JetStream message and short reason.
// Returns: none.
func (s *NATSSubscriber) ackMessage(message *nats.Msg, reason string) {
	if err := message.Ack(); err != nil {
		s.logger.Warn("nats ingest ack failed", "subject", message.Subject, "reason", reason, "error", err.Error())
	}
}

// nackMessage asks JetStream to redeliver one message.
// Params: JetStream message and optional delay.
// Returns: none.
func (s *NATSSubscriber) nackMessage(message *nats.Msg, delay time.Duration) {
	var err error
	if delay > 0 {
		err = message.NakWithDelay(delay)
	} else {
		err = message.Nak()
	}
	if err != nil {
		s.logger.Warn("nats ingest nack failed", "subject", message.Subject, "error", err.Error())
	}
}

// Close stops the subscription and closes the connection.
// Params: none.
// Returns: drain error.
func (s *NATSSubscriber) Close() error {
	if s.sub != nil {
		if err := s.sub.Drain(); err != nil {
			s.nc.Close()
			return err
		}
	}
	s.nc.Close()
	return nil
}
