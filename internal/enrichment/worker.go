// Wayfarer - Location-Based POI Aggregation and Narration
// Copyright 2026 Wayfarer Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/wayfarerhq/wayfarer

package enrichment

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"

	"github.com/wayfarerhq/wayfarer/internal/config"
	"github.com/wayfarerhq/wayfarer/internal/logging"
	"github.com/wayfarerhq/wayfarer/internal/metrics"
	"github.com/wayfarerhq/wayfarer/internal/models"
)

// Worker consumes enrichment requests from the durable JetStream
// consumer and runs the pipeline for each cell. Failed cells are nacked
// and redelivered up to the configured retry count; payloads that
// cannot be decoded go to the poison topic instead of cycling forever.
type Worker struct {
	subscriber message.Subscriber
	pipeline   *Pipeline
	poison     message.Publisher
	topic      string
	poisonTo   string
}

// NewWorker creates a durable queue-group subscriber bound to the
// enrichment stream. Multiple instances share the work.
func NewWorker(url string, cfg config.QueueConfig, pipeline *Pipeline, poison message.Publisher) (*Worker, error) {
	logger := watermill.NewStdLogger(false, false)

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(time.Second),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				logging.Warn().Err(err).Msg("Queue worker disconnected")
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logging.Info().Str("url", nc.ConnectedUrl()).Msg("Queue worker reconnected")
		}),
	}

	subOpts := []natsgo.SubOpt{
		natsgo.MaxDeliver(cfg.RetryCount),
		natsgo.AckWait(30 * time.Second),
		natsgo.DeliverNew(),
		natsgo.BindStream(cfg.StreamName),
	}

	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}

	wmConfig := wmNats.SubscriberConfig{
		URL:              url,
		QueueGroupPrefix: cfg.DurableName,
		SubscribersCount: workers,
		AckWaitTimeout:   30 * time.Second,
		CloseTimeout:     cfg.CloseTimeout,
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:         false,
			AutoProvision:    false,
			AckAsync:         false,
			SubscribeOptions: subOpts,
			DurablePrefix:    cfg.DurableName,
		},
	}

	sub, err := wmNats.NewSubscriber(wmConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill subscriber: %w", err)
	}

	return &Worker{
		subscriber: sub,
		pipeline:   pipeline,
		poison:     poison,
		topic:      cfg.Topic,
		poisonTo:   cfg.PoisonTopic,
	}, nil
}

// Serve consumes messages until context cancellation. Implements the
// suture service contract so the supervisor restarts a failed worker.
func (w *Worker) Serve(ctx context.Context) error {
	messages, err := w.subscriber.Subscribe(ctx, w.topic)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", w.topic, err)
	}

	logging.Info().Str("topic", w.topic).Msg("Enrichment worker started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			w.process(ctx, msg)
		}
	}
}

func (w *Worker) process(ctx context.Context, msg *message.Message) {
	var req models.EnrichRequested
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		// A payload that cannot decode never will; park it.
		w.toPoison(msg)
		return
	}

	result, err := w.pipeline.EnrichCell(ctx, req.Latitude, req.Longitude, req.RadiusM, req.Lang)
	if err != nil {
		metrics.QueueMessagesTotal.WithLabelValues("retried").Inc()
		logging.Warn().Err(err).Str("message_uuid", msg.UUID).Msg("Cell enrichment failed, nacking")
		msg.Nack()
		return
	}

	if result.Throttled {
		// Another worker or the inline path already refreshed this cell.
		logging.Debug().Str("message_uuid", msg.UUID).Msg("Cell already refreshed, skipping")
	}

	metrics.QueueMessagesTotal.WithLabelValues("processed").Inc()
	msg.Ack()
}

func (w *Worker) toPoison(msg *message.Message) {
	metrics.QueueMessagesTotal.WithLabelValues("poisoned").Inc()
	if w.poison != nil && w.poisonTo != "" {
		poisoned := message.NewMessage(msg.UUID, msg.Payload)
		poisoned.Metadata = msg.Metadata
		if err := w.poison.Publish(w.poisonTo, poisoned); err != nil {
			logging.Error().Err(err).Str("message_uuid", msg.UUID).Msg("Failed to publish poison message")
			msg.Nack()
			return
		}
	}
	logging.Error().Str("message_uuid", msg.UUID).Msg("Undecodable enrich request parked")
	msg.Ack()
}

// Close gracefully shuts down the subscriber.
func (w *Worker) Close() error {
	return w.subscriber.Close()
}
