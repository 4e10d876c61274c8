// Wayfarer - Location-Based POI Aggregation and Narration
// Copyright 2026 Wayfarer Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/wayfarerhq/wayfarer

package enrichment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/wayfarerhq/wayfarer/internal/config"
	"github.com/wayfarerhq/wayfarer/internal/geo"
	"github.com/wayfarerhq/wayfarer/internal/logging"
	"github.com/wayfarerhq/wayfarer/internal/metrics"
	"github.com/wayfarerhq/wayfarer/internal/models"
)

// Publisher enqueues cell enrichment requests onto JetStream. Publishes
// go through a circuit breaker so a broker outage degrades nearby
// searches to stale results instead of blocking them.
type Publisher struct {
	publisher message.Publisher
	breaker   *gobreaker.CircuitBreaker[interface{}]
	topic     string

	mu     sync.RWMutex
	closed bool
}

// NewPublisher creates a JetStream publisher for the enrichment topic.
// The stream must already exist; see EnsureStream.
func NewPublisher(url string, cfg config.QueueConfig) (*Publisher, error) {
	logger := watermill.NewStdLogger(false, false)

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(time.Second),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				logging.Warn().Err(err).Msg("Queue publisher disconnected")
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logging.Info().Str("url", nc.ConnectedUrl()).Msg("Queue publisher reconnected")
		}),
	}

	wmConfig := wmNats.PublisherConfig{
		URL:         url,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: false,
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}

	pub, err := wmNats.NewPublisher(wmConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill publisher: %w", err)
	}

	breaker := gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        "enrich-publish",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).
				Str("from", from.String()).Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	})

	return &Publisher{
		publisher: pub,
		breaker:   breaker,
		topic:     cfg.Topic,
	}, nil
}

// EnqueueCell publishes an enrichment request for one cell. The message
// ID is the cell key, so repeated enqueues for the same cell within the
// stream's deduplication window collapse into one delivery.
func (p *Publisher) EnqueueCell(ctx context.Context, req models.EnrichRequested) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return fmt.Errorf("publisher is closed")
	}
	p.mu.RUnlock()

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal enrich request: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(natsgo.MsgIdHdr, geo.CellKey(req.Latitude, req.Longitude, req.RadiusM))

	_, err = p.breaker.Execute(func() (interface{}, error) {
		return nil, p.publisher.Publish(p.topic, msg)
	})
	if err != nil {
		metrics.QueueMessagesTotal.WithLabelValues("publish_error").Inc()
		return fmt.Errorf("publish enrich request: %w", err)
	}

	metrics.QueueMessagesTotal.WithLabelValues("published").Inc()
	return nil
}

// WatermillPublisher exposes the underlying publisher for components
// that need the native interface.
func (p *Publisher) WatermillPublisher() message.Publisher {
	return p.publisher
}

// Close gracefully shuts down the publisher.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	return p.publisher.Close()
}
