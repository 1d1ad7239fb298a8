package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RebaseEvent is the JSON payload published for every invocation.
type RebaseEvent struct {
	RunAt           time.Time `json:"run_at"`
	Status          string    `json:"status"`
	Stage           string    `json:"stage,omitempty"`
	Price           string    `json:"price"`
	TargetPrice     string    `json:"target_price"`
	SupplyChangePct string    `json:"supply_change_pct"`
	Delta           string    `json:"supply_delta"`
	Epoch           string    `json:"epoch,omitempty"`
	TxHash          string    `json:"tx_hash,omitempty"`
	Error           string    `json:"error,omitempty"`
}

// EventPublisher is the sink the control loop reports to.
type EventPublisher interface {
	Publish(ctx context.Context, event RebaseEvent) error
}

// Publisher publishes rebase events to a Redis Stream.
type Publisher struct {
	pub         message.Publisher
	redisClient redis.UniversalClient
	topic       string
	logger      zerolog.Logger
}

// Dial connects to redisURL and builds a Publisher.
func Dial(ctx context.Context, redisURL, topic string, logger zerolog.Logger) (*Publisher, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return New(client, topic, logger)
}

// New creates a Publisher on an existing client.
func New(redisClient redis.UniversalClient, topic string, logger zerolog.Logger) (*Publisher, error) {
	pub, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{
			Client: redisClient,
		},
		watermill.NewSlogLogger(nil),
	)
	if err != nil {
		return nil, err
	}

	return &Publisher{
		pub:         pub,
		redisClient: redisClient,
		topic:       topic,
		logger:      logger.With().Str("component", "publisher").Logger(),
	}, nil
}

// Publish appends the event to the topic stream.
func (p *Publisher) Publish(ctx context.Context, event RebaseEvent) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal rebase event: %w", err)
	}

	msgUUID := watermill.NewUUID()
	msg := message.NewMessage(msgUUID, payload)
	msg.SetContext(ctx)

	if err := p.pub.Publish(p.topic, msg); err != nil {
		p.logger.Error().Err(err).Str("msg_uuid", msgUUID).Msg("redis publish failed")
		return err
	}

	p.logger.Debug().
		Str("msg_uuid", msgUUID).
		Str("status", event.Status).
		Dur("duration", time.Since(start)).
		Msg("redis publish ok")
	return nil
}

// Close closes the publisher and its client.
func (p *Publisher) Close() error {
	if err := p.pub.Close(); err != nil {
		return err
	}
	return p.redisClient.Close()
}

var _ EventPublisher = (*Publisher)(nil)
