package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/admirer145/Chesslyze-sub001/internal/config"
	"github.com/admirer145/Chesslyze-sub001/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// Publisher pushes import lifecycle events to an AMQP topic exchange so
// downstream consumers (the analysis pipeline, notification workers) can
// react to finished imports. It is optional: New returns nil when no
// AMQP URL is configured, and a nil Publisher silently drops events.
type Publisher struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	exchange   string
	routingKey string
	logger     zerolog.Logger
}

func New(cfg *config.Config, logger zerolog.Logger) (*Publisher, error) {
	if cfg.AMQP.URL == "" {
		logger.Debug().Msg("amqp url not configured, import events disabled")
		return nil, nil
	}

	conn, err := amqp.Dial(cfg.AMQP.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}

	if err := ch.ExchangeDeclare(cfg.AMQP.Exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	logger.Info().
		Str("exchange", cfg.AMQP.Exchange).
		Str("routing_key", cfg.AMQP.RoutingKey).
		Msg("connected to amqp")

	return &Publisher{
		conn:       conn,
		channel:    ch,
		exchange:   cfg.AMQP.Exchange,
		routingKey: cfg.AMQP.RoutingKey,
		logger:     logger.With().Str("component", "publisher").Logger(),
	}, nil
}

type importEventMessage struct {
	Event     string               `json:"event"` // started, completed, cancelled
	Provider  domain.Provider      `json:"provider"`
	Username  string               `json:"username"`
	Result    *domain.ImportResult `json:"result,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
}

func (p *Publisher) PublishImportEvent(ctx context.Context, event string, result *domain.ImportResult, provider domain.Provider, username string) error {
	if p == nil {
		return nil
	}

	body, err := json.Marshal(importEventMessage{
		Event:     event,
		Provider:  provider,
		Username:  username,
		Result:    result,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal import event: %w", err)
	}

	routingKey := fmt.Sprintf("%s.%s", p.routingKey, event)
	err = p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Body:         body,
		Timestamp:    time.Now(),
	})
	if err != nil {
		return fmt.Errorf("publish import event: %w", err)
	}

	p.logger.Debug().
		Str("event", event).
		Str("provider", string(provider)).
		Str("username", username).
		Msg("import event published")
	return nil
}

func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
