// Package broker announces completed attempts to downstream consumers
// over RabbitMQ.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// RoutingKeyAttemptCompleted is the routing key of attempt events.
const RoutingKeyAttemptCompleted = "attempt.completed"

// AttemptCompletedEvent is the message body published for each persisted
// attempt.
type AttemptCompletedEvent struct {
	AttemptID        string                 `json:"attempt_id"`
	SessionID        string                 `json:"session_id"`
	QuizID           string                 `json:"quiz_id"`
	UserID           int                    `json:"user_id"`
	Score            int                    `json:"score"`
	TotalQuestions   int                    `json:"total_questions"`
	Percentage       float64                `json:"percentage"`
	Disqualified     bool                   `json:"disqualified"`
	CompletionReason model.CompletionReason `json:"completion_reason"`
	CompletedAt      time.Time              `json:"completed_at"`
}

// NewAttemptCompletedEvent builds the event for an attempt.
func NewAttemptCompletedEvent(a *model.QuizAttempt) AttemptCompletedEvent {
	return AttemptCompletedEvent{
		AttemptID:        a.ID.String(),
		SessionID:        a.SessionID.String(),
		QuizID:           a.QuizID.String(),
		UserID:           a.UserID,
		Score:            a.Score,
		TotalQuestions:   a.TotalQuestions,
		Percentage:       a.Percentage,
		Disqualified:     a.Disqualified,
		CompletionReason: a.CompletionReason,
		CompletedAt:      a.CompletedAt,
	}
}

// Publisher sends attempt events.
type Publisher interface {
	PublishAttempt(ctx context.Context, a *model.QuizAttempt) error
	Close() error
}

// NopPublisher drops every event. Used when AMQP_URL is unset.
type NopPublisher struct{}

func (NopPublisher) PublishAttempt(context.Context, *model.QuizAttempt) error { return nil }
func (NopPublisher) Close() error                                            { return nil }

// AMQPPublisher publishes persistent JSON messages to a topic exchange.
type AMQPPublisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	mu       sync.Mutex
	log      zerolog.Logger
}

// NewAMQPPublisher dials url and declares a durable topic exchange.
func NewAMQPPublisher(url, exchange string, log zerolog.Logger) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	l := log.With().Str("component", "amqp_publisher").Logger()
	l.Info().Str("exchange", exchange).Msg("RabbitMQ connected")

	return &AMQPPublisher{conn: conn, channel: ch, exchange: exchange, log: l}, nil
}

// PublishAttempt sends an attempt.completed message.
func (p *AMQPPublisher) PublishAttempt(ctx context.Context, a *model.QuizAttempt) error {
	body, err := json.Marshal(NewAttemptCompletedEvent(a))
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	publishCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// amqp.Channel is not safe for concurrent publishes.
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.channel.PublishWithContext(
		publishCtx,
		p.exchange,
		RoutingKeyAttemptCompleted,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			MessageId:    a.ID.String(),
		},
	)
}

// Close closes the channel and connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.channel.Close(); err != nil {
		p.log.Warn().Err(err).Msg("Close channel")
	}
	return p.conn.Close()
}
