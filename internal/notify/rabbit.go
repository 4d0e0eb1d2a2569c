package notify

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// Exchange is the topic exchange lending events are published to. The routing
// key is the event type.
const Exchange = "library.events"

type RabbitPublisher struct {
	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

func NewRabbitPublisher(rabbitURL string) (*RabbitPublisher, error) {
	conn, err := amqp.Dial(rabbitURL)
	if err != nil {
		return nil, errors.Wrap(err, "dial rabbitmq")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "open channel")
	}
	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, errors.Wrap(err, "declare exchange")
	}
	return &RabbitPublisher{conn: conn, channel: ch}, nil
}

// Connect returns a RabbitPublisher for rabbitURL, or a LogPublisher when the
// URL is empty or the broker cannot be reached.
func Connect(rabbitURL string) Publisher {
	if rabbitURL == "" {
		log.Info().Msg("no RABBITMQ_URL configured, events will only be logged")
		return LogPublisher{}
	}
	pub, err := NewRabbitPublisher(rabbitURL)
	if err != nil {
		log.Warn().Err(err).Msg("rabbitmq not available, continuing without events")
		return LogPublisher{}
	}
	return pub
}

func (p *RabbitPublisher) Publish(ctx context.Context, evt Event) error {
	body, err := Encode(evt)
	if err != nil {
		return errors.Wrap(err, "encode event")
	}

	// amqp channels are not safe for concurrent publishing.
	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.PublishWithContext(ctx,
		Exchange, string(evt.Type), false, false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    evt.OccurredAt,
			Type:         string(evt.Type),
			Body:         body,
		})
	if err != nil {
		return errors.Wrapf(err, "publish %s", evt.Type)
	}
	log.Debug().Str("event", string(evt.Type)).Msg("published event")
	return nil
}

func (p *RabbitPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
