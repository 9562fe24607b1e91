package events

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Channel is the part of *amqp.Channel the publisher needs.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher sends every event as JSON to a queue on the default exchange.
type Publisher struct {
	channel Channel
	conn    io.Closer
	queue   string
}

// Dial connects to the broker at url and declares queue.
func Dial(url, queue string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}

	p, err := NewPublisher(ch, conn, queue)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return p, nil
}

// NewPublisher declares queue on ch. conn, when non-nil, is closed together
// with the channel.
func NewPublisher(ch Channel, conn io.Closer, queue string) (*Publisher, error) {
	q, err := ch.QueueDeclare(queue, false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("amqp declare %s: %w", queue, err)
	}
	return &Publisher{channel: ch, conn: conn, queue: q.Name}, nil
}

func (p *Publisher) Observe(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}

	err = p.channel.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   e.ID,
		Timestamp:   e.At,
		Type:        e.Command.String(),
		Body:        body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", e.ID, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	err := p.channel.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
