// Package service provides the publisher that delivers song events to
// RabbitMQ.  Errors are returned to the caller, which decides whether to log
// them.
package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/juju/errors"
	amqp "github.com/rabbitmq/amqp091-go"

	q "github.com/iliyamo/song-service/internal/queue"
)

// Publisher keeps one AMQP connection and channel open and re-dials lazily
// when either has been closed by the broker.
type Publisher struct {
	url string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewPublisher returns a publisher for the broker at url.  No connection is
// made until the first event is published.
func NewPublisher(url string) *Publisher {
	return &Publisher{url: url}
}

// channel returns an open channel with the songs.changed queue declared.
// The caller must hold p.mu.
func (p *Publisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	if p.conn == nil || p.conn.IsClosed() {
		conn, err := amqp.Dial(p.url)
		if err != nil {
			return nil, errors.Annotate(err, "dialing rabbitmq")
		}
		p.conn = conn
	}
	ch, err := p.conn.Channel()
	if err != nil {
		return nil, errors.Annotate(err, "opening channel")
	}
	// Durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(
		q.SongChangedQueue, // name
		true,               // durable
		false,              // autoDelete
		false,              // exclusive
		false,              // noWait
		nil,                // args
	); err != nil {
		_ = ch.Close()
		return nil, errors.Annotate(err, "declaring queue")
	}
	p.ch = ch
	return ch, nil
}

// PublishSongChanged publishes ev to the songs.changed queue as a
// persistent JSON message.
func (p *Publisher) PublishSongChanged(ctx context.Context, ev q.SongChangedEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return errors.Annotate(err, "marshalling song event")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channel()
	if err != nil {
		return errors.Trace(err)
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx,
		"",                 // default exchange
		q.SongChangedQueue, // routing key = queue name
		false,              // mandatory
		false,              // immediate
		pub,
	); err != nil {
		return errors.Annotate(err, "publishing song event")
	}
	return nil
}

// Close releases the channel and connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		err := p.conn.Close()
		p.conn = nil
		if err != nil && !errors.Is(err, amqp.ErrClosed) {
			return errors.Trace(err)
		}
	}
	return nil
}
