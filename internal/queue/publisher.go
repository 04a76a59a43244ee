package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrPublisherClosed is returned by Publish after Close.
var ErrPublisherClosed = errors.New("publisher closed")

// redialInterval is the minimum gap between two failed dials, so a dead
// broker costs one dial attempt per interval rather than one per event.
const redialInterval = time.Second

// Publisher sends booking events somewhere. Implementations must be safe for
// concurrent use.
type Publisher interface {
	Publish(ctx context.Context, ev BookingEvent) error
	Close() error
}

// NopPublisher discards every event. It is used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, BookingEvent) error { return nil }
func (NopPublisher) Close() error                                { return nil }

// amqpChannel is the part of *amqp.Channel the publisher needs.
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	NotifyClose(c chan *amqp.Error) chan *amqp.Error
	Close() error
}

// dialFunc opens a connection and one channel on it. Closing the returned
// io.Closer closes the connection.
type dialFunc func(url string) (amqpChannel, io.Closer, error)

func dialAMQP(url string) (amqpChannel, io.Closer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	return ch, conn, nil
}

// AMQPPublisher publishes events as persistent JSON messages to a durable
// topic exchange, using the event type as routing key. A connection or
// channel lost to a broker restart or a channel error is reopened on the
// next Publish.
type AMQPPublisher struct {
	url        string
	exchange   string
	dial       dialFunc
	retryEvery time.Duration

	mu       sync.Mutex // amqp channels are not safe for concurrent publishing
	ch       amqpChannel
	conn     io.Closer
	closed   chan *amqp.Error
	nextDial time.Time
	shut     bool
}

// NewAMQPPublisher dials the broker and declares the exchange. The returned
// publisher is always usable: a non-nil error only reports that the first
// dial failed, and Publish keeps trying to connect.
func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	return newAMQPPublisher(url, exchange, dialAMQP, redialInterval)
}

func newAMQPPublisher(url, exchange string, dial dialFunc, retryEvery time.Duration) (*AMQPPublisher, error) {
	p := &AMQPPublisher{url: url, exchange: exchange, dial: dial, retryEvery: retryEvery}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p, p.connectLocked()
}

// connectLocked makes sure p.ch is open, redialling if the broker closed it.
func (p *AMQPPublisher) connectLocked() error {
	if p.shut {
		return ErrPublisherClosed
	}
	if p.ch != nil {
		select {
		case <-p.closed:
			p.dropLocked()
		default:
			return nil
		}
	}
	if time.Now().Before(p.nextDial) {
		return errors.New("rabbitmq unavailable, waiting to redial")
	}

	ch, conn, err := p.dial(p.url)
	if err != nil {
		p.nextDial = time.Now().Add(p.retryEvery)
		return err
	}
	if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		p.nextDial = time.Now().Add(p.retryEvery)
		return fmt.Errorf("declare exchange: %w", err)
	}
	p.ch, p.conn = ch, conn
	p.closed = ch.NotifyClose(make(chan *amqp.Error, 1))
	return nil
}

func (p *AMQPPublisher) dropLocked() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.ch, p.conn, p.closed = nil, nil, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, ev BookingEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent, // store on disk
		Timestamp:    time.Now().UTC(),
		Type:         ev.Type,
		Body:         body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.connectLocked(); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	err = p.ch.PublishWithContext(ctx, p.exchange, ev.Type, false, false, pub)
	if errors.Is(err, amqp.ErrClosed) {
		// The close notification can trail the failed publish; retry once on a
		// fresh channel.
		p.dropLocked()
		if cerr := p.connectLocked(); cerr != nil {
			return fmt.Errorf("publish %s: %w", ev.Type, cerr)
		}
		err = p.ch.PublishWithContext(ctx, p.exchange, ev.Type, false, false, pub)
	}
	if err != nil {
		p.dropLocked()
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shut = true
	if p.ch != nil {
		_ = p.ch.Close()
	}
	var err error
	if p.conn != nil {
		err = p.conn.Close()
	}
	p.ch, p.conn, p.closed = nil, nil, nil
	return err
}
