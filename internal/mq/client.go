// Package mq owns the RabbitMQ connection: topology, publishing, consuming
// with manual acks, and reconnecting with exponential backoff.
package mq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alfianX/crossgate-gw/internal/ingest"
	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

const (
	DataExchange       = "SlzrCrossGate.Data"
	ConsumeDataQueue   = "SlzrCrossGate.Data.Queue.ConsumeData"
	ConsumeDataBinding = "Tcp.city.#"

	EventExchange    = "SlzrCrossGate.Event"
	FilePublishKey   = "Event.FilePublishEvent"
	MsgboxKey        = "Event.MsgboxEvent"
	FilePublishQueue = "SlzrCrossGate.Event.Queue.FilePublishEvent"
	MsgboxQueue      = "SlzrCrossGate.Event.Queue.MsgboxEvent"
)

var ErrClosed = errors.New("mq: client closed")

type binding struct {
	queue    string
	key      string
	exchange string
}

var topology = []binding{
	{ConsumeDataQueue, ConsumeDataBinding, DataExchange},
	{FilePublishQueue, FilePublishKey, EventExchange},
	{MsgboxQueue, MsgboxKey, EventExchange},
}

type Client struct {
	url string
	log *logrus.Logger

	mu     sync.Mutex
	conn   *amqp.Connection
	pubCh  *amqp.Channel
	closed bool
}

func NewClient(url string, log *logrus.Logger) *Client {
	return &Client{url: url, log: log}
}

func newBackoff(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = time.Minute
	b.MaxElapsedTime = 0
	return backoff.WithContext(b, ctx)
}

// Connect dials until it succeeds or ctx ends, then declares the topology.
func (c *Client) Connect(ctx context.Context) error {
	op := func() error {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed {
			return backoff.Permanent(ErrClosed)
		}
		if c.conn != nil && !c.conn.IsClosed() {
			return nil
		}

		conn, err := amqp.Dial(c.url)
		if err != nil {
			c.log.Errorf("mq -> dial: %v", err)
			return err
		}
		ch, err := conn.Channel()
		if err != nil {
			_ = conn.Close()
			return err
		}
		if err := declare(ch); err != nil {
			_ = conn.Close()
			return backoff.Permanent(err)
		}
		c.conn = conn
		c.pubCh = ch
		c.log.Infof("mq -> connected")
		return nil
	}
	return backoff.Retry(op, newBackoff(ctx))
}

func declare(ch *amqp.Channel) error {
	for _, ex := range []string{DataExchange, EventExchange} {
		if err := ch.ExchangeDeclare(ex, "topic", true, false, false, false, nil); err != nil {
			return fmt.Errorf("mq -> declare exchange %s: %w", ex, err)
		}
	}
	for _, b := range topology {
		if _, err := ch.QueueDeclare(b.queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("mq -> declare queue %s: %w", b.queue, err)
		}
		if err := ch.QueueBind(b.queue, b.key, b.exchange, false, nil); err != nil {
			return fmt.Errorf("mq -> bind %s to %s: %w", b.queue, b.key, err)
		}
	}
	return nil
}

// Publish sends a persistent message. A closed channel triggers one
// reconnect before giving up.
func (c *Client) Publish(ctx context.Context, exchange, key string, body []byte) error {
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	}

	for attempt := 0; attempt < 2; attempt++ {
		c.mu.Lock()
		ch := c.pubCh
		c.mu.Unlock()
		if ch != nil && !ch.IsClosed() {
			err := ch.PublishWithContext(ctx, exchange, key, false, false, msg)
			if err == nil {
				c.log.WithField("debug_tag", "mq_out").Debugf("publish %s %s: %s", exchange, key, body)
				return nil
			}
			if !errors.Is(err, amqp.ErrClosed) {
				return fmt.Errorf("mq -> publish %s: %w", key, err)
			}
		}
		if err := c.reconnect(ctx); err != nil {
			return err
		}
	}
	return fmt.Errorf("mq -> publish %s: channel unavailable", key)
}

// PublishData publishes onto the consume-data exchange.
func (c *Client) PublishData(ctx context.Context, key string, body []byte) error {
	return c.Publish(ctx, DataExchange, key, body)
}

func (c *Client) reconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil && c.conn.IsClosed() {
		c.conn = nil
		c.pubCh = nil
	} else if c.pubCh != nil && c.pubCh.IsClosed() && c.conn != nil {
		ch, err := c.conn.Channel()
		if err == nil {
			c.pubCh = ch
			c.mu.Unlock()
			return nil
		}
		_ = c.conn.Close()
		c.conn = nil
		c.pubCh = nil
	}
	c.mu.Unlock()
	return c.Connect(ctx)
}

// Consume delivers messages of queue to fn with manual acks until ctx ends.
// Lost channels are reopened with backoff. onStop, when set, runs before the
// channel closes so pending deliveries can still be settled.
func (c *Client) Consume(ctx context.Context, queue string, prefetch int, fn func(amqp.Delivery), onStop func()) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if err := c.reconnect(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			continue
		}
		ch, err := conn.Channel()
		if err != nil {
			c.log.Errorf("mq -> open consumer channel: %v", err)
			pause(ctx)
			continue
		}
		if err := ch.Qos(prefetch, 0, false); err != nil {
			_ = ch.Close()
			return fmt.Errorf("mq -> qos: %w", err)
		}
		deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
		if err != nil {
			_ = ch.Close()
			c.log.Errorf("mq -> consume %s: %v", queue, err)
			pause(ctx)
			continue
		}
		c.log.Infof("mq -> consuming %s", queue)

		if c.drain(ctx, deliveries, fn) {
			if onStop != nil {
				onStop()
			}
			_ = ch.Close()
			return nil
		}
		c.log.Warnf("mq -> consumer of %s lost its channel, reconnecting", queue)
	}
}

func pause(ctx context.Context) {
	t := time.NewTimer(time.Second)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// drain returns true when ctx ended, false when the channel closed.
func (c *Client) drain(ctx context.Context, deliveries <-chan amqp.Delivery, fn func(amqp.Delivery)) bool {
	for {
		select {
		case <-ctx.Done():
			return true
		case d, ok := <-deliveries:
			if !ok {
				return false
			}
			c.log.WithField("debug_tag", "mq_in").Debugf("deliver %s tag=%d: %s", d.RoutingKey, d.DeliveryTag, d.Body)
			fn(d)
		}
	}
}

// Purge drops every ready message of queue.
func (c *Client) Purge(queue string) (int, error) {
	c.mu.Lock()
	ch := c.pubCh
	c.mu.Unlock()
	if ch == nil {
		return 0, ErrClosed
	}
	n, err := ch.QueuePurge(queue, false)
	if err != nil {
		return 0, fmt.Errorf("mq -> purge %s: %w", queue, err)
	}
	return n, nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.pubCh = nil
	return err
}

// deliveryHandle settles one amqp delivery for the ingest pipeline.
type deliveryHandle struct {
	d amqp.Delivery
}

func (h deliveryHandle) Ack() error {
	return h.d.Ack(false)
}

func (h deliveryHandle) Nack(requeue bool) error {
	return h.d.Nack(false, requeue)
}

// NewHandle adapts d to ingest.Handle.
func NewHandle(d amqp.Delivery) ingest.Handle {
	return deliveryHandle{d: d}
}
