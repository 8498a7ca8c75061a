package mailer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/nexuschat/nexus/internal/logging"
	amqp "github.com/rabbitmq/amqp091-go"
)

type publishChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// queueBuffer is how many messages may wait for the publisher before new
// ones go straight to the fallback.
const queueBuffer = 256

// dialBroker connects with timeout bounding the TCP dial and the AMQP
// handshake. amqp.Dial alone waits up to 30s on a silent peer.
func dialBroker(url string, timeout time.Duration) (*amqp.Connection, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return amqp.DialConfig(url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(timeout),
	})
}

// openPublishChannel dials url and declares the durable queue. The returned
// closer releases the connection.
func openPublishChannel(url, queue string, timeout time.Duration) (publishChannel, io.Closer, error) {
	conn, err := dialBroker(url, timeout)
	if err != nil {
		return nil, nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("declare queue: %w", err)
	}
	return ch, conn, nil
}

type queuedMessage struct {
	ctx context.Context
	msg OTPMessage
}

// QueueDispatcher publishes messages to a durable RabbitMQ queue that a
// Consumer drains. Dispatch only enqueues; a single publisher goroutine
// talks to the broker. When the broker cannot be reached, or the buffer is
// full, the message goes to fallback instead, so a broker outage does not
// stop signups.
type QueueDispatcher struct {
	url      string
	queue    string
	timeout  time.Duration
	fallback Dispatcher
	log      logging.Logger

	open func(url, queue string, timeout time.Duration) (publishChannel, io.Closer, error)

	jobs chan queuedMessage
	done chan struct{}

	mu     sync.Mutex
	closed bool

	// owned by the publisher goroutine
	ch   publishChannel
	conn io.Closer
}

func NewQueueDispatcher(url, queue string, timeout time.Duration, fallback Dispatcher, log logging.Logger) *QueueDispatcher {
	d := &QueueDispatcher{
		url:      url,
		queue:    queue,
		timeout:  timeout,
		fallback: fallback,
		log:      log,
		open:     openPublishChannel,
		jobs:     make(chan queuedMessage, queueBuffer),
		done:     make(chan struct{}),
	}
	go d.run()
	return d
}

// Dispatch never waits on the broker.
func (d *QueueDispatcher) Dispatch(ctx context.Context, msg OTPMessage) {
	job := queuedMessage{ctx: context.WithoutCancel(ctx), msg: msg}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.fallback.Dispatch(job.ctx, msg)
		return
	}
	select {
	case d.jobs <- job:
		d.mu.Unlock()
	default:
		d.mu.Unlock()
		d.log.Warn(ctx, "otp email queue full, sending in-process", "to", msg.To)
		d.fallback.Dispatch(job.ctx, msg)
	}
}

func (d *QueueDispatcher) run() {
	defer close(d.done)
	for job := range d.jobs {
		if err := d.publish(job.ctx, job.msg); err != nil {
			d.log.Warn(job.ctx, "otp email publish failed, sending in-process", "to", job.msg.To, "error", err)
			d.fallback.Dispatch(job.ctx, job.msg)
		}
	}
	d.reset()
}

func (d *QueueDispatcher) publish(ctx context.Context, msg OTPMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	if d.ch == nil {
		ch, conn, err := d.open(d.url, d.queue, d.timeout)
		if err != nil {
			return err
		}
		d.ch, d.conn = ch, conn
	}

	pctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	err = d.ch.PublishWithContext(pctx, "", d.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		d.reset()
		return err
	}
	return nil
}

func (d *QueueDispatcher) reset() {
	if d.ch != nil {
		_ = d.ch.Close()
	}
	if d.conn != nil {
		_ = d.conn.Close()
	}
	d.ch, d.conn = nil, nil
}

// Close stops accepting messages, lets the publisher drain what is queued
// until ctx ends, then closes the fallback.
func (d *QueueDispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.jobs)
	}
	d.mu.Unlock()

	var err error
	select {
	case <-d.done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	return errors.Join(err, d.fallback.Close(ctx))
}

// Consumer drains the OTP queue and hands each message to a Sender. It
// reconnects with exponential backoff until its context is cancelled.
// Messages that fail are rejected without requeue to avoid hot loops; the
// user can request a fresh code once the old one expires.
type Consumer struct {
	url        string
	queue      string
	sender     Sender
	timeout    time.Duration
	log        logging.Logger
	maxBackoff time.Duration
}

func NewConsumer(url, queue string, sender Sender, timeout time.Duration, log logging.Logger) *Consumer {
	return &Consumer{
		url:        url,
		queue:      queue,
		sender:     sender,
		timeout:    timeout,
		log:        log,
		maxBackoff: 30 * time.Second,
	}
}

// Run blocks until ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		conn, err := dialBroker(c.url, c.timeout)
		if err != nil {
			c.log.Warn(ctx, "mail consumer: dial failed", "error", err, "retry_in", backoff)
			if !sleepCtx(ctx, backoff) {
				return ctx.Err()
			}
			backoff = min(backoff*2, c.maxBackoff)
			continue
		}
		backoff = time.Second

		err = c.consume(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn(ctx, "mail consumer: consume loop ended, reconnecting", "error", err)
		if !sleepCtx(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func (c *Consumer) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(10, 0, false); err != nil {
		c.log.Warn(ctx, "mail consumer: set QoS failed", "error", err)
	}
	if _, err := ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	deliveries, err := ch.ConsumeWithContext(ctx, c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	c.log.Info(ctx, "mail consumer: started", "queue", c.queue)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.handle(ctx, d.Body); err != nil {
				c.log.Error(ctx, "mail consumer: handle message failed", "error", err)
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, body []byte) error {
	var msg OTPMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if msg.To == "" || msg.Code == "" {
		return errors.New("incomplete otp message")
	}

	sctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.sender.Send(sctx, msg)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
