package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	dlxExchangeName  = "broadcast.dlx"
	reconnectBackoff = time.Second
	maxBackoff       = 30 * time.Second
	dialTimeout      = 15 * time.Second

	// A preparation run may sleep between install rounds for minutes, so the
	// broker must not reclaim an unacked prepare message too early.
	prepareConsumerTimeout = 6 * time.Hour
	// prepareDeliveryLimit dead-letters a notification whose preparation keeps
	// crashing the worker instead of redelivering it forever.
	prepareDeliveryLimit = 10
)

// queueSpec describes one durable work queue and its dead-letter queue.
type queueSpec struct {
	name string
	args amqp.Table
}

func topology() []queueSpec {
	specs := make([]queueSpec, 0, len(workQueues))
	for _, name := range workQueues {
		args := amqp.Table{
			"x-dead-letter-exchange":    dlxExchangeName,
			"x-dead-letter-routing-key": name,
		}
		switch name {
		case QueuePrepare:
			args["x-queue-type"] = "quorum"
			args["x-delivery-limit"] = prepareDeliveryLimit
			args["x-consumer-timeout"] = prepareConsumerTimeout.Milliseconds()
		case QueueSend:
			args["x-queue-mode"] = "lazy"
		}
		specs = append(specs, queueSpec{name: name, args: args})
	}
	return specs
}

// RabbitMQ owns the broker connection shared by the publisher and the
// prepare consumers. Topology is declared once per connection.
type RabbitMQ struct {
	url    string
	logger *zap.Logger

	mu          sync.RWMutex
	reconnectMu sync.Mutex
	conn        *amqp.Connection
	declared    bool
}

func NewRabbitMQ(url string, logger *zap.Logger) (*RabbitMQ, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &RabbitMQ{url: url, logger: logger}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	if err := r.ensureConnected(ctx); err != nil {
		return nil, err
	}

	return r, nil
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.declared = false
	r.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}

	return conn.Close()
}

// IsConnected reports whether the broker connection is currently open.
func (r *RabbitMQ) IsConnected() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conn != nil && !r.conn.IsClosed()
}

// channel opens a channel on a live connection, reconnecting first when the
// connection was lost.
func (r *RabbitMQ) channel(ctx context.Context) (*amqp.Channel, error) {
	for attempt := 0; attempt < 2; attempt++ {
		if err := r.ensureConnected(ctx); err != nil {
			return nil, err
		}

		r.mu.RLock()
		conn := r.conn
		r.mu.RUnlock()
		if conn == nil {
			continue
		}

		ch, err := conn.Channel()
		if err != nil {
			r.logger.Warn("rabbitmq channel open failed", zap.Int("attempt", attempt+1), zap.Error(err))
			continue
		}

		if err := r.ensureTopology(ch); err != nil {
			_ = ch.Close()
			return nil, err
		}
		return ch, nil
	}

	return nil, fmt.Errorf("failed to create rabbitmq channel after reconnect")
}

func (r *RabbitMQ) ensureTopology(ch *amqp.Channel) error {
	r.mu.RLock()
	declared := r.declared
	r.mu.RUnlock()
	if declared {
		return nil
	}

	if err := declareTopology(ch); err != nil {
		return err
	}

	r.mu.Lock()
	r.declared = true
	r.mu.Unlock()
	return nil
}

func (r *RabbitMQ) ensureConnected(ctx context.Context) error {
	if r.IsConnected() {
		return nil
	}
	return r.reconnectWithBackoff(ctx)
}

func (r *RabbitMQ) reconnectWithBackoff(ctx context.Context) error {
	r.reconnectMu.Lock()
	defer r.reconnectMu.Unlock()

	if r.IsConnected() {
		return nil
	}

	wait := reconnectBackoff
	for attempt := 1; ; attempt++ {
		newConn, err := amqp.Dial(r.url)
		if err == nil {
			r.mu.Lock()
			oldConn := r.conn
			r.conn = newConn
			r.declared = false
			r.mu.Unlock()

			if oldConn != nil && !oldConn.IsClosed() {
				_ = oldConn.Close()
			}
			r.watch(newConn)

			if attempt > 1 {
				r.logger.Info("rabbitmq reconnected", zap.Int("attempts", attempt))
			}
			return nil
		}

		r.logger.Warn("rabbitmq dial failed",
			zap.Int("attempt", attempt),
			zap.Duration("retryIn", wait),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("rabbitmq reconnect canceled: %w", ctx.Err())
		case <-time.After(wait):
		}

		wait = min(wait*2, maxBackoff)
	}
}

// watch logs an unexpected connection loss. The next channel() call redials.
func (r *RabbitMQ) watch(conn *amqp.Connection) {
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		if amqpErr, ok := <-closed; ok && amqpErr != nil {
			r.logger.Warn("rabbitmq connection closed",
				zap.Int("code", amqpErr.Code),
				zap.String("reason", amqpErr.Reason),
			)
		}
	}()
}

func declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(dlxExchangeName, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dlx exchange: %w", err)
	}

	for _, spec := range topology() {
		dlqName := DLQName(spec.name)

		if _, err := ch.QueueDeclare(dlqName, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare dlq %q: %w", dlqName, err)
		}
		if err := ch.QueueBind(dlqName, spec.name, dlxExchangeName, false, nil); err != nil {
			return fmt.Errorf("failed to bind dlq %q: %w", dlqName, err)
		}
		if _, err := ch.QueueDeclare(spec.name, true, false, false, false, spec.args); err != nil {
			return fmt.Errorf("failed to declare queue %q: %w", spec.name, err)
		}
	}

	return nil
}
