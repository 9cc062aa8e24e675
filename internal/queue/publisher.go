package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type RabbitMQPublisher struct {
	client *RabbitMQ
}

func NewRabbitMQPublisher(client *RabbitMQ) *RabbitMQPublisher {
	return &RabbitMQPublisher{client: client}
}

// PublishBatch publishes msgs on one confirm-mode channel and returns once
// the broker has confirmed every message. Any nack fails the batch; the
// caller republishes the whole page.
func (p *RabbitMQPublisher) PublishBatch(ctx context.Context, queue string, msgs []SendMessage) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("publisher is not initialized")
	}
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}
	if len(msgs) == 0 {
		return nil
	}

	publishings := make([]amqp.Publishing, 0, len(msgs))
	for i := range msgs {
		if err := msgs[i].Validate(); err != nil {
			return fmt.Errorf("invalid send message at %d: %w", i, err)
		}
		publishing, err := newPublishing(
			strconv.FormatInt(msgs[i].DeliveryRecordID, 10),
			msgs[i].NotificationID,
			msgs[i],
		)
		if err != nil {
			return err
		}
		publishings = append(publishings, publishing)
	}

	ch, err := p.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	confirms := make([]*amqp.DeferredConfirmation, 0, len(publishings))
	for _, publishing := range publishings {
		dc, err := ch.PublishWithDeferredConfirmWithContext(ctx, "", queue, false, false, publishing)
		if err != nil {
			return fmt.Errorf("failed to publish message to queue %q: %w", queue, err)
		}
		confirms = append(confirms, dc)
	}

	for _, dc := range confirms {
		acked, err := dc.WaitContext(ctx)
		if err != nil {
			return fmt.Errorf("failed waiting for publish confirm: %w", err)
		}
		if !acked {
			return fmt.Errorf("broker nacked message %d on queue %q", dc.DeliveryTag, queue)
		}
	}

	return nil
}

func (p *RabbitMQPublisher) PublishPrepare(ctx context.Context, msg PrepareMessage) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("publisher is not initialized")
	}
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid prepare message: %w", err)
	}

	correlationID := msg.CorrelationID
	if correlationID == "" {
		correlationID = msg.NotificationID
	}
	publishing, err := newPublishing(msg.NotificationID, correlationID, msg)
	if err != nil {
		return err
	}

	ch, err := p.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.PublishWithContext(ctx, "", QueuePrepare, false, false, publishing); err != nil {
		return fmt.Errorf("failed to publish message to queue %q: %w", QueuePrepare, err)
	}

	return nil
}

func (p *RabbitMQPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}

func newPublishing(messageID string, correlationID string, body any) (amqp.Publishing, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal message: %w", err)
	}

	return amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Timestamp:     time.Now().UTC(),
		MessageId:     messageID,
		CorrelationId: correlationID,
		Body:          payload,
	}, nil
}
