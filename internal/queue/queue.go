package queue

import (
	"context"
	"fmt"
)

const (
	// QueueSend carries one message per delivery record to the send worker.
	QueueSend = "send"
	// QueuePrepare triggers the preparation pipeline of a notification.
	QueuePrepare = "prepare"
)

// Publisher publishes pipeline messages.
type Publisher interface {
	PublishBatch(ctx context.Context, queue string, msgs []SendMessage) error
	PublishPrepare(ctx context.Context, msg PrepareMessage) error
	Close() error
}

// PrepareHandler handles a consumed prepare message.
type PrepareHandler func(ctx context.Context, msg PrepareMessage) error

// Consumer consumes prepare messages from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler PrepareHandler) error
	Close() error
}

var workQueues = []string{QueueSend, QueuePrepare}

// DLQName returns the dead-letter queue name for a queue, e.g. dlq.send.
func DLQName(queue string) string {
	return fmt.Sprintf("dlq.%s", queue)
}

func WorkQueueNames() []string {
	return append([]string(nil), workQueues...)
}

func DLQNames() []string {
	queues := make([]string, 0, len(workQueues))
	for _, q := range workQueues {
		queues = append(queues, DLQName(q))
	}
	return queues
}
