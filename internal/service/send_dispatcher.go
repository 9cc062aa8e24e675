package service

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/broadcast-engine/internal/observability"
	"github.com/kursadbilgin/broadcast-engine/internal/queue"
	"github.com/kursadbilgin/broadcast-engine/internal/repository"
	"go.uber.org/zap"
)

const defaultSendBatchSize = 100

type DispatchResult struct {
	Enqueued   int
	NextCursor int64
}

// SendDispatcher publishes send messages for queued delivery records. Pages
// are addressed by record id rather than offset because the send worker
// moves records out of Queued while dispatch is still running.
type SendDispatcher struct {
	deliveries repository.DeliveryRepository
	publisher  queue.Publisher
	batchSize  int
	metrics    *observability.Metrics
	logger     *zap.Logger
}

func NewSendDispatcher(
	deliveries repository.DeliveryRepository,
	publisher queue.Publisher,
	batchSize int,
	logger *zap.Logger,
) *SendDispatcher {
	if batchSize <= 0 {
		batchSize = defaultSendBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SendDispatcher{
		deliveries: deliveries,
		publisher:  publisher,
		batchSize:  batchSize,
		logger:     logger,
	}
}

func (d *SendDispatcher) SetMetrics(metrics *observability.Metrics) {
	d.metrics = metrics
}

// DispatchPage enqueues the next page of queued records after cursor. A
// result with Enqueued == 0 and an unchanged cursor means nothing is left.
func (d *SendDispatcher) DispatchPage(ctx context.Context, notificationID string, blobKey string, cursor int64) (DispatchResult, error) {
	records, err := d.deliveries.ListQueued(ctx, notificationID, cursor, d.batchSize)
	if err != nil {
		return DispatchResult{}, fmt.Errorf("list queued records: %w", err)
	}
	if len(records) == 0 {
		return DispatchResult{NextCursor: cursor}, nil
	}

	logger := observability.WithContextLogger(d.logger, ctx)
	msgs := make([]queue.SendMessage, 0, len(records))
	for _, r := range records {
		if !r.HasConversation() {
			// MarkUnreachable runs before dispatch, so this is a record
			// added after install finished.
			logger.Warn("queued record has no conversation, skipping",
				zap.Int64("deliveryRecordId", r.ID),
				zap.String("recipientId", r.RecipientID),
			)
			continue
		}

		serviceURL := ""
		if r.ServiceURL != nil {
			serviceURL = *r.ServiceURL
		}
		msgs = append(msgs, queue.SendMessage{
			NotificationID:   notificationID,
			DeliveryRecordID: r.ID,
			RecipientID:      r.RecipientID,
			ConversationID:   *r.ConversationID,
			ServiceURL:       serviceURL,
			PayloadBlobKey:   blobKey,
		})
	}

	next := records[len(records)-1].ID
	if len(msgs) == 0 {
		return DispatchResult{NextCursor: next}, nil
	}

	if err := d.publisher.PublishBatch(ctx, queue.QueueSend, msgs); err != nil {
		return DispatchResult{}, fmt.Errorf("publish send batch: %w", err)
	}
	d.metrics.AddMessagesEnqueued(len(msgs))

	return DispatchResult{Enqueued: len(msgs), NextCursor: next}, nil
}

// DispatchAll walks every queued record page by page.
func (d *SendDispatcher) DispatchAll(ctx context.Context, notificationID string, blobKey string) (int, error) {
	var cursor int64
	total := 0
	for {
		result, err := d.DispatchPage(ctx, notificationID, blobKey, cursor)
		if err != nil {
			return total, err
		}
		total += result.Enqueued
		if result.NextCursor == cursor {
			return total, nil
		}
		cursor = result.NextCursor
	}
}
