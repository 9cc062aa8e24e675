package service

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/broadcast-engine/internal/observability"
	"github.com/kursadbilgin/broadcast-engine/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const minWorkerConcurrency = 1

// PipelineRunner runs the preparation pipeline of one notification.
type PipelineRunner interface {
	Run(ctx context.Context, notificationID string) error
}

// PrepareWorker consumes prepare messages and hands each to the pipeline.
type PrepareWorker struct {
	consumer    queue.Consumer
	runner      PipelineRunner
	logger      *zap.Logger
	metrics     *observability.Metrics
	concurrency int
}

func NewPrepareWorker(
	consumer queue.Consumer,
	runner PipelineRunner,
	concurrency int,
	logger *zap.Logger,
) (*PrepareWorker, error) {
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("pipeline runner is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &PrepareWorker{
		consumer:    consumer,
		runner:      runner,
		logger:      logger,
		concurrency: concurrency,
	}, nil
}

func (w *PrepareWorker) SetMetrics(metrics *observability.Metrics) {
	if w == nil {
		return
	}
	w.metrics = metrics
}

// Start runs concurrency consumers on the prepare queue until ctx is canceled.
func (w *PrepareWorker) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		workerID := i + 1

		g.Go(func() error {
			w.logger.Info("prepare worker started", zap.Int("workerId", workerID))

			err := w.consumer.Consume(groupCtx, queue.QueuePrepare, w.processMessage)
			if err != nil {
				w.logger.Error("prepare worker stopped with error",
					zap.Int("workerId", workerID),
					zap.Error(err),
				)
				return err
			}

			w.logger.Info("prepare worker stopped", zap.Int("workerId", workerID))
			return nil
		})
	}

	return g.Wait()
}

func (w *PrepareWorker) processMessage(ctx context.Context, msg queue.PrepareMessage) error {
	correlationID := msg.CorrelationID
	if correlationID == "" {
		correlationID = msg.NotificationID
	}
	ctx = observability.WithCorrelationID(ctx, correlationID)
	ctx = observability.WithNotificationID(ctx, msg.NotificationID)

	w.metrics.IncPrepareInFlight()
	defer w.metrics.DecPrepareInFlight()

	if err := w.runner.Run(ctx, msg.NotificationID); err != nil {
		return fmt.Errorf("run pipeline: %w", err)
	}
	return nil
}
