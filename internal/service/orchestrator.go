package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/kursadbilgin/broadcast-engine/internal/domain"
	"github.com/kursadbilgin/broadcast-engine/internal/observability"
	"github.com/kursadbilgin/broadcast-engine/internal/payload"
	"github.com/kursadbilgin/broadcast-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultActivityMaxAttempts = 3
	maxRetryDelay              = 60 * time.Second
	baseRetryDelay             = time.Second
	maxRetryJitterMillis       = 250

	unreachableMessage = "no conversation could be established with the recipient"

	phaseResolve  = "resolve"
	phaseInstall  = "install"
	phaseDispatch = "dispatch"
)

// errRunStopped signals that the run ended with the notification marked
// failed; the triggering message must be acknowledged.
var errRunStopped = errors.New("pipeline run stopped")

type PayloadUploader interface {
	Upload(ctx context.Context, notificationID string, payload []byte) (string, error)
}

// Orchestrator drives one notification through resolve, install and
// dispatch. Progress is read back from the persisted status before every
// phase, so a redelivered trigger resumes where the last run stopped and a
// cancel takes effect at the next phase boundary.
type Orchestrator struct {
	notifications repository.NotificationRepository
	deliveries    repository.DeliveryRepository
	resolver      *AudienceResolver
	installer     *InstallCoordinator
	refresher     *ConversationRefresher
	builder       *payload.Builder
	payloads      PayloadUploader
	dispatcher    *SendDispatcher
	aggregator    *StatusAggregator
	maxAttempts   int
	metrics       *observability.Metrics
	logger        *zap.Logger
	now           func() time.Time
	randIntn      func(n int) int
	sleep         func(ctx context.Context, d time.Duration) error
}

func NewOrchestrator(
	notifications repository.NotificationRepository,
	deliveries repository.DeliveryRepository,
	resolver *AudienceResolver,
	installer *InstallCoordinator,
	refresher *ConversationRefresher,
	builder *payload.Builder,
	payloads PayloadUploader,
	dispatcher *SendDispatcher,
	aggregator *StatusAggregator,
	maxAttempts int,
	logger *zap.Logger,
) *Orchestrator {
	if maxAttempts <= 0 {
		maxAttempts = defaultActivityMaxAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Orchestrator{
		notifications: notifications,
		deliveries:    deliveries,
		resolver:      resolver,
		installer:     installer,
		refresher:     refresher,
		builder:       builder,
		payloads:      payloads,
		dispatcher:    dispatcher,
		aggregator:    aggregator,
		maxAttempts:   maxAttempts,
		logger:        logger,
		now:           time.Now,
		randIntn:      rand.Intn,
		sleep:         sleepWithContext,
	}
}

func (o *Orchestrator) SetMetrics(metrics *observability.Metrics) {
	o.metrics = metrics
}

// Run advances the notification until it is sending and dispatched, or
// until it is found in a state the pipeline does not own. A nil error means
// the trigger can be acknowledged.
func (o *Orchestrator) Run(ctx context.Context, notificationID string) error {
	logger := observability.WithContextLogger(o.logger, ctx)

	for {
		n, err := o.notifications.GetByID(ctx, notificationID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				logger.Warn("notification not found, skipping run")
				return nil
			}
			return fmt.Errorf("load notification: %w", err)
		}

		switch n.Status {
		case domain.StatusQueued:
			if _, err := o.notifications.TransitionStatus(ctx, n.ID,
				[]domain.Status{domain.StatusQueued}, domain.StatusSyncingRecipients); err != nil {
				return fmt.Errorf("enter syncing recipients: %w", err)
			}

		case domain.StatusSyncingRecipients:
			err := o.runActivity(ctx, n.ID, phaseResolve, func(ctx context.Context, id string) error {
				_, err := o.resolver.Resolve(ctx, id)
				return err
			})
			if err != nil {
				return stopped(err)
			}
			if _, err := o.notifications.TransitionStatus(ctx, n.ID,
				[]domain.Status{domain.StatusSyncingRecipients}, domain.StatusInstallingApp); err != nil {
				return fmt.Errorf("enter installing app: %w", err)
			}

		case domain.StatusInstallingApp:
			if err := o.runActivity(ctx, n.ID, phaseInstall, o.install); err != nil {
				return stopped(err)
			}
			if _, err := o.notifications.MarkSending(ctx, n.ID, o.now().UTC()); err != nil {
				return fmt.Errorf("enter sending: %w", err)
			}

		case domain.StatusSending:
			err := o.runActivity(ctx, n.ID, phaseDispatch, func(ctx context.Context, _ string) error {
				return o.dispatch(ctx, n)
			})
			if err != nil {
				return stopped(err)
			}

			// Completes immediately when nothing was left to send; otherwise
			// the aggregation scanner takes over.
			if _, err := o.aggregator.Aggregate(ctx, n.ID); err != nil {
				logger.Warn("initial aggregation failed", zap.Error(err))
			}
			return nil

		case domain.StatusCanceled:
			// A cancel can land while a phase is still creating records.
			canceled, err := o.deliveries.CancelPending(ctx, n.ID)
			if err != nil {
				return fmt.Errorf("cancel pending deliveries: %w", err)
			}
			if _, err := o.aggregator.Recount(ctx, n.ID); err != nil {
				return err
			}
			logger.Info("notification canceled, run stopped",
				zap.Int64("canceledDeliveries", canceled),
			)
			return nil

		default:
			logger.Info("notification not runnable, skipping",
				zap.String("status", n.Status.String()),
			)
			return nil
		}
	}
}

func (o *Orchestrator) install(ctx context.Context, notificationID string) error {
	refreshed, err := o.refresher.Refresh(ctx, notificationID)
	if err != nil {
		return err
	}
	if refreshed.StillPending > 0 {
		if err := o.installer.Run(ctx, notificationID); err != nil {
			return err
		}
	}

	unreachable, err := o.deliveries.MarkUnreachable(ctx, notificationID, unreachableMessage)
	if err != nil {
		return fmt.Errorf("mark unreachable: %w", err)
	}
	if unreachable > 0 {
		observability.WithContextLogger(o.logger, ctx).Info("recipients marked unreachable",
			zap.Int64("count", unreachable),
		)
	}
	return nil
}

func (o *Orchestrator) dispatch(ctx context.Context, n *domain.Notification) error {
	raw, err := o.builder.Build(n)
	if err != nil {
		return fmt.Errorf("%w: build payload: %v", domain.ErrConfiguration, err)
	}
	resolved, err := payload.ResolveVariables(raw, payload.Variables(n))
	if err != nil {
		return fmt.Errorf("%w: resolve variables: %v", domain.ErrConfiguration, err)
	}

	blobKey, err := o.payloads.Upload(ctx, n.ID, resolved)
	if err != nil {
		return err
	}

	enqueued, err := o.dispatcher.DispatchAll(ctx, n.ID, blobKey)
	if err != nil {
		return err
	}

	observability.WithContextLogger(o.logger, ctx).Info("send messages dispatched",
		zap.Int("enqueued", enqueued),
		zap.String("payloadBlobKey", blobKey),
	)
	return nil
}

// runActivity retries fn with backoff. A configuration error or the last
// failed attempt marks the notification and its pending records failed and
// returns errRunStopped.
func (o *Orchestrator) runActivity(
	ctx context.Context,
	notificationID string,
	phase string,
	fn func(ctx context.Context, notificationID string) error,
) error {
	logger := observability.WithContextLogger(o.logger, ctx).With(zap.String("phase", phase))

	for attempt := 1; ; attempt++ {
		start := o.now()
		err := fn(ctx, notificationID)
		o.metrics.ObservePhaseDuration(phase, o.now().Sub(start))
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if errors.Is(err, domain.ErrConfiguration) || attempt >= o.maxAttempts {
			logger.Error("activity failed",
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return o.fail(ctx, notificationID, phase, err)
		}

		delay := o.retryDelay(attempt)
		logger.Warn("activity attempt failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if err := o.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func (o *Orchestrator) fail(ctx context.Context, notificationID string, phase string, cause error) error {
	message := fmt.Sprintf("%s failed: %v", phase, cause)
	updated, err := o.notifications.MarkFailed(ctx, notificationID, message)
	if err != nil {
		return fmt.Errorf("mark notification failed: %w", err)
	}
	if !updated {
		return errRunStopped
	}
	o.metrics.IncNotificationCompleted("failed")

	failed, err := o.deliveries.ForceFail(ctx, notificationID, message)
	if err != nil {
		return fmt.Errorf("fail pending deliveries: %w", err)
	}
	if _, err := o.aggregator.Recount(ctx, notificationID); err != nil {
		return err
	}
	observability.WithContextLogger(o.logger, ctx).Warn("notification failed",
		zap.String("phase", phase),
		zap.Int64("failedDeliveries", failed),
	)
	return errRunStopped
}

func (o *Orchestrator) retryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := baseRetryDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			delay = maxRetryDelay
			break
		}
	}

	jitterMillis := 0
	if o.randIntn != nil && maxRetryJitterMillis > 0 {
		jitterMillis = o.randIntn(maxRetryJitterMillis + 1)
	}

	return delay + time.Duration(jitterMillis)*time.Millisecond
}

// stopped converts errRunStopped into an acknowledged run.
func stopped(err error) error {
	if errors.Is(err, errRunStopped) {
		return nil
	}
	return err
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
