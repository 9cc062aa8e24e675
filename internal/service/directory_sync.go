package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const defaultDirectorySyncTimeout = 30 * time.Minute

// UserSyncer applies the directory delta to the user cache.
type UserSyncer interface {
	SyncAllUsers(ctx context.Context) (int, error)
}

// DirectorySyncJob keeps the user cache warm between AllUsers sends.
type DirectorySyncJob struct {
	syncer  UserSyncer
	spec    string
	timeout time.Duration
	logger  *zap.Logger
}

func NewDirectorySyncJob(syncer UserSyncer, spec string, logger *zap.Logger) (*DirectorySyncJob, error) {
	if syncer == nil {
		return nil, fmt.Errorf("user syncer is required")
	}
	spec = strings.TrimSpace(spec)
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("invalid directory sync schedule %q: %w", spec, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DirectorySyncJob{
		syncer:  syncer,
		spec:    spec,
		timeout: defaultDirectorySyncTimeout,
		logger:  logger,
	}, nil
}

// Start runs the sync on schedule until ctx is canceled. A run still in
// progress when the next one is due is not overlapped.
func (j *DirectorySyncJob) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(j.spec, func() { j.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("schedule directory sync: %w", err)
	}

	c.Start()
	j.logger.Info("directory sync scheduled", zap.String("schedule", j.spec))

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func (j *DirectorySyncJob) RunOnce(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	start := time.Now()
	synced, err := j.syncer.SyncAllUsers(runCtx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		j.logger.Error("directory sync failed", zap.Error(err))
		return
	}

	j.logger.Info("directory sync finished",
		zap.Int("changed", synced),
		zap.Duration("duration", time.Since(start)),
	)
}
