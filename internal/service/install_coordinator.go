package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/broadcast-engine/internal/directory"
	"github.com/kursadbilgin/broadcast-engine/internal/domain"
	"github.com/kursadbilgin/broadcast-engine/internal/observability"
	"github.com/kursadbilgin/broadcast-engine/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultInstallConcurrency = 5
	defaultInstallPageSize    = 200
	defaultInstallPageCount   = 5
	defaultInstallMaxRounds   = 3
	defaultInstallWait        = time.Minute
)

type InstallConfig struct {
	Enabled     bool
	AppID       string
	Wait        time.Duration
	MaxRounds   int
	Concurrency int
	PageSize    int
	PageCount   int
}

// InstallParams are the resolved, validated parameters of one install run.
type InstallParams struct {
	AppID     string
	Wait      time.Duration
	MaxRounds int
}

type PageResult struct {
	Pages      [][]string
	NextCursor int64
	HasMore    bool
}

type InstallResult struct {
	Attempted     int
	Installed     int
	NotInstalled  int
	Failed        int
	Conversations int
}

type installOutcome struct {
	attempted bool
	installed bool
	failed    bool
	handle    *domain.ConversationHandle
	channel   *domain.TeamChannel
}

// InstallCoordinator proactively installs the app for recipients that have
// no conversation yet. Directory calls fan out with bounded concurrency;
// store writes happen sequentially once the fan-out has finished.
type InstallCoordinator struct {
	deliveries repository.DeliveryRepository
	users      repository.UserRepository
	teams      repository.TeamRepository
	directory  directory.Directory
	refresher  *ConversationRefresher
	cfg        InstallConfig
	serviceURL string
	metrics    *observability.Metrics
	logger     *zap.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

func NewInstallCoordinator(
	deliveries repository.DeliveryRepository,
	users repository.UserRepository,
	teams repository.TeamRepository,
	dir directory.Directory,
	refresher *ConversationRefresher,
	cfg InstallConfig,
	serviceURL string,
	logger *zap.Logger,
) *InstallCoordinator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultInstallConcurrency
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultInstallPageSize
	}
	if cfg.PageCount <= 0 {
		cfg.PageCount = defaultInstallPageCount
	}
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = defaultInstallMaxRounds
	}
	if cfg.Wait < 0 {
		cfg.Wait = defaultInstallWait
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &InstallCoordinator{
		deliveries: deliveries,
		users:      users,
		teams:      teams,
		directory:  dir,
		refresher:  refresher,
		cfg:        cfg,
		serviceURL: serviceURL,
		logger:     logger,
		sleep:      sleepWithContext,
	}
}

func (c *InstallCoordinator) SetMetrics(metrics *observability.Metrics) {
	c.metrics = metrics
}

// Config validates the install parameters. A malformed app id is a
// configuration error and must not be retried.
func (c *InstallCoordinator) Config() (InstallParams, error) {
	appID := strings.TrimSpace(c.cfg.AppID)
	if _, err := uuid.Parse(appID); err != nil {
		return InstallParams{}, fmt.Errorf("%w: invalid app id %q", domain.ErrConfiguration, c.cfg.AppID)
	}

	return InstallParams{
		AppID:     appID,
		Wait:      c.cfg.Wait,
		MaxRounds: c.cfg.MaxRounds,
	}, nil
}

// NextPages reads up to PageCount pages of recipients still lacking a
// conversation, strictly after cursor. One extra row is fetched to learn
// whether more exist.
func (c *InstallCoordinator) NextPages(
	ctx context.Context,
	notificationID string,
	recipientType domain.RecipientType,
	cursor int64,
) (PageResult, error) {
	window := c.cfg.PageSize * c.cfg.PageCount

	records, err := c.deliveries.ListPendingInstall(ctx, notificationID, recipientType, cursor, window+1)
	if err != nil {
		return PageResult{}, fmt.Errorf("list pending install: %w", err)
	}

	result := PageResult{NextCursor: cursor}
	if len(records) > window {
		result.HasMore = true
		records = records[:window]
	}
	if len(records) == 0 {
		return result, nil
	}

	for start := 0; start < len(records); start += c.cfg.PageSize {
		end := min(start+c.cfg.PageSize, len(records))
		page := make([]string, 0, end-start)
		for _, r := range records[start:end] {
			page = append(page, r.RecipientID)
		}
		result.Pages = append(result.Pages, page)
	}
	result.NextCursor = records[len(records)-1].ID

	return result, nil
}

// InstallForUsers installs the app for one page of users and stores the
// personal conversations it can resolve. An open circuit stops the page:
// no further users are attempted and the error is returned after the
// results already gathered are written.
func (c *InstallCoordinator) InstallForUsers(ctx context.Context, notificationID string, userIDs []string) (InstallResult, error) {
	params, err := c.Config()
	if err != nil {
		return InstallResult{}, err
	}
	logger := observability.WithContextLogger(c.logger, ctx)

	outcomes, fanoutErr := c.fanOut(ctx, userIDs, func(userID string) (installOutcome, error) {
		installed, err := c.directory.InstallApp(ctx, userID, params.AppID)
		if err != nil {
			return installOutcome{attempted: true}, err
		}
		if !installed {
			return installOutcome{attempted: true}, nil
		}

		conversationID, err := c.directory.ResolvePersonalConversation(ctx, userID, params.AppID)
		if err != nil {
			// Installed; refresh or the next round picks the conversation up.
			if errors.Is(err, domain.ErrCircuitOpen) {
				return installOutcome{attempted: true, installed: true}, err
			}
			logger.Warn("resolve personal conversation failed",
				zap.String("recipientId", userID),
				zap.Error(err),
			)
			return installOutcome{attempted: true, installed: true}, nil
		}
		if conversationID == "" {
			return installOutcome{attempted: true, installed: true}, nil
		}

		return installOutcome{
			attempted: true,
			installed: true,
			handle: &domain.ConversationHandle{
				RecipientID:    userID,
				ConversationID: conversationID,
				ServiceURL:     c.serviceURL,
			},
		}, nil
	})

	result := c.summarize("user", outcomes)

	for _, o := range outcomes {
		if o.handle == nil {
			continue
		}
		if err := c.users.SetConversation(ctx, *o.handle); err != nil {
			return result, fmt.Errorf("store user conversation: %w", err)
		}
		updated, err := c.deliveries.SetConversationIfMissing(ctx, notificationID, *o.handle)
		if err != nil {
			return result, fmt.Errorf("backfill delivery conversation: %w", err)
		}
		if updated {
			result.Conversations++
		}
	}

	if fanoutErr != nil {
		logger.Warn("user install page aborted",
			zap.Int("attempted", result.Attempted),
			zap.Int("installed", result.Installed),
			zap.Error(fanoutErr),
		)
		return result, fmt.Errorf("install for users: %w", fanoutErr)
	}

	return result, nil
}

// InstallForTeams installs the app in each team and refreshes the team
// channel cache. Delivery records are left to conversation refresh.
func (c *InstallCoordinator) InstallForTeams(ctx context.Context, notificationID string, teamIDs []string) (InstallResult, error) {
	params, err := c.Config()
	if err != nil {
		return InstallResult{}, err
	}
	logger := observability.WithContextLogger(c.logger, ctx)

	outcomes, fanoutErr := c.fanOut(ctx, teamIDs, func(teamID string) (installOutcome, error) {
		installed, err := c.directory.InstallAppForTeam(ctx, teamID, params.AppID)
		if err != nil {
			return installOutcome{attempted: true}, err
		}
		if !installed {
			return installOutcome{attempted: true}, nil
		}

		channel, err := c.directory.ResolveTeamChannel(ctx, teamID)
		if err != nil {
			if errors.Is(err, domain.ErrCircuitOpen) {
				return installOutcome{attempted: true, installed: true}, err
			}
			logger.Warn("resolve team channel failed",
				zap.String("recipientId", teamID),
				zap.Error(err),
			)
			return installOutcome{attempted: true, installed: true}, nil
		}
		return installOutcome{attempted: true, installed: true, channel: &channel}, nil
	})

	result := c.summarize("team", outcomes)

	for _, o := range outcomes {
		if o.channel == nil || o.channel.ConversationID == "" {
			continue
		}
		if err := c.teams.Upsert(ctx, *o.channel); err != nil {
			return result, fmt.Errorf("store team channel: %w", err)
		}
		result.Conversations++
	}

	if fanoutErr != nil {
		logger.Warn("team install page aborted",
			zap.String("notificationId", notificationID),
			zap.Int("attempted", result.Attempted),
			zap.Error(fanoutErr),
		)
		return result, fmt.Errorf("install for teams: %w", fanoutErr)
	}

	return result, nil
}

// fanOut runs fn for every id with at most cfg.Concurrency in flight. Only
// domain.ErrCircuitOpen stops the fan-out; other errors are recorded on the
// outcome and the remaining ids continue. A canceled ctx is returned once
// the calls in flight have finished.
func (c *InstallCoordinator) fanOut(
	ctx context.Context,
	ids []string,
	fn func(id string) (installOutcome, error),
) ([]installOutcome, error) {
	outcomes := make([]installOutcome, len(ids))

	g, stopCtx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)

	for i, id := range ids {
		if stopCtx.Err() != nil {
			break
		}
		g.Go(func() error {
			if stopCtx.Err() != nil {
				return nil
			}

			outcome, err := fn(id)
			if errors.Is(err, domain.ErrCircuitOpen) {
				outcomes[i] = outcome
				return err
			}
			if err != nil {
				outcome.failed = true
				c.logger.Debug("install failed for recipient",
					zap.String("recipientId", id),
					zap.Bool("transient", directory.IsTransient(err)),
					zap.Error(err),
				)
			}
			outcomes[i] = outcome
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return outcomes, err
	}
	// A canceled parent leaves the remaining ids unattempted.
	return outcomes, ctx.Err()
}

func (c *InstallCoordinator) summarize(target string, outcomes []installOutcome) InstallResult {
	var result InstallResult
	for _, o := range outcomes {
		if !o.attempted {
			continue
		}
		result.Attempted++
		switch {
		case o.failed:
			result.Failed++
			c.metrics.IncInstallAttempt(target, "failed")
		case o.installed:
			result.Installed++
			c.metrics.IncInstallAttempt(target, "installed")
		default:
			result.NotInstalled++
			c.metrics.IncInstallAttempt(target, "not_installed")
		}
	}
	return result
}

// Run drives install rounds until every recipient has a conversation or the
// round budget is spent. Each round walks all pending pages once, then
// refreshes records from the caches.
func (c *InstallCoordinator) Run(ctx context.Context, notificationID string) error {
	if !c.cfg.Enabled {
		return nil
	}

	params, err := c.Config()
	if err != nil {
		return err
	}
	logger := observability.WithContextLogger(c.logger, ctx)

	for round := 1; round <= params.MaxRounds; round++ {
		if err := c.installAll(ctx, notificationID, domain.RecipientUser, c.InstallForUsers); err != nil {
			return err
		}
		if err := c.installAll(ctx, notificationID, domain.RecipientTeam, c.InstallForTeams); err != nil {
			return err
		}

		refreshed, err := c.refresher.Refresh(ctx, notificationID)
		if err != nil {
			return err
		}

		logger.Info("install round finished",
			zap.Int("round", round),
			zap.Int64("stillPending", refreshed.StillPending),
		)
		if refreshed.StillPending == 0 || round == params.MaxRounds {
			return nil
		}

		if err := c.sleep(ctx, params.Wait); err != nil {
			return err
		}
	}

	return nil
}

func (c *InstallCoordinator) installAll(
	ctx context.Context,
	notificationID string,
	recipientType domain.RecipientType,
	install func(ctx context.Context, notificationID string, ids []string) (InstallResult, error),
) error {
	var cursor int64
	for {
		pages, err := c.NextPages(ctx, notificationID, recipientType, cursor)
		if err != nil {
			return err
		}
		for _, page := range pages.Pages {
			if _, err := install(ctx, notificationID, page); err != nil {
				return err
			}
		}
		if !pages.HasMore {
			return nil
		}
		cursor = pages.NextCursor
	}
}
