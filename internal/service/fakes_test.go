package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/kursadbilgin/broadcast-engine/internal/domain"
	"github.com/kursadbilgin/broadcast-engine/internal/queue"
	"github.com/kursadbilgin/broadcast-engine/internal/repository"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testAppID = "8f2c6a1e-4b7d-4f3a-9c2e-5d6b7a8c9e0f"

type testStores struct {
	notifications *repository.GormNotificationRepo
	deliveries    *repository.GormDeliveryRepo
	users         *repository.GormUserRepo
	teams         *repository.GormTeamRepo
	payloads      *repository.GormPayloadRepo
}

func newTestStores(t *testing.T) testStores {
	t.Helper()

	path := filepath.Join(t.TempDir(), "broadcast.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("gorm.Open() error = %v", err)
	}
	if err := db.AutoMigrate(repository.AllModels()...); err != nil {
		t.Fatalf("AutoMigrate() error = %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB() error = %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	return testStores{
		notifications: repository.NewGormNotificationRepo(db),
		deliveries:    repository.NewGormDeliveryRepo(db),
		users:         repository.NewGormUserRepo(db),
		teams:         repository.NewGormTeamRepo(db),
		payloads:      repository.NewGormPayloadRepo(db),
	}
}

// createNotification stores n and moves it to status through the same
// repository calls the pipeline uses.
func createNotification(t *testing.T, stores testStores, n *domain.Notification, status domain.Status) {
	t.Helper()

	ctx := context.Background()
	if n.Content.Title == "" {
		n.Content.Title = "Quarterly update"
	}
	n.Status = domain.StatusDraft
	if err := stores.notifications.Create(ctx, n); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if status == domain.StatusDraft {
		return
	}

	path := []domain.Status{domain.StatusQueued, domain.StatusSyncingRecipients, domain.StatusInstallingApp}
	from := domain.StatusDraft
	for _, next := range path {
		if _, err := stores.notifications.TransitionStatus(ctx, n.ID, []domain.Status{from}, next); err != nil {
			t.Fatalf("TransitionStatus() error = %v", err)
		}
		from = next
		if next == status {
			return
		}
	}
	if status == domain.StatusSending {
		if _, err := stores.notifications.MarkSending(ctx, n.ID, time.Now().UTC()); err != nil {
			t.Fatalf("MarkSending() error = %v", err)
		}
		return
	}
	t.Fatalf("unsupported test status %s", status)
}

func loadNotification(t *testing.T, stores testStores, id string) *domain.Notification {
	t.Helper()

	n, err := stores.notifications.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	return n
}

func countByStatus(t *testing.T, stores testStores, id string) domain.StatusCounts {
	t.Helper()

	counts, err := stores.deliveries.CountByStatus(context.Background(), id)
	if err != nil {
		t.Fatalf("CountByStatus() error = %v", err)
	}
	return counts
}

func strPtr(s string) *string { return &s }

func noSleep(context.Context, time.Duration) error { return nil }

type fakeDirectory struct {
	enumerateAllUsersFn           func(ctx context.Context, cursor string) ([]domain.DirectoryUser, string, error)
	enumerateGroupMembersFn       func(ctx context.Context, groupID string) ([]domain.DirectoryUser, error)
	enumerateTeamMembersFn        func(ctx context.Context, teamID string) ([]domain.DirectoryUser, error)
	installAppFn                  func(ctx context.Context, userID string, appID string) (bool, error)
	resolvePersonalConversationFn func(ctx context.Context, userID string, appID string) (string, error)
	installAppForTeamFn           func(ctx context.Context, teamID string, appID string) (bool, error)
	resolveTeamChannelFn          func(ctx context.Context, teamID string) (domain.TeamChannel, error)
}

func (f *fakeDirectory) EnumerateAllUsers(ctx context.Context, cursor string) ([]domain.DirectoryUser, string, error) {
	if f.enumerateAllUsersFn != nil {
		return f.enumerateAllUsersFn(ctx, cursor)
	}
	return nil, "", nil
}

func (f *fakeDirectory) EnumerateGroupMembers(ctx context.Context, groupID string) ([]domain.DirectoryUser, error) {
	if f.enumerateGroupMembersFn != nil {
		return f.enumerateGroupMembersFn(ctx, groupID)
	}
	return nil, nil
}

func (f *fakeDirectory) EnumerateTeamMembers(ctx context.Context, teamID string) ([]domain.DirectoryUser, error) {
	if f.enumerateTeamMembersFn != nil {
		return f.enumerateTeamMembersFn(ctx, teamID)
	}
	return nil, nil
}

func (f *fakeDirectory) InstallApp(ctx context.Context, userID string, appID string) (bool, error) {
	if f.installAppFn != nil {
		return f.installAppFn(ctx, userID, appID)
	}
	return false, nil
}

func (f *fakeDirectory) ResolvePersonalConversation(ctx context.Context, userID string, appID string) (string, error) {
	if f.resolvePersonalConversationFn != nil {
		return f.resolvePersonalConversationFn(ctx, userID, appID)
	}
	return "", nil
}

func (f *fakeDirectory) InstallAppForTeam(ctx context.Context, teamID string, appID string) (bool, error) {
	if f.installAppForTeamFn != nil {
		return f.installAppForTeamFn(ctx, teamID, appID)
	}
	return false, nil
}

func (f *fakeDirectory) ResolveTeamChannel(ctx context.Context, teamID string) (domain.TeamChannel, error) {
	if f.resolveTeamChannelFn != nil {
		return f.resolveTeamChannelFn(ctx, teamID)
	}
	return domain.TeamChannel{}, nil
}

type fakeCursorStore struct {
	mu     sync.Mutex
	cursor string
	resets int
}

func (f *fakeCursorStore) Get(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cursor, nil
}

func (f *fakeCursorStore) Set(_ context.Context, cursor string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cursor = cursor
	return nil
}

func (f *fakeCursorStore) Reset(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cursor = ""
	f.resets++
	return nil
}

type fakePublisher struct {
	mu               sync.Mutex
	batches          [][]queue.SendMessage
	prepared         []queue.PrepareMessage
	publishBatchFn   func(ctx context.Context, queueName string, msgs []queue.SendMessage) error
	publishPrepareFn func(ctx context.Context, msg queue.PrepareMessage) error
}

func (f *fakePublisher) PublishBatch(ctx context.Context, queueName string, msgs []queue.SendMessage) error {
	if f.publishBatchFn != nil {
		if err := f.publishBatchFn(ctx, queueName, msgs); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, append([]queue.SendMessage(nil), msgs...))
	return nil
}

func (f *fakePublisher) PublishPrepare(ctx context.Context, msg queue.PrepareMessage) error {
	if f.publishPrepareFn != nil {
		if err := f.publishPrepareFn(ctx, msg); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prepared = append(f.prepared, msg)
	return nil
}

func (f *fakePublisher) Close() error {
	return nil
}

func (f *fakePublisher) sent() []queue.SendMessage {
	f.mu.Lock()
	defer f.mu.Unlock()

	var all []queue.SendMessage
	for _, b := range f.batches {
		all = append(all, b...)
	}
	return all
}

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queueName string, handler queue.PrepareHandler) error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.PrepareHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, queueName, handler)
	}
	<-ctx.Done()
	return nil
}

func (f *fakeConsumer) Close() error {
	return nil
}

type fakeRunner struct {
	runFn func(ctx context.Context, notificationID string) error
}

func (f *fakeRunner) Run(ctx context.Context, notificationID string) error {
	if f.runFn != nil {
		return f.runFn(ctx, notificationID)
	}
	return nil
}

type fakeNotificationRepo struct {
	createFn            func(ctx context.Context, n *domain.Notification) error
	getByIDFn           func(ctx context.Context, id string) (*domain.Notification, error)
	transitionStatusFn  func(ctx context.Context, id string, from []domain.Status, to domain.Status) (bool, error)
	markSendingFn       func(ctx context.Context, id string, startedAt time.Time) (bool, error)
	markFailedFn        func(ctx context.Context, id string, message string) (bool, error)
	scheduleFn          func(ctx context.Context, id string, at time.Time) error
	cancelFn            func(ctx context.Context, id string) error
	updateCountersFn    func(ctx context.Context, id string, counters domain.Counters) error
	completeFn          func(ctx context.Context, id string, status domain.Status, sentAt time.Time, message *string) (bool, error)
	getDueForScheduleFn func(ctx context.Context, now time.Time, limit int) ([]domain.Notification, error)
	listByStatusFn      func(ctx context.Context, status domain.Status, limit int) ([]domain.Notification, error)
}

func (f *fakeNotificationRepo) Create(ctx context.Context, n *domain.Notification) error {
	if f.createFn != nil {
		return f.createFn(ctx, n)
	}
	return nil
}

func (f *fakeNotificationRepo) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeNotificationRepo) TransitionStatus(ctx context.Context, id string, from []domain.Status, to domain.Status) (bool, error) {
	if f.transitionStatusFn != nil {
		return f.transitionStatusFn(ctx, id, from, to)
	}
	return true, nil
}

func (f *fakeNotificationRepo) MarkSending(ctx context.Context, id string, startedAt time.Time) (bool, error) {
	if f.markSendingFn != nil {
		return f.markSendingFn(ctx, id, startedAt)
	}
	return true, nil
}

func (f *fakeNotificationRepo) MarkFailed(ctx context.Context, id string, message string) (bool, error) {
	if f.markFailedFn != nil {
		return f.markFailedFn(ctx, id, message)
	}
	return true, nil
}

func (f *fakeNotificationRepo) Schedule(ctx context.Context, id string, at time.Time) error {
	if f.scheduleFn != nil {
		return f.scheduleFn(ctx, id, at)
	}
	return nil
}

func (f *fakeNotificationRepo) Cancel(ctx context.Context, id string) error {
	if f.cancelFn != nil {
		return f.cancelFn(ctx, id)
	}
	return nil
}

func (f *fakeNotificationRepo) UpdateCounters(ctx context.Context, id string, counters domain.Counters) error {
	if f.updateCountersFn != nil {
		return f.updateCountersFn(ctx, id, counters)
	}
	return nil
}

func (f *fakeNotificationRepo) Complete(ctx context.Context, id string, status domain.Status, sentAt time.Time, message *string) (bool, error) {
	if f.completeFn != nil {
		return f.completeFn(ctx, id, status, sentAt, message)
	}
	return true, nil
}

func (f *fakeNotificationRepo) GetDueForSchedule(ctx context.Context, now time.Time, limit int) ([]domain.Notification, error) {
	if f.getDueForScheduleFn != nil {
		return f.getDueForScheduleFn(ctx, now, limit)
	}
	return nil, nil
}

func (f *fakeNotificationRepo) ListByStatus(ctx context.Context, status domain.Status, limit int) ([]domain.Notification, error) {
	if f.listByStatusFn != nil {
		return f.listByStatusFn(ctx, status, limit)
	}
	return nil, nil
}
