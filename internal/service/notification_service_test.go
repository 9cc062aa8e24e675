package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kursadbilgin/broadcast-engine/internal/domain"
	"github.com/kursadbilgin/broadcast-engine/internal/queue"
)

func newTestNotificationService(t *testing.T, stores testStores, publisher *fakePublisher) *NotificationService {
	t.Helper()

	svc, err := NewNotificationService(stores.notifications, stores.deliveries, publisher, nil)
	if err != nil {
		t.Fatalf("NewNotificationService() error = %v", err)
	}
	return svc
}

func TestNotificationServiceCreateStoresDraft(t *testing.T) {
	t.Parallel()

	stores := newTestStores(t)
	svc := newTestNotificationService(t, stores, &fakePublisher{})

	created, err := svc.Create(context.Background(), &domain.Notification{
		Content:        domain.Content{Title: "  All hands  ", Summary: "Friday 10:00"},
		Status:         domain.StatusSent,
		SucceededCount: 99,
		Audience: []domain.AudienceSpec{
			{Type: domain.AudienceGroup, TargetID: " group-1 "},
			{Type: domain.AudienceTeam, TargetID: "team-1"},
		},
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if created.ID == "" {
		t.Fatal("id should be generated")
	}

	got, err := svc.Get(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != domain.StatusDraft || got.SucceededCount != 0 {
		t.Fatalf("stored notification = %+v, want a clean draft", got)
	}
	if got.Content.Title != "All hands" {
		t.Fatalf("title = %q", got.Content.Title)
	}
	if len(got.Audience) != 2 || got.Audience[0].TargetID != "group-1" {
		t.Fatalf("audience = %+v", got.Audience)
	}
}

func TestNotificationServiceCreateValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		n    *domain.Notification
	}{
		{name: "nil", n: nil},
		{name: "missing title", n: &domain.Notification{AllUsers: true}},
		{name: "no audience", n: &domain.Notification{Content: domain.Content{Title: "x"}}},
		{
			name: "all users with audience",
			n: &domain.Notification{
				Content:  domain.Content{Title: "x"},
				AllUsers: true,
				Audience: []domain.AudienceSpec{{Type: domain.AudienceTeam, TargetID: "t"}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			svc, err := NewNotificationService(&fakeNotificationRepo{
				createFn: func(context.Context, *domain.Notification) error {
					t.Fatal("invalid notification must not be stored")
					return nil
				},
			}, nil, &fakePublisher{}, nil)
			if err != nil {
				t.Fatalf("NewNotificationService() error = %v", err)
			}

			if _, err := svc.Create(context.Background(), tt.n); !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("Create() error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestNotificationServiceSendQueuesDraft(t *testing.T) {
	t.Parallel()

	stores := newTestStores(t)
	publisher := &fakePublisher{}
	svc := newTestNotificationService(t, stores, publisher)

	n := &domain.Notification{ID: "n-send", AllUsers: true}
	createNotification(t, stores, n, domain.StatusDraft)

	sent, err := svc.Send(context.Background(), n.ID)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if sent.Status != domain.StatusQueued {
		t.Fatalf("status = %s, want QUEUED", sent.Status)
	}
	if len(publisher.prepared) != 1 || publisher.prepared[0].NotificationID != n.ID {
		t.Fatalf("prepared = %+v", publisher.prepared)
	}

	if _, err := svc.Send(context.Background(), n.ID); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("second Send() error = %v, want ErrConflict", err)
	}
	if _, err := svc.Send(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Send(missing) error = %v, want ErrNotFound", err)
	}
}

func TestNotificationServiceSendPublishFailureMarksFailed(t *testing.T) {
	t.Parallel()

	stores := newTestStores(t)
	publisher := &fakePublisher{
		publishPrepareFn: func(context.Context, queue.PrepareMessage) error {
			return errors.New("broker unavailable")
		},
	}
	svc := newTestNotificationService(t, stores, publisher)

	n := &domain.Notification{ID: "n-broker", AllUsers: true}
	createNotification(t, stores, n, domain.StatusDraft)

	if _, err := svc.Send(context.Background(), n.ID); err == nil {
		t.Fatal("Send() expected error")
	}
	if got := loadNotification(t, stores, n.ID); got.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want FAILED", got.Status)
	}
}

func TestNotificationServiceSchedule(t *testing.T) {
	t.Parallel()

	stores := newTestStores(t)
	svc := newTestNotificationService(t, stores, &fakePublisher{})
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	n := &domain.Notification{ID: "n-schedule", AllUsers: true}
	createNotification(t, stores, n, domain.StatusDraft)

	if _, err := svc.Schedule(context.Background(), n.ID, now.Add(-time.Minute)); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Schedule(past) error = %v, want ErrValidation", err)
	}

	at := now.Add(2 * time.Hour)
	scheduled, err := svc.Schedule(context.Background(), n.ID, at)
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	if scheduled.Status != domain.StatusScheduled || scheduled.ScheduledAt == nil || !scheduled.ScheduledAt.Equal(at) {
		t.Fatalf("scheduled = %+v", scheduled)
	}

	sending := &domain.Notification{ID: "n-sending", AllUsers: true}
	createNotification(t, stores, sending, domain.StatusSending)
	if _, err := svc.Schedule(context.Background(), sending.ID, at); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("Schedule(sending) error = %v, want ErrConflict", err)
	}
}

func TestNotificationServiceCancelStopsPendingDeliveries(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	stores := newTestStores(t)
	svc := newTestNotificationService(t, stores, &fakePublisher{})

	n := &domain.Notification{ID: "n-cancel", AllUsers: true}
	createNotification(t, stores, n, domain.StatusSending)
	seedStatuses(t, stores, n.ID, domain.DeliverySucceeded, domain.DeliveryQueued, domain.DeliveryRetrying)

	if err := svc.Cancel(ctx, n.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	got := loadNotification(t, stores, n.ID)
	if got.Status != domain.StatusCanceled {
		t.Fatalf("status = %s, want CANCELED", got.Status)
	}
	counts := countByStatus(t, stores, n.ID)
	if counts[domain.DeliveryCanceled] != 2 || counts[domain.DeliverySucceeded] != 1 {
		t.Fatalf("counts = %v, want 2 canceled and 1 succeeded", counts)
	}
	want := domain.Counters{Total: 3, Succeeded: 1, Canceled: 2}
	if got.Counters() != want {
		t.Fatalf("counters = %+v, want %+v", got.Counters(), want)
	}

	if err := svc.Cancel(ctx, n.ID); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("second Cancel() error = %v, want ErrConflict", err)
	}
	if err := svc.Cancel(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Cancel(missing) error = %v, want ErrNotFound", err)
	}
}
