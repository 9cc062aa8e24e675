package service

import (
	"context"
	"testing"
	"time"

	"github.com/kursadbilgin/broadcast-engine/internal/domain"
)

func TestAggregationScannerAggregatesAndForceCompletes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	stores := newTestStores(t)
	now := time.Now().UTC()

	stuck := &domain.Notification{ID: "n-stuck", AllUsers: true}
	createNotification(t, stores, stuck, domain.StatusInstallingApp)
	if _, err := stores.notifications.MarkSending(ctx, stuck.ID, now.Add(-25*time.Hour)); err != nil {
		t.Fatalf("MarkSending() error = %v", err)
	}
	seedStatuses(t, stores, stuck.ID, domain.DeliverySucceeded, domain.DeliveryQueued)

	done := &domain.Notification{ID: "n-done", AllUsers: true}
	createNotification(t, stores, done, domain.StatusSending)
	seedStatuses(t, stores, done.ID, domain.DeliverySucceeded, domain.DeliverySucceeded)

	running := &domain.Notification{ID: "n-running", AllUsers: true}
	createNotification(t, stores, running, domain.StatusSending)
	seedStatuses(t, stores, running.ID, domain.DeliverySucceeded, domain.DeliveryRetrying)

	scanner, err := NewAggregationScanner(
		stores.notifications,
		NewStatusAggregator(stores.notifications, stores.deliveries, nil),
		time.Second,
		24*time.Hour,
		10,
		nil,
	)
	if err != nil {
		t.Fatalf("NewAggregationScanner() error = %v", err)
	}
	scanner.now = func() time.Time { return now }

	if err := scanner.scan(ctx); err != nil {
		t.Fatalf("scan() error = %v", err)
	}

	tests := []struct {
		id     string
		status domain.Status
	}{
		{id: stuck.ID, status: domain.StatusFailed},
		{id: done.ID, status: domain.StatusSent},
		{id: running.ID, status: domain.StatusSending},
	}
	for _, tt := range tests {
		if got := loadNotification(t, stores, tt.id).Status; got != tt.status {
			t.Fatalf("%s status = %s, want %s", tt.id, got, tt.status)
		}
	}

	if got := loadNotification(t, stores, running.ID).TotalRecipientCount; got != 2 {
		t.Fatalf("running total = %d, want 2", got)
	}
}

func TestAggregationScannerExpiry(t *testing.T) {
	t.Parallel()

	scanner := &AggregationScanner{forceCompleteAfter: 24 * time.Hour}
	now := time.Date(2026, 5, 2, 12, 0, 0, 0, time.UTC)
	started := now.Add(-24 * time.Hour)
	recent := now.Add(-time.Hour)

	if scanner.expired(domain.Notification{}, now) {
		t.Fatal("notification without a start time must not expire")
	}
	if !scanner.expired(domain.Notification{SendingStartedDate: &started}, now) {
		t.Fatal("notification at the budget boundary must expire")
	}
	if scanner.expired(domain.Notification{SendingStartedDate: &recent}, now) {
		t.Fatal("recent notification must not expire")
	}
}
