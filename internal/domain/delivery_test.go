package domain

import "testing"

func TestDeliveryStatusNeverLeavesTerminal(t *testing.T) {
	t.Parallel()

	all := []DeliveryStatus{
		DeliveryQueued, DeliveryRetrying, DeliverySucceeded,
		DeliveryFailed, DeliveryRecipientNotFound, DeliveryCanceled,
	}

	for _, from := range all {
		if !from.IsTerminal() {
			continue
		}
		for _, to := range all {
			if from.CanTransitionTo(to) {
				t.Errorf("%s -> %s should be rejected", from, to)
			}
		}
	}
}

func TestDeliveryStatusForwardTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from DeliveryStatus
		to   DeliveryStatus
		want bool
	}{
		{DeliveryQueued, DeliveryRetrying, true},
		{DeliveryQueued, DeliveryRecipientNotFound, true},
		{DeliveryQueued, DeliveryFailed, true},
		{DeliveryRetrying, DeliverySucceeded, true},
		{DeliveryRetrying, DeliveryFailed, true},
		{DeliveryRetrying, DeliveryQueued, false},
		{DeliveryQueued, DeliveryQueued, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestStatusCounts(t *testing.T) {
	t.Parallel()

	counts := StatusCounts{
		DeliveryQueued:            2,
		DeliveryRetrying:          1,
		DeliverySucceeded:         4,
		DeliveryFailed:            3,
		DeliveryRecipientNotFound: 1,
		DeliveryCanceled:          1,
	}

	if got := counts.Pending(); got != 3 {
		t.Fatalf("Pending() = %d, want 3", got)
	}

	c := counts.Counters()
	if c.Total != 12 {
		t.Fatalf("Total = %d, want 12", c.Total)
	}
	if c.Succeeded != 4 || c.Failed != 3 || c.RecipientNotFound != 1 || c.Canceled != 1 {
		t.Fatalf("Counters() = %+v", c)
	}
	if c.Unknown != 0 {
		t.Fatalf("Unknown = %d, want 0", c.Unknown)
	}
}

func TestDirectoryUserIsGuest(t *testing.T) {
	t.Parallel()

	if !(DirectoryUser{UserType: "guest"}).IsGuest() {
		t.Fatal("guest user type should be detected case-insensitively")
	}
	if (DirectoryUser{UserType: "Member"}).IsGuest() {
		t.Fatal("member should not be a guest")
	}
}
