package domain

import (
	"fmt"
	"strings"
)

// DeliveryStatus is the per-recipient outcome of a notification.
type DeliveryStatus string

const (
	DeliveryQueued            DeliveryStatus = "QUEUED"
	DeliveryRetrying          DeliveryStatus = "RETRYING"
	DeliverySucceeded         DeliveryStatus = "SUCCEEDED"
	DeliveryFailed            DeliveryStatus = "FAILED"
	DeliveryRecipientNotFound DeliveryStatus = "RECIPIENT_NOT_FOUND"
	DeliveryCanceled          DeliveryStatus = "CANCELED"
)

func (s DeliveryStatus) String() string { return string(s) }

func (s DeliveryStatus) IsValid() bool {
	switch s {
	case DeliveryQueued, DeliveryRetrying, DeliverySucceeded, DeliveryFailed,
		DeliveryRecipientNotFound, DeliveryCanceled:
		return true
	}
	return false
}

func (s DeliveryStatus) IsTerminal() bool {
	switch s {
	case DeliverySucceeded, DeliveryFailed, DeliveryRecipientNotFound, DeliveryCanceled:
		return true
	}
	return false
}

// CanTransitionTo reports whether a record in state s may move to next.
// Terminal states have no successors.
func (s DeliveryStatus) CanTransitionTo(next DeliveryStatus) bool {
	switch s {
	case DeliveryQueued:
		return next == DeliveryRetrying || next.IsTerminal()
	case DeliveryRetrying:
		return next == DeliveryRetrying || next.IsTerminal()
	}
	return false
}

// RecipientType distinguishes personal deliveries from channel posts.
type RecipientType string

const (
	RecipientUser RecipientType = "USER"
	RecipientTeam RecipientType = "TEAM"
)

func (t RecipientType) String() string { return string(t) }

func (t RecipientType) IsValid() bool {
	return t == RecipientUser || t == RecipientTeam
}

func ParseRecipientTypeFromString(s string) (RecipientType, error) {
	rt := RecipientType(strings.ToUpper(strings.TrimSpace(s)))
	if !rt.IsValid() {
		return "", fmt.Errorf("%w: invalid recipient type %q", ErrValidation, s)
	}
	return rt, nil
}

// DeliveryRecord is one concrete delivery target of a notification.
// (NotificationID, RecipientID) is unique.
type DeliveryRecord struct {
	ID             int64
	NotificationID string
	RecipientID    string
	RecipientType  RecipientType
	ConversationID *string
	ServiceURL     *string
	DeliveryStatus DeliveryStatus
	RetryCount     int
	ErrorMessage   *string
}

// HasConversation reports whether the record can be addressed.
func (r *DeliveryRecord) HasConversation() bool {
	return r.ConversationID != nil && strings.TrimSpace(*r.ConversationID) != ""
}

// StatusCounts holds the number of records per delivery status.
type StatusCounts map[DeliveryStatus]int

// Pending is the number of records that have not reached a terminal state.
func (c StatusCounts) Pending() int {
	return c[DeliveryQueued] + c[DeliveryRetrying]
}

func (c StatusCounts) Total() int {
	total := 0
	for _, n := range c {
		total += n
	}
	return total
}

// Counters projects the status counts onto the notification counters. The
// unknown bucket is reserved and stays zero.
func (c StatusCounts) Counters() Counters {
	return Counters{
		Total:             c.Total(),
		Succeeded:         c[DeliverySucceeded],
		Failed:            c[DeliveryFailed],
		RecipientNotFound: c[DeliveryRecipientNotFound],
		Canceled:          c[DeliveryCanceled],
	}
}
