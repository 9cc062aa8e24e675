package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle state of a notification.
type Status string

const (
	StatusDraft             Status = "DRAFT"
	StatusScheduled         Status = "SCHEDULED"
	StatusQueued            Status = "QUEUED"
	StatusSyncingRecipients Status = "SYNCING_RECIPIENTS"
	StatusInstallingApp     Status = "INSTALLING_APP"
	StatusSending           Status = "SENDING"
	StatusSent              Status = "SENT"
	StatusFailed            Status = "FAILED"
	StatusCanceled          Status = "CANCELED"
)

// pipelineOrder ranks the non-terminal states in the order the pipeline visits them.
var pipelineOrder = map[Status]int{
	StatusDraft:             0,
	StatusScheduled:         1,
	StatusQueued:            2,
	StatusSyncingRecipients: 3,
	StatusInstallingApp:     4,
	StatusSending:           5,
}

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusDraft, StatusScheduled, StatusQueued, StatusSyncingRecipients,
		StatusInstallingApp, StatusSending, StatusSent, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

func (s Status) IsTerminal() bool {
	return s == StatusSent || s == StatusFailed || s == StatusCanceled
}

// IsCancelable reports whether an explicit cancel may move s to Canceled.
func (s Status) IsCancelable() bool {
	switch s {
	case StatusScheduled, StatusQueued, StatusSyncingRecipients, StatusInstallingApp, StatusSending:
		return true
	}
	return false
}

// Reached reports whether the pipeline has already progressed to (or past) target.
func (s Status) Reached(target Status) bool {
	if s.IsTerminal() {
		return true
	}
	return pipelineOrder[s] >= pipelineOrder[target]
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s Status) CanTransitionTo(next Status) bool {
	if s.IsTerminal() {
		return false
	}
	if next == StatusCanceled {
		return s.IsCancelable()
	}
	switch s {
	case StatusDraft:
		return next == StatusScheduled || next == StatusQueued
	case StatusScheduled:
		return next == StatusQueued
	case StatusQueued:
		return next == StatusSyncingRecipients || next == StatusFailed
	case StatusSyncingRecipients:
		return next == StatusInstallingApp || next == StatusSending || next == StatusFailed
	case StatusInstallingApp:
		return next == StatusSending || next == StatusFailed
	case StatusSending:
		return next == StatusSent || next == StatusFailed
	}
	return false
}

func ParseStatusFromString(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// AudienceType identifies what an audience row targets.
type AudienceType string

const (
	// AudienceTeam posts once into the team's general channel.
	AudienceTeam AudienceType = "TEAM"
	// AudienceRoster messages every member of the team individually.
	AudienceRoster AudienceType = "ROSTER"
	AudienceGroup  AudienceType = "GROUP"
)

func (a AudienceType) String() string { return string(a) }

func (a AudienceType) IsValid() bool {
	switch a {
	case AudienceTeam, AudienceRoster, AudienceGroup:
		return true
	}
	return false
}

func ParseAudienceTypeFromString(s string) (AudienceType, error) {
	at := AudienceType(strings.ToUpper(strings.TrimSpace(s)))
	if !at.IsValid() {
		return "", fmt.Errorf("%w: invalid audience type %q", ErrValidation, s)
	}
	return at, nil
}

// AudienceSpec is one targeted team, group, or roster of a notification.
type AudienceSpec struct {
	ID             int64
	NotificationID string
	Type           AudienceType
	TargetID       string
}

// Content is the authored message. The pipeline treats it as opaque input to the payload builder.
type Content struct {
	Title       string
	ImageLink   string
	Summary     string
	Author      string
	ButtonTitle string
	ButtonLink  string
}

// Notification is the unit of work delivered to a resolved audience.
type Notification struct {
	ID       string
	Content  Content
	AllUsers bool
	Audience []AudienceSpec
	Status   Status

	TotalRecipientCount    int
	SucceededCount         int
	FailedCount            int
	RecipientNotFoundCount int
	CanceledCount          int
	UnknownCount           int

	ErrorMessage       *string
	CreatedBy          string
	CreatedAt          time.Time
	ScheduledAt        *time.Time
	SendingStartedDate *time.Time
	SentDate           *time.Time
	UpdatedAt          time.Time
}

// Counters are the aggregate delivery counters stored on a notification.
type Counters struct {
	Total             int
	Succeeded         int
	Failed            int
	RecipientNotFound int
	Canceled          int
	Unknown           int
}

func (n *Notification) Counters() Counters {
	return Counters{
		Total:             n.TotalRecipientCount,
		Succeeded:         n.SucceededCount,
		Failed:            n.FailedCount,
		RecipientNotFound: n.RecipientNotFoundCount,
		Canceled:          n.CanceledCount,
		Unknown:           n.UnknownCount,
	}
}

func (n *Notification) Validate() error {
	if strings.TrimSpace(n.Content.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if !n.AllUsers && len(n.Audience) == 0 {
		return fmt.Errorf("%w: audience is required unless allUsers is set", ErrValidation)
	}
	if n.AllUsers && len(n.Audience) > 0 {
		return fmt.Errorf("%w: allUsers cannot be combined with audience entries", ErrValidation)
	}
	for _, a := range n.Audience {
		if !a.Type.IsValid() {
			return fmt.Errorf("%w: invalid audience type %q", ErrValidation, a.Type)
		}
		if strings.TrimSpace(a.TargetID) == "" {
			return fmt.Errorf("%w: audience target id is required", ErrValidation)
		}
	}
	if n.Content.ButtonLink != "" && n.Content.ButtonTitle == "" {
		return fmt.Errorf("%w: button title is required when a button link is set", ErrValidation)
	}
	return nil
}
