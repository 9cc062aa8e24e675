package domain

import (
	"strings"
	"time"
)

const userTypeGuest = "Guest"

// DirectoryUser is the local mirror of a directory identity.
type DirectoryUser struct {
	AadID             string
	DisplayName       string
	Email             string
	UserPrincipalName string
	UserType          string
	ConversationID    *string
	ServiceURL        *string
	LastSyncedDate    time.Time

	// Deleted is set on delta results for identities removed from the directory.
	Deleted bool
}

func (u DirectoryUser) IsGuest() bool {
	return strings.EqualFold(u.UserType, userTypeGuest)
}

// TeamChannel maps an AAD group id to the team's conversation thread.
type TeamChannel struct {
	TeamAadID      string
	Name           string
	ConversationID string
	ServiceURL     string
	UpdatedAt      time.Time
}

// ConversationHandle addresses a send to one recipient.
type ConversationHandle struct {
	RecipientID    string
	ConversationID string
	ServiceURL     string
}
