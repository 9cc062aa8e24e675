package repository

import (
	"time"

	"github.com/kursadbilgin/broadcast-engine/internal/domain"
	"gorm.io/datatypes"
)

// NotificationModel is the persistence model for the notifications table.
type NotificationModel struct {
	ID                     string        `gorm:"type:uuid;primaryKey"`
	Title                  string        `gorm:"type:varchar(255);not null"`
	ImageLink              string        `gorm:"type:text"`
	Summary                string        `gorm:"type:text"`
	Author                 string        `gorm:"type:varchar(255)"`
	ButtonTitle            string        `gorm:"type:varchar(255)"`
	ButtonLink             string        `gorm:"type:text"`
	AllUsers               bool          `gorm:"not null;default:false"`
	Status                 domain.Status `gorm:"type:varchar(20);not null;index"`
	TotalRecipientCount    int           `gorm:"not null;default:0"`
	SucceededCount         int           `gorm:"not null;default:0"`
	FailedCount            int           `gorm:"not null;default:0"`
	RecipientNotFoundCount int           `gorm:"not null;default:0"`
	CanceledCount          int           `gorm:"not null;default:0"`
	UnknownCount           int           `gorm:"not null;default:0"`
	ErrorMessage           *string       `gorm:"type:text"`
	CreatedBy              string        `gorm:"type:varchar(255)"`
	ScheduledAt            *time.Time
	SendingStartedDate     *time.Time
	SentDate               *time.Time
	CreatedAt              time.Time
	UpdatedAt              time.Time

	Audience []AudienceSpecModel `gorm:"foreignKey:NotificationID;constraint:OnDelete:CASCADE"`
}

func (NotificationModel) TableName() string {
	return "notifications"
}

// AudienceSpecModel is the persistence model for audience_specs.
type AudienceSpecModel struct {
	ID             int64               `gorm:"primaryKey;autoIncrement"`
	NotificationID string              `gorm:"type:uuid;not null;index"`
	Type           domain.AudienceType `gorm:"type:varchar(10);not null"`
	TargetID       string              `gorm:"type:varchar(255);not null"`
}

func (AudienceSpecModel) TableName() string {
	return "audience_specs"
}

// SentNotificationModel is the persistence model for sent_notifications,
// one row per delivery target.
type SentNotificationModel struct {
	ID             int64                 `gorm:"primaryKey;autoIncrement"`
	NotificationID string                `gorm:"type:uuid;not null;uniqueIndex:idx_sent_notifications_notification_recipient,priority:1"`
	RecipientID    string                `gorm:"type:varchar(255);not null;uniqueIndex:idx_sent_notifications_notification_recipient,priority:2"`
	RecipientType  domain.RecipientType  `gorm:"type:varchar(10);not null"`
	ConversationID *string               `gorm:"type:varchar(512)"`
	ServiceURL     *string               `gorm:"type:varchar(512)"`
	DeliveryStatus domain.DeliveryStatus `gorm:"type:varchar(20);not null"`
	RetryCount     int                   `gorm:"not null;default:0"`
	ErrorMessage   *string               `gorm:"type:text"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (SentNotificationModel) TableName() string {
	return "sent_notifications"
}

// DirectoryUserModel is the tenant-wide user cache.
type DirectoryUserModel struct {
	AadID             string  `gorm:"type:varchar(64);primaryKey"`
	DisplayName       string  `gorm:"type:varchar(255)"`
	Email             string  `gorm:"type:varchar(255)"`
	UserPrincipalName string  `gorm:"type:varchar(255)"`
	UserType          string  `gorm:"type:varchar(32)"`
	ConversationID    *string `gorm:"type:varchar(512)"`
	ServiceURL        *string `gorm:"type:varchar(512)"`
	LastSyncedDate    time.Time
}

func (DirectoryUserModel) TableName() string {
	return "directory_users"
}

// TeamChannelModel is the tenant-wide team conversation cache.
type TeamChannelModel struct {
	TeamAadID      string `gorm:"type:varchar(64);primaryKey"`
	Name           string `gorm:"type:varchar(255)"`
	ConversationID string `gorm:"type:varchar(512);not null"`
	ServiceURL     string `gorm:"type:varchar(512);not null"`
	UpdatedAt      time.Time
}

func (TeamChannelModel) TableName() string {
	return "team_channels"
}

// NotificationPayloadModel stores the rendered card sent to every recipient.
type NotificationPayloadModel struct {
	BlobKey        string         `gorm:"type:varchar(128);primaryKey"`
	NotificationID string         `gorm:"type:uuid;not null;uniqueIndex"`
	Payload        datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt      time.Time
}

func (NotificationPayloadModel) TableName() string {
	return "notification_payloads"
}

// AllModels lists every table owned by the service in creation order.
func AllModels() []any {
	return []any{
		&NotificationModel{},
		&AudienceSpecModel{},
		&SentNotificationModel{},
		&DirectoryUserModel{},
		&TeamChannelModel{},
		&NotificationPayloadModel{},
	}
}

func notificationModelFromDomain(n *domain.Notification) *NotificationModel {
	if n == nil {
		return nil
	}

	audience := make([]AudienceSpecModel, 0, len(n.Audience))
	for _, a := range n.Audience {
		audience = append(audience, AudienceSpecModel{
			ID:             a.ID,
			NotificationID: n.ID,
			Type:           a.Type,
			TargetID:       a.TargetID,
		})
	}

	return &NotificationModel{
		ID:                     n.ID,
		Title:                  n.Content.Title,
		ImageLink:              n.Content.ImageLink,
		Summary:                n.Content.Summary,
		Author:                 n.Content.Author,
		ButtonTitle:            n.Content.ButtonTitle,
		ButtonLink:             n.Content.ButtonLink,
		AllUsers:               n.AllUsers,
		Status:                 n.Status,
		TotalRecipientCount:    n.TotalRecipientCount,
		SucceededCount:         n.SucceededCount,
		FailedCount:            n.FailedCount,
		RecipientNotFoundCount: n.RecipientNotFoundCount,
		CanceledCount:          n.CanceledCount,
		UnknownCount:           n.UnknownCount,
		ErrorMessage:           n.ErrorMessage,
		CreatedBy:              n.CreatedBy,
		ScheduledAt:            n.ScheduledAt,
		SendingStartedDate:     n.SendingStartedDate,
		SentDate:               n.SentDate,
		CreatedAt:              n.CreatedAt,
		UpdatedAt:              n.UpdatedAt,
		Audience:               audience,
	}
}

func notificationModelToDomain(m *NotificationModel) *domain.Notification {
	if m == nil {
		return nil
	}

	var audience []domain.AudienceSpec
	if len(m.Audience) > 0 {
		audience = make([]domain.AudienceSpec, 0, len(m.Audience))
		for _, a := range m.Audience {
			audience = append(audience, domain.AudienceSpec{
				ID:             a.ID,
				NotificationID: a.NotificationID,
				Type:           a.Type,
				TargetID:       a.TargetID,
			})
		}
	}

	return &domain.Notification{
		ID: m.ID,
		Content: domain.Content{
			Title:       m.Title,
			ImageLink:   m.ImageLink,
			Summary:     m.Summary,
			Author:      m.Author,
			ButtonTitle: m.ButtonTitle,
			ButtonLink:  m.ButtonLink,
		},
		AllUsers:               m.AllUsers,
		Audience:               audience,
		Status:                 m.Status,
		TotalRecipientCount:    m.TotalRecipientCount,
		SucceededCount:         m.SucceededCount,
		FailedCount:            m.FailedCount,
		RecipientNotFoundCount: m.RecipientNotFoundCount,
		CanceledCount:          m.CanceledCount,
		UnknownCount:           m.UnknownCount,
		ErrorMessage:           m.ErrorMessage,
		CreatedBy:              m.CreatedBy,
		CreatedAt:              m.CreatedAt,
		ScheduledAt:            m.ScheduledAt,
		SendingStartedDate:     m.SendingStartedDate,
		SentDate:               m.SentDate,
		UpdatedAt:              m.UpdatedAt,
	}
}

func deliveryModelFromDomain(r *domain.DeliveryRecord) *SentNotificationModel {
	if r == nil {
		return nil
	}

	return &SentNotificationModel{
		ID:             r.ID,
		NotificationID: r.NotificationID,
		RecipientID:    r.RecipientID,
		RecipientType:  r.RecipientType,
		ConversationID: r.ConversationID,
		ServiceURL:     r.ServiceURL,
		DeliveryStatus: r.DeliveryStatus,
		RetryCount:     r.RetryCount,
		ErrorMessage:   r.ErrorMessage,
	}
}

func deliveryModelToDomain(m *SentNotificationModel) *domain.DeliveryRecord {
	if m == nil {
		return nil
	}

	return &domain.DeliveryRecord{
		ID:             m.ID,
		NotificationID: m.NotificationID,
		RecipientID:    m.RecipientID,
		RecipientType:  m.RecipientType,
		ConversationID: m.ConversationID,
		ServiceURL:     m.ServiceURL,
		DeliveryStatus: m.DeliveryStatus,
		RetryCount:     m.RetryCount,
		ErrorMessage:   m.ErrorMessage,
	}
}

func userModelFromDomain(u *domain.DirectoryUser) *DirectoryUserModel {
	if u == nil {
		return nil
	}

	return &DirectoryUserModel{
		AadID:             u.AadID,
		DisplayName:       u.DisplayName,
		Email:             u.Email,
		UserPrincipalName: u.UserPrincipalName,
		UserType:          u.UserType,
		ConversationID:    u.ConversationID,
		ServiceURL:        u.ServiceURL,
		LastSyncedDate:    u.LastSyncedDate,
	}
}

func userModelToDomain(m *DirectoryUserModel) *domain.DirectoryUser {
	if m == nil {
		return nil
	}

	return &domain.DirectoryUser{
		AadID:             m.AadID,
		DisplayName:       m.DisplayName,
		Email:             m.Email,
		UserPrincipalName: m.UserPrincipalName,
		UserType:          m.UserType,
		ConversationID:    m.ConversationID,
		ServiceURL:        m.ServiceURL,
		LastSyncedDate:    m.LastSyncedDate,
	}
}

func teamModelToDomain(m *TeamChannelModel) *domain.TeamChannel {
	if m == nil {
		return nil
	}

	return &domain.TeamChannel{
		TeamAadID:      m.TeamAadID,
		Name:           m.Name,
		ConversationID: m.ConversationID,
		ServiceURL:     m.ServiceURL,
		UpdatedAt:      m.UpdatedAt,
	}
}
