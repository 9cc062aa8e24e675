package queue

import (
	"fmt"
	"strings"
)

// SendMessage is the wire contract between the dispatcher and the send
// worker. One message addresses one delivery record.
type SendMessage struct {
	NotificationID   string `json:"notificationId"`
	DeliveryRecordID int64  `json:"deliveryRecordId"`
	RecipientID      string `json:"recipientId"`
	ConversationID   string `json:"conversationId"`
	ServiceURL       string `json:"serviceUrl"`
	PayloadBlobKey   string `json:"payloadBlobKey"`
}

func (m SendMessage) Validate() error {
	if strings.TrimSpace(m.NotificationID) == "" {
		return fmt.Errorf("notificationId is required")
	}
	if m.DeliveryRecordID <= 0 {
		return fmt.Errorf("deliveryRecordId must be positive")
	}
	if strings.TrimSpace(m.RecipientID) == "" {
		return fmt.Errorf("recipientId is required")
	}
	if strings.TrimSpace(m.ConversationID) == "" {
		return fmt.Errorf("conversationId is required")
	}
	if strings.TrimSpace(m.PayloadBlobKey) == "" {
		return fmt.Errorf("payloadBlobKey is required")
	}
	return nil
}

// PrepareMessage asks a worker to run the preparation pipeline for one
// notification.
type PrepareMessage struct {
	NotificationID string `json:"notificationId"`
	CorrelationID  string `json:"correlationId,omitempty"`
}

func (m PrepareMessage) Validate() error {
	if strings.TrimSpace(m.NotificationID) == "" {
		return fmt.Errorf("notificationId is required")
	}
	return nil
}
