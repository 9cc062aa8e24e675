package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/broadcast-engine/internal/domain"
)

type NotificationService interface {
	Create(ctx context.Context, n *domain.Notification) (*domain.Notification, error)
	Get(ctx context.Context, id string) (*domain.Notification, error)
	Send(ctx context.Context, id string) (*domain.Notification, error)
	Schedule(ctx context.Context, id string, at time.Time) (*domain.Notification, error)
	Cancel(ctx context.Context, id string) error
}

type NotificationHandler struct {
	service NotificationService
}

func NewNotificationHandler(service NotificationService) (*NotificationHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("notification service is required")
	}
	return &NotificationHandler{service: service}, nil
}

func RegisterNotificationRoutes(router fiber.Router, service NotificationService) error {
	h, err := NewNotificationHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/notifications", h.CreateNotification)
	v1.Get("/notifications/:id", h.GetNotification)
	v1.Post("/notifications/:id/send", h.SendNotification)
	v1.Post("/notifications/:id/schedule", h.ScheduleNotification)
	v1.Post("/notifications/:id/cancel", h.CancelNotification)

	return nil
}

type audienceRequest struct {
	Type     string `json:"type"`
	TargetID string `json:"targetId"`
}

type createNotificationRequest struct {
	Title       string            `json:"title"`
	ImageLink   string            `json:"imageLink"`
	Summary     string            `json:"summary"`
	Author      string            `json:"author"`
	ButtonTitle string            `json:"buttonTitle"`
	ButtonLink  string            `json:"buttonLink"`
	AllUsers    bool              `json:"allUsers"`
	Audience    []audienceRequest `json:"audience"`
	CreatedBy   string            `json:"createdBy"`
	// SendNow hands the draft straight to the pipeline after creation.
	SendNow bool `json:"sendNow"`
}

type scheduleNotificationRequest struct {
	ScheduledAt string `json:"scheduledAt"`
}

type audienceResponse struct {
	Type     string `json:"type"`
	TargetID string `json:"targetId"`
}

type countersResponse struct {
	Total             int `json:"total"`
	Succeeded         int `json:"succeeded"`
	Failed            int `json:"failed"`
	RecipientNotFound int `json:"recipientNotFound"`
	Canceled          int `json:"canceled"`
	Unknown           int `json:"unknown"`
}

type notificationResponse struct {
	ID                 string             `json:"id"`
	Title              string             `json:"title"`
	ImageLink          string             `json:"imageLink,omitempty"`
	Summary            string             `json:"summary,omitempty"`
	Author             string             `json:"author,omitempty"`
	ButtonTitle        string             `json:"buttonTitle,omitempty"`
	ButtonLink         string             `json:"buttonLink,omitempty"`
	AllUsers           bool               `json:"allUsers"`
	Audience           []audienceResponse `json:"audience"`
	Status             string             `json:"status"`
	Counters           countersResponse   `json:"counters"`
	ErrorMessage       *string            `json:"errorMessage,omitempty"`
	CreatedBy          string             `json:"createdBy,omitempty"`
	ScheduledAt        *time.Time         `json:"scheduledAt,omitempty"`
	SendingStartedDate *time.Time         `json:"sendingStartedDate,omitempty"`
	SentDate           *time.Time         `json:"sentDate,omitempty"`
	CreatedAt          time.Time          `json:"createdAt,omitempty"`
	UpdatedAt          time.Time          `json:"updatedAt,omitempty"`
}

func (h *NotificationHandler) CreateNotification(c *fiber.Ctx) error {
	var req createNotificationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	notification, err := requestToDomainNotification(req)
	if err != nil {
		return toHTTPError(err)
	}

	created, err := h.service.Create(c.Context(), &notification)
	if err != nil {
		return toHTTPError(err)
	}

	if !req.SendNow {
		return c.Status(fiber.StatusCreated).JSON(toNotificationResponse(created))
	}

	queued, err := h.service.Send(c.Context(), created.ID)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusAccepted).JSON(toNotificationResponse(queued))
}

func (h *NotificationHandler) GetNotification(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if id == "" {
		return fiber.NewError(fiber.StatusBadRequest, "notification id is required")
	}

	notification, err := h.service.Get(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toNotificationResponse(notification))
}

func (h *NotificationHandler) SendNotification(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if id == "" {
		return fiber.NewError(fiber.StatusBadRequest, "notification id is required")
	}

	notification, err := h.service.Send(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(toNotificationResponse(notification))
}

func (h *NotificationHandler) ScheduleNotification(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if id == "" {
		return fiber.NewError(fiber.StatusBadRequest, "notification id is required")
	}

	var req scheduleNotificationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	at, err := parseRFC3339(req.ScheduledAt, "scheduledAt")
	if err != nil {
		return toHTTPError(err)
	}

	notification, err := h.service.Schedule(c.Context(), id, at)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(toNotificationResponse(notification))
}

func (h *NotificationHandler) CancelNotification(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if id == "" {
		return fiber.NewError(fiber.StatusBadRequest, "notification id is required")
	}

	if err := h.service.Cancel(c.Context(), id); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"id":     id,
		"status": domain.StatusCanceled.String(),
	})
}

func parseRFC3339(value string, field string) (time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Time{}, fmt.Errorf("%w: %s is required", domain.ErrValidation, field)
	}

	t, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be RFC3339", domain.ErrValidation, field)
	}
	return t.UTC(), nil
}

func requestToDomainNotification(req createNotificationRequest) (domain.Notification, error) {
	audience := make([]domain.AudienceSpec, 0, len(req.Audience))
	for _, a := range req.Audience {
		audienceType, err := domain.ParseAudienceTypeFromString(a.Type)
		if err != nil {
			return domain.Notification{}, err
		}
		audience = append(audience, domain.AudienceSpec{
			Type:     audienceType,
			TargetID: strings.TrimSpace(a.TargetID),
		})
	}

	return domain.Notification{
		Content: domain.Content{
			Title:       strings.TrimSpace(req.Title),
			ImageLink:   strings.TrimSpace(req.ImageLink),
			Summary:     strings.TrimSpace(req.Summary),
			Author:      strings.TrimSpace(req.Author),
			ButtonTitle: strings.TrimSpace(req.ButtonTitle),
			ButtonLink:  strings.TrimSpace(req.ButtonLink),
		},
		AllUsers:  req.AllUsers,
		Audience:  audience,
		CreatedBy: strings.TrimSpace(req.CreatedBy),
	}, nil
}

func toNotificationResponse(n *domain.Notification) notificationResponse {
	if n == nil {
		return notificationResponse{}
	}

	audience := make([]audienceResponse, 0, len(n.Audience))
	for _, a := range n.Audience {
		audience = append(audience, audienceResponse{Type: a.Type.String(), TargetID: a.TargetID})
	}

	counters := n.Counters()
	return notificationResponse{
		ID:          n.ID,
		Title:       n.Content.Title,
		ImageLink:   n.Content.ImageLink,
		Summary:     n.Content.Summary,
		Author:      n.Content.Author,
		ButtonTitle: n.Content.ButtonTitle,
		ButtonLink:  n.Content.ButtonLink,
		AllUsers:    n.AllUsers,
		Audience:    audience,
		Status:      n.Status.String(),
		Counters: countersResponse{
			Total:             counters.Total,
			Succeeded:         counters.Succeeded,
			Failed:            counters.Failed,
			RecipientNotFound: counters.RecipientNotFound,
			Canceled:          counters.Canceled,
			Unknown:           counters.Unknown,
		},
		ErrorMessage:       n.ErrorMessage,
		CreatedBy:          n.CreatedBy,
		ScheduledAt:        n.ScheduledAt,
		SendingStartedDate: n.SendingStartedDate,
		SentDate:           n.SentDate,
		CreatedAt:          n.CreatedAt,
		UpdatedAt:          n.UpdatedAt,
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
