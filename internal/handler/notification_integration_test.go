package handler

import (
	"bytes"
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/broadcast-engine/internal/domain"
	"github.com/kursadbilgin/broadcast-engine/internal/transport"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func TestNotificationIntegration_CreateNotification(t *testing.T) {
	t.Parallel()

	svc := &stubNotificationService{
		createFn: func(ctx context.Context, n *domain.Notification) (*domain.Notification, error) {
			if err := n.Validate(); err != nil {
				return nil, err
			}
			n.ID = "n-created"
			n.Status = domain.StatusDraft
			return n, nil
		},
	}

	app := newNotificationTestApp(t, svc)

	validBody := `{"title":" Release ","summary":"v2 is out","audience":[{"type":"team","targetId":"t-1"},{"type":"GROUP","targetId":"g-1"}],"createdBy":"ops@contoso.com"}`
	resp, body := performRequest(t, app, http.MethodPost, "/v1/notifications", validBody)
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("status = %d, want 201, body=%s", resp.StatusCode, string(body))
	}

	var created map[string]any
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if created["id"] != "n-created" {
		t.Fatalf("id = %v, want n-created", created["id"])
	}
	if created["title"] != "Release" {
		t.Fatalf("title = %v, want trimmed Release", created["title"])
	}
	if created["status"] != domain.StatusDraft.String() {
		t.Fatalf("status = %v, want %s", created["status"], domain.StatusDraft.String())
	}
	audience, ok := created["audience"].([]any)
	if !ok || len(audience) != 2 {
		t.Fatalf("audience = %v, want 2 entries", created["audience"])
	}
	first, _ := audience[0].(map[string]any)
	if first["type"] != domain.AudienceTeam.String() {
		t.Fatalf("audience[0].type = %v, want %s", first["type"], domain.AudienceTeam.String())
	}

	tests := []struct {
		name string
		body string
	}{
		{name: "malformed body", body: `{"title":`},
		{name: "missing title", body: `{"title":"","allUsers":true}`},
		{name: "unknown audience type", body: `{"title":"x","audience":[{"type":"channel","targetId":"c-1"}]}`},
		{name: "no audience", body: `{"title":"x"}`},
		{name: "all users with audience", body: `{"title":"x","allUsers":true,"audience":[{"type":"TEAM","targetId":"t-1"}]}`},
	}
	for _, tc := range tests {
		resp, _ := performRequest(t, app, http.MethodPost, "/v1/notifications", tc.body)
		if resp.StatusCode != fiber.StatusBadRequest {
			t.Fatalf("%s: status = %d, want 400", tc.name, resp.StatusCode)
		}
	}
}

func TestNotificationIntegration_CreateAndSendNow(t *testing.T) {
	t.Parallel()

	var sentID string
	svc := &stubNotificationService{
		createFn: func(ctx context.Context, n *domain.Notification) (*domain.Notification, error) {
			n.ID = "n-now"
			n.Status = domain.StatusDraft
			return n, nil
		},
		sendFn: func(ctx context.Context, id string) (*domain.Notification, error) {
			sentID = id
			return &domain.Notification{ID: id, Status: domain.StatusQueued, AllUsers: true}, nil
		},
	}

	app := newNotificationTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodPost, "/v1/notifications", `{"title":"x","allUsers":true,"sendNow":true}`)
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", resp.StatusCode, string(body))
	}
	if sentID != "n-now" {
		t.Fatalf("sent id = %q, want n-now", sentID)
	}

	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed["status"] != domain.StatusQueued.String() {
		t.Fatalf("status = %v, want %s", parsed["status"], domain.StatusQueued.String())
	}
}

func TestNotificationIntegration_GetNotification(t *testing.T) {
	t.Parallel()

	sentAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	svc := &stubNotificationService{
		getFn: func(ctx context.Context, id string) (*domain.Notification, error) {
			if id != "n-1" {
				return nil, domain.ErrNotFound
			}
			return &domain.Notification{
				ID:                     "n-1",
				Content:                domain.Content{Title: "Release"},
				AllUsers:               true,
				Status:                 domain.StatusSent,
				TotalRecipientCount:    10,
				SucceededCount:         7,
				FailedCount:            2,
				RecipientNotFoundCount: 1,
				SentDate:               &sentAt,
			}, nil
		},
	}

	app := newNotificationTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodGet, "/v1/notifications/n-1", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}

	var parsed struct {
		Status   string           `json:"status"`
		Counters countersResponse `json:"counters"`
		SentDate *time.Time       `json:"sentDate"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed.Status != domain.StatusSent.String() {
		t.Fatalf("status = %q, want %s", parsed.Status, domain.StatusSent.String())
	}
	want := countersResponse{Total: 10, Succeeded: 7, Failed: 2, RecipientNotFound: 1}
	if parsed.Counters != want {
		t.Fatalf("counters = %+v, want %+v", parsed.Counters, want)
	}
	if parsed.SentDate == nil || !parsed.SentDate.Equal(sentAt) {
		t.Fatalf("sentDate = %v, want %v", parsed.SentDate, sentAt)
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/notifications/missing", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestNotificationIntegration_SendNotification(t *testing.T) {
	t.Parallel()

	svc := &stubNotificationService{
		sendFn: func(ctx context.Context, id string) (*domain.Notification, error) {
			switch id {
			case "n-draft":
				return &domain.Notification{ID: id, Status: domain.StatusQueued}, nil
			case "n-sent":
				return nil, domain.ErrConflict
			default:
				return nil, domain.ErrNotFound
			}
		},
	}

	app := newNotificationTestApp(t, svc)

	tests := []struct {
		path string
		want int
	}{
		{path: "/v1/notifications/n-draft/send", want: fiber.StatusAccepted},
		{path: "/v1/notifications/n-sent/send", want: fiber.StatusConflict},
		{path: "/v1/notifications/n-missing/send", want: fiber.StatusNotFound},
	}
	for _, tc := range tests {
		resp, body := performRequest(t, app, http.MethodPost, tc.path, "")
		if resp.StatusCode != tc.want {
			t.Fatalf("POST %s status = %d, want %d, body=%s", tc.path, resp.StatusCode, tc.want, string(body))
		}
	}
}

func TestNotificationIntegration_ScheduleNotification(t *testing.T) {
	t.Parallel()

	expected := time.Date(2026, 11, 1, 9, 30, 0, 0, time.UTC)
	svc := &stubNotificationService{
		scheduleFn: func(ctx context.Context, id string, at time.Time) (*domain.Notification, error) {
			if !at.Equal(expected) {
				t.Errorf("scheduledAt = %v, want %v", at, expected)
			}
			return &domain.Notification{ID: id, Status: domain.StatusScheduled, ScheduledAt: &at}, nil
		},
	}

	app := newNotificationTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodPost, "/v1/notifications/n-1/schedule", `{"scheduledAt":"2026-11-01T12:30:00+03:00"}`)
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", resp.StatusCode, string(body))
	}

	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed["status"] != domain.StatusScheduled.String() {
		t.Fatalf("status = %v, want %s", parsed["status"], domain.StatusScheduled.String())
	}
	if parsed["scheduledAt"] != "2026-11-01T09:30:00Z" {
		t.Fatalf("scheduledAt = %v, want 2026-11-01T09:30:00Z", parsed["scheduledAt"])
	}

	for _, body := range []string{`{"scheduledAt":"tomorrow"}`, `{}`} {
		resp, _ = performRequest(t, app, http.MethodPost, "/v1/notifications/n-1/schedule", body)
		if resp.StatusCode != fiber.StatusBadRequest {
			t.Fatalf("body %s: status = %d, want 400", body, resp.StatusCode)
		}
	}
}

func TestNotificationIntegration_CancelNotification(t *testing.T) {
	t.Parallel()

	svc := &stubNotificationService{
		cancelFn: func(ctx context.Context, id string) error {
			switch id {
			case "n-sending":
				return nil
			case "n-sent":
				return domain.ErrConflict
			default:
				return domain.ErrNotFound
			}
		},
	}

	app := newNotificationTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodPost, "/v1/notifications/n-sending/cancel", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}
	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed["status"] != domain.StatusCanceled.String() {
		t.Fatalf("status = %v, want %s", parsed["status"], domain.StatusCanceled.String())
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/notifications/n-sent/cancel", "")
	if resp.StatusCode != fiber.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/notifications/n-missing/cancel", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestNotificationIntegration_InternalErrorIsMasked(t *testing.T) {
	t.Parallel()

	svc := &stubNotificationService{
		getFn: func(ctx context.Context, id string) (*domain.Notification, error) {
			return nil, errors.New("dial tcp 10.0.0.5:5432: connection refused")
		},
	}

	app := newNotificationTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodGet, "/v1/notifications/n-1", "")
	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
	if strings.Contains(string(body), "10.0.0.5") {
		t.Fatalf("body leaks internal error: %s", string(body))
	}
}

func TestNewNotificationHandler_RequiresService(t *testing.T) {
	t.Parallel()

	if _, err := NewNotificationHandler(nil); err == nil {
		t.Fatal("NewNotificationHandler(nil) error = nil, want error")
	}
}

func TestHealthIntegration_LivezAndReadyz(t *testing.T) {
	t.Parallel()

	t.Run("livez returns 200", func(t *testing.T) {
		t.Parallel()

		app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
		RegisterHealthRoutes(app, sql.OpenDB(stubConnector{}), newStubRedisClient(nil), stubBroker{connected: true})

		resp, body := performRequest(t, app, http.MethodGet, "/livez", "")
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("readyz returns 200 when dependencies healthy", func(t *testing.T) {
		t.Parallel()

		sqlDB := sql.OpenDB(stubConnector{})
		t.Cleanup(func() { _ = sqlDB.Close() })

		rdb := newStubRedisClient(nil)
		t.Cleanup(func() { _ = rdb.Close() })

		app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
		RegisterHealthRoutes(app, sqlDB, rdb, stubBroker{connected: true})

		resp, body := performRequest(t, app, http.MethodGet, "/readyz", "")
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("readyz returns 503 when dependencies down", func(t *testing.T) {
		t.Parallel()

		sqlDB := sql.OpenDB(stubConnector{pingErr: errors.New("postgres down")})
		t.Cleanup(func() { _ = sqlDB.Close() })

		rdb := newStubRedisClient(errors.New("redis down"))
		t.Cleanup(func() { _ = rdb.Close() })

		app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
		RegisterHealthRoutes(app, sqlDB, rdb, stubBroker{connected: true})

		resp, body := performRequest(t, app, http.MethodGet, "/readyz", "")
		if resp.StatusCode != fiber.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503, body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("readyz returns 503 when broker disconnected", func(t *testing.T) {
		t.Parallel()

		sqlDB := sql.OpenDB(stubConnector{})
		t.Cleanup(func() { _ = sqlDB.Close() })

		rdb := newStubRedisClient(nil)
		t.Cleanup(func() { _ = rdb.Close() })

		app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
		RegisterHealthRoutes(app, sqlDB, rdb, stubBroker{connected: false})

		resp, body := performRequest(t, app, http.MethodGet, "/readyz", "")
		if resp.StatusCode != fiber.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503, body=%s", resp.StatusCode, string(body))
		}

		var parsed struct {
			Checks map[string]string `json:"checks"`
		}
		if err := json.Unmarshal(body, &parsed); err != nil {
			t.Fatalf("json unmarshal error = %v", err)
		}
		if parsed.Checks["rabbitmq"] != "down" || parsed.Checks["postgres"] != "ok" {
			t.Fatalf("checks = %v, want rabbitmq down and postgres ok", parsed.Checks)
		}
	})
}

type stubNotificationService struct {
	createFn   func(ctx context.Context, n *domain.Notification) (*domain.Notification, error)
	getFn      func(ctx context.Context, id string) (*domain.Notification, error)
	sendFn     func(ctx context.Context, id string) (*domain.Notification, error)
	scheduleFn func(ctx context.Context, id string, at time.Time) (*domain.Notification, error)
	cancelFn   func(ctx context.Context, id string) error
}

func (s *stubNotificationService) Create(ctx context.Context, n *domain.Notification) (*domain.Notification, error) {
	if s.createFn != nil {
		return s.createFn(ctx, n)
	}
	return nil, errors.New("not implemented")
}

func (s *stubNotificationService) Get(ctx context.Context, id string) (*domain.Notification, error) {
	if s.getFn != nil {
		return s.getFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (s *stubNotificationService) Send(ctx context.Context, id string) (*domain.Notification, error) {
	if s.sendFn != nil {
		return s.sendFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (s *stubNotificationService) Schedule(ctx context.Context, id string, at time.Time) (*domain.Notification, error) {
	if s.scheduleFn != nil {
		return s.scheduleFn(ctx, id, at)
	}
	return nil, domain.ErrNotFound
}

func (s *stubNotificationService) Cancel(ctx context.Context, id string) error {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, id)
	}
	return nil
}

type stubBroker struct {
	connected bool
}

func (b stubBroker) IsConnected() bool { return b.connected }

func newNotificationTestApp(t *testing.T, svc NotificationService) *fiber.App {
	t.Helper()

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(zap.NewNop()),
	})

	if err := RegisterNotificationRoutes(app, svc); err != nil {
		t.Fatalf("RegisterNotificationRoutes() error = %v", err)
	}

	return app
}

func performRequest(t *testing.T, app *fiber.App, method string, path string, body string) (*http.Response, []byte) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	_ = resp.Body.Close()

	return resp, respBody
}

type stubConnector struct {
	pingErr error
}

func (c stubConnector) Connect(context.Context) (driver.Conn, error) {
	return stubConn(c), nil
}

func (c stubConnector) Driver() driver.Driver {
	return stubDriver(c)
}

type stubDriver struct {
	pingErr error
}

func (d stubDriver) Open(string) (driver.Conn, error) {
	return stubConn(d), nil
}

type stubConn struct {
	pingErr error
}

func (c stubConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not implemented") }
func (c stubConn) Close() error                        { return nil }
func (c stubConn) Begin() (driver.Tx, error)           { return nil, errors.New("not implemented") }
func (c stubConn) Ping(context.Context) error          { return c.pingErr }

type stubRedisHook struct {
	pingErr error
}

func (h stubRedisHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (h stubRedisHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if strings.EqualFold(cmd.Name(), "ping") {
			if h.pingErr != nil {
				cmd.SetErr(h.pingErr)
				return h.pingErr
			}
			cmd.SetErr(nil)
			return nil
		}
		cmd.SetErr(nil)
		return nil
	}
}

func (h stubRedisHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		for _, cmd := range cmds {
			cmd.SetErr(nil)
		}
		return nil
	}
}

func newStubRedisClient(pingErr error) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:         "127.0.0.1:6379",
		DialTimeout:  time.Millisecond,
		ReadTimeout:  time.Millisecond,
		WriteTimeout: time.Millisecond,
	})
	rdb.AddHook(stubRedisHook{pingErr: pingErr})
	return rdb
}
