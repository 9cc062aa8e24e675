package observability

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsPipelineCollectors(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()

	metrics.AddRecipientsResolved("Group", 3)
	metrics.AddRecipientsResolved("group", 0)
	metrics.IncInstallAttempt("user", "installed")
	metrics.IncInstallAttempt("user", "installed")
	metrics.IncInstallAttempt("team", "circuit_open")
	metrics.AddMessagesEnqueued(100)
	metrics.IncNotificationCompleted("SENT")
	metrics.ObservePhaseDuration("resolve", 120*time.Millisecond)
	metrics.IncPrepareInFlight()
	metrics.DecPrepareInFlight()

	if got := testutil.ToFloat64(metrics.recipientsResolvedTotal.WithLabelValues("group")); got != 3 {
		t.Fatalf("recipients_resolved_total = %v, want 3", got)
	}
	if got := testutil.ToFloat64(metrics.installAttemptsTotal.WithLabelValues("user", "installed")); got != 2 {
		t.Fatalf("install_attempts_total{user,installed} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.installAttemptsTotal.WithLabelValues("team", "circuit_open")); got != 1 {
		t.Fatalf("install_attempts_total{team,circuit_open} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.sendMessagesEnqueuedTotal); got != 100 {
		t.Fatalf("send_messages_enqueued_total = %v, want 100", got)
	}
	if got := testutil.ToFloat64(metrics.notificationsCompletedTotal.WithLabelValues("sent")); got != 1 {
		t.Fatalf("notifications_completed_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.prepareInflight); got != 0 {
		t.Fatalf("prepare_inflight = %v, want 0", got)
	}
}

func TestMetricsNilReceiverIsSafe(t *testing.T) {
	t.Parallel()

	var metrics *Metrics
	metrics.AddRecipientsResolved("team", 1)
	metrics.IncInstallAttempt("user", "failed")
	metrics.AddMessagesEnqueued(1)
	metrics.IncNotificationCompleted("failed")
	metrics.ObservePhaseDuration("dispatch", time.Second)
	if metrics.Handler() == nil {
		t.Fatal("nil metrics should still expose a handler")
	}
}

func TestMetricsHTTPMiddlewareRecordsRequest(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	app := fiber.New()
	app.Use(metrics.HTTPMiddleware())
	app.Get("/livez", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	req := httptest.NewRequest("GET", "/livez", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/livez", "200")); got != 1 {
		t.Fatalf("http_requests_total = %v, want 1", got)
	}
}

func TestMetricsHTTPMiddlewareRecordsErrorStatus(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	app := fiber.New()
	app.Use(metrics.HTTPMiddleware())
	app.Get("/boom", func(c *fiber.Ctx) error {
		return errors.New("boom")
	})

	req := httptest.NewRequest("GET", "/boom", nil)
	_, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/boom", "500")); got != 1 {
		t.Fatalf("http_requests_total = %v, want 1", got)
	}
}
