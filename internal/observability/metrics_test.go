package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"doc-ingest-service/internal/entity"
)

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
	}
	return rr.Body.String()
}

func initMetrics(t *testing.T) http.Handler {
	t.Helper()
	handler, shutdown, err := InitMetrics()
	if err != nil {
		t.Fatalf("InitMetrics failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = shutdown(ctx)
	})
	return handler
}

func TestPipelineMetrics_AppearInOutput(t *testing.T) {
	handler := initMetrics(t)

	m, err := NewPipelineMetrics()
	if err != nil {
		t.Fatalf("NewPipelineMetrics: %v", err)
	}
	m.TaskFinished(context.Background(), entity.StateSuccess, 2*time.Second)
	m.TaskFinished(context.Background(), entity.StateFailure, time.Second)

	body := scrape(t, handler)
	if !strings.Contains(body, "docingest_tasks_finished") {
		t.Errorf("expected tasks counter in output:\n%s", body)
	}
	if !strings.Contains(body, `state="SUCCESS"`) || !strings.Contains(body, `state="FAILURE"`) {
		t.Errorf("expected state labels in output:\n%s", body)
	}
	if !strings.Contains(body, "docingest_task_duration") {
		t.Errorf("expected duration histogram in output:\n%s", body)
	}
}

func TestUploadMetrics_AppearInOutput(t *testing.T) {
	handler := initMetrics(t)

	m, err := NewUploadMetrics()
	if err != nil {
		t.Fatalf("NewUploadMetrics: %v", err)
	}
	m.UploadFinished(context.Background(), entity.FormatPDF, "queued", 1024)
	m.UploadFinished(context.Background(), "", "rejected", 0)

	body := scrape(t, handler)
	if !strings.Contains(body, "docingest_uploads") || !strings.Contains(body, `outcome="rejected"`) {
		t.Errorf("expected uploads counter in output:\n%s", body)
	}
	if !strings.Contains(body, "docingest_upload_bytes") {
		t.Errorf("expected bytes counter in output:\n%s", body)
	}
}

func TestRegisterQueueDepth(t *testing.T) {
	handler := initMetrics(t)

	if err := RegisterQueueDepth(func(context.Context) (int64, error) { return 7, nil }); err != nil {
		t.Fatalf("RegisterQueueDepth: %v", err)
	}
	body := scrape(t, handler)
	if !strings.Contains(body, "docingest_queue_depth") || !strings.Contains(body, " 7") {
		t.Errorf("expected queue depth 7 in output:\n%s", body)
	}
}

func TestRegisterQueueDepth_ErrorDoesNotBreakScrape(t *testing.T) {
	handler := initMetrics(t)

	if err := RegisterQueueDepth(func(context.Context) (int64, error) { return 0, errors.New("down") }); err != nil {
		t.Fatalf("RegisterQueueDepth: %v", err)
	}
	scrape(t, handler)
}
