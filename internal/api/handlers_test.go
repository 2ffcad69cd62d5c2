package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Codewithaiyan/ObserveAI/internal/analysis"
	"github.com/Codewithaiyan/ObserveAI/internal/baseline"
	"github.com/Codewithaiyan/ObserveAI/internal/config"
	"github.com/Codewithaiyan/ObserveAI/internal/correlator"
	"github.com/Codewithaiyan/ObserveAI/internal/dispatch"
	"github.com/Codewithaiyan/ObserveAI/internal/engine"
	"github.com/Codewithaiyan/ObserveAI/internal/models"
	"github.com/Codewithaiyan/ObserveAI/internal/repo"
	"github.com/Codewithaiyan/ObserveAI/internal/scorer"
)

type staticLogs struct {
	errorCount int
}

func (s staticLogs) FetchWindowStats(ctx context.Context, sourceID string, window time.Duration) (repo.LogWindowStats, error) {
	return repo.LogWindowStats{SourceID: sourceID, Window: window, TotalCount: 100, ErrorCount: s.errorCount}, nil
}

type silentChannel struct{ name string }

func (s silentChannel) Name() string { return s.name }
func (s silentChannel) Send(ctx context.Context, incident models.Incident, level int) error {
	return nil
}

// laggingChannel answers after the request handler has long returned, and
// fails if its context was cancelled in the meantime.
type laggingChannel struct {
	mu        sync.Mutex
	delivered int
}

func (c *laggingChannel) Name() string { return dispatch.ChannelChat }

func (c *laggingChannel) Send(ctx context.Context, incident models.Incident, level int) error {
	time.Sleep(100 * time.Millisecond)
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.delivered++
	c.mu.Unlock()
	return nil
}

func (c *laggingChannel) deliveredCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delivered
}

func newTestHandler(t *testing.T, errorCount int, channel dispatch.Channel) (*Handler, *engine.Monitor) {
	t.Helper()

	cfg := config.Config{
		Logs: config.LogsBackend{Window: 100 * time.Second, Sources: []string{"checkout"}},
		Detection: config.DetectionConfig{
			PollingInterval:    time.Second,
			ErrorRateThreshold: 0.5,
			HighErrorThreshold: 25,
			MinSamples:         5,
			CorrelationWindow:  time.Hour,
			QuietPeriod:        time.Hour,
		},
	}

	monitor := engine.New(
		cfg,
		nil,
		staticLogs{errorCount: errorCount},
		baseline.NewStore("", nil),
		scorer.New(scorer.Config{}),
		correlator.New(correlator.Config{CorrelationWindow: time.Hour, QuietPeriod: time.Hour}, nil),
		analysis.NewRequester("", 0, nil),
		dispatch.New([]dispatch.Channel{channel}, nil, nil, dispatch.Config{}, nil),
		nil,
	)
	return NewHandler(monitor, nil), monitor
}

func doRequest(t *testing.T, h *Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealthOK(t *testing.T) {
	h, monitor := newTestHandler(t, 0, silentChannel{name: dispatch.ChannelChat})
	monitor.Tick(context.Background())

	rec := doRequest(t, h, http.MethodGet, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	h, monitor := newTestHandler(t, 0, silentChannel{name: dispatch.ChannelChat})
	monitor.Tick(context.Background())

	rec := doRequest(t, h, http.MethodGet, "/api/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var status engine.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.Ticks != 1 {
		t.Fatalf("expected one tick in status, got %d", status.Ticks)
	}
}

func TestListAndGetIncidents(t *testing.T) {
	h, monitor := newTestHandler(t, 200, silentChannel{name: dispatch.ChannelChat})
	monitor.Tick(context.Background())

	rec := doRequest(t, h, http.MethodGet, "/api/incidents")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var listed struct {
		Incidents []models.Incident `json:"incidents"`
		Count     int               `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode incidents: %v", err)
	}
	if listed.Count != 1 {
		t.Fatalf("expected one incident, got %d", listed.Count)
	}

	rec = doRequest(t, h, http.MethodGet, "/api/incidents/"+listed.Incidents[0].ID)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for known incident, got %d", rec.Code)
	}

	rec = doRequest(t, h, http.MethodGet, "/api/incidents/no-such-id")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown incident, got %d", rec.Code)
	}
}

func TestListIncidentsBadLimit(t *testing.T) {
	h, _ := newTestHandler(t, 0, silentChannel{name: dispatch.ChannelChat})
	rec := doRequest(t, h, http.MethodGet, "/api/incidents?limit=banana")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", rec.Code)
	}
}

func TestResolveIncident(t *testing.T) {
	h, monitor := newTestHandler(t, 200, silentChannel{name: dispatch.ChannelChat})
	monitor.Tick(context.Background())

	incidents := monitor.ListIncidents(0)
	rec := doRequest(t, h, http.MethodPost, "/api/incidents/"+incidents[0].ID+"/resolve")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	inc, _ := monitor.GetIncident(incidents[0].ID)
	if inc.Status != models.StatusResolved {
		t.Fatalf("expected resolved status, got %s", inc.Status)
	}

	rec = doRequest(t, h, http.MethodPost, "/api/incidents/"+incidents[0].ID+"/resolve")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 resolving twice, got %d", rec.Code)
	}
}

func TestResetBaselinesEndpoint(t *testing.T) {
	h, monitor := newTestHandler(t, 0, silentChannel{name: dispatch.ChannelChat})
	monitor.Tick(context.Background())

	rec := doRequest(t, h, http.MethodPost, "/api/baselines/reset?source=checkout")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Removed int `json:"removed"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	// The source learned an error-rate and a log-volume series.
	if resp.Removed != 2 {
		t.Fatalf("expected two series removed, got %d", resp.Removed)
	}
}

func TestTriggerAnalysisRunsImmediateCycle(t *testing.T) {
	h, monitor := newTestHandler(t, 0, silentChannel{name: dispatch.ChannelChat})

	rec := doRequest(t, h, http.MethodPost, "/api/analyze?source=checkout")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Signals   int `json:"signals"`
		Anomalies int `json:"anomalies"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	// One log source yields an error-rate and a log-volume signal.
	if resp.Signals != 2 || resp.Anomalies != 0 {
		t.Fatalf("expected two benign signals collected, got %+v", resp)
	}
	if status := monitor.Status(); status.LearnedSeries != 2 {
		t.Fatalf("expected out-of-band cycle to feed the baselines")
	}
}

func TestTriggerAnalysisAlertDeliveryOutlivesRequest(t *testing.T) {
	channel := &laggingChannel{}
	h, monitor := newTestHandler(t, 200, channel)

	srv := httptest.NewServer(h.Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/analyze?source=checkout", "application/json", nil)
	if err != nil {
		t.Fatalf("analyze request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	// The handler has returned and its request context is cancelled; the
	// incident opened by the forced cycle must still get its delivery.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && channel.deliveredCount() == 0 {
		time.Sleep(10 * time.Millisecond)
	}
	if channel.deliveredCount() != 1 {
		t.Fatalf("expected alert delivered after the request finished")
	}

	history := monitor.AlertHistory(0)
	if len(history) != 1 || history[0].Status != models.DeliveryDelivered {
		t.Fatalf("expected one delivered alert record, got %+v", history)
	}
}

func TestTestAlertEndpoint(t *testing.T) {
	h, _ := newTestHandler(t, 0, silentChannel{name: dispatch.ChannelChat})
	rec := doRequest(t, h, http.MethodPost, "/api/alerts/test")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Alerts []models.Alert `json:"alerts"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Alerts) != 1 || resp.Alerts[0].Status != models.DeliveryDelivered {
		t.Fatalf("expected delivered test alert, got %+v", resp.Alerts)
	}
}
