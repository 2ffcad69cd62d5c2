package repo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestMetricsQuerySuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/query" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("query"); got != "up" {
			t.Errorf("unexpected query %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"status": "success",
			"data": map[string]any{
				"resultType": "vector",
				"result": []any{
					map[string]any{"value": []any{1717000000.5, "42.5"}},
				},
			},
		})
	}))
	defer srv.Close()

	client := NewMetricsBackendClient(srv.URL, "", time.Second)
	sample, err := client.Query(context.Background(), "up", time.Unix(1717000000, 0))
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if sample.Value != 42.5 {
		t.Fatalf("expected value 42.5, got %f", sample.Value)
	}
	if sample.Timestamp.Unix() != 1717000000 {
		t.Fatalf("unexpected sample timestamp %s", sample.Timestamp)
	}
}

func TestMetricsQueryEmptyResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"status": "success",
			"data":   map[string]any{"resultType": "vector", "result": []any{}},
		})
	}))
	defer srv.Close()

	client := NewMetricsBackendClient(srv.URL, "", time.Second)
	if _, err := client.Query(context.Background(), "vanished_series", time.Now()); err == nil {
		t.Fatalf("expected error for empty result vector")
	}
}

func TestMetricsQueryBackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewMetricsBackendClient(srv.URL, "", time.Second)
	if _, err := client.Query(context.Background(), "up", time.Now()); err == nil {
		t.Fatalf("expected error on 503 response")
	}
}

func TestMetricsQueryUnconfigured(t *testing.T) {
	client := NewMetricsBackendClient("", "", time.Second)
	if _, err := client.Query(context.Background(), "up", time.Now()); err == nil {
		t.Fatalf("expected error without base URL")
	}
}
