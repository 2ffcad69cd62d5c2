package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

// LogWindowStats aggregates the log backend's view of one source over the
// observation window.
type LogWindowStats struct {
	SourceID   string
	Window     time.Duration
	TotalCount int
	ErrorCount int
	Samples    []LogExcerpt
}

// ErrorRate returns errors per second over the window.
func (s LogWindowStats) ErrorRate() float64 {
	if s.Window <= 0 {
		return 0
	}
	return float64(s.ErrorCount) / s.Window.Seconds()
}

// LogExcerpt is a matched log line returned for incident evidence.
type LogExcerpt struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Service   string    `json:"service"`
}

// LogsBackendClient queries an Elasticsearch-compatible search API for
// per-source error counts and sample excerpts.
type LogsBackendClient struct {
	baseURL    string
	index      string
	httpClient *http.Client
}

// NewLogsBackendClient constructs a client targeting the configured backend.
func NewLogsBackendClient(baseURL, index string, timeout time.Duration) *LogsBackendClient {
	if index == "" {
		index = "logs-*"
	}
	return &LogsBackendClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		index:   index,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Healthy reports whether the log backend cluster answers its health endpoint.
func (c *LogsBackendClient) Healthy(ctx context.Context) bool {
	if c == nil || c.baseURL == "" {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolvePath("/_cluster/health"), nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	var health struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return false
	}
	return health.Status == "green" || health.Status == "yellow"
}

// FetchWindowStats counts total and error-level events for one source over
// the window ending at now, plus a handful of error excerpts for evidence.
func (c *LogsBackendClient) FetchWindowStats(ctx context.Context, sourceID string, window time.Duration) (LogWindowStats, error) {
	if c == nil {
		return LogWindowStats{}, fmt.Errorf("logs backend client not initialised")
	}
	if c.baseURL == "" {
		return LogWindowStats{}, fmt.Errorf("logs backend base URL not configured")
	}

	stats := LogWindowStats{SourceID: sourceID, Window: window}

	total, err := c.count(ctx, sourceID, window, false)
	if err != nil {
		return LogWindowStats{}, fmt.Errorf("logs backend count failed: %w", err)
	}
	stats.TotalCount = total

	errorsCount, err := c.count(ctx, sourceID, window, true)
	if err != nil {
		return LogWindowStats{}, fmt.Errorf("logs backend error count failed: %w", err)
	}
	stats.ErrorCount = errorsCount

	if errorsCount > 0 {
		excerpts, err := c.searchErrors(ctx, sourceID, window, 5)
		if err == nil {
			stats.Samples = excerpts
		}
	}
	return stats, nil
}

func (c *LogsBackendClient) count(ctx context.Context, sourceID string, window time.Duration, errorsOnly bool) (int, error) {
	body := map[string]any{
		"query": buildQuery(sourceID, window, errorsOnly),
	}

	var response struct {
		Count int `json:"count"`
	}
	endpoint := c.resolvePath("/" + c.index + "/_count")
	if err := c.postJSON(ctx, endpoint, body, &response); err != nil {
		return 0, err
	}
	return response.Count, nil
}

func (c *LogsBackendClient) searchErrors(ctx context.Context, sourceID string, window time.Duration, size int) ([]LogExcerpt, error) {
	body := map[string]any{
		"size":  size,
		"query": buildQuery(sourceID, window, true),
		"sort":  []any{map[string]string{"@timestamp": "desc"}},
	}

	var response struct {
		Hits struct {
			Hits []struct {
				Source struct {
					Timestamp time.Time `json:"@timestamp"`
					Level     string    `json:"level"`
					Message   string    `json:"message"`
					Service   string    `json:"service"`
				} `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	endpoint := c.resolvePath("/" + c.index + "/_search")
	if err := c.postJSON(ctx, endpoint, body, &response); err != nil {
		return nil, err
	}

	excerpts := make([]LogExcerpt, 0, len(response.Hits.Hits))
	for _, hit := range response.Hits.Hits {
		excerpts = append(excerpts, LogExcerpt{
			Timestamp: hit.Source.Timestamp,
			Level:     hit.Source.Level,
			Message:   hit.Source.Message,
			Service:   hit.Source.Service,
		})
	}
	return excerpts, nil
}

func buildQuery(sourceID string, window time.Duration, errorsOnly bool) map[string]any {
	must := []any{
		map[string]any{"match": map[string]any{"service": sourceID}},
		map[string]any{"range": map[string]any{
			"@timestamp": map[string]any{"gte": fmt.Sprintf("now-%ds", int(window.Seconds()))},
		}},
	}
	if errorsOnly {
		must = append(must, map[string]any{"match": map[string]any{"level": "ERROR"}})
	}
	return map[string]any{"bool": map[string]any{"must": must}}
}

func (c *LogsBackendClient) resolvePath(p string) string {
	if c.baseURL == "" {
		return ""
	}
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

func (c *LogsBackendClient) postJSON(ctx context.Context, endpoint string, payload any, out any) error {
	if endpoint == "" {
		return fmt.Errorf("empty endpoint")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("logs backend returned %s", resp.Status)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
