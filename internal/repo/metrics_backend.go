package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"
)

// MetricSample is one instant-query result from the metrics backend.
type MetricSample struct {
	Timestamp time.Time
	Value     float64
}

// MetricsBackendClient queries a Prometheus-compatible instant query API.
type MetricsBackendClient struct {
	baseURL    string
	queryPath  string
	httpClient *http.Client
}

// NewMetricsBackendClient constructs a client targeting the configured backend.
func NewMetricsBackendClient(baseURL, queryPath string, timeout time.Duration) *MetricsBackendClient {
	if queryPath == "" {
		queryPath = "/api/v1/query"
	}
	return &MetricsBackendClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		queryPath: queryPath,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Query evaluates an instant query and returns the first sample of the result
// vector. An empty result is an error so a vanished series is visible to the
// caller rather than silently reading as zero.
func (c *MetricsBackendClient) Query(ctx context.Context, query string, at time.Time) (MetricSample, error) {
	if c == nil {
		return MetricSample{}, fmt.Errorf("metrics backend client not initialised")
	}
	if c.baseURL == "" {
		return MetricSample{}, fmt.Errorf("metrics backend base URL not configured")
	}

	endpoint := c.resolvePath(c.queryPath)
	params := url.Values{}
	params.Set("query", query)
	if !at.IsZero() {
		params.Set("time", strconv.FormatInt(at.Unix(), 10))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return MetricSample{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return MetricSample{}, fmt.Errorf("metrics backend query failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return MetricSample{}, fmt.Errorf("metrics backend returned %s", resp.Status)
	}

	var response struct {
		Status string `json:"status"`
		Data   struct {
			ResultType string `json:"resultType"`
			Result     []struct {
				Value [2]json.RawMessage `json:"value"`
			} `json:"result"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return MetricSample{}, fmt.Errorf("decode response: %w", err)
	}
	if response.Status != "success" {
		return MetricSample{}, fmt.Errorf("metrics backend status %q", response.Status)
	}
	if len(response.Data.Result) == 0 {
		return MetricSample{}, fmt.Errorf("metrics backend returned no samples")
	}

	return parseSample(response.Data.Result[0].Value)
}

func parseSample(pair [2]json.RawMessage) (MetricSample, error) {
	var ts float64
	if err := json.Unmarshal(pair[0], &ts); err != nil {
		return MetricSample{}, fmt.Errorf("parse sample timestamp: %w", err)
	}
	var raw string
	if err := json.Unmarshal(pair[1], &raw); err != nil {
		return MetricSample{}, fmt.Errorf("parse sample value: %w", err)
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return MetricSample{}, fmt.Errorf("parse sample value %q: %w", raw, err)
	}
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return MetricSample{Timestamp: time.Unix(sec, nsec).UTC(), Value: value}, nil
}

func (c *MetricsBackendClient) resolvePath(p string) string {
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
