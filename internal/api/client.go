package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultTimeout = 30 * time.Second
	cliUserAgent   = "datasight-cli"

	releaseFrequencyPath = "/releases/metric/release-frequency/teambook/metric"
	lttdPath             = "/releases/metric/lttd/teambook/metric"
	mttrPath             = "/incident/metric/mttr/by-service/teambook/metric"
	cfrPath              = "/releases/metric/cfr/teambook/metric"
	lttdRecordsPath      = "/releases/metric/lttd/teambook/records"
)

// Client talks to the DataSight metric API. All calls are plain GETs with
// bearer auth; responses are decoded with UseNumber so numeric values survive
// a later re-encode unchanged.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

type Error struct {
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("api request failed with status %d", e.StatusCode)
	}

	return fmt.Sprintf("api request failed with status %d: %s", e.StatusCode, e.Body)
}

// MetricQuery carries the shared query parameters of the four metric endpoints.
type MetricQuery struct {
	From          string
	To            string
	TeambookIDs   string
	TeambookLevel int
	Page          int
	Size          int
}

func (q MetricQuery) params() map[string]string {
	return map[string]string{
		"from":          q.From,
		"to":            q.To,
		"teambookIds":   q.TeambookIDs,
		"teambookLevel": strconv.Itoa(q.TeambookLevel),
		"page":          strconv.Itoa(q.Page),
		"size":          strconv.Itoa(q.Size),
	}
}

// New builds a client for the given base URL. Insecure disables TLS
// certificate verification; the DataSight deployments this tool targets sit
// behind internal CAs, but the skip has to be asked for explicitly.
func New(baseURL, token string, timeout time.Duration, insecure bool) (*Client, error) {
	normalized := normalizeBaseURL(baseURL)
	if normalized == "" {
		return nil, fmt.Errorf("missing base URL")
	}

	if _, err := url.ParseRequestURI(normalized); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	if timeout <= 0 {
		timeout = defaultTimeout
	}

	httpClient := &http.Client{Timeout: timeout}
	if insecure {
		httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	return &Client{
		baseURL: normalized,
		token:   token,
		http:    httpClient,
	}, nil
}

func (c *Client) ReleaseFrequency(ctx context.Context, q MetricQuery) (map[string]any, error) {
	return c.getJSON(ctx, releaseFrequencyPath, q.params())
}

func (c *Client) LeadTimeToDeploy(ctx context.Context, q MetricQuery) (map[string]any, error) {
	return c.getJSON(ctx, lttdPath, q.params())
}

func (c *Client) MeanTimeToRecovery(ctx context.Context, q MetricQuery) (map[string]any, error) {
	return c.getJSON(ctx, mttrPath, q.params())
}

func (c *Client) ChangeFailureRate(ctx context.Context, q MetricQuery) (map[string]any, error) {
	return c.getJSON(ctx, cfrPath, q.params())
}

// LTTDRecords fetches the row-level records behind one LTTD aggregation key.
func (c *Client) LTTDRecords(ctx context.Context, aggKey string, page, size int) (map[string]any, error) {
	return c.getJSON(ctx, lttdRecordsPath, map[string]string{
		"aggKey": aggKey,
		"page":   strconv.Itoa(page),
		"size":   strconv.Itoa(size),
	})
}

func (c *Client) getJSON(ctx context.Context, path string, params map[string]string) (map[string]any, error) {
	fullURL := c.baseURL + path

	if len(params) > 0 {
		query := url.Values{}
		for key, value := range params {
			if value == "" {
				continue
			}
			query.Set(key, value)
		}
		if encoded := query.Encode(); encoded != "" {
			fullURL += "?" + encoded
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("User-Agent", cliUserAgent)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &Error{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(responseBody))}
	}

	if len(responseBody) == 0 {
		return nil, nil
	}

	var out map[string]any
	decoder := json.NewDecoder(bytes.NewReader(responseBody))
	decoder.UseNumber()
	if err := decoder.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return out, nil
}

func normalizeBaseURL(baseURL string) string {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return ""
	}

	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "https://" + baseURL
	}

	return strings.TrimRight(baseURL, "/")
}
