package dora

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/datasight-io/datasight-cli/internal/api"
)

const (
	rfPath      = "/releases/metric/release-frequency/teambook/metric"
	lttdPath    = "/releases/metric/lttd/teambook/metric"
	mttrPath    = "/incident/metric/mttr/by-service/teambook/metric"
	cfrPath     = "/releases/metric/cfr/teambook/metric"
	recordsPath = "/releases/metric/lttd/teambook/records"
)

func testQuery() Query {
	return Query{
		From:          "2025-09",
		To:            "2025-10",
		TeambookIDs:   "5449",
		TeambookLevel: 3,
		Page:          1,
		Size:          50,
	}
}

func newTestFetcher(t *testing.T, handler http.Handler) *Fetcher {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := api.New(server.URL, "token", time.Second, false)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return NewFetcher(client, io.Discard)
}

func TestFetchAllIssuesFourRequests(t *testing.T) {
	t.Parallel()

	queries := map[string]url.Values{}
	fetcher := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queries[r.URL.Path] = r.URL.Query()
		w.Write([]byte(`{"count": 1, "data": []}`))
	}))

	report := fetcher.FetchAll(context.Background(), testQuery(), false)

	if len(queries) != 4 {
		t.Fatalf("expected 4 requests, got %d: %v", len(queries), queries)
	}

	for _, path := range []string{rfPath, lttdPath, mttrPath, cfrPath} {
		query, ok := queries[path]
		if !ok {
			t.Fatalf("missing request to %s", path)
		}
		if query.Get("from") != "2025-09" || query.Get("to") != "2025-10" {
			t.Fatalf("%s: unexpected period: %v", path, query)
		}
		if query.Get("teambookIds") != "5449" || query.Get("teambookLevel") != "3" {
			t.Fatalf("%s: unexpected teambook params: %v", path, query)
		}
	}

	for _, key := range []string{MetricReleaseFrequency, MetricLTTD, MetricMTTR, MetricCFR} {
		result, ok := report.Metrics[key]
		if !ok {
			t.Fatalf("missing metric %s", key)
		}
		if result.Status != StatusSuccess {
			t.Fatalf("metric %s: status %s, error %q", key, result.Status, result.Error)
		}
	}

	if report.DetailedRecords != nil {
		t.Fatalf("detail records fetched without fetch-details")
	}
}

func TestFetchAllSuccessKeepsPayload(t *testing.T) {
	t.Parallel()

	fetcher := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"count": 3, "data": [{"yearMonth": "2025-09"}]}`))
	}))

	result := fetcher.ReleaseFrequency(context.Background(), testQuery())

	if result.Status != StatusSuccess {
		t.Fatalf("unexpected status: %s (%s)", result.Status, result.Error)
	}
	if result.Metric != NameReleaseFrequency {
		t.Fatalf("unexpected metric name: %q", result.Metric)
	}
	if result.Count() != 3 {
		t.Fatalf("count = %d, want 3", result.Count())
	}
	records := result.Records()
	if len(records) != 1 || records[0]["yearMonth"] != "2025-09" {
		t.Fatalf("payload not preserved: %#v", records)
	}
}

func TestFetchAllPartialFailure(t *testing.T) {
	t.Parallel()

	fetcher := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == mttrPath {
			http.Error(w, "upstream exploded", http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"count": 0, "data": []}`))
	}))

	report := fetcher.FetchAll(context.Background(), testQuery(), false)

	mttr := report.Metrics[MetricMTTR]
	if mttr.Status != StatusError {
		t.Fatalf("mttr status = %s, want error", mttr.Status)
	}
	if mttr.Error == "" {
		t.Fatalf("mttr error message is empty")
	}
	if !strings.Contains(mttr.Error, "upstream exploded") {
		t.Fatalf("mttr error lost the body: %q", mttr.Error)
	}

	for _, key := range []string{MetricReleaseFrequency, MetricLTTD, MetricCFR} {
		if report.Metrics[key].Status != StatusSuccess {
			t.Fatalf("metric %s blocked by sibling failure: %#v", key, report.Metrics[key])
		}
	}

	if report.ErrorCount() != 1 {
		t.Fatalf("error count = %d, want 1", report.ErrorCount())
	}
}

func TestFetchAllTransportFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	client, err := api.New(server.URL, "token", time.Second, false)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	server.Close()

	fetcher := NewFetcher(client, io.Discard)
	result := fetcher.ChangeFailureRate(context.Background(), testQuery())

	if result.Status != StatusError {
		t.Fatalf("status = %s, want error", result.Status)
	}
	if result.Error == "" {
		t.Fatalf("transport failure produced empty error message")
	}
}

func TestFetchAllDetailRequests(t *testing.T) {
	t.Parallel()

	var detailKeys []string
	fetcher := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case lttdPath:
			w.Write([]byte(`{"count": 3, "data": [
				{"yearMonth": "2025-09", "aggKey": "K1"},
				{"yearMonth": "2025-09"},
				{"yearMonth": "2025-10", "aggKey": "K2"}
			]}`))
		case recordsPath:
			detailKeys = append(detailKeys, r.URL.Query().Get("aggKey"))
			w.Write([]byte(`{"count": 1, "data": [{"id": "CR1"}]}`))
		default:
			w.Write([]byte(`{"count": 0, "data": []}`))
		}
	}))

	report := fetcher.FetchAll(context.Background(), testQuery(), true)

	if len(detailKeys) != 2 {
		t.Fatalf("expected 2 detail requests, got %v", detailKeys)
	}
	if detailKeys[0] != "K1" || detailKeys[1] != "K2" {
		t.Fatalf("unexpected detail keys: %v", detailKeys)
	}

	if len(report.DetailedRecords) != 2 {
		t.Fatalf("expected 2 detail envelopes, got %d", len(report.DetailedRecords))
	}
	for _, key := range []string{"K1", "K2"} {
		details, ok := report.DetailedRecords[key]
		if !ok {
			t.Fatalf("missing detail envelope for %s", key)
		}
		if details.Status != StatusSuccess {
			t.Fatalf("detail %s: %s (%s)", key, details.Status, details.Error)
		}
	}
}

func TestFetchAllDetailsSkippedWhenMetricFails(t *testing.T) {
	t.Parallel()

	detailCalls := 0
	fetcher := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case lttdPath:
			http.Error(w, "nope", http.StatusForbidden)
		case recordsPath:
			detailCalls++
			w.Write([]byte(`{}`))
		default:
			w.Write([]byte(`{"count": 0, "data": []}`))
		}
	}))

	report := fetcher.FetchAll(context.Background(), testQuery(), true)

	if detailCalls != 0 {
		t.Fatalf("detail requests issued despite LTTD failure: %d", detailCalls)
	}
	if report.DetailedRecords == nil || len(report.DetailedRecords) != 0 {
		t.Fatalf("unexpected detail records: %#v", report.DetailedRecords)
	}
}

func TestReportParametersSnapshot(t *testing.T) {
	t.Parallel()

	fetcher := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"count": 0, "data": []}`))
	}))
	fetcher.now = func() time.Time { return time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC) }

	report := fetcher.FetchAll(context.Background(), testQuery(), false)

	params := report.Parameters
	if params.FromDate != "2025-09" || params.ToDate != "2025-10" {
		t.Fatalf("unexpected period snapshot: %#v", params)
	}
	if params.TeambookIDs != "5449" || params.TeambookLevel != 3 {
		t.Fatalf("unexpected teambook snapshot: %#v", params)
	}
	if params.Timestamp != "2026-08-27T10:00:00Z" {
		t.Fatalf("unexpected timestamp: %q", params.Timestamp)
	}
}
