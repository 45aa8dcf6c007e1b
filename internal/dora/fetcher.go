package dora

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/datasight-io/datasight-cli/internal/api"
)

// Detail calls always page from the start; the aggregation key already
// scopes the result set.
const (
	detailPage = 1
	detailSize = 50
)

// Metric display names, as they appear in envelopes and report sections.
const (
	NameReleaseFrequency = "Release Frequency"
	NameLTTD             = "Lead Time to Deploy (LTTD)"
	NameMTTR             = "Mean Time to Recovery (MTTR)"
	NameCFR              = "Change Failure Rate (CFR)"
)

// Fetcher wraps the API client with the error-containment contract: every
// metric operation returns an envelope, never an error. Progress lines go to
// the configured writer.
type Fetcher struct {
	client   *api.Client
	progress io.Writer
	now      func() time.Time
}

func NewFetcher(client *api.Client, progress io.Writer) *Fetcher {
	if progress == nil {
		progress = io.Discard
	}
	return &Fetcher{client: client, progress: progress, now: time.Now}
}

func (f *Fetcher) ReleaseFrequency(ctx context.Context, q Query) Result {
	data, err := f.client.ReleaseFrequency(ctx, metricQuery(q))
	return envelope(NameReleaseFrequency, data, err)
}

func (f *Fetcher) LeadTimeToDeploy(ctx context.Context, q Query) Result {
	data, err := f.client.LeadTimeToDeploy(ctx, metricQuery(q))
	return envelope(NameLTTD, data, err)
}

func (f *Fetcher) MeanTimeToRecovery(ctx context.Context, q Query) Result {
	data, err := f.client.MeanTimeToRecovery(ctx, metricQuery(q))
	return envelope(NameMTTR, data, err)
}

func (f *Fetcher) ChangeFailureRate(ctx context.Context, q Query) Result {
	data, err := f.client.ChangeFailureRate(ctx, metricQuery(q))
	return envelope(NameCFR, data, err)
}

// Records fetches the detail rows behind one aggregation key. The envelope
// carries no metric name, matching the detail payload shape.
func (f *Fetcher) Records(ctx context.Context, aggKey string, page, size int) Result {
	data, err := f.client.LTTDRecords(ctx, aggKey, page, size)
	return envelope("", data, err)
}

// FetchAll runs the four metric calls in fixed order, tolerating individual
// failures, then optionally drills into every LTTD aggregation key. The
// returned report is complete even when every call failed.
func (f *Fetcher) FetchAll(ctx context.Context, q Query, fetchDetails bool) *Report {
	report := &Report{
		Parameters: Parameters{
			FromDate:      q.From,
			ToDate:        q.To,
			TeambookIDs:   q.TeambookIDs,
			TeambookLevel: q.TeambookLevel,
			Timestamp:     f.now().Format(time.RFC3339),
		},
		Metrics: map[string]Result{},
	}

	steps := []struct {
		key   string
		label string
		fetch func(context.Context, Query) Result
	}{
		{MetricReleaseFrequency, NameReleaseFrequency, f.ReleaseFrequency},
		{MetricLTTD, NameLTTD, f.LeadTimeToDeploy},
		{MetricMTTR, NameMTTR, f.MeanTimeToRecovery},
		{MetricCFR, NameCFR, f.ChangeFailureRate},
	}

	for i, step := range steps {
		fmt.Fprintf(f.progress, "%d. Fetching %s...\n", i+1, step.label)
		result := step.fetch(ctx, q)
		report.Metrics[step.key] = result
		fmt.Fprintf(f.progress, "   Status: %s\n", result.Status)
		if result.OK() {
			fmt.Fprintf(f.progress, "   Records: %d\n", result.Count())
		}
	}

	if fetchDetails {
		fmt.Fprintln(f.progress, "5. Fetching detailed records using aggregation keys...")
		report.DetailedRecords = map[string]Result{}

		lttd := report.Metrics[MetricLTTD]
		if lttd.OK() {
			for _, record := range lttd.Records() {
				aggKey := stringField(record, "aggKey")
				if aggKey == "" {
					continue
				}
				fmt.Fprintf(f.progress, "   Fetching details for aggKey: %s\n", aggKey)
				report.DetailedRecords[aggKey] = f.Records(ctx, aggKey, detailPage, detailSize)
			}
		}
	}

	return report
}

func metricQuery(q Query) api.MetricQuery {
	return api.MetricQuery{
		From:          q.From,
		To:            q.To,
		TeambookIDs:   q.TeambookIDs,
		TeambookLevel: q.TeambookLevel,
		Page:          q.Page,
		Size:          q.Size,
	}
}

func envelope(metric string, data map[string]any, err error) Result {
	if err != nil {
		return Result{Metric: metric, Status: StatusError, Error: err.Error()}
	}
	return Result{Metric: metric, Status: StatusSuccess, Data: data}
}
