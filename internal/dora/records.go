package dora

import (
	"context"
	"fmt"
	"strings"
)

// Detail pages for the filtered report are larger than the default: the
// filter discards most rows, so fewer round trips win.
const filteredDetailSize = 100

// FilteredRecords returns the LTTD detail rows that are eligible for lead
// time measurement and exceed minDays. It walks every aggregation key of the
// LTTD metric payload sequentially; detail calls that fail are skipped, a
// failed metric call aborts.
func (f *Fetcher) FilteredRecords(ctx context.Context, q Query, minDays float64) ([]map[string]any, error) {
	fmt.Fprintf(f.progress, "Fetching LTTD records where lttd_eligible=true and LTTD > %g days...\n", minDays)

	lttd := f.LeadTimeToDeploy(ctx, q)
	if !lttd.OK() {
		if lttd.Error != "" {
			return nil, fmt.Errorf("fetch LTTD metrics: %s", lttd.Error)
		}
		return nil, fmt.Errorf("fetch LTTD metrics: empty payload")
	}

	var filtered []map[string]any
	for _, metricRecord := range lttd.Records() {
		aggKey := stringField(metricRecord, "aggKey")
		if aggKey == "" {
			continue
		}

		fmt.Fprintf(f.progress, "  Processing aggKey: %s\n", aggKey)
		details := f.Records(ctx, aggKey, detailPage, filteredDetailSize)
		if !details.OK() {
			continue
		}

		for _, record := range details.Records() {
			if !boolField(record, "lttd_eligible") {
				continue
			}
			days := numericField(record, "lead_time_to_deploy_numeric_days", "lead_time_to_deploy_days")
			if days > minDays {
				filtered = append(filtered, enrichRecord(record))
				fmt.Fprintf(f.progress, "    Matched: ID=%s, LTTD=%g days\n", stringField(record, "id"), days)
			}
		}
	}

	fmt.Fprintf(f.progress, "  Found %d records matching criteria\n", len(filtered))
	return filtered, nil
}

// enrichRecord copies a detail record and adds forge-specific commit and
// source diff URLs derived from repo_link and commit_id.
func enrichRecord(record map[string]any) map[string]any {
	enriched := make(map[string]any, len(record)+2)
	for key, value := range record {
		enriched[key] = value
	}

	repoLink := stringField(record, "repo_link")
	commitID := stringField(record, "commit_id")

	commitsURL := ""
	diffURL := ""
	if repoLink != "" && commitID != "" {
		switch {
		case strings.Contains(strings.ToLower(repoLink), "github"):
			commitsURL = repoLink + "/commit/" + commitID
			diffURL = repoLink + "/commit/" + commitID + ".diff"
		case strings.Contains(strings.ToLower(repoLink), "gitlab"):
			commitsURL = repoLink + "/-/commit/" + commitID
			diffURL = repoLink + "/-/commit/" + commitID + ".diff"
		case strings.Contains(strings.ToLower(repoLink), "bitbucket"):
			commitsURL = repoLink + "/commits/" + commitID
			diffURL = repoLink + "/diff/" + commitID
		default:
			commitsURL = repoLink + "/commit/" + commitID
			diffURL = repoLink + "/diff/" + commitID
		}
	}

	enriched["commits_url"] = commitsURL
	enriched["source_code_diff_url"] = diffURL
	return enriched
}
