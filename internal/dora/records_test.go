package dora

import (
	"context"
	"net/http"
	"testing"
)

func TestFilteredRecordsSelection(t *testing.T) {
	t.Parallel()

	fetcher := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case lttdPath:
			w.Write([]byte(`{"count": 1, "data": [{"aggKey": "K1"}]}`))
		case recordsPath:
			w.Write([]byte(`{"count": 5, "data": [
				{"id": "a", "lttd_eligible": true, "lead_time_to_deploy_numeric_days": 20},
				{"id": "b", "lttd_eligible": true, "lead_time_to_deploy_days": "30"},
				{"id": "c", "lttd_eligible": false, "lead_time_to_deploy_numeric_days": 40},
				{"id": "d", "lttd_eligible": true, "lead_time_to_deploy_numeric_days": 15},
				{"id": "e", "lttd_eligible": true}
			]}`))
		default:
			w.Write([]byte(`{}`))
		}
	}))

	records, err := fetcher.FilteredRecords(context.Background(), testQuery(), 15)
	if err != nil {
		t.Fatalf("filtered records: %v", err)
	}

	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0]["id"] != "a" || records[1]["id"] != "b" {
		t.Fatalf("unexpected selection: %v, %v", records[0]["id"], records[1]["id"])
	}

	for _, record := range records {
		if _, ok := record["commits_url"]; !ok {
			t.Fatalf("record %v missing commits_url enrichment", record["id"])
		}
		if _, ok := record["source_code_diff_url"]; !ok {
			t.Fatalf("record %v missing diff url enrichment", record["id"])
		}
	}
}

func TestFilteredRecordsMetricFailure(t *testing.T) {
	t.Parallel()

	fetcher := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "denied", http.StatusForbidden)
	}))

	if _, err := fetcher.FilteredRecords(context.Background(), testQuery(), 15); err == nil {
		t.Fatalf("expected error when the LTTD metric call fails")
	}
}

func TestFilteredRecordsSkipsFailedDetails(t *testing.T) {
	t.Parallel()

	fetcher := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case lttdPath:
			w.Write([]byte(`{"count": 2, "data": [{"aggKey": "BAD"}, {"aggKey": "GOOD"}]}`))
		case recordsPath:
			if r.URL.Query().Get("aggKey") == "BAD" {
				http.Error(w, "gone", http.StatusNotFound)
				return
			}
			w.Write([]byte(`{"count": 1, "data": [{"id": "x", "lttd_eligible": true, "lead_time_to_deploy_numeric_days": 99}]}`))
		default:
			w.Write([]byte(`{}`))
		}
	}))

	records, err := fetcher.FilteredRecords(context.Background(), testQuery(), 15)
	if err != nil {
		t.Fatalf("filtered records: %v", err)
	}
	if len(records) != 1 || records[0]["id"] != "x" {
		t.Fatalf("unexpected records: %#v", records)
	}
}

func TestEnrichRecord(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name        string
		record      map[string]any
		wantCommits string
		wantDiff    string
	}{
		{
			name:        "github",
			record:      map[string]any{"repo_link": "https://github.example.com/org/repo", "commit_id": "abc"},
			wantCommits: "https://github.example.com/org/repo/commit/abc",
			wantDiff:    "https://github.example.com/org/repo/commit/abc.diff",
		},
		{
			name:        "gitlab",
			record:      map[string]any{"repo_link": "https://gitlab.example.com/org/repo", "commit_id": "abc"},
			wantCommits: "https://gitlab.example.com/org/repo/-/commit/abc",
			wantDiff:    "https://gitlab.example.com/org/repo/-/commit/abc.diff",
		},
		{
			name:        "bitbucket",
			record:      map[string]any{"repo_link": "https://bitbucket.example.com/org/repo", "commit_id": "abc"},
			wantCommits: "https://bitbucket.example.com/org/repo/commits/abc",
			wantDiff:    "https://bitbucket.example.com/org/repo/diff/abc",
		},
		{
			name:        "unknown forge",
			record:      map[string]any{"repo_link": "https://scm.example.com/org/repo", "commit_id": "abc"},
			wantCommits: "https://scm.example.com/org/repo/commit/abc",
			wantDiff:    "https://scm.example.com/org/repo/diff/abc",
		},
		{
			name:        "missing commit",
			record:      map[string]any{"repo_link": "https://github.example.com/org/repo"},
			wantCommits: "",
			wantDiff:    "",
		},
		{
			name:        "missing repo",
			record:      map[string]any{"commit_id": "abc"},
			wantCommits: "",
			wantDiff:    "",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			enriched := enrichRecord(tc.record)
			if enriched["commits_url"] != tc.wantCommits {
				t.Fatalf("commits_url = %q, want %q", enriched["commits_url"], tc.wantCommits)
			}
			if enriched["source_code_diff_url"] != tc.wantDiff {
				t.Fatalf("source_code_diff_url = %q, want %q", enriched["source_code_diff_url"], tc.wantDiff)
			}
			for key, value := range tc.record {
				if enriched[key] != value {
					t.Fatalf("original field %s changed: %v", key, enriched[key])
				}
			}
			if _, ok := tc.record["commits_url"]; ok {
				t.Fatalf("enrichRecord mutated its input")
			}
		})
	}
}

func TestNumericField(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		record map[string]any
		want   float64
	}{
		{"primary key wins", map[string]any{"lead_time_to_deploy_numeric_days": 12.5, "lead_time_to_deploy_days": 99.0}, 12.5},
		{"fallback on missing", map[string]any{"lead_time_to_deploy_days": 30.0}, 30},
		{"string parsed", map[string]any{"lead_time_to_deploy_numeric_days": "7.5"}, 7.5},
		{"unparseable is zero", map[string]any{"lead_time_to_deploy_numeric_days": "n/a", "lead_time_to_deploy_days": 40.0}, 0},
		{"nil falls through", map[string]any{"lead_time_to_deploy_numeric_days": nil, "lead_time_to_deploy_days": 3.0}, 3},
		{"absent is zero", map[string]any{}, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := numericField(tc.record, "lead_time_to_deploy_numeric_days", "lead_time_to_deploy_days")
			if got != tc.want {
				t.Fatalf("numericField = %v, want %v", got, tc.want)
			}
		})
	}
}
