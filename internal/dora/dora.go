// Package dora models the four DORA metric results returned by DataSight and
// the aggregate report one fetch run produces.
package dora

import (
	"encoding/json"
	"strconv"
	"strings"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Report metric keys, in fetch order.
const (
	MetricReleaseFrequency = "release_frequency"
	MetricLTTD             = "lttd"
	MetricMTTR             = "mttr"
	MetricCFR              = "cfr"
)

// Query is the immutable parameter set of one invocation.
type Query struct {
	From          string
	To            string
	TeambookIDs   string
	TeambookLevel int
	Page          int
	Size          int
}

// Result is the envelope of a single API call: either a success carrying the
// raw decoded payload, or an error carrying the message. It is never mutated
// after creation.
type Result struct {
	Metric string         `json:"metric,omitempty"`
	Status string         `json:"status"`
	Error  string         `json:"error,omitempty"`
	Data   map[string]any `json:"data"`
}

// OK reports whether the call succeeded and brought a payload back.
func (r Result) OK() bool {
	return r.Status == StatusSuccess && r.Data != nil
}

// Records returns the payload's "data" array as row maps. A missing or
// malformed array is treated as no data.
func (r Result) Records() []map[string]any {
	if r.Data == nil {
		return nil
	}

	raw, ok := r.Data["data"].([]any)
	if !ok {
		return nil
	}

	records := make([]map[string]any, 0, len(raw))
	for _, entry := range raw {
		if record, ok := entry.(map[string]any); ok {
			records = append(records, record)
		}
	}
	return records
}

// Count returns the payload's "count" field, or 0 when absent.
func (r Result) Count() int64 {
	if r.Data == nil {
		return 0
	}
	return toInt64(r.Data["count"])
}

// Parameters snapshots the query a report was built from.
type Parameters struct {
	FromDate      string `json:"from_date"`
	ToDate        string `json:"to_date"`
	TeambookIDs   string `json:"teambook_ids"`
	TeambookLevel int    `json:"teambook_level"`
	Timestamp     string `json:"timestamp"`
}

// Report is the aggregate result of one run: the parameters snapshot, one
// envelope per metric, and optionally one envelope per aggregation key.
type Report struct {
	Parameters      Parameters        `json:"parameters"`
	Metrics         map[string]Result `json:"metrics"`
	DetailedRecords map[string]Result `json:"detailed_records,omitempty"`
}

// ErrorCount counts failed envelopes across metrics and detail records.
func (r *Report) ErrorCount() int {
	count := 0
	for _, result := range r.Metrics {
		if result.Status == StatusError {
			count++
		}
	}
	for _, result := range r.DetailedRecords {
		if result.Status == StatusError {
			count++
		}
	}
	return count
}

func stringField(record map[string]any, key string) string {
	value, ok := record[key]
	if !ok || value == nil {
		return ""
	}
	if text, ok := value.(string); ok {
		return strings.TrimSpace(text)
	}
	return ""
}

func boolField(record map[string]any, key string) bool {
	value, ok := record[key].(bool)
	return ok && value
}

// numericField resolves the first of the given keys to a float. Strings are
// parsed, anything unusable counts as 0, matching how the API mixes numeric
// and textual day values.
func numericField(record map[string]any, keys ...string) float64 {
	for _, key := range keys {
		value, ok := record[key]
		if !ok || value == nil {
			continue
		}
		switch v := value.(type) {
		case json.Number:
			if parsed, err := v.Float64(); err == nil {
				return parsed
			}
		case float64:
			return v
		case int64:
			return float64(v)
		case int:
			return float64(v)
		case string:
			if parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return parsed
			}
		}
		return 0
	}
	return 0
}

func toInt64(value any) int64 {
	switch v := value.(type) {
	case json.Number:
		if parsed, err := v.Int64(); err == nil {
			return parsed
		}
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	}
	return 0
}
