package output

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/datasight-io/datasight-cli/internal/dora"
)

type column struct {
	Header string
	Field  string
}

type metricSection struct {
	Key     string
	Title   string
	Columns []column
}

// Section order and column sets are fixed; the DataSight payload carries more
// fields than these, the report keeps the curated view.
var metricSections = []metricSection{
	{
		Key:   dora.MetricReleaseFrequency,
		Title: "RELEASE FREQUENCY",
		Columns: []column{
			{"Year-Month", "yearMonth"},
			{"Releases", "releases"},
			{"Software Releases %", "percent_software_releases"},
			{"PDPTPPY (Calendar)", "pdptppy_calendar_days"},
			{"PDPTPPY (Headcount)", "pdptppy_full_headcount_basis"},
			{"Head Count", "head_count"},
			{"IT Head Count", "it_head_count"},
			{"Pods Count", "pods_count"},
			{"L1 Teambook", "l1_teambook"},
			{"L2 Teambook", "l2_teambook"},
			{"L3 Teambook", "l3_teambook"},
		},
	},
	{
		Key:   dora.MetricLTTD,
		Title: "LEAD TIME TO DEPLOY (LTTD)",
		Columns: []column{
			{"Year-Month", "yearMonth"},
			{"LTTD (days)", "lttd"},
			{"Highest LTTD", "highest_lttd"},
			{"CRs with LTTD", "crs_with_lttd"},
			{"Eligible CRs", "eligible_crs"},
			{"CRs with LTTD %", "percent_crs_with_lttd"},
			{"Pods with CRs", "pods_with_crs"},
			{"Pods with LTTD", "pods_with_lttd"},
			{"Pods with LTTD < Week", "pods_with_lttd_less_than_week"},
			{"Pods with LTTD < Week %", "percent_pods_with_lttd_less_than_week"},
			{"L1 Teambook", "l1_teambook"},
			{"L2 Teambook", "l2_teambook"},
			{"L3 Teambook", "l3_teambook"},
			{"Agg Key", "aggKey"},
		},
	},
	{
		Key:   dora.MetricMTTR,
		Title: "MEAN TIME TO RECOVERY (MTTR)",
		Columns: []column{
			{"Year-Month", "yearMonth"},
			{"MTTR (hours)", "mttr"},
			{"MTTR CHM (hours)", "mttr_chm"},
			{"Incidents Count", "incidents_count"},
			{"Incidents Count CHM", "incidents_count_chm"},
			{"Non-Incidents %", "non_incidents_percent"},
			{"L1 Teambook", "l1_teambook"},
			{"L2 Teambook", "l2_teambook"},
			{"L3 Teambook", "l3_teambook"},
			{"Agg Key", "aggKey"},
		},
	},
	{
		Key:   dora.MetricCFR,
		Title: "CHANGE FAILURE RATE (CFR)",
		Columns: []column{
			{"Year-Month", "yearMonth"},
			{"Change Failure Rate %", "change_failure_rate"},
			{"Change Causing Incident %", "percent_change_causing_incident"},
			{"Change with Business Impact %", "percent_change_with_business_impact"},
			{"Releases", "releases"},
			{"Change Failed", "change_failed"},
			{"Change Causing Incident", "change_causing_incident"},
			{"Change with Business Impact", "change_with_business_impact"},
			{"Pods Count", "num_of_pods_current_month"},
			{"Pod IT HC", "pod_it_hc_current_month"},
			{"L1 Teambook", "l1_teambook"},
			{"L2 Teambook", "l2_teambook"},
			{"L3 Teambook", "l3_teambook"},
			{"Agg Key", "aggKey"},
		},
	},
}

// WriteReport renders the aggregate report as a sectioned CSV: a header
// block, one section per metric, and one sub-section per aggregation key
// when detail records were fetched.
func WriteReport(w io.Writer, report *dora.Report) error {
	writer := csv.NewWriter(w)

	params := report.Parameters
	header := [][]string{
		{"DORA METRICS REPORT"},
		{"Generated:", params.Timestamp},
		{"Period:", params.FromDate + " to " + params.ToDate},
		{"Teambook IDs:", params.TeambookIDs},
		{"Teambook Level:", strconv.Itoa(params.TeambookLevel)},
		{},
	}
	for _, row := range header {
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	for _, section := range metricSections {
		if err := writeMetricSection(writer, section, report.Metrics[section.Key]); err != nil {
			return err
		}
	}

	if len(report.DetailedRecords) > 0 {
		if err := writeDetailSections(writer, report.DetailedRecords); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeMetricSection(writer *csv.Writer, section metricSection, result dora.Result) error {
	if err := writer.Write([]string{sectionBanner(section.Title)}); err != nil {
		return err
	}
	if err := writer.Write(nil); err != nil {
		return err
	}

	if !result.OK() {
		message := result.Error
		if message == "" {
			message = "No data"
		}
		if err := writer.Write([]string{"Error:", message}); err != nil {
			return err
		}
		return writer.Write(nil)
	}

	records := result.Records()
	if len(records) > 0 {
		headers := make([]string, len(section.Columns))
		for i, col := range section.Columns {
			headers[i] = col.Header
		}
		if err := writer.Write(headers); err != nil {
			return err
		}

		for _, record := range records {
			row := make([]string, len(section.Columns))
			for i, col := range section.Columns {
				row[i] = formatCell(record[col.Field])
			}
			if err := writer.Write(row); err != nil {
				return err
			}
		}
	}

	return writer.Write(nil)
}

// writeDetailSections emits one sub-section per aggregation key. Column
// headers come from the first record's field names (sorted, so the output is
// stable run to run), which makes the detail schema follow the payload.
func writeDetailSections(writer *csv.Writer, details map[string]dora.Result) error {
	if err := writer.Write([]string{sectionBanner("DETAILED LTTD RECORDS")}); err != nil {
		return err
	}
	if err := writer.Write(nil); err != nil {
		return err
	}

	keys := make([]string, 0, len(details))
	for key := range details {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, aggKey := range keys {
		if err := writer.Write([]string{"Aggregation Key: " + aggKey}); err != nil {
			return err
		}

		result := details[aggKey]
		records := result.Records()
		if result.OK() && len(records) > 0 {
			fields := make([]string, 0, len(records[0]))
			for field := range records[0] {
				fields = append(fields, field)
			}
			sort.Strings(fields)

			if err := writer.Write(fields); err != nil {
				return err
			}
			for _, record := range records {
				row := make([]string, len(fields))
				for i, field := range fields {
					row[i] = formatCell(record[field])
				}
				if err := writer.Write(row); err != nil {
					return err
				}
			}
		}

		if err := writer.Write(nil); err != nil {
			return err
		}
	}

	return nil
}

func sectionBanner(title string) string {
	rule := strings.Repeat("=", 20)
	return fmt.Sprintf("%s %s %s", rule, title, rule)
}
