package output

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

// filteredColumns is the fixed schema of the high-LTTD records report. The
// source_code_diff_URL / source_code_diff_url pair is not a typo: the API
// field uses the uppercase suffix, the enriched field the lowercase one.
var filteredColumns = []column{
	{"ID", "id"},
	{"Month", "month"},
	{"Year", "year"},
	{"Assignment Group", "assignment_group"},
	{"Change Type", "change_type"},
	{"Change Sub Type", "change_sub_type"},
	{"Category", "category"},
	{"Close Code", "close_code"},
	{"Sub Close Code", "sub_close_code"},
	{"Business Impact", "business_impact"},
	{"L1 Business Unit", "l1_business_unit"},
	{"L2 Business Unit", "l2_business_unit"},
	{"L3 Business Unit", "l3_business_unit"},
	{"L4 Business Unit", "l4_business_unit"},
	{"L5 Business Unit", "l5_business_unit"},
	{"L6 Business Unit", "l6_business_unit"},
	{"Start Date", "start_date"},
	{"End Date", "end_date"},
	{"Closed At", "closed_at"},
	{"State", "state"},
	{"Requested By", "requested_by"},
	{"Requested By Employee ID", "requested_by_employee_id"},
	{"Business Service", "business_service"},
	{"Short Description", "short_description"},
	{"SN URL", "sn_url"},
	{"With LTTD", "with_lttd"},
	{"CR Processing Hurdle", "cr_processing_hurdle"},
	{"Lead Time to Deploy Days", "lead_time_to_deploy_days"},
	{"Lead Time to Deploy Numeric Days", "lead_time_to_deploy_numeric_days"},
	{"LTTD Eligible", "lttd_eligible"},
	{"LTTD Eligibility Exclusion Reason", "lttd_eligibility_exclusion_reason"},
	{"CR First Commit URL", "cr_first_commit_url"},
	{"CR First Commit Time", "cr_first_commit_time"},
	{"Source Code Diff URL", "source_code_diff_URL"},
	{"Accessible", "accessible"},
	{"Associated Diff Types", "associated_diff_types"},
	{"Diff URL Call Successful", "diff_url_call_successful"},
	{"ICE CR Link", "ice_cr_link"},
	{"Code Successfully in Production Type", "code_successfully_in_production_type"},
	{"Actual End Date Time", "actual_end_date_time"},
	{"Repo Fetch Attempted On", "repo_fetch_attempted_on"},
	{"Repo Link", "repo_link"},
	{"Request Type", "request_type"},
	{"Commits URL Call", "commits_url_call"},
	{"Version", "version"},
	{"Requestor Country", "requestor_country"},
	{"Commits URL (Generated)", "commits_url"},
	{"Source Code Diff URL (Generated)", "source_code_diff_url"},
}

// WriteFilteredRecords renders the filtered high-LTTD records report.
func WriteFilteredRecords(w io.Writer, records []map[string]any, minDays float64, generated string) error {
	writer := csv.NewWriter(w)

	header := [][]string{
		{fmt.Sprintf("HIGH LTTD RECORDS REPORT - LTTD > %g Days (Eligible Only)", minDays)},
		{"Generated:", generated},
		{"Total Records:", strconv.Itoa(len(records))},
		{},
	}
	for _, row := range header {
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	headers := make([]string, len(filteredColumns))
	for i, col := range filteredColumns {
		headers[i] = col.Header
	}
	if err := writer.Write(headers); err != nil {
		return err
	}

	for _, record := range records {
		row := make([]string, len(filteredColumns))
		for i, col := range filteredColumns {
			row[i] = formatCell(record[col.Field])
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}
