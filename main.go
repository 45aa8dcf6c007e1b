package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"regexp"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/datasight-io/datasight-cli/internal/api"
	"github.com/datasight-io/datasight-cli/internal/dora"
	"github.com/datasight-io/datasight-cli/internal/output"
)

var version = "0.1.0-dev"

func resolveVersion() string {
	if version != "0.1.0-dev" {
		return version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "(devel)" && info.Main.Version != "" {
		return info.Main.Version
	}
	return version
}

var monthPattern = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])$`)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "fetch":
		runFetch(os.Args[2:])
	case "lttd":
		runLTTD(os.Args[2:])
	case "history":
		runHistory(os.Args[2:])
	case "version":
		fmt.Println(resolveVersion())
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}

type commonOptions struct {
	BaseURL  string
	Token    string
	Timeout  time.Duration
	Insecure bool
}

// addCommonFlags seeds flag defaults from the config file, falling back to
// the environment, so an explicit flag always wins.
func addCommonFlags(fs *flag.FlagSet, cfg *cliConfig) *commonOptions {
	var cfgURL string
	var cfgToken string
	insecure := false
	timeout := 30 * time.Second
	if cfg != nil {
		cfgURL = cfg.BaseURL
		cfgToken = cfg.BearerToken
		insecure = cfg.Insecure
		if cfg.TimeoutSet {
			timeout = cfg.TimeoutDuration
		}
	}

	opts := &commonOptions{
		BaseURL:  pickString(cfgURL, os.Getenv(envBaseURL), ""),
		Token:    pickString(cfgToken, os.Getenv(envBearerToken), ""),
		Timeout:  timeout,
		Insecure: insecure,
	}

	fs.StringVar(&opts.BaseURL, "base-url", opts.BaseURL, "DataSight base URL (or "+envBaseURL+" / config)")
	fs.StringVar(&opts.Token, "token", opts.Token, "Bearer token (or "+envBearerToken+" / config)")
	fs.DurationVar(&opts.Timeout, "timeout", opts.Timeout, "HTTP timeout")
	fs.BoolVar(&opts.Insecure, "insecure", opts.Insecure, "Skip TLS certificate verification")
	return opts
}

// ensureEndpoint prompts for whatever the flag/config/env merge left empty.
// Both values are required before any request goes out.
func ensureEndpoint(reader *bufio.Reader, opts *commonOptions, allowPrompt bool) error {
	if opts.BaseURL == "" && allowPrompt {
		value, err := promptString(reader, "DataSight API base URL (e.g. https://datasight.example.com)")
		if err != nil {
			return err
		}
		opts.BaseURL = value
	}
	if opts.BaseURL == "" {
		return fmt.Errorf("missing base URL: set --base-url, %s, or base_url in config", envBaseURL)
	}

	if opts.Token == "" && allowPrompt {
		value, err := promptString(reader, "Bearer token for authentication")
		if err != nil {
			return err
		}
		opts.Token = value
	}
	if opts.Token == "" {
		return fmt.Errorf("missing token: set --token, %s, or bearer_token in config", envBearerToken)
	}

	return nil
}

// resolveQuery fills missing required parameters interactively and validates
// the result. Months are YYYY-MM, level is 1-5.
func resolveQuery(reader *bufio.Reader, from, to, teambookIDs string, level, page, size int) (dora.Query, error) {
	var err error

	if strings.TrimSpace(from) == "" {
		if from, err = promptString(reader, "Start month (YYYY-MM, e.g. 2025-09)"); err != nil {
			return dora.Query{}, err
		}
	}
	if strings.TrimSpace(to) == "" {
		if to, err = promptString(reader, "End month (YYYY-MM, e.g. 2025-10)"); err != nil {
			return dora.Query{}, err
		}
	}
	if strings.TrimSpace(teambookIDs) == "" {
		if teambookIDs, err = promptString(reader, "Teambook IDs (comma-separated, e.g. 5449 or 5449,5450)"); err != nil {
			return dora.Query{}, err
		}
	}
	for level < 1 || level > 5 {
		raw, err := promptString(reader, "Teambook level (1-5)")
		if err != nil {
			return dora.Query{}, err
		}
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			fmt.Fprintln(os.Stderr, "Please enter a valid number")
			continue
		}
		if parsed < 1 || parsed > 5 {
			fmt.Fprintln(os.Stderr, "Please enter a number between 1 and 5")
			continue
		}
		level = parsed
	}

	from = strings.TrimSpace(from)
	to = strings.TrimSpace(to)
	teambookIDs = strings.TrimSpace(teambookIDs)

	if !monthPattern.MatchString(from) {
		return dora.Query{}, fmt.Errorf("from must be YYYY-MM (e.g. 2025-09)")
	}
	if !monthPattern.MatchString(to) {
		return dora.Query{}, fmt.Errorf("to must be YYYY-MM (e.g. 2025-10)")
	}
	if teambookIDs == "" {
		return dora.Query{}, errors.New("teambook IDs are required")
	}
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 50
	}

	return dora.Query{
		From:          from,
		To:            to,
		TeambookIDs:   teambookIDs,
		TeambookLevel: level,
		Page:          page,
		Size:          size,
	}, nil
}

func runFetch(args []string) {
	cfg, cfgPath, err := resolveConfig(args)
	if err != nil {
		exitError(err)
	}

	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	addConfigFlag(fs, cfgPath)
	opts := addCommonFlags(fs, cfg)
	from := fs.String("from", "", "Start month (YYYY-MM)")
	to := fs.String("to", "", "End month (YYYY-MM)")
	teambookIDs := fs.String("teambook-ids", "", "Teambook IDs (comma-separated)")
	level := fs.Int("level", 0, "Teambook level (1-5)")
	page := fs.Int("page", 1, "Page number")
	size := fs.Int("size", 50, "Page size")
	outputPath := fs.String("output", "", "Output CSV path (auto-generated when empty)")
	jsonOutput := fs.String("json-output", "", "Also save the raw result as JSON to this path")
	fetchDetails := fs.Bool("fetch-details", false, "Fetch per-aggregation-key detail records")
	historyDB := fs.String("history-db", configHistoryDB(cfg), "Optional sqlite path for run history")
	yes := fs.Bool("yes", false, "Skip the confirmation prompt")
	fs.Parse(args)

	reader := bufio.NewReader(os.Stdin)

	if err := ensureEndpoint(reader, opts, true); err != nil {
		exitError(err)
	}

	query, err := resolveQuery(reader, *from, *to, *teambookIDs, *level, *page, *size)
	if err != nil {
		exitError(err)
	}

	csvPath := strings.TrimSpace(*outputPath)
	if csvPath == "" {
		csvPath = fmt.Sprintf("dora_report_%s.csv", time.Now().Format("20060102_150405"))
	}

	fmt.Printf("Period: %s to %s\n", query.From, query.To)
	fmt.Printf("Teambook IDs: %s\n", query.TeambookIDs)
	fmt.Printf("Teambook Level: %d\n", query.TeambookLevel)
	fmt.Printf("Fetch Details: %t\n", *fetchDetails)
	fmt.Printf("Output CSV: %s\n", csvPath)
	if strings.TrimSpace(*jsonOutput) != "" {
		fmt.Printf("Output JSON: %s\n", *jsonOutput)
	}

	if !*yes && !confirm(reader, "Proceed with fetching? (y/n): ") {
		fmt.Println("Operation cancelled.")
		return
	}

	client, err := api.New(opts.BaseURL, opts.Token, opts.Timeout, opts.Insecure)
	if err != nil {
		exitError(err)
	}

	fetcher := dora.NewFetcher(client, os.Stdout)
	started := time.Now()
	report := fetcher.FetchAll(context.Background(), query, *fetchDetails)

	if err := writeFile(csvPath, func(f *os.File) error {
		return output.WriteReport(f, report)
	}); err != nil {
		exitError(err)
	}
	fmt.Printf("CSV report generated: %s\n", csvPath)

	if path := strings.TrimSpace(*jsonOutput); path != "" {
		if err := writeFile(path, func(f *os.File) error {
			return output.PrintJSON(f, report)
		}); err != nil {
			exitError(err)
		}
		fmt.Printf("JSON data saved: %s\n", path)
	}

	printFetchSummary(report)
	recordRun(*historyDB, report, time.Since(started))
}

func runLTTD(args []string) {
	cfg, cfgPath, err := resolveConfig(args)
	if err != nil {
		exitError(err)
	}

	fs := flag.NewFlagSet("lttd", flag.ExitOnError)
	addConfigFlag(fs, cfgPath)
	opts := addCommonFlags(fs, cfg)
	from := fs.String("from", "", "Start month (YYYY-MM)")
	to := fs.String("to", "", "End month (YYYY-MM)")
	teambookIDs := fs.String("teambook-ids", "", "Teambook IDs (comma-separated)")
	level := fs.Int("level", 0, "Teambook level (1-5)")
	minDays := fs.Float64("min-days", 15, "Minimum LTTD days threshold (exclusive)")
	outputPath := fs.String("output", "", "Output CSV path (auto-generated when empty)")
	yes := fs.Bool("yes", false, "Skip the confirmation prompt")
	fs.Parse(args)

	reader := bufio.NewReader(os.Stdin)

	if err := ensureEndpoint(reader, opts, true); err != nil {
		exitError(err)
	}

	query, err := resolveQuery(reader, *from, *to, *teambookIDs, *level, 1, 50)
	if err != nil {
		exitError(err)
	}

	csvPath := strings.TrimSpace(*outputPath)
	if csvPath == "" {
		csvPath = fmt.Sprintf("lttd_filtered_report_%s.csv", time.Now().Format("20060102_150405"))
	}

	fmt.Printf("Period: %s to %s\n", query.From, query.To)
	fmt.Printf("Teambook IDs: %s\n", query.TeambookIDs)
	fmt.Printf("Teambook Level: %d\n", query.TeambookLevel)
	fmt.Printf("LTTD Threshold: > %g days (lttd_eligible only)\n", *minDays)
	fmt.Printf("Output CSV: %s\n", csvPath)

	if !*yes && !confirm(reader, "Proceed with fetching? (y/n): ") {
		fmt.Println("Operation cancelled.")
		return
	}

	client, err := api.New(opts.BaseURL, opts.Token, opts.Timeout, opts.Insecure)
	if err != nil {
		exitError(err)
	}

	fetcher := dora.NewFetcher(client, os.Stdout)
	records, err := fetcher.FilteredRecords(context.Background(), query, *minDays)
	if err != nil {
		exitError(err)
	}

	if len(records) == 0 {
		fmt.Println("No records to export")
		return
	}

	generated := time.Now().Format(time.RFC3339)
	if err := writeFile(csvPath, func(f *os.File) error {
		return output.WriteFilteredRecords(f, records, *minDays, generated)
	}); err != nil {
		exitError(err)
	}
	fmt.Printf("Filtered LTTD CSV report generated: %s\n", csvPath)
	fmt.Printf("Total records exported: %d\n", len(records))
}

func printFetchSummary(report *dora.Report) {
	table := output.Table{Columns: []string{"metric", "status", "records"}}
	for _, key := range []string{
		dora.MetricReleaseFrequency,
		dora.MetricLTTD,
		dora.MetricMTTR,
		dora.MetricCFR,
	} {
		result := report.Metrics[key]
		records := ""
		if result.OK() {
			records = strconv.FormatInt(result.Count(), 10)
		}
		table.Rows = append(table.Rows, []string{key, result.Status, records})
	}
	fmt.Println()
	output.PrintTable(os.Stdout, table)
}

func configHistoryDB(cfg *cliConfig) string {
	if cfg == nil {
		return ""
	}
	return cfg.HistoryDB
}

func writeFile(path string, write func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func promptString(reader *bufio.Reader, label string) (string, error) {
	fmt.Fprintf(os.Stderr, "%s: ", label)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func confirm(reader *bufio.Reader, question string) bool {
	fmt.Fprint(os.Stderr, question)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

func usage() {
	fmt.Println("datasight — DORA metrics fetcher for the DataSight platform")
	fmt.Println()
	fmt.Println("Fetch all four metrics:")
	fmt.Println("  datasight fetch --from 2025-09 --to 2025-10 --teambook-ids 5449 --level 3")
	fmt.Println("  datasight fetch --from 2025-09 --to 2025-10 --teambook-ids 5449 --level 3 --fetch-details --json-output dora.json")
	fmt.Println()
	fmt.Println("High-LTTD records report:")
	fmt.Println("  datasight lttd --from 2025-09 --to 2025-10 --teambook-ids 5449 --level 3 --min-days 15")
	fmt.Println()
	fmt.Println("Run history (local sqlite):")
	fmt.Println("  datasight history setup --db ./history.db")
	fmt.Println("  datasight history --db ./history.db --granularity 1d")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  fetch     Fetch release frequency, LTTD, MTTR, and CFR; write CSV/JSON")
	fmt.Println("  lttd      Fetch eligible LTTD records above a day threshold")
	fmt.Println("  history   Show recorded fetch runs")
	fmt.Println("  version   Print version")
	fmt.Println()
	fmt.Println("Credentials come from flags, a config file (config.json or")
	fmt.Println("~/.config/datasight/config.yaml), " + envBaseURL + " / " + envBearerToken + ",")
	fmt.Println("or interactive prompts, in that order.")
	fmt.Println()
	fmt.Println("Run 'datasight <command> --help' for details.")
}

func exitError(err error) {
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		fmt.Fprintln(os.Stderr, apiErr.Error())
	} else if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
	}
	os.Exit(1)
}
