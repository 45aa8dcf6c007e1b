package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	triflestats "github.com/trifle-io/trifle_stats_go"
	_ "modernc.org/sqlite"

	"github.com/datasight-io/datasight-cli/internal/dora"
	"github.com/datasight-io/datasight-cli/internal/output"
)

// Each fetch run tracks one data point under this key: request count, error
// count, and wall-clock duration.
const (
	historyKey   = "datasight::runs"
	historyTable = "datasight_history"
)

var granularityPattern = regexp.MustCompile(`^\d+(s|m|h|d|w|mo|q|y)$`)

type historyRuntime struct {
	Config  *triflestats.Config
	Table   string
	db      *sql.DB
	setupFn func() error
}

func (r *historyRuntime) Setup() error {
	if r == nil || r.setupFn == nil {
		return nil
	}
	return r.setupFn()
}

func (r *historyRuntime) Close() {
	if r != nil && r.db != nil {
		r.db.Close()
	}
}

func openHistory(dbPath string) (*historyRuntime, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, fmt.Errorf("missing history db: set --db or history_db in config")
	}

	expanded, err := expandPath(dbPath)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", expanded)
	if err != nil {
		return nil, err
	}

	driver := triflestats.NewSQLiteDriver(db, historyTable, triflestats.JoinedFull)

	cfg := triflestats.DefaultConfig()
	cfg.Driver = driver
	// One-shot CLI writes; buffering would drop the point on exit.
	cfg.BufferEnabled = false

	return &historyRuntime{Config: cfg, Table: driver.TableName, db: db, setupFn: driver.Setup}, nil
}

// recordRun tracks a finished fetch into the history store. History is
// best-effort: failures are warned, never fatal, and an empty path disables
// it entirely.
func recordRun(dbPath string, report *dora.Report, elapsed time.Duration) {
	if strings.TrimSpace(dbPath) == "" {
		return
	}

	rt, err := openHistory(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: run history unavailable: %v\n", err)
		return
	}
	defer rt.Close()

	values := map[string]any{
		"runs":        1,
		"requests":    len(report.Metrics) + len(report.DetailedRecords),
		"errors":      report.ErrorCount(),
		"duration_ms": elapsed.Milliseconds(),
	}
	if err := triflestats.Track(rt.Config, historyKey, time.Now().UTC(), values); err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not record run history: %v\n", err)
	}
}

func runHistory(args []string) {
	if len(args) > 0 && args[0] == "setup" {
		historySetup(args[1:])
		return
	}
	historyShow(args)
}

func historySetup(args []string) {
	cfg, cfgPath, err := resolveConfig(args)
	if err != nil {
		exitError(err)
	}

	fs := flag.NewFlagSet("history setup", flag.ExitOnError)
	addConfigFlag(fs, cfgPath)
	dbPath := fs.String("db", configHistoryDB(cfg), "History sqlite path (or history_db in config)")
	fs.Parse(args)

	rt, err := openHistory(*dbPath)
	if err != nil {
		exitError(err)
	}
	defer rt.Close()

	if err := rt.Setup(); err != nil {
		exitError(err)
	}

	fmt.Fprintf(os.Stdout, "History setup complete for %s\n", rt.Table)
}

func historyShow(args []string) {
	cfg, cfgPath, err := resolveConfig(args)
	if err != nil {
		exitError(err)
	}

	fs := flag.NewFlagSet("history", flag.ExitOnError)
	addConfigFlag(fs, cfgPath)
	dbPath := fs.String("db", configHistoryDB(cfg), "History sqlite path (or history_db in config)")
	from := fs.String("from", "", "RFC3339 start timestamp (default: 7 days ago)")
	to := fs.String("to", "", "RFC3339 end timestamp (default: now)")
	granularity := fs.String("granularity", "1d", "Granularity (e.g. 1h, 1d)")
	format := fs.String("format", "table", "Output format: json|table|csv")
	fs.Parse(args)

	fromTime, toTime, err := resolveHistoryRange(*from, *to)
	if err != nil {
		exitError(err)
	}

	granularityValue := strings.ToLower(strings.TrimSpace(*granularity))
	if !granularityPattern.MatchString(granularityValue) {
		exitError(fmt.Errorf("granularity must be <number><unit> using s, m, h, d, w, mo, q, y (e.g. 1h, 1d)"))
	}

	rt, err := openHistory(*dbPath)
	if err != nil {
		exitError(err)
	}
	defer rt.Close()

	result, err := triflestats.Values(rt.Config, historyKey, fromTime, toTime, granularityValue, true)
	if err != nil {
		exitError(maybeSuggestSetup(err))
	}

	series := triflestats.SeriesFromResult(result)
	table := buildRunsTable(series)

	switch strings.ToLower(strings.TrimSpace(*format)) {
	case "csv":
		if err := output.PrintCSV(os.Stdout, table); err != nil {
			exitError(err)
		}
	case "json":
		payload := map[string]any{
			"status": "ok",
			"timeframe": map[string]string{
				"from":        fromTime.Format(time.RFC3339),
				"to":          toTime.Format(time.RFC3339),
				"granularity": granularityValue,
			},
			"data": map[string]any{
				"at":     result.At,
				"values": result.Values,
			},
		}
		if err := output.PrintJSON(os.Stdout, payload); err != nil {
			exitError(err)
		}
	default:
		output.PrintTable(os.Stdout, table)
	}
}

var runColumns = []string{"runs", "requests", "errors", "duration_ms"}

// buildRunsTable flattens the history series into a printable table, one row
// per granularity bucket.
func buildRunsTable(series triflestats.Series) output.Table {
	table := output.Table{Columns: append([]string{"at"}, runColumns...)}

	for i, at := range series.At {
		row := make([]string, 0, len(table.Columns))
		row = append(row, at.Format(time.RFC3339))

		var values map[string]any
		if i < len(series.Values) {
			values = series.Values[i]
		}
		for _, path := range runColumns {
			cell := ""
			if values != nil {
				if value := triflestats.NormalizeNumeric(triflestats.FetchPath(values, path)); value != nil {
					cell = fmt.Sprint(value)
				}
			}
			row = append(row, cell)
		}
		table.Rows = append(table.Rows, row)
	}

	return table
}

func resolveHistoryRange(from, to string) (time.Time, time.Time, error) {
	from = strings.TrimSpace(from)
	to = strings.TrimSpace(to)

	now := time.Now().UTC()
	fromTime := now.Add(-7 * 24 * time.Hour)
	toTime := now

	var err error
	if from != "" {
		if fromTime, err = time.Parse(time.RFC3339Nano, from); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("from must be RFC3339 (e.g. 2026-01-02T15:04:05Z)")
		}
	}
	if to != "" {
		if toTime, err = time.Parse(time.RFC3339Nano, to); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("to must be RFC3339 (e.g. 2026-01-02T15:04:05Z)")
		}
	}
	if !toTime.After(fromTime) {
		return time.Time{}, time.Time{}, fmt.Errorf("to must be after from")
	}

	return fromTime, toTime, nil
}

func maybeSuggestSetup(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(strings.ToLower(err.Error()), "no such table") {
		return fmt.Errorf("%s (run: datasight history setup --db <path>)", err.Error())
	}
	return err
}
