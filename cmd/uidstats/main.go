package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/drachfly/car-service15/pkg/system/procfs"
	"github.com/drachfly/car-service15/pkg/system/util"
	"github.com/drachfly/car-service15/pkg/types"
	"github.com/drachfly/car-service15/pkg/uidstats"
)

var (
	pretty  bool
	warmup  int
	verbose bool
)

type opts struct {
	// sampling
	procPath string
	samples  int
	interval time.Duration
	ema      float64

	// collector features
	memoryProfiling bool
	smapsRollup     bool

	// outputs
	top      int
	csvPath  string
	jsonPath string
}

// fileOpts is the YAML config-file shape; flags explicitly set on the
// command line win over it.
type fileOpts struct {
	ProcPath        *string  `yaml:"proc"`
	Samples         *int     `yaml:"samples"`
	Interval        *string  `yaml:"interval"`
	EMA             *float64 `yaml:"ema"`
	MemoryProfiling *bool    `yaml:"memory_profiling"`
	SmapsRollup     *bool    `yaml:"smaps_rollup"`
	Top             *int     `yaml:"top"`
	CSVPath         *string  `yaml:"csv"`
	JSONPath        *string  `yaml:"json"`
}

type row struct {
	At                  time.Time       `json:"time"`
	UID                 int             `json:"uid"`
	CPUUtil             float64         `json:"cpu_util"`
	CPUTimeMillis       uint64          `json:"cpu_time_ms"`
	CPUCycles           uint64          `json:"cpu_cycles"`
	TotalMajorFaults    uint64          `json:"total_major_faults"`
	TotalTasksCount     int             `json:"total_tasks_count"`
	IOBlockedTasksCount int             `json:"io_blocked_tasks_count"`
	TotalRssKb          types.Kilobytes `json:"total_rss_kb"`
	TotalPssKb          types.Kilobytes `json:"total_pss_kb"`
	IntervalSec         float64         `json:"interval_sec"`
}

func main() {
	var o opts
	var configPath string

	root := &cobra.Command{
		Use:   "uidstats",
		Short: "Per-UID process statistics sampler",
		Long: `The uidstats tool periodically scans a Linux procfs tree, aggregates
per-process and per-thread kernel counters under the owning UID, and prints
the per-interval deltas: CPU time, estimated CPU cycles, major page faults,
task counts, I/O-blocked tasks, and RSS/PSS memory.

Examples:
  uidstats -s 20 -i 1s
  uidstats --memory-profiling --smaps-rollup --csv out.csv --json out.json
  uidstats --proc /tmp/fake-proc -s 1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				if err := mergeConfigFile(cmd, configPath, &o); err != nil {
					return err
				}
			}
			return run(cmd.Context(), o)
		},
	}

	root.Flags().BoolVar(&pretty, "pretty", true, "format output as a table instead of CSV-like lines")
	root.Flags().IntVar(&warmup, "warmup", 1, "number of initial samples to skip from display (the first delta equals the absolute values)")
	root.Flags().BoolVarP(&verbose, "verbose", "v", false, "log skipped PIDs and recovery events")
	root.Flags().StringVar(&o.procPath, "proc", procfs.DefaultPath, "procfs root to scan")
	root.Flags().IntVarP(&o.samples, "samples", "s", 5, "number of samples to display, warmup samples not counted (0 = run until Ctrl-C)")
	root.Flags().DurationVarP(&o.interval, "interval", "i", time.Second, "sampling interval (e.g. 1s, 500ms)")
	root.Flags().Float64Var(&o.ema, "ema", 0.5, "EMA alpha for per-UID CPU utilization smoothing [0..1]")
	root.Flags().BoolVar(&o.memoryProfiling, "memory-profiling", false, "collect per-process memory usage")
	root.Flags().BoolVar(&o.smapsRollup, "smaps-rollup", false, "kernel provides smaps_rollup files")
	root.Flags().IntVar(&o.top, "top", 10, "show at most N UIDs per sample (0 = all)")
	root.Flags().StringVar(&o.csvPath, "csv", "", "write per-UID rows to CSV file")
	root.Flags().StringVar(&o.jsonPath, "json", "", "write per-UID rows to JSON file")
	root.Flags().StringVar(&configPath, "config", "", "YAML config file (flags win over it)")

	if err := root.Execute(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

// mergeConfigFile applies config-file values for every flag the user did
// not set explicitly.
func mergeConfigFile(cmd *cobra.Command, path string, o *opts) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	var f fileOpts
	if err := yaml.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}
	set := func(flag string) bool { return !cmd.Flags().Changed(flag) }
	if f.ProcPath != nil && set("proc") {
		o.procPath = *f.ProcPath
	}
	if f.Samples != nil && set("samples") {
		o.samples = *f.Samples
	}
	if f.Interval != nil && set("interval") {
		d, derr := time.ParseDuration(*f.Interval)
		if derr != nil {
			return fmt.Errorf("config %s: interval: %w", path, derr)
		}
		o.interval = d
	}
	if f.EMA != nil && set("ema") {
		o.ema = *f.EMA
	}
	if f.MemoryProfiling != nil && set("memory-profiling") {
		o.memoryProfiling = *f.MemoryProfiling
	}
	if f.SmapsRollup != nil && set("smaps-rollup") {
		o.smapsRollup = *f.SmapsRollup
	}
	if f.Top != nil && set("top") {
		o.top = *f.Top
	}
	if f.CSVPath != nil && set("csv") {
		o.csvPath = *f.CSVPath
	}
	if f.JSONPath != nil && set("json") {
		o.jsonPath = *f.JSONPath
	}
	return nil
}

func run(ctx context.Context, o opts) error {
	if o.interval <= 0 {
		return fmt.Errorf("interval must be > 0")
	}
	if o.ema < 0 || o.ema > 1 {
		return fmt.Errorf("ema must be in [0,1]")
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	hostname, kernel, cpus, memory := util.SystemSummary()
	fmt.Printf(_console, hostname, kernel, cpus, memory, time.Now().Format("2006-01-02 15:04:05"))

	col := uidstats.New(o.procPath, o.smapsRollup,
		uidstats.WithMemoryProfiling(o.memoryProfiling),
		uidstats.WithLogger(logger))
	col.Init()
	if !col.Enabled() {
		return fmt.Errorf("pid stat files under %s are not accessible", o.procPath)
	}
	if !col.TimeInStateEnabled() {
		fmt.Println("# time_in_state not available; CPU cycle columns will be zero")
	}

	var tw *tabwriter.Writer
	if pretty {
		tw = newTable()
		printTableHeader(tw)
	} else {
		fmt.Println("# time, uid, cpu_util, cpu_time_ms, cpu_cycles, major_faults, tasks, io_blocked, rss, pss")
	}

	var (
		csvF *os.File
		csvW *csv.Writer
	)
	if o.csvPath != "" {
		if err := os.MkdirAll(filepath.Dir(o.csvPath), 0o755); err == nil {
			if f, er := os.Create(o.csvPath); er == nil {
				csvF = f
				csvW = csv.NewWriter(f)
				_ = csvW.Write([]string{
					"time", "uid", "cpu_util", "cpu_time_ms", "cpu_cycles", "major_faults",
					"tasks", "io_blocked", "rss_kb", "pss_kb", "interval_sec",
				})
				csvW.Flush()
			}
		}
	}

	var rows []row

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	nproc := runtime.NumCPU()
	emaByUID := map[int]*util.EMA{}
	sampleN := 0

	for {
		select {
		case <-ctx.Done():
			slog.Info("interrupted")
			goto END

		case <-ticker.C:
			if err := col.Collect(); err != nil {
				slog.Warn("collect error", "err", err)
				continue
			}
			sampleN++
			if warmup > 0 && sampleN <= warmup {
				continue
			}

			now := time.Now()
			dt := o.interval.Seconds()
			delta := col.DeltaStats()

			uids := make([]int, 0, len(delta))
			for uid := range delta {
				uids = append(uids, uid)
			}
			slices.SortFunc(uids, func(a, b int) int {
				da, db := delta[a].CPUTimeMillis, delta[b].CPUTimeMillis
				switch {
				case db > da:
					return 1
				case db < da:
					return -1
				default:
					return a - b
				}
			})
			if o.top > 0 && len(uids) > o.top {
				uids = uids[:o.top]
			}

			for _, uid := range uids {
				stats := delta[uid]
				e, ok := emaByUID[uid]
				if !ok {
					e = util.NewEMA(o.ema)
					emaByUID[uid] = e
				}
				cpuUtil := util.Clamp01(e.Next(
					util.SafeDiv(float64(stats.CPUTimeMillis)/1000, float64(nproc)*dt)))

				if pretty {
					printTableRow(tw, now, uid, cpuUtil, stats)
				} else {
					printCsvLike(now.Format(time.RFC3339), uid, cpuUtil, stats)
				}

				r := row{
					At:                  now,
					UID:                 uid,
					CPUUtil:             cpuUtil,
					CPUTimeMillis:       stats.CPUTimeMillis,
					CPUCycles:           stats.CPUCycles,
					TotalMajorFaults:    stats.TotalMajorFaults,
					TotalTasksCount:     stats.TotalTasksCount,
					IOBlockedTasksCount: stats.IOBlockedTasksCount,
					TotalRssKb:          stats.TotalRssKb,
					TotalPssKb:          stats.TotalPssKb,
					IntervalSec:         dt,
				}
				rows = append(rows, r)

				if csvW != nil {
					_ = csvW.Write([]string{
						now.Format(time.RFC3339),
						strconv.Itoa(uid),
						util.FmtFloat(cpuUtil),
						strconv.FormatUint(stats.CPUTimeMillis, 10),
						strconv.FormatUint(stats.CPUCycles, 10),
						strconv.FormatUint(stats.TotalMajorFaults, 10),
						strconv.Itoa(stats.TotalTasksCount),
						strconv.Itoa(stats.IOBlockedTasksCount),
						strconv.FormatUint(stats.TotalRssKb.ToUint64(), 10),
						strconv.FormatUint(stats.TotalPssKb.ToUint64(), 10),
						util.FmtFloat(dt),
					})
					csvW.Flush()
				}
			}

			if o.samples > 0 && (sampleN-warmup) >= o.samples {
				goto END
			}
		}
	}

END:
	if csvW != nil {
		csvW.Flush()
	}
	if csvF != nil {
		_ = csvF.Close()
	}
	if o.jsonPath != "" {
		if err := os.MkdirAll(filepath.Dir(o.jsonPath), 0o755); err == nil {
			if b, err := json.MarshalIndent(rows, "", "  "); err == nil {
				_ = os.WriteFile(o.jsonPath, append(b, '\n'), 0o644)
			}
		}
	}

	fmt.Printf("\ncollected %d samples of ~%s\n", sampleN, o.interval)
	return nil
}

func newTable() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
}

func printTableHeader(tw *tabwriter.Writer) {
	fmt.Fprintln(tw, "TIME\tUID\tCPU%\tCPU_MS\tCYCLES\tMAJFLT\tTASKS\tIOBLK\tRSS\tPSS")
	_ = tw.Flush()
}

func printTableRow(tw *tabwriter.Writer, ts time.Time, uid int, cpuUtil float64, stats uidstats.UidProcStats) {
	fmt.Fprintf(tw, "%s\t%d\t%.1f\t%d\t%d\t%d\t%d\t%d\t%s\t%s\n",
		ts.Format("15:04:05"), uid, cpuUtil*100,
		stats.CPUTimeMillis, stats.CPUCycles, stats.TotalMajorFaults,
		stats.TotalTasksCount, stats.IOBlockedTasksCount,
		stats.TotalRssKb.Humanized(), stats.TotalPssKb.Humanized())
	_ = tw.Flush()
}

func printCsvLike(now string, uid int, cpuUtil float64, stats uidstats.UidProcStats) {
	fmt.Printf("%s, %d, %s, %d, %d, %d, %d, %d, %d, %d\n",
		now, uid, util.FmtFloat(cpuUtil),
		stats.CPUTimeMillis, stats.CPUCycles, stats.TotalMajorFaults,
		stats.TotalTasksCount, stats.IOBlockedTasksCount,
		stats.TotalRssKb.ToUint64(), stats.TotalPssKb.ToUint64())
}

const _console = `uidstats - Per-UID Process Statistics Sampler
=============================================
Host:    %s
Kernel:  %s
CPUs:    %d
Memory:  %s
Started: %s

`
