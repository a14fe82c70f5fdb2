package uidstats

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/drachfly/car-service15/pkg/system/procfs"
	"github.com/drachfly/car-service15/pkg/system/smaps"
	"github.com/drachfly/car-service15/pkg/system/util"
	"github.com/drachfly/car-service15/pkg/types"
)

// pidForInit is the PID whose files the capability probe checks.
const pidForInit = 1

// Option customizes a Collector at construction time.
type Option func(*Collector)

// WithMemoryProfiling toggles collection of per-process memory usage
// (smaps_rollup with statm fallback).
func WithMemoryProfiling(enabled bool) Option {
	return func(c *Collector) { c.memoryProfiling = enabled }
}

// WithLogger sets the logger used for debug traces and probe results.
func WithLogger(log *slog.Logger) Option {
	return func(c *Collector) { c.log = log }
}

// Collector scans a procfs root and aggregates per-process and per-thread
// counters under the owning UID. It keeps the latest absolute snapshot and
// the delta since the previous collection, both guarded by a single mutex.
type Collector struct {
	path                  string
	memoryProfiling       bool
	smapsRollupSupported  bool
	millisPerClockTick    uint64
	cyclesPerKHzClockTick uint64
	pageSizeKb            uint64
	log                   *slog.Logger

	mu                 sync.Mutex
	enabled            bool
	timeInStateEnabled bool
	latest             Snapshot
	delta              Snapshot
}

// New creates a Collector reading from the given procfs root (pass
// procfs.DefaultPath for the real system). smapsRollupSupported declares
// whether the kernel provides smaps_rollup files; when it does not, memory
// profiling falls back to statm. Call Init before the first Collect.
func New(path string, smapsRollupSupported bool, opts ...Option) *Collector {
	clockTicks := uint64(procfs.ClockTicks())
	pageSizeKb := uint64(1)
	if ps := procfs.PageSize(); ps > 1024 {
		pageSizeKb = uint64(ps) / 1024
	}
	c := &Collector{
		path:                  path,
		smapsRollupSupported:  smapsRollupSupported,
		millisPerClockTick:    1000 / clockTicks,
		cyclesPerKHzClockTick: 1000 / clockTicks,
		pageSizeKb:            pageSizeKb,
		log:                   slog.Default(),
		latest:                Snapshot{},
		delta:                 Snapshot{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Init probes read access on the files Collect depends on (for PID 1) and
// sets the enablement flags. It is idempotent and may be called again to
// re-probe after a permission change.
func (c *Collector) Init() {
	pidStatPath := procfs.StatPath(c.path, pidForInit)
	pidStatOK := readable(pidStatPath)

	tidStatPath := procfs.TaskStatPath(c.path, pidForInit, pidForInit)
	tidStatOK := readable(tidStatPath)

	pidStatusPath := procfs.StatusPath(c.path, pidForInit)
	pidStatusOK := readable(pidStatusPath)

	tidTimeInStatePath := procfs.TimeInStatePath(c.path, pidForInit, pidForInit)
	tidTimeInStateOK := readable(tidTimeInStatePath)

	statmPath := procfs.StatmPath(c.path, pidForInit)
	statmOK := false
	if c.memoryProfiling {
		statmOK = readable(statmPath)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.enabled = pidStatOK && tidStatOK && pidStatusOK
	if c.memoryProfiling {
		c.enabled = c.enabled && (statmOK || c.smapsRollupSupported)
	}

	c.timeInStateEnabled = false
	if tidTimeInStateOK {
		cycles, err := procfs.ReadTimeInState(tidTimeInStatePath, c.cyclesPerKHzClockTick)
		c.timeInStateEnabled = err == nil && cycles > 0
	}
	if !c.timeInStateEnabled {
		c.log.Warn("time in state collection is not enabled", "path", tidTimeInStatePath)
	}

	if !c.enabled {
		var inaccessible []string
		if !pidStatOK {
			inaccessible = append(inaccessible, pidStatPath)
		}
		if !tidStatOK {
			inaccessible = append(inaccessible, tidStatPath)
		}
		if !pidStatusOK {
			inaccessible = append(inaccessible, pidStatusPath)
		}
		if c.memoryProfiling && !statmOK {
			inaccessible = append(inaccessible, statmPath)
		}
		c.log.Error("disabling uid proc stats collection, files not accessible",
			"paths", strings.Join(inaccessible, ", "))
	}
}

// Collect scans the procfs root once, replaces the latest snapshot, and
// recomputes the delta since the previous one. On error neither stored
// snapshot changes.
func (c *Collector) Collect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.enabled {
		return fmt.Errorf("%w: can not access pid stat files under %s", ErrDisabled, c.path)
	}
	curr, err := c.readUidProcStats()
	if err != nil {
		return err
	}
	c.delta = computeDelta(c.latest, curr)
	c.latest = curr
	return nil
}

// LatestStats returns a deep copy of the most recent absolute snapshot.
func (c *Collector) LatestStats() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest.Clone()
}

// DeltaStats returns a deep copy of the delta computed by the last
// successful Collect.
func (c *Collector) DeltaStats() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delta.Clone()
}

// Enabled reports whether the capability probe succeeded.
func (c *Collector) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// TimeInStateEnabled reports whether per-thread CPU cycle collection is on.
func (c *Collector) TimeInStateEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeInStateEnabled
}

// readUidProcStats enumerates the PID directories under the root and folds
// every readable process into a UID-keyed snapshot. Warnings skip the PID;
// anything else aborts the scan. Callers hold c.mu.
func (c *Collector) readUidProcStats() (Snapshot, error) {
	entries, err := os.ReadDir(c.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s directory: %w", c.path, err)
	}
	snapshot := Snapshot{}
	for _, entry := range entries {
		pid, aerr := strconv.Atoi(entry.Name())
		if aerr != nil || !entry.IsDir() {
			continue
		}
		uid, processStats, perr := c.readProcessStats(pid)
		if perr != nil {
			if !procfs.IsWarning(perr) {
				return nil, perr
			}
			c.log.Debug("skipping pid", "pid", pid, "reason", perr)
			continue
		}
		stats, ok := snapshot[uid]
		if !ok {
			stats = UidProcStats{ProcessStatsByPid: map[int]ProcessStats{}}
		}
		stats.CPUTimeMillis = util.AddUint64(stats.CPUTimeMillis, processStats.CPUTimeMillis)
		stats.CPUCycles = util.AddUint64(stats.CPUCycles, processStats.TotalCPUCycles)
		stats.TotalMajorFaults += processStats.TotalMajorFaults
		stats.TotalTasksCount += processStats.TotalTasksCount
		stats.IOBlockedTasksCount += processStats.IOBlockedTasksCount
		stats.TotalRssKb += processStats.RssKb
		stats.TotalPssKb += processStats.PssKb
		stats.ProcessStatsByPid[pid] = processStats
		snapshot[uid] = stats
	}
	return snapshot, nil
}

// readProcessStats assembles the stats of a single process: top-level stat,
// owning UID from status (with recovery from the previous snapshot when the
// status file vanished), memory usage, and the per-thread scan. Callers
// hold c.mu.
func (c *Collector) readProcessStats(pid int) (int, ProcessStats, error) {
	// 1. Read top-level pid stats.
	pidStat, err := procfs.ReadPidStat(procfs.StatPath(c.path, pid), c.millisPerClockTick)
	if err != nil {
		return 0, ProcessStats{}, err
	}

	// 2. Read aggregated process status.
	uid, tgid := -1, -1
	statusPath := procfs.StatusPath(c.path, pid)
	if u, t, serr := procfs.ReadPidStatus(statusPath); serr != nil {
		if !procfs.IsWarning(serr) {
			return 0, ProcessStats{}, fmt.Errorf("failed to read pid status for pid %d: %w", pid, serr)
		}
		// The process exited mid-scan but may still be known from the
		// previous collection. Recover its UID when the start time matches.
		for prevUid, uidStats := range c.latest {
			if prev, ok := uidStats.ProcessStatsByPid[pid]; ok &&
				prev.StartTimeMillis == pidStat.StartTimeMillis {
				uid = prevUid
				tgid = pid
				c.log.Debug("recovered uid from previous snapshot", "pid", pid, "uid", uid)
				break
			}
		}
	} else {
		uid, tgid = u, t
	}

	if uid == -1 || tgid != pid {
		return 0, ProcessStats{},
			procfs.Warnf(statusPath, "skipping pid %d because either Tgid != PID or invalid UID", pid)
	}

	processStats := ProcessStats{
		Comm:            pidStat.Comm,
		StartTimeMillis: pidStat.StartTimeMillis,
		CPUTimeMillis:   pidStat.CPUTimeMillis,
		// The top-level stat aggregates major faults across thread
		// creation/termination, so use it rather than summing threads.
		TotalMajorFaults: pidStat.MajorFaults,
		TotalTasksCount:  1,
		CPUCyclesByTid:   map[int]uint64{},
	}
	if pidStat.State == "D" {
		processStats.IOBlockedTasksCount = 1
	}

	// 3. Read memory usage summary.
	if c.memoryProfiling && !c.readSmapsRollup(pid, &processStats) {
		statmPath := procfs.StatmPath(c.path, pid)
		if rssPages, sharedPages, merr := procfs.ReadStatm(statmPath); merr != nil {
			if !procfs.IsWarning(merr) {
				return 0, ProcessStats{}, merr
			}
			c.log.Debug("statm vanished", "pid", pid, "reason", merr)
		} else {
			processStats.RssKb = types.Kilobytes(rssPages * c.pageSizeKb)
			// RSS pages - Shared pages = USS pages.
			ussKb := processStats.RssKb - types.Kilobytes(sharedPages*c.pageSizeKb)
			// Check for overflow and correct the result.
			if ussKb <= processStats.RssKb {
				processStats.UssKb = ussKb
			} else {
				processStats.UssKb = 0
			}
		}
	}

	// 4. Read per-thread stats.
	taskDir := procfs.TaskDirPath(c.path, pid)
	taskEntries, derr := os.ReadDir(taskDir)
	if derr != nil {
		// Task dir gone means the process exited mid-scan; report what the
		// top-level files yielded.
		taskEntries = nil
	}
	for _, entry := range taskEntries {
		tid, aerr := strconv.Atoi(entry.Name())
		if aerr != nil || !entry.IsDir() {
			continue
		}
		if tid != pid {
			tidStat, terr := procfs.ReadPidStat(procfs.TaskStatPath(c.path, pid, tid), c.millisPerClockTick)
			if terr != nil {
				if !procfs.IsWarning(terr) {
					return 0, ProcessStats{}, fmt.Errorf("failed to read per-thread stat file: %w", terr)
				}
				// The thread terminated before the read; scan the next one.
				continue
			}
			if tidStat.State == "D" {
				processStats.IOBlockedTasksCount++
			}
			processStats.TotalTasksCount++
		}

		if !c.timeInStateEnabled {
			continue
		}

		// 5. Read time-in-state stats only when the file is accessible.
		cycles, tisErr := procfs.ReadTimeInState(procfs.TimeInStatePath(c.path, pid, tid), c.cyclesPerKHzClockTick)
		if tisErr != nil || cycles == 0 {
			if tisErr != nil && !procfs.IsWarning(tisErr) {
				return 0, ProcessStats{}, fmt.Errorf("failed to read per-thread time_in_state file: %w", tisErr)
			}
			// The kernel may not track frequency residency for this thread,
			// or the thread exited mid-scan. Leave the TID unmapped.
			continue
		}
		processStats.TotalCPUCycles = util.AddUint64(processStats.TotalCPUCycles, cycles)
		processStats.CPUCyclesByTid[tid] = cycles
	}
	return uid, processStats, nil
}

// readSmapsRollup fills the memory fields from the smaps_rollup
// collaborator. It reports false when rollup is unsupported, unreadable, or
// yielded empty counters, in which case the caller falls back to statm.
func (c *Collector) readSmapsRollup(pid int, processStats *ProcessStats) bool {
	if !c.smapsRollupSupported {
		return false
	}
	memUsage, err := smaps.OrRollupFromFile(procfs.SmapsRollupPath(c.path, pid))
	if err != nil {
		return false
	}
	processStats.PssKb = types.Kilobytes(memUsage.PssKb)
	processStats.RssKb = types.Kilobytes(memUsage.RssKb)
	processStats.UssKb = types.Kilobytes(memUsage.UssKb)
	processStats.SwapPssKb = types.Kilobytes(memUsage.SwapPssKb)
	return memUsage.PssKb > 0 && memUsage.RssKb > 0 && memUsage.UssKb > 0
}

// readable mirrors access(2) with R_OK.
func readable(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	_ = f.Close()
	return true
}
