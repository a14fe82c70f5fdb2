// Package uidstats collects per-UID process statistics from a Linux-style
// procfs tree.
//
// Overview
//
//   - Collector:
//     New(path, smapsRollupSupported, opts...) builds a collector rooted at
//     a procfs path. Init() probes read access on representative files for
//     PID 1 and decides whether collection (and per-thread time_in_state
//     cycle accounting) is possible. Collect() performs one synchronous
//     scan; LatestStats() and DeltaStats() return deep copies of the two
//     stored snapshots.
//
//   - Snapshots:
//     A Snapshot maps UID → UidProcStats, which folds the ProcessStats of
//     every process the UID owns: CPU time (ms), estimated CPU cycles,
//     major faults, task counts, I/O-blocked task counts, and RSS/PSS
//     memory. ProcessStats additionally carries per-thread CPU cycles and
//     the process start time used for PID-reuse detection.
//
//   - Deltas:
//     After each Collect the delta against the previous snapshot is stored
//     alongside the absolute values. Deltas are monotonic: a counter that
//     went backwards (counter reset, undetected PID reuse, vanished
//     thread) contributes its current value rather than an underflow, and
//     a PID whose start time changed is treated as a brand-new process.
//
//   - Robustness:
//     PIDs and TIDs routinely disappear between directory scan and file
//     read; those are warnings and the entry is skipped. A file that was
//     readable but malformed aborts the collection without touching the
//     stored snapshots. All 64-bit counters saturate instead of wrapping.
//
// Example: periodic collection
//
//	col := uidstats.New(procfs.DefaultPath, true, uidstats.WithMemoryProfiling(true))
//	col.Init()
//	if !col.Enabled() {
//	    log.Fatal("procfs not accessible")
//	}
//	for range ticker.C {
//	    if err := col.Collect(); err != nil {
//	        slog.Warn("collect failed", "err", err)
//	        continue
//	    }
//	    for uid, stats := range col.DeltaStats() {
//	        slog.Info("uid activity", "uid", uid, "cpuMs", stats.CPUTimeMillis)
//	    }
//	}
package uidstats
