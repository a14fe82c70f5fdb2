package uidstats

import "github.com/drachfly/car-service15/pkg/system/util"

// computeDelta diffs curr against prev, per PID and per TID, producing a
// snapshot keyed by the current UIDs.
//
// Monotonic counters (cpu time, major faults, cycles) become current-prev
// when the previous value does not exceed the current one; otherwise the
// delta keeps the current value, which covers undetected PID reuse, counter
// resets, and shrinking thread sets. PID reuse is detected by comparing
// start times: a matching PID with a different start time is treated as a
// new process. Instantaneous fields (task counts, rss, pss) always carry
// the current values.
func computeDelta(prev, curr Snapshot) Snapshot {
	delta := make(Snapshot, len(curr))
	for uid, currStats := range curr {
		prevStats, ok := prev[uid]
		if !ok {
			delta[uid] = currStats.Clone()
			continue
		}
		deltaStats := UidProcStats{
			TotalTasksCount:     currStats.TotalTasksCount,
			IOBlockedTasksCount: currStats.IOBlockedTasksCount,
			TotalRssKb:          currStats.TotalRssKb,
			TotalPssKb:          currStats.TotalPssKb,
			ProcessStatsByPid:   make(map[int]ProcessStats, len(currStats.ProcessStatsByPid)),
		}
		for pid, processStats := range currStats.ProcessStatsByPid {
			deltaProcess := processStats.Clone()
			if prevProcess, ok := prevStats.ProcessStatsByPid[pid]; ok &&
				prevProcess.StartTimeMillis == deltaProcess.StartTimeMillis {
				if prevProcess.CPUTimeMillis <= deltaProcess.CPUTimeMillis {
					deltaProcess.CPUTimeMillis -= prevProcess.CPUTimeMillis
				}
				if prevProcess.TotalMajorFaults <= deltaProcess.TotalMajorFaults {
					deltaProcess.TotalMajorFaults -= prevProcess.TotalMajorFaults
				}
				// The process-level delta cycles are recomputed as the sum
				// of the per-thread deltas.
				deltaProcess.TotalCPUCycles = 0
				for tid, cycles := range processStats.CPUCyclesByTid {
					deltaCycles := cycles
					if prevCycles, ok := prevProcess.CPUCyclesByTid[tid]; ok && prevCycles <= deltaCycles {
						deltaCycles -= prevCycles
					}
					deltaProcess.CPUCyclesByTid[tid] = deltaCycles
					deltaProcess.TotalCPUCycles = util.AddUint64(deltaProcess.TotalCPUCycles, deltaCycles)
				}
			}
			deltaStats.CPUTimeMillis = util.AddUint64(deltaStats.CPUTimeMillis, deltaProcess.CPUTimeMillis)
			deltaStats.CPUCycles = util.AddUint64(deltaStats.CPUCycles, deltaProcess.TotalCPUCycles)
			deltaStats.TotalMajorFaults += deltaProcess.TotalMajorFaults
			deltaStats.ProcessStatsByPid[pid] = deltaProcess
		}
		delta[uid] = deltaStats
	}
	return delta
}
