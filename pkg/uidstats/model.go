package uidstats

import (
	"fmt"
	"slices"
	"strings"

	"github.com/drachfly/car-service15/pkg/types"
)

// ProcessStats aggregates the counters of one process and its threads
// inside a snapshot.
type ProcessStats struct {
	Comm            string
	StartTimeMillis uint64
	CPUTimeMillis   uint64
	// TotalCPUCycles is the saturated sum of CPUCyclesByTid.
	TotalCPUCycles uint64
	// TotalMajorFaults comes from the process-level stat file, which
	// aggregates across thread creation/termination. It is not summed
	// from threads.
	TotalMajorFaults uint64
	// TotalTasksCount counts observed threads, main thread included.
	TotalTasksCount int
	// IOBlockedTasksCount counts threads in uninterruptible I/O wait ("D").
	IOBlockedTasksCount int
	// CPUCyclesByTid is a partial mapping: a thread whose time_in_state was
	// unreadable has no entry. Absence means unknown, not zero.
	CPUCyclesByTid map[int]uint64

	RssKb     types.Kilobytes
	PssKb     types.Kilobytes
	UssKb     types.Kilobytes
	SwapPssKb types.Kilobytes
}

// Clone returns a deep copy, including the per-TID cycle map.
func (p ProcessStats) Clone() ProcessStats {
	c := p
	c.CPUCyclesByTid = make(map[int]uint64, len(p.CPUCyclesByTid))
	for tid, cycles := range p.CPUCyclesByTid {
		c.CPUCyclesByTid[tid] = cycles
	}
	return c
}

func (p ProcessStats) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "{comm: %s, startTimeMillis: %d, cpuTimeMillis: %d, totalCpuCycles: %d"+
		", totalMajorFaults: %d, totalTasksCount: %d, ioBlockedTasksCount: %d, cpuCyclesByTid: {",
		p.Comm, p.StartTimeMillis, p.CPUTimeMillis, p.TotalCPUCycles,
		p.TotalMajorFaults, p.TotalTasksCount, p.IOBlockedTasksCount)
	sep := ""
	for _, tid := range sortedKeys(p.CPUCyclesByTid) {
		fmt.Fprintf(&b, "%s{tid: %d, cpuCycles: %d}", sep, tid, p.CPUCyclesByTid[tid])
		sep = ", "
	}
	fmt.Fprintf(&b, "}, rssKb: %d, pssKb: %d, ussKb: %d, swapPssKb: %d}",
		p.RssKb, p.PssKb, p.UssKb, p.SwapPssKb)
	return b.String()
}

// UidProcStats folds the stats of every process owned by one UID.
type UidProcStats struct {
	CPUTimeMillis       uint64
	CPUCycles           uint64
	TotalMajorFaults    uint64
	TotalTasksCount     int
	IOBlockedTasksCount int
	TotalRssKb          types.Kilobytes
	TotalPssKb          types.Kilobytes
	ProcessStatsByPid   map[int]ProcessStats
}

// Clone returns a deep copy.
func (u UidProcStats) Clone() UidProcStats {
	c := u
	c.ProcessStatsByPid = make(map[int]ProcessStats, len(u.ProcessStatsByPid))
	for pid, ps := range u.ProcessStatsByPid {
		c.ProcessStatsByPid[pid] = ps.Clone()
	}
	return c
}

func (u UidProcStats) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "UidProcStats{cpuTimeMillis: %d, cpuCycles: %d, totalMajorFaults: %d"+
		", totalTasksCount: %d, ioBlockedTasksCount: %d, totalRssKb: %d, totalPssKb: %d"+
		", processStatsByPid: {",
		u.CPUTimeMillis, u.CPUCycles, u.TotalMajorFaults,
		u.TotalTasksCount, u.IOBlockedTasksCount, u.TotalRssKb, u.TotalPssKb)
	sep := ""
	for _, pid := range sortedKeys(u.ProcessStatsByPid) {
		ps := u.ProcessStatsByPid[pid]
		fmt.Fprintf(&b, "%s{pid: %d, processStats: %s}", sep, pid, ps.String())
		sep = ", "
	}
	b.WriteString("}}")
	return b.String()
}

// Snapshot maps owning UID to the aggregated stats of its processes, as
// observed by one Collect call.
type Snapshot map[int]UidProcStats

// Clone returns a deep copy.
func (s Snapshot) Clone() Snapshot {
	c := make(Snapshot, len(s))
	for uid, stats := range s {
		c[uid] = stats.Clone()
	}
	return c
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
