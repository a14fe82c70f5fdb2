package uidstats

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drachfly/car-service15/pkg/system/util"
)

func procStats(startMs, cpuMs, majFlt uint64, cyclesByTid map[int]uint64) ProcessStats {
	ps := ProcessStats{
		Comm:             "app",
		StartTimeMillis:  startMs,
		CPUTimeMillis:    cpuMs,
		TotalMajorFaults: majFlt,
		TotalTasksCount:  1,
		CPUCyclesByTid:   map[int]uint64{},
	}
	for tid, cycles := range cyclesByTid {
		ps.CPUCyclesByTid[tid] = cycles
		ps.TotalCPUCycles = util.AddUint64(ps.TotalCPUCycles, cycles)
	}
	return ps
}

func uidStats(processes map[int]ProcessStats) UidProcStats {
	us := UidProcStats{ProcessStatsByPid: map[int]ProcessStats{}}
	for pid, ps := range processes {
		us.CPUTimeMillis = util.AddUint64(us.CPUTimeMillis, ps.CPUTimeMillis)
		us.CPUCycles = util.AddUint64(us.CPUCycles, ps.TotalCPUCycles)
		us.TotalMajorFaults += ps.TotalMajorFaults
		us.TotalTasksCount += ps.TotalTasksCount
		us.IOBlockedTasksCount += ps.IOBlockedTasksCount
		us.TotalRssKb += ps.RssKb
		us.TotalPssKb += ps.PssKb
		us.ProcessStatsByPid[pid] = ps
	}
	return us
}

func TestComputeDelta_NewUidIsAbsolute(t *testing.T) {
	curr := Snapshot{42: uidStats(map[int]ProcessStats{
		1000: procStats(5000, 300, 7, map[int]uint64{1000: 100}),
	})}

	delta := computeDelta(Snapshot{}, curr)
	require.Contains(t, delta, 42)
	assert.Equal(t, curr[42], delta[42])
}

func TestComputeDelta_Monotonic(t *testing.T) {
	prev := Snapshot{42: uidStats(map[int]ProcessStats{
		1000: procStats(5000, 300, 7, nil),
	})}
	curr := Snapshot{42: uidStats(map[int]ProcessStats{
		1000: procStats(5000, 450, 10, nil),
	})}

	delta := computeDelta(prev, curr)
	dp := delta[42].ProcessStatsByPid[1000]
	assert.Equal(t, uint64(150), dp.CPUTimeMillis)
	assert.Equal(t, uint64(3), dp.TotalMajorFaults)
	assert.Equal(t, uint64(150), delta[42].CPUTimeMillis)
	assert.Equal(t, uint64(3), delta[42].TotalMajorFaults)
}

func TestComputeDelta_PidReuseIsolation(t *testing.T) {
	prev := Snapshot{42: uidStats(map[int]ProcessStats{
		1000: procStats(5000, 300, 7, nil),
	})}
	// Same PID, different start time: a reused PID is a new process.
	curr := Snapshot{42: uidStats(map[int]ProcessStats{
		1000: procStats(9000, 50, 2, nil),
	})}

	delta := computeDelta(prev, curr)
	dp := delta[42].ProcessStatsByPid[1000]
	assert.Equal(t, uint64(50), dp.CPUTimeMillis)
	assert.Equal(t, uint64(2), dp.TotalMajorFaults)
}

func TestComputeDelta_CounterResetTolerance(t *testing.T) {
	prev := Snapshot{42: uidStats(map[int]ProcessStats{
		1000: procStats(5000, 300, 7, map[int]uint64{1000: 500}),
	})}
	// Matching start time but counters went backwards: keep the current
	// values rather than underflowing.
	curr := Snapshot{42: uidStats(map[int]ProcessStats{
		1000: procStats(5000, 100, 3, map[int]uint64{1000: 200}),
	})}

	delta := computeDelta(prev, curr)
	dp := delta[42].ProcessStatsByPid[1000]
	assert.Equal(t, uint64(100), dp.CPUTimeMillis)
	assert.Equal(t, uint64(3), dp.TotalMajorFaults)
	assert.Equal(t, uint64(200), dp.CPUCyclesByTid[1000])
	assert.Equal(t, uint64(200), dp.TotalCPUCycles)
}

func TestComputeDelta_DisappearingThread(t *testing.T) {
	prev := Snapshot{42: uidStats(map[int]ProcessStats{
		1000: procStats(5000, 100, 0, map[int]uint64{1000: 100, 1001: 200, 1002: 300}),
	})}
	curr := Snapshot{42: uidStats(map[int]ProcessStats{
		1000: procStats(5000, 200, 0, map[int]uint64{1000: 150, 1001: 250}),
	})}

	delta := computeDelta(prev, curr)
	dp := delta[42].ProcessStatsByPid[1000]
	assert.Equal(t, map[int]uint64{1000: 50, 1001: 50}, dp.CPUCyclesByTid)
	assert.Equal(t, uint64(100), dp.TotalCPUCycles)
	assert.Equal(t, uint64(100), delta[42].CPUCycles)
}

func TestComputeDelta_NewThreadKeepsCurrentCycles(t *testing.T) {
	prev := Snapshot{42: uidStats(map[int]ProcessStats{
		1000: procStats(5000, 100, 0, map[int]uint64{1000: 100}),
	})}
	curr := Snapshot{42: uidStats(map[int]ProcessStats{
		1000: procStats(5000, 100, 0, map[int]uint64{1000: 160, 1003: 40}),
	})}

	delta := computeDelta(prev, curr)
	dp := delta[42].ProcessStatsByPid[1000]
	assert.Equal(t, map[int]uint64{1000: 60, 1003: 40}, dp.CPUCyclesByTid)
	assert.Equal(t, uint64(100), dp.TotalCPUCycles)
}

func TestComputeDelta_InstantaneousFieldsCarryCurrent(t *testing.T) {
	prev := Snapshot{42: {
		TotalTasksCount:     10,
		IOBlockedTasksCount: 4,
		TotalRssKb:          9999,
		TotalPssKb:          8888,
		ProcessStatsByPid:   map[int]ProcessStats{},
	}}
	currProc := procStats(5000, 10, 0, nil)
	currProc.RssKb, currProc.PssKb = 100, 60
	curr := Snapshot{42: uidStats(map[int]ProcessStats{1000: currProc})}

	delta := computeDelta(prev, curr)
	assert.Equal(t, 1, delta[42].TotalTasksCount)
	assert.Equal(t, 0, delta[42].IOBlockedTasksCount)
	assert.Equal(t, curr[42].TotalRssKb, delta[42].TotalRssKb)
	assert.Equal(t, curr[42].TotalPssKb, delta[42].TotalPssKb)
}

func TestComputeDelta_NonNegativeAndBounded(t *testing.T) {
	// Every delta counter is >= 0 (by construction, unsigned) and <= the
	// current counter.
	prev := Snapshot{42: uidStats(map[int]ProcessStats{
		1000: procStats(5000, 300, 7, map[int]uint64{1000: 100, 1001: 900}),
		1001: procStats(6000, 50, 1, nil),
	})}
	curr := Snapshot{42: uidStats(map[int]ProcessStats{
		1000: procStats(5000, 400, 5, map[int]uint64{1000: 160, 1001: 100}),
		1002: procStats(7000, 25, 2, map[int]uint64{1002: 10}),
	})}

	delta := computeDelta(prev, curr)
	for pid, dp := range delta[42].ProcessStatsByPid {
		cp := curr[42].ProcessStatsByPid[pid]
		assert.LessOrEqual(t, dp.CPUTimeMillis, cp.CPUTimeMillis)
		assert.LessOrEqual(t, dp.TotalMajorFaults, cp.TotalMajorFaults)
		var sum uint64
		for tid, cycles := range dp.CPUCyclesByTid {
			assert.LessOrEqual(t, cycles, cp.CPUCyclesByTid[tid])
			sum = util.AddUint64(sum, cycles)
		}
		assert.Equal(t, dp.TotalCPUCycles, sum,
			"process delta cycles must equal the sum of its per-TID deltas")
	}
}

func TestComputeDelta_SaturatedUidFold(t *testing.T) {
	prev := Snapshot{42: uidStats(map[int]ProcessStats{
		1000: procStats(5000, 0, 0, nil),
	})}
	curr := Snapshot{42: uidStats(map[int]ProcessStats{
		1000: procStats(5000, math.MaxUint64, 0, map[int]uint64{1000: math.MaxUint64}),
		1001: procStats(5000, math.MaxUint64, 0, map[int]uint64{1001: math.MaxUint64}),
	})}

	delta := computeDelta(prev, curr)
	assert.Equal(t, uint64(math.MaxUint64), delta[42].CPUTimeMillis)
	assert.Equal(t, uint64(math.MaxUint64), delta[42].CPUCycles)
}

func TestComputeDelta_DoesNotAliasInputs(t *testing.T) {
	curr := Snapshot{42: uidStats(map[int]ProcessStats{
		1000: procStats(5000, 300, 7, map[int]uint64{1000: 100}),
	})}

	delta := computeDelta(Snapshot{}, curr)
	delta[42].ProcessStatsByPid[1000].CPUCyclesByTid[1000] = 1
	assert.Equal(t, uint64(100), curr[42].ProcessStatsByPid[1000].CPUCyclesByTid[1000])
}
