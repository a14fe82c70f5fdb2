package procfs

import (
	"os"
	"strconv"
	"strings"

	"github.com/drachfly/car-service15/pkg/system/util"
)

// ReadTimeInState totals the CPU cycles recorded in a per-thread
// time_in_state file.
//
// time_in_state file format:
// cpuX
// <CPU freq (kHz)> <time spent at freq (clock ticks)>
// <CPU freq (kHz)> <time spent at freq (clock ticks)>
// ...
// cpuY
// <CPU freq (kHz)> <time spent at freq (clock ticks)>
// ...
//
// Each 'cpuX' header refers to one CPU freq policy. A policy can contain
// multiple cores, but a thread only runs on one core at a time, so summing
// across the whole file is correct at the thread level.
//
// The frequency is in kHz and the time in clock ticks. Scaling the frequency
// by 1000 gives Hz and the time by 1/clockTicksPerSecond gives seconds, so
// the accumulated freq*ticks products scale by cyclesPerKHzClockTick
// (= 1000/clockTicksPerSecond) to yield cycles. All arithmetic saturates at
// MaxUint64.
func ReadTimeInState(path string, cyclesPerKHzClockTick uint64) (uint64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, &ReadError{Severity: SeverityWarning, Path: path, Msg: "read failed", Err: err}
	}

	var oneTenthCycles uint64
	for _, line := range strings.Split(string(b), "\n") {
		if line == "" || strings.HasPrefix(line, "cpu") {
			continue
		}
		elements := strings.Split(line, " ")
		if len(elements) < 2 {
			return 0, Parsef(path, "line %q doesn't contain the delimiter %q", line, " ")
		}
		freqKHz, ferr := strconv.ParseUint(elements[0], 10, 64)
		clockTicks, terr := strconv.ParseUint(strings.TrimSpace(elements[1]), 10, 64)
		if ferr != nil || terr != nil {
			return 0, Parsef(path, "line %q has invalid format", line)
		}
		oneTenthCycles = util.AddUint64(oneTenthCycles, util.MulUint64(freqKHz, clockTicks))
	}
	return util.MulUint64(oneTenthCycles, cyclesPerKHzClockTick), nil
}
