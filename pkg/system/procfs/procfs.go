package procfs

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/tklauser/go-sysconf"
)

// DefaultPath is the procfs mount point on a stock Linux system. Collectors
// accept any root so tests can point them at fixture trees.
const DefaultPath = "/proc"

// ClockTicks returns the number of jiffies (clock ticks) per second.
// It first checks the env var CLK_TCK (useful for testing), then asks
// sysconf(_SC_CLK_TCK), otherwise falls back to 100 (common default).
func ClockTicks() int64 {
	v, _ := strconv.Atoi(os.Getenv("CLK_TCK"))
	if v > 0 {
		return int64(v)
	}
	if tck, err := sysconf.Sysconf(sysconf.SC_CLK_TCK); err == nil && tck > 0 {
		return tck
	}
	return 100
}

// PageSize returns the system memory page size in bytes.
// Like ClockTicks, it first checks an env override (PAGE_SIZE)
// to ease testing, then falls back to os.Getpagesize().
func PageSize() int {
	if ps := os.Getenv("PAGE_SIZE"); ps != "" {
		if v, _ := strconv.Atoi(ps); v > 0 {
			return v
		}
	}
	return os.Getpagesize()
}

//
// Path helpers for the per-PID file layout.
//

func StatPath(root string, pid int) string {
	return filepath.Join(root, strconv.Itoa(pid), "stat")
}

func StatusPath(root string, pid int) string {
	return filepath.Join(root, strconv.Itoa(pid), "status")
}

func StatmPath(root string, pid int) string {
	return filepath.Join(root, strconv.Itoa(pid), "statm")
}

func SmapsRollupPath(root string, pid int) string {
	return filepath.Join(root, strconv.Itoa(pid), "smaps_rollup")
}

func TaskDirPath(root string, pid int) string {
	return filepath.Join(root, strconv.Itoa(pid), "task")
}

func TaskStatPath(root string, pid, tid int) string {
	return filepath.Join(root, strconv.Itoa(pid), "task", strconv.Itoa(tid), "stat")
}

func TimeInStatePath(root string, pid, tid int) string {
	return filepath.Join(root, strconv.Itoa(pid), "task", strconv.Itoa(tid), "time_in_state")
}
