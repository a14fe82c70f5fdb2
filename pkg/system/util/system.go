package util

import (
	"strconv"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/drachfly/car-service15/pkg/types"
)

// SystemSummary returns hostname, kernel version, logical CPU count and
// humanized total memory for the console header. Failures degrade to
// placeholder values; the summary is cosmetic.
func SystemSummary() (hostname, kernel string, cpus int, memory string) {
	hostname, kernel, memory = "unknown", "unknown", "unknown"
	if info, err := host.Info(); err == nil {
		hostname = info.Hostname
		kernel = info.KernelVersion
	}
	cpus, _ = cpu.Counts(true)
	if vm, err := mem.VirtualMemory(); err == nil {
		memory = types.Kilobytes(vm.Total / 1024).Humanized()
	}
	return hostname, kernel, cpus, memory
}

// FmtFloat renders a float for CSV-ish output without exponent notation.
func FmtFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
