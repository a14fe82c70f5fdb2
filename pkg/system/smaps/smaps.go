// Package smaps reads per-process memory usage summaries from
// smaps_rollup (or a full smaps) file.
package smaps

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/drachfly/car-service15/pkg/system/util"
)

// MemUsage is the memory usage summary of one process, in KiB.
// USS is derived as Private_Clean + Private_Dirty.
type MemUsage struct {
	RssKb     uint64
	PssKb     uint64
	UssKb     uint64
	SwapPssKb uint64
}

// OrRollupFromFile parses a smaps_rollup (or smaps) format file into a
// MemUsage. Values are accumulated across entries so a full per-mapping
// smaps file sums to the same totals the kernel reports in the rollup.
func OrRollupFromFile(path string) (MemUsage, error) {
	f, err := os.Open(path)
	if err != nil {
		return MemUsage{}, err
	}
	defer func() {
		_ = f.Close()
	}()

	var mu MemUsage
	var privateClean, privateDirty uint64
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "Rss:"):
			mu.RssKb = util.AddUint64(mu.RssKb, fieldKb(line))
		case strings.HasPrefix(line, "Pss:"):
			mu.PssKb = util.AddUint64(mu.PssKb, fieldKb(line))
		case strings.HasPrefix(line, "Private_Clean:"):
			privateClean = util.AddUint64(privateClean, fieldKb(line))
		case strings.HasPrefix(line, "Private_Dirty:"):
			privateDirty = util.AddUint64(privateDirty, fieldKb(line))
		case strings.HasPrefix(line, "SwapPss:"):
			mu.SwapPssKb = util.AddUint64(mu.SwapPssKb, fieldKb(line))
		}
	}
	if err := sc.Err(); err != nil {
		return MemUsage{}, err
	}
	mu.UssKb = util.AddUint64(privateClean, privateDirty)
	return mu, nil
}

// fieldKb extracts the numeric kB value from a "Key: <n> kB" line.
func fieldKb(line string) uint64 {
	fs := strings.Fields(line)
	if len(fs) < 2 {
		return 0
	}
	v, _ := strconv.ParseUint(fs[1], 10, 64)
	return v
}
