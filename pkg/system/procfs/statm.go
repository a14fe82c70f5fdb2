package procfs

import (
	"strconv"
	"strings"
)

// ReadStatm returns the resident and shared page counts from a statm file.
//
// statm file format:
// <Total program size> <Resident pages> <Shared pages> <Text pages> 0 <Data pages> 0
// Example: 2969783 1481 938 530 0 5067 0
func ReadStatm(path string) (rssPages, sharedPages uint64, err error) {
	line, rerr := readSingleLineFile(path)
	if rerr != nil {
		return 0, 0, rerr
	}
	fields := strings.Split(line, " ")
	if len(fields) < 6 {
		return 0, 0, Parsef(path, "contains insufficient entries")
	}
	rssPages, rssErr := strconv.ParseUint(fields[1], 10, 64)
	sharedPages, sharedErr := strconv.ParseUint(fields[2], 10, 64)
	if rssErr != nil || sharedErr != nil {
		return 0, 0, Parsef(path, "failed to parse fields from %q", line)
	}
	return rssPages, sharedPages, nil
}
