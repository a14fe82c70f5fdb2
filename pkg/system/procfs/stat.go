package procfs

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/drachfly/car-service15/pkg/system/util"
)

// PidStat holds the fields extracted from a process- or thread-level stat
// file, with times already converted to milliseconds.
type PidStat struct {
	Comm            string
	State           string
	MajorFaults     uint64
	CPUTimeMillis   uint64
	StartTimeMillis uint64
}

// ParsePidStatLine extracts PidStat fields from one stat line.
//
// stat file format:
// <pid> <comm> <state> <ppid> <pgrp ID> <session ID> <tty_nr> <tpgid> <flags>
// <minor faults> <children minor faults> <major faults> <children major faults>
// <user mode time> <system mode time> ... <num threads> <start time since boot> ...
// Example line: 1 (init) S 0 0 0 0 0 0 0 0 220 0 0 0 0 0 0 0 2 0 0 ...
//
// Comm is enclosed in ( ) brackets and may contain space(s), so the numeric
// field offsets are biased by the index of the field holding the closing
// bracket. Times are left in clock ticks; ReadPidStat applies the unit
// conversion.
func ParsePidStatLine(line string) (PidStat, error) {
	fields := strings.Split(line, " ")

	var ps PidStat
	// The closing bracket of comm is in the last field ending with ')':
	// comm itself may contain ") ", but no numeric field after it does.
	commEnd := -1
	for i := 1; i < len(fields); i++ {
		if strings.HasSuffix(fields[i], ")") {
			commEnd = i
		}
	}
	commEndOffset := commEnd - 1
	c := ""
	if commEnd > 0 {
		c = strings.Join(fields[1:commEnd+1], " ")
	}
	if commEndOffset < 0 || len(c) < 2 || c[0] != '(' || c[len(c)-1] != ')' {
		return PidStat{}, fmt.Errorf("comm string %q not enclosed in brackets", c)
	}
	ps.Comm = c[1 : len(c)-1]

	if len(fields) < 22+commEndOffset {
		return PidStat{}, fmt.Errorf("%d fields < %d", len(fields), 22+commEndOffset)
	}
	majorFaults, err := strconv.ParseUint(fields[11+commEndOffset], 10, 64)
	if err != nil {
		return PidStat{}, err
	}
	utime, err := strconv.ParseInt(fields[13+commEndOffset], 10, 64)
	if err != nil {
		return PidStat{}, err
	}
	stime, err := strconv.ParseInt(fields[14+commEndOffset], 10, 64)
	if err != nil {
		return PidStat{}, err
	}
	startTime, err := strconv.ParseInt(fields[21+commEndOffset], 10, 64)
	if err != nil {
		return PidStat{}, err
	}

	ps.MajorFaults = majorFaults
	ps.CPUTimeMillis = uint64(utime + stime)
	ps.StartTimeMillis = uint64(startTime)
	ps.State = fields[2+commEndOffset]
	return ps, nil
}

// ReadPidStat reads a process- or thread-level stat file and converts the
// tick-denominated times to milliseconds. A missing file is a warning (the
// task may have exited between scan and read); malformed contents are a
// parse failure.
func ReadPidStat(path string, millisPerClockTick uint64) (PidStat, error) {
	line, rerr := readSingleLineFile(path)
	if rerr != nil {
		return PidStat{}, rerr
	}
	ps, err := ParsePidStatLine(line)
	if err != nil {
		return PidStat{}, Parsef(path, "invalid proc pid stat contents %q", line)
	}
	ps.CPUTimeMillis = util.MulUint64(ps.CPUTimeMillis, millisPerClockTick)
	ps.StartTimeMillis = util.MulUint64(ps.StartTimeMillis, millisPerClockTick)
	return ps, nil
}

// readSingleLineFile reads path and enforces that it holds exactly one line
// (an optional trailing newline is tolerated).
func readSingleLineFile(path string) (string, *ReadError) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", &ReadError{Severity: SeverityWarning, Path: path, Msg: "read failed", Err: err}
	}
	lines := strings.Split(string(b), "\n")
	if len(lines) != 1 && (len(lines) != 2 || lines[1] != "") {
		return "", Parsef(path, "contains %d lines != 1", len(lines))
	}
	return lines[0], nil
}
