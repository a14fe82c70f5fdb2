package procfs

import (
	"os"
	"strconv"
	"strings"
)

// ReadKeyValueFile reads path and returns a key→value mapping for the lines
// matching the given tag whitelist. Scanning stops once every tag has been
// seen. Each retained line is split at the first occurrence of delimiter;
// the remainder is trimmed. Duplicate keys are a parse failure.
func ReadKeyValueFile(path, delimiter string, tags []string) (map[string]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, &ReadError{Severity: SeverityWarning, Path: path, Msg: "read failed", Err: err}
	}

	lines := linesWithTags(string(b), tags)
	contents := make(map[string]string, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		i := strings.Index(line, delimiter)
		if i < 0 {
			return nil, Parsef(path, "line %q doesn't contain the delimiter %q", line, delimiter)
		}
		key := line[:i]
		value := strings.TrimSpace(line[i+len(delimiter):])
		if _, ok := contents[key]; ok {
			return nil, Parsef(path, "duplicate %s line %q", key, line)
		}
		contents[key] = value
	}
	return contents, nil
}

// linesWithTags returns the lines of buffer that contain a not-yet-found
// tag, stopping early once all tags have been matched.
func linesWithTags(buffer string, tags []string) []string {
	notFound := make([]string, len(tags))
	copy(notFound, tags)

	var result []string
	for len(notFound) > 0 && buffer != "" {
		line := buffer
		if i := strings.IndexByte(buffer, '\n'); i >= 0 {
			line, buffer = buffer[:i], buffer[i+1:]
		} else {
			buffer = ""
		}
		hasTag := false
		for i := 0; i < len(notFound); {
			if strings.Contains(line, notFound[i]) {
				notFound = append(notFound[:i], notFound[i+1:]...)
				hasTag = true
			} else {
				i++
			}
		}
		if hasTag {
			result = append(result, line)
		}
	}
	return result
}

// ReadPidStatus returns the owning UID and the thread-group ID from a
// process status file.
//
// status file format:
// Tgid:    <Thread group ID of the process>
// Uid:     <Real UID>   <Effective UID>   <Saved set UID>   <Filesystem UID>
//
// Only the real UID (first of the four tab-separated values) is used.
func ReadPidStatus(path string) (uid, tgid int, err error) {
	contents, err := ReadKeyValueFile(path, ":\t", []string{"Uid", "Tgid"})
	if err != nil {
		return 0, 0, err
	}
	if len(contents) == 0 {
		return 0, 0, Parsef(path, "empty file")
	}
	uidLine, ok := contents["Uid"]
	if !ok {
		return 0, 0, Parsef(path, "failed to read 'Uid'")
	}
	uid, aerr := strconv.Atoi(strings.Split(uidLine, "\t")[0])
	if aerr != nil {
		return 0, 0, Parsef(path, "failed to parse 'Uid' from %q", uidLine)
	}
	tgidLine, ok := contents["Tgid"]
	if !ok {
		return 0, 0, Parsef(path, "failed to read 'Tgid'")
	}
	tgid, aerr = strconv.Atoi(tgidLine)
	if aerr != nil {
		return 0, 0, Parsef(path, "failed to parse 'Tgid' from %q", tgidLine)
	}
	return uid, tgid, nil
}
