//go:build linux

package offline0

import (
	"bufio"
	"bytes"
	"os"
	"strconv"
	"strings"
)

// memorySummary reports resident memory and its anonymous/file split for
// the status report. It is best-effort and returns "" without /proc.
func memorySummary() string {
	rss, ok := processRSSBytes()
	if !ok {
		return ""
	}
	out := "rss=" + formatBytes(rss)
	if vals, ok := processSmapsRollupBytes(); ok {
		for _, k := range []string{"Anonymous", "Shared_Clean", "Private_Clean"} {
			if v, ok := vals[k]; ok {
				out += " " + strings.ToLower(k) + "=" + formatBytes(v)
			}
		}
	}
	return out
}

func processRSSBytes() (uint64, bool) {
	b, err := os.ReadFile("/proc/self/statm")
	if err != nil {
		return 0, false
	}
	fields := bytes.Fields(b)
	if len(fields) < 2 {
		return 0, false
	}
	pages, err := strconv.ParseUint(string(fields[1]), 10, 64)
	if err != nil {
		return 0, false
	}
	return pages * uint64(os.Getpagesize()), true
}

// processSmapsRollupBytes parses "Key:   123 kB" lines of smaps_rollup.
func processSmapsRollupBytes() (map[string]uint64, bool) {
	f, err := os.Open("/proc/self/smaps_rollup")
	if err != nil {
		return nil, false
	}
	defer f.Close()

	vals := make(map[string]uint64)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		key, rest, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			continue
		}
		n, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			continue
		}
		vals[strings.TrimSpace(key)] = n * 1024
	}
	if sc.Err() != nil || len(vals) == 0 {
		return nil, false
	}
	return vals, true
}
