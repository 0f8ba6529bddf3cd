package store

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Snapshot line format, one record per line:
//
//	bw_<escaped-address>=<status>,<timestamp>[,<timestamp>...]
//
// The key is identifier-safe: dots, colons and the CIDR slash are each mapped
// to a distinct substitute character. Addresses only contain hex digits, dots,
// colons and slashes, so the mapping is reversible.
const keyPrefix = "bw_"

var escaper = strings.NewReplacer(".", "_", ":", "x", "/", "m")
var unescaper = strings.NewReplacer("_", ".", "x", ":", "m", "/")

func encodeKey(address string) string {
	return keyPrefix + escaper.Replace(address)
}

func decodeKey(key string) (string, bool) {
	if !strings.HasPrefix(key, keyPrefix) {
		return "", false
	}
	return unescaper.Replace(key[len(keyPrefix):]), true
}

// Encode serializes every record, sorted by address so that identical state
// always produces identical bytes. The durable-write dedup depends on that.
func Encode(records []Record) []byte {
	sorted := make([]Record, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Address < sorted[j].Address
	})

	var buf bytes.Buffer
	for _, r := range sorted {
		fmt.Fprintf(&buf, "%s=%d", encodeKey(r.Address), int(r.Status))
		for _, ts := range r.Timestamps {
			fmt.Fprintf(&buf, ",%d", ts)
		}
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// Decode parses a snapshot. Malformed lines are skipped, not fatal; the
// second return value counts them so the caller can log a diagnostic.
func Decode(data []byte) ([]Record, int) {
	var records []Record
	skipped := 0

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		r, ok := decodeLine(line)
		if !ok {
			skipped++
			continue
		}
		records = append(records, r)
	}
	return records, skipped
}

func decodeLine(line string) (Record, bool) {
	key, value, found := strings.Cut(line, "=")
	if !found {
		return Record{}, false
	}

	address, ok := decodeKey(key)
	if !ok || address == "" {
		return Record{}, false
	}

	fields := strings.Split(value, ",")
	if len(fields) < 2 {
		return Record{}, false
	}

	status, err := strconv.Atoi(fields[0])
	if err != nil {
		return Record{}, false
	}
	switch Status(status) {
	case Whitelisted, Tracked, Banned:
	default:
		return Record{}, false
	}

	r := Record{Address: address, Status: Status(status)}
	for _, f := range fields[1:] {
		ts, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return Record{}, false
		}
		r.Insert(ts)
	}
	if len(r.Timestamps) == 0 {
		return Record{}, false
	}
	// A banned record holds exactly one timestamp, the ban-start. Extra
	// timestamps in a tampered or stale line must not resurrect older
	// ban-starts, so keep only the newest.
	if r.Status == Banned && len(r.Timestamps) > 1 {
		r.Timestamps = []int64{r.Last()}
	}
	return r, true
}
