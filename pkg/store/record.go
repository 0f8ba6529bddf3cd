package store

import (
	"github.com/pkg/errors"
)

var NotFoundErr = errors.New("record not found")

// Status tags a record. Whitelisted records never change status; a banned
// record is deleted and recreated as Tracked rather than demoted.
type Status int

const (
	Whitelisted Status = -1
	Tracked     Status = 0
	Banned      Status = 1
)

func (s Status) String() string {
	switch s {
	case Whitelisted:
		return "whitelisted"
	case Tracked:
		return "tracked"
	case Banned:
		return "banned"
	}
	return "unknown"
}

// Record tracks authentication failures for one source address. The address
// is an opaque key: IPv4, IPv6, or CIDR form, stored verbatim. Timestamps are
// epoch seconds, strictly ascending and never empty. A Banned record holds
// exactly one timestamp, the ban-start time.
type Record struct {
	Address    string
	Status     Status
	Timestamps []int64
}

// Last returns the most recent timestamp. For a Banned record this is the
// ban-start time.
func (r Record) Last() int64 {
	return r.Timestamps[len(r.Timestamps)-1]
}

// Insert merges ts into the sorted unique timestamp sequence.
func (r *Record) Insert(ts int64) {
	i := 0
	for i < len(r.Timestamps) && r.Timestamps[i] < ts {
		i++
	}
	if i < len(r.Timestamps) && r.Timestamps[i] == ts {
		return
	}
	r.Timestamps = append(r.Timestamps, 0)
	copy(r.Timestamps[i+1:], r.Timestamps[i:])
	r.Timestamps[i] = ts
}
