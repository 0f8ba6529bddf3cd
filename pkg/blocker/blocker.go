package blocker

import (
	"time"

	"github.com/pkg/errors"

	"banward/pkg/firewall"
	"banward/pkg/store"
)

type Policy struct {
	Attempts int           `json:"attempts"`
	Period   time.Duration `json:"period"`
	BanTime  time.Duration `json:"ban_time"`
}

// Blocker owns the ban decision: it feeds attempts into records, runs the
// sliding-window check, and drives the firewall reconciler. It assumes a
// single caller; the daemon serializes access.
type Blocker struct {
	store  *store.Store
	fw     *firewall.Reconciler
	policy Policy
}

func New(s *store.Store, fw *firewall.Reconciler, policy Policy) *Blocker {
	return &Blocker{
		store:  s,
		fw:     fw,
		policy: policy,
	}
}

func (b *Blocker) Policy() Policy {
	return b.policy
}

func (b *Blocker) UpdatePolicy(policy Policy) {
	b.policy = policy
}

// AddAttempt records one or more failure timestamps for address. A new
// address starts Tracked, a whitelisted one is untouched, and a banned one
// only ever has its ban-start extended, never shortened.
func (b *Blocker) AddAttempt(address string, timestamps ...int64) {
	if len(timestamps) == 0 {
		return
	}

	r, err := b.store.Get(address)
	if err != nil {
		r = store.Record{Address: address, Status: store.Tracked}
		for _, ts := range timestamps {
			r.Insert(ts)
		}
		b.store.Upsert(r)
		return
	}

	switch r.Status {
	case store.Whitelisted:
		return
	case store.Banned:
		start := r.Last()
		for _, ts := range timestamps {
			if ts > start {
				start = ts
			}
		}
		if start != r.Last() || len(r.Timestamps) != 1 {
			r.Timestamps = []int64{start}
			b.store.Upsert(r)
		}
	case store.Tracked:
		for _, ts := range timestamps {
			r.Insert(ts)
		}
		b.store.Upsert(r)
	}
}

// Evaluate runs the window check on a Tracked record. While the retained
// timestamps span more than Period (boundary inclusive: a span exactly equal
// to the period still fits), the oldest is dropped. Once the span fits, a ban
// triggers if at least Attempts timestamps remain, with ban-start set to the
// newest. The ban check runs before any trim, so a qualifying window is never
// trimmed away; a single timestamp always fits, so the record never empties.
// Returns whether a ban was triggered.
func (b *Blocker) Evaluate(address string) (bool, error) {
	r, err := b.store.Get(address)
	if err != nil || r.Status != store.Tracked {
		return false, nil
	}

	period := int64(b.policy.Period / time.Second)
	trimmed := false

	for {
		oldest := r.Timestamps[0]
		newest := r.Timestamps[len(r.Timestamps)-1]

		if newest-oldest > period {
			// Oldest attempt can no longer be part of a qualifying window.
			r.Timestamps = r.Timestamps[1:]
			trimmed = true
			continue
		}

		if len(r.Timestamps) < b.policy.Attempts {
			break
		}

		r.Status = store.Banned
		r.Timestamps = []int64{newest}
		b.store.Upsert(r)
		// Record stays banned even if the rule insert fails; the sweep
		// re-asserts it on the next tick.
		if err := b.fw.Ban(address); err != nil {
			return true, errors.Wrapf(err, "failed to install block for %v", address)
		}
		return true, nil
	}

	if trimmed {
		b.store.Upsert(r)
	}
	return false, nil
}

// Whitelist pins address as exempt from all ban logic. An active ban on the
// address is lifted first.
func (b *Blocker) Whitelist(address string, now int64) error {
	if r, err := b.store.Get(address); err == nil && r.Status == store.Banned {
		if err := b.fw.Unban(address); err != nil {
			return errors.Wrapf(err, "failed to lift block for %v", address)
		}
	}
	b.store.Upsert(store.Record{
		Address:    address,
		Status:     store.Whitelisted,
		Timestamps: []int64{now},
	})
	return nil
}

// Unban lifts a ban by operator request and removes the record.
func (b *Blocker) Unban(address string) error {
	r, err := b.store.Get(address)
	if err != nil || r.Status != store.Banned {
		return store.NotFoundErr
	}
	if err := b.fw.Unban(address); err != nil {
		return errors.Wrapf(err, "failed to lift block for %v", address)
	}
	b.store.Remove(address)
	return nil
}

// ReassertAll reinstalls the firewall rule of every banned record. Called
// once at startup so loaded state converges before the first sweep.
func (b *Blocker) ReassertAll() error {
	for _, r := range b.store.All() {
		if r.Status != store.Banned {
			continue
		}
		if err := b.fw.Ban(r.Address); err != nil {
			return errors.Wrapf(err, "failed to reassert block for %v", r.Address)
		}
	}
	return nil
}
