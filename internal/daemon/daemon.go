// Package daemon runs the core as a single control flow. Every mutation of
// the record store, the firewall and the snapshots happens on the actor
// goroutine; callers submit closures and wait. The same loop services the
// periodic tick, so there is never more than one mutator.
package daemon

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"banward/pkg/blocker"
	"banward/pkg/firewall"
	"banward/pkg/persist"
	"banward/pkg/store"
)

var StoppedErr = errors.New("daemon stopped")

type command struct {
	fn   func() error
	done chan error
}

type Daemon struct {
	store   *store.Store
	blocker *blocker.Blocker
	fw      *firewall.Reconciler
	persist *persist.Manager

	tick time.Duration

	cmds    chan command
	stopped chan struct{}
}

func New(s *store.Store, b *blocker.Blocker, fw *firewall.Reconciler, p *persist.Manager, tick time.Duration) *Daemon {
	return &Daemon{
		store:   s,
		blocker: b,
		fw:      fw,
		persist: p,
		tick:    tick,
		cmds:    make(chan command),
		stopped: make(chan struct{}),
	}
}

// Run blocks until ctx is cancelled, then takes one final forced save.
func (d *Daemon) Run(ctx context.Context) {
	defer close(d.stopped)

	ticker := time.NewTicker(d.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := d.persist.Save(true, time.Now()); err != nil {
				log.Error("final save failed", "error", err)
			}
			return

		case cmd := <-d.cmds:
			cmd.done <- cmd.fn()

		case <-ticker.C:
			d.blocker.Sweep(time.Now().Unix())
			if err := d.persist.Save(false, time.Now()); err != nil {
				log.Error("save failed", "error", err)
			}
		}
	}
}

func (d *Daemon) do(fn func() error) error {
	cmd := command{fn: fn, done: make(chan error, 1)}
	select {
	case d.cmds <- cmd:
		return <-cmd.done
	case <-d.stopped:
		return StoppedErr
	}
}

// OnAttempt feeds one failure event into the evaluator and reports whether
// it triggered a ban.
func (d *Daemon) OnAttempt(address string, ts int64) (bool, error) {
	var banned bool
	err := d.do(func() error {
		d.blocker.AddAttempt(address, ts)
		var err error
		banned, err = d.blocker.Evaluate(address)
		d.saveQuiet()
		return err
	})
	return banned, err
}

func (d *Daemon) Records() ([]store.Record, error) {
	var records []store.Record
	err := d.do(func() error {
		records = d.store.All()
		return nil
	})
	return records, err
}

func (d *Daemon) Banned() ([]store.Record, error) {
	var banned []store.Record
	err := d.do(func() error {
		for _, r := range d.store.All() {
			if r.Status == store.Banned {
				banned = append(banned, r)
			}
		}
		return nil
	})
	return banned, err
}

func (d *Daemon) Unban(address string) error {
	return d.do(func() error {
		if err := d.blocker.Unban(address); err != nil {
			return err
		}
		d.saveQuiet()
		return nil
	})
}

func (d *Daemon) Whitelist(address string) error {
	return d.do(func() error {
		if err := d.blocker.Whitelist(address, time.Now().Unix()); err != nil {
			return err
		}
		d.saveQuiet()
		return nil
	})
}

func (d *Daemon) GetPolicy() (blocker.Policy, error) {
	var policy blocker.Policy
	err := d.do(func() error {
		policy = d.blocker.Policy()
		return nil
	})
	return policy, err
}

func (d *Daemon) UpdatePolicy(policy blocker.Policy) error {
	return d.do(func() error {
		d.blocker.UpdatePolicy(policy)
		return nil
	})
}

// Flush forces a durable write without terminating. Wired to SIGHUP and the
// flush endpoint.
func (d *Daemon) Flush() error {
	return d.do(func() error {
		return d.persist.Save(true, time.Now())
	})
}

// ResetAll tears everything down: firewall chain, records, snapshots.
func (d *Daemon) ResetAll() error {
	return d.do(func() error {
		if err := d.fw.WipeAll(); err != nil {
			return errors.Wrap(err, "failed to wipe firewall state")
		}
		d.store.Clear()
		d.store.ClearDirty()
		d.persist.Wipe()
		return nil
	})
}

// saveQuiet flushes the volatile snapshot after a mutation; failures are
// logged and retried on the next save since the dirty flag stays set.
func (d *Daemon) saveQuiet() {
	if err := d.persist.Save(false, time.Now()); err != nil {
		log.Error("save failed", "error", err)
	}
}
