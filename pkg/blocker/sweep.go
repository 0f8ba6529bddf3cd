package blocker

import (
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"banward/pkg/store"
)

// Sweep walks every record once. Expired bans are lifted and removed,
// still-valid bans are unconditionally re-asserted so an externally flushed
// rule gets reinstated, and Tracked records whose attempts are too old to
// ever complete a window are dropped. Firewall failures are best-effort: the
// record is kept and the next sweep retries.
func (b *Blocker) Sweep(now int64) {
	sweep := uuid.New()
	banLength := int64(b.policy.BanTime / time.Second)
	period := int64(b.policy.Period / time.Second)

	for _, r := range b.store.All() {
		switch r.Status {
		case store.Whitelisted:

		case store.Banned:
			if now-r.Last() >= banLength {
				if err := b.fw.Unban(r.Address); err != nil {
					log.Error("failed to lift expired ban", "sweep", sweep, "address", r.Address, "error", err)
					continue
				}
				b.store.Remove(r.Address)
				log.Info("ban expired", "sweep", sweep, "address", r.Address)
			} else if err := b.fw.Ban(r.Address); err != nil {
				log.Warn("failed to reassert ban, retrying next sweep", "sweep", sweep, "address", r.Address, "error", err)
			}

		case store.Tracked:
			if now-r.Last() >= period {
				b.store.Remove(r.Address)
				log.Debug("dropped stale record", "sweep", sweep, "address", r.Address)
			}
		}
	}
}
