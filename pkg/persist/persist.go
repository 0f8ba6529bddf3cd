// Package persist keeps two snapshots of the record store in sync: a
// volatile one written on every state change (tmpfs, cheap) and a durable
// one written on a throttle (flash-backed, writes kept to a minimum).
package persist

import (
	"bytes"
	"crypto/sha256"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"banward/pkg/store"
)

// FS is the snapshot I/O capability.
type FS interface {
	ReadSnapshot(path string) ([]byte, error)
	WriteSnapshot(path string, data []byte) error
	Exists(path string) bool
	Remove(path string) error
}

type Manager struct {
	fs    FS
	store *store.Store

	durablePath  string
	volatilePath string

	// Durable-write throttle: below zero disables durable writes, zero means
	// durable writes happen only on an explicit flush.
	period   time.Duration
	compress bool

	lastDurable time.Time
}

func NewManager(fs FS, s *store.Store, durablePath, volatilePath string, period time.Duration, compress bool) *Manager {
	return &Manager{
		fs:           fs,
		store:        s,
		durablePath:  durablePath,
		volatilePath: volatilePath,
		period:       period,
		compress:     compress,
	}
}

// Save writes the volatile snapshot if the store changed, and the durable
// snapshot if it is due. A durable write whose content is byte-identical to
// what is already on disk is skipped. A failed volatile write leaves the
// dirty flag set so the next call retries.
func (m *Manager) Save(force bool, now time.Time) error {
	data := store.Encode(m.store.All())

	if m.store.Dirty() {
		if err := m.fs.WriteSnapshot(m.volatilePath, data); err != nil {
			return errors.Wrap(err, "failed to write volatile snapshot")
		}
		m.store.ClearDirty()
	}

	if !m.durableDue(force, now) {
		return nil
	}

	if m.durableMatches(data) {
		m.lastDurable = now
		return nil
	}

	out := data
	if m.compress {
		var err error
		if out, err = gzipBytes(data); err != nil {
			return errors.Wrap(err, "failed to compress durable snapshot")
		}
	}
	if err := m.fs.WriteSnapshot(m.durablePath, out); err != nil {
		return errors.Wrap(err, "failed to write durable snapshot")
	}
	m.lastDurable = now
	return nil
}

func (m *Manager) durableDue(force bool, now time.Time) bool {
	if m.period < 0 {
		return false
	}
	if force {
		return true
	}
	if m.period == 0 {
		return false
	}
	return now.Sub(m.lastDurable) >= m.period
}

func (m *Manager) durableMatches(data []byte) bool {
	existing, ok := m.read(m.durablePath)
	if !ok {
		return false
	}
	return sha256.Sum256(existing) == sha256.Sum256(data)
}

// Load rebuilds the store from the snapshots: durable first, volatile on
// top since it is written on every change while durable is throttled.
// Missing or unreadable snapshots count as empty.
func (m *Manager) Load() {
	m.store.Clear()

	for _, path := range []string{m.durablePath, m.volatilePath} {
		data, ok := m.read(path)
		if !ok {
			continue
		}
		records, skipped := store.Decode(data)
		if skipped > 0 {
			log.Warn("skipped malformed snapshot lines", "path", path, "lines", skipped)
		}
		for _, r := range records {
			m.store.Upsert(r)
		}
	}

	m.store.ClearDirty()
	log.Info("loaded records", "count", m.store.Len())
}

// Wipe deletes both snapshots. Part of the full reset.
func (m *Manager) Wipe() {
	for _, path := range []string{m.durablePath, m.volatilePath} {
		if !m.fs.Exists(path) {
			continue
		}
		if err := m.fs.Remove(path); err != nil {
			log.Error("failed to remove snapshot", "path", path, "error", err)
		}
	}
}

func (m *Manager) read(path string) ([]byte, bool) {
	if !m.fs.Exists(path) {
		return nil, false
	}

	data, err := m.fs.ReadSnapshot(path)
	if err != nil {
		log.Warn("failed to read snapshot, treating as empty", "path", path, "error", err)
		return nil, false
	}

	if isGzip(data) {
		if data, err = gunzipBytes(data); err != nil {
			log.Warn("failed to decompress snapshot, treating as empty", "path", path, "error", err)
			return nil, false
		}
	}
	return data, true
}

func isGzip(data []byte) bool {
	return len(data) >= 2 && bytes.Equal(data[:2], []byte{0x1f, 0x8b})
}
