package daemon

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"banward/pkg/blocker"
	"banward/pkg/firewall"
	"banward/pkg/persist"
	"banward/pkg/store"
)

type fixture struct {
	daemon   *Daemon
	store    *store.Store
	fw       *firewall.Memory
	durable  string
	volatile string
	fs       persist.OSFS

	cancel context.CancelFunc
	done   chan struct{}
}

func setup(t *testing.T, tick time.Duration, policy blocker.Policy, seed ...store.Record) *fixture {
	t.Helper()

	m := firewall.NewMemory("INPUT")
	fw := firewall.NewReconciler(m, m, "BANWARD", []firewall.Hook{{Chain: "INPUT"}}, "DROP")
	s := store.New()
	for _, r := range seed {
		s.Upsert(r)
	}
	s.ClearDirty()

	dir := t.TempDir()
	f := &fixture{
		store:    s,
		fw:       m,
		durable:  filepath.Join(dir, "records"),
		volatile: filepath.Join(dir, "records.volatile"),
		done:     make(chan struct{}),
	}
	pm := persist.NewManager(f.fs, s, f.durable, f.volatile, 0, false)

	f.daemon = New(s, blocker.New(s, fw, policy), fw, pm, tick)

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	go func() {
		f.daemon.Run(ctx)
		close(f.done)
	}()
	t.Cleanup(f.stop)

	return f
}

func (f *fixture) stop() {
	f.cancel()
	<-f.done
}

func quickBan() blocker.Policy {
	return blocker.Policy{Attempts: 3, Period: 60 * time.Second, BanTime: 30 * time.Minute}
}

func TestOnAttemptBans(t *testing.T) {
	f := setup(t, time.Hour, quickBan())

	for _, ts := range []int64{0, 10} {
		banned, err := f.daemon.OnAttempt("1.2.3.4", ts)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if banned {
			t.Fatalf("banned too early at ts=%v", ts)
		}
	}

	banned, err := f.daemon.OnAttempt("1.2.3.4", 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !banned {
		t.Fatal("expected ban on third attempt")
	}

	if !f.fs.Exists(f.volatile) {
		t.Fatal("volatile snapshot should be written after a state change")
	}

	active, err := f.daemon.Banned()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(active) != 1 || active[0].Address != "1.2.3.4" {
		t.Fatalf("expected one banned record, got %v", active)
	}
}

func TestTickSweepsExpiredBan(t *testing.T) {
	old := time.Now().Unix() - 3600
	f := setup(t, 10*time.Millisecond,
		blocker.Policy{Attempts: 1, Period: 60 * time.Second, BanTime: time.Minute})

	if banned, _ := f.daemon.OnAttempt("1.2.3.4", old); !banned {
		t.Fatal("expected immediate ban with attempts=1")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		records, err := f.daemon.Records()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(records) == 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("sweep never expired the ban, records: %v", records)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestFlushWritesDurable(t *testing.T) {
	f := setup(t, time.Hour, quickBan())

	if _, err := f.daemon.OnAttempt("1.2.3.4", 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.fs.Exists(f.durable) {
		t.Fatal("durable snapshot written without a flush in flush-only mode")
	}

	if err := f.daemon.Flush(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !f.fs.Exists(f.durable) {
		t.Fatal("flush should force the durable write")
	}
}

func TestFinalSaveOnShutdown(t *testing.T) {
	f := setup(t, time.Hour, quickBan())

	if _, err := f.daemon.OnAttempt("1.2.3.4", 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	f.stop()
	if !f.fs.Exists(f.durable) {
		t.Fatal("shutdown should take a final forced save")
	}
}

func TestResetAll(t *testing.T) {
	f := setup(t, time.Hour, quickBan())

	for _, ts := range []int64{0, 10, 20} {
		if _, err := f.daemon.OnAttempt("1.2.3.4", ts); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if err := f.daemon.Flush(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := f.daemon.ResetAll(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	records, err := f.daemon.Records()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected empty store after reset, got %v", records)
	}

	exists, err := f.fw.ChainExists("BANWARD")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exists {
		t.Fatal("managed chain should be gone after reset")
	}
	if f.fs.Exists(f.durable) || f.fs.Exists(f.volatile) {
		t.Fatal("snapshots should be deleted after reset")
	}
}

func TestStoppedDaemonRefusesWork(t *testing.T) {
	f := setup(t, time.Hour, quickBan())
	f.stop()

	if _, err := f.daemon.OnAttempt("1.2.3.4", 0); err != StoppedErr {
		t.Fatalf("expected StoppedErr, got %v", err)
	}
}
