package store

import (
	"testing"
)

func TestGetMissing(t *testing.T) {
	s := New()

	if _, err := s.Get("1.2.3.4"); err != NotFoundErr {
		t.Fatalf("expected NotFoundErr, got %v", err)
	}
}

func TestUpsertGetRemove(t *testing.T) {
	s := New()

	s.Upsert(Record{Address: "1.2.3.4", Status: Tracked, Timestamps: []int64{10}})
	s.Upsert(Record{Address: "1.2.3.4", Status: Banned, Timestamps: []int64{20}})

	r, err := s.Get("1.2.3.4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Status != Banned || r.Last() != 20 {
		t.Fatalf("upsert did not replace record: %+v", r)
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 record, got %v", s.Len())
	}

	s.Remove("1.2.3.4")
	if s.Len() != 0 {
		t.Fatalf("expected empty store, got %v records", s.Len())
	}
}

func TestDirtyFlag(t *testing.T) {
	s := New()
	if s.Dirty() {
		t.Fatal("new store should be clean")
	}

	s.Upsert(Record{Address: "1.2.3.4", Status: Tracked, Timestamps: []int64{10}})
	if !s.Dirty() {
		t.Fatal("upsert should mark dirty")
	}

	s.ClearDirty()
	s.Remove("missing")
	if s.Dirty() {
		t.Fatal("removing a missing record should not mark dirty")
	}

	s.Remove("1.2.3.4")
	if !s.Dirty() {
		t.Fatal("remove should mark dirty")
	}

	s.ClearDirty()
	s.Clear()
	if s.Dirty() {
		t.Fatal("clearing an empty store should not mark dirty")
	}
}

func TestInsertSortedUnique(t *testing.T) {
	r := Record{Address: "1.2.3.4", Status: Tracked}
	for _, ts := range []int64{20, 10, 30, 20, 10} {
		r.Insert(ts)
	}

	want := []int64{10, 20, 30}
	if len(r.Timestamps) != len(want) {
		t.Fatalf("expected %v, got %v", want, r.Timestamps)
	}
	for i := range want {
		if r.Timestamps[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, r.Timestamps)
		}
	}
}
