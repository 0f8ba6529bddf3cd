package store

// Store maps addresses to records. It is plain in-memory state with a dirty
// flag; the daemon serializes all access through a single control flow, so no
// locking happens here.
type Store struct {
	records map[string]Record
	dirty   bool
}

func New() *Store {
	return &Store{
		records: make(map[string]Record),
	}
}

func (s *Store) Get(address string) (Record, error) {
	if r, ok := s.records[address]; ok {
		return r, nil
	}
	return Record{}, NotFoundErr
}

func (s *Store) Upsert(r Record) {
	s.records[r.Address] = r
	s.dirty = true
}

func (s *Store) Remove(address string) {
	if _, ok := s.records[address]; !ok {
		return
	}
	delete(s.records, address)
	s.dirty = true
}

func (s *Store) All() []Record {
	res := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		res = append(res, r)
	}
	return res
}

func (s *Store) Clear() {
	if len(s.records) == 0 {
		return
	}
	s.records = make(map[string]Record)
	s.dirty = true
}

func (s *Store) Len() int {
	return len(s.records)
}

func (s *Store) Dirty() bool {
	return s.dirty
}

// ClearDirty is called by the persistence manager after a successful volatile
// write, and after a load (loading is not a mutation).
func (s *Store) ClearDirty() {
	s.dirty = false
}
