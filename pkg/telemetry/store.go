package telemetry

import "sync/atomic"

// Store holds the current [Snapshot]. It is safe for concurrent use; Load
// always returns a complete snapshot.
type Store struct {
	v atomic.Pointer[Snapshot]
}

// NewStore returns a Store initialised with s.
func NewStore(s Snapshot) *Store {
	st := &Store{}
	st.Set(s)
	return st
}

// Load returns the current snapshot.
func (st *Store) Load() Snapshot {
	if p := st.v.Load(); p != nil {
		return *p
	}
	return Default()
}

// Set replaces the current snapshot.
func (st *Store) Set(s Snapshot) {
	st.v.Store(&s)
}

// Update applies fn to the current snapshot and stores the result, retrying
// if another writer raced it. It returns the stored snapshot.
func (st *Store) Update(fn func(Snapshot) Snapshot) Snapshot {
	for {
		old := st.v.Load()
		cur := Default()
		if old != nil {
			cur = *old
		}
		next := fn(cur)
		if st.v.CompareAndSwap(old, &next) {
			return next
		}
	}
}
