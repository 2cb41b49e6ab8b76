// Package keymutex provides bounded striped mutual exclusion keyed by
// entity id. Ids are mapped onto a fixed set of mutex stripes via FNV
// hashing, so memory stays constant no matter how many distinct ids the
// reporting fleet produces over time.
package keymutex

import "sync"

const defaultStripes = 64

// Striped is a fixed-size set of mutexes. Two ids on the same stripe
// serialize against each other; ids on different stripes do not contend.
type Striped struct {
	stripes []sync.Mutex
}

// New returns a Striped with n stripes (a default when n <= 0).
func New(n int) *Striped {
	if n <= 0 {
		n = defaultStripes
	}
	return &Striped{stripes: make([]sync.Mutex, n)}
}

// Of returns the mutex guarding id. Callers lock it only around the store
// counter write, never across command delivery.
func (s *Striped) Of(id int64) *sync.Mutex {
	return &s.stripes[stripeIndex(id, len(s.stripes))]
}

func stripeIndex(id int64, n int) int {
	const (
		fnvOffset64 = uint64(14695981039346656037)
		fnvPrime64  = uint64(1099511628211)
	)
	h := fnvOffset64
	v := uint64(id)
	for i := 0; i < 8; i++ {
		h ^= v & 0xff
		h *= fnvPrime64
		v >>= 8
	}
	return int(h % uint64(n))
}
