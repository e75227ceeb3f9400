package executor

import (
	"slices"
	"sync"
)

// DependencyLocks hands out one non-reentrant lock per dependency id.
// Locking a set always happens in sorted order, so two callers locking
// overlapping sets cannot deadlock.
type DependencyLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewDependencyLocks creates an empty lock table.
func NewDependencyLocks() *DependencyLocks {
	return &DependencyLocks{locks: make(map[string]*sync.Mutex)}
}

func (d *DependencyLocks) lockFor(id string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.locks[id]
	if !ok {
		l = &sync.Mutex{}
		d.locks[id] = l
	}
	return l
}

// Acquire blocks until every dependency in deps is held and returns the
// function that releases them.
func (d *DependencyLocks) Acquire(deps []string) (release func()) {
	ids := slices.Clone(deps)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	held := make([]*sync.Mutex, 0, len(ids))
	for _, id := range ids {
		l := d.lockFor(id)
		l.Lock()
		held = append(held, l)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}
