package treasury

import (
	"sync"
)

// proposalLocks serializes work on one proposal inside this process while
// leaving different proposals independent.
type proposalLocks struct {
	mu    sync.Mutex
	locks map[string]*proposalLock
}

type proposalLock struct {
	sync.Mutex
	refs int
}

func newProposalLocks() *proposalLocks {
	return &proposalLocks{locks: map[string]*proposalLock{}}
}

// Lock blocks until id is free and returns its unlock func.
func (p *proposalLocks) Lock(id string) func() {
	p.mu.Lock()
	l, ok := p.locks[id]
	if !ok {
		l = &proposalLock{}
		p.locks[id] = l
	}
	l.refs++
	p.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		p.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(p.locks, id)
		}
		p.mu.Unlock()
	}
}
