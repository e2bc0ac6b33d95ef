package gateway

import "sync"

// Listeners is a registry of identity-change callbacks shared by Auth
// implementations.
type Listeners struct {
	mu   sync.Mutex
	fns  map[int]func(Identity, bool)
	next int
}

// Add registers fn and returns an idempotent remover.
func (l *Listeners) Add(fn func(Identity, bool)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = make(map[int]func(Identity, bool))
	}
	id := l.next
	l.next++
	l.fns[id] = fn
	return func() {
		l.mu.Lock()
		delete(l.fns, id)
		l.mu.Unlock()
	}
}

// Notify calls every registered callback outside the registry lock.
func (l *Listeners) Notify(id Identity, signedIn bool) {
	l.mu.Lock()
	fns := make([]func(Identity, bool), 0, len(l.fns))
	for _, fn := range l.fns {
		fns = append(fns, fn)
	}
	l.mu.Unlock()
	for _, fn := range fns {
		fn(id, signedIn)
	}
}
