package chain

import "github.com/alanyoungcy/bazaar/internal/domain"

// Guard is a per-component mutual-exclusion flag for fund-moving entry
// points. Transactions are already serialized, so the flag only has to catch
// re-entry through nested calls within a single transaction.
type Guard struct {
	held bool
}

// Enter acquires the guard. The returned release func must be deferred.
func (g *Guard) Enter() (release func(), err error) {
	if g.held {
		return nil, domain.ErrReentrantCall
	}
	g.held = true
	return func() { g.held = false }, nil
}

// Held reports whether an entry point is currently running.
func (g *Guard) Held() bool {
	return g.held
}
