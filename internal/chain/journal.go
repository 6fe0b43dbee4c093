package chain

// journal records undo closures for every state write made inside a
// transaction. Reverting to a checkpoint runs the closures recorded after it
// in reverse order.
type journal struct {
	undo []func()
}

func (j *journal) record(fn func()) {
	j.undo = append(j.undo, fn)
}

func (j *journal) checkpoint() int {
	return len(j.undo)
}

func (j *journal) revertTo(cp int) {
	for i := len(j.undo) - 1; i >= cp; i-- {
		j.undo[i]()
	}
	j.undo = j.undo[:cp]
}

// Map is a keyed state table whose writes are journaled against the running
// transaction. Values are stored by value; reference fields inside them
// (such as *big.Int) must be replaced, never mutated in place.
//
// Reads take no lock. Outside a transaction, read through Chain.View.
type Map[K comparable, V any] struct {
	m map[K]V
}

// NewMap returns an empty Map.
func NewMap[K comparable, V any]() *Map[K, V] {
	return &Map[K, V]{m: make(map[K]V)}
}

// Get returns the value stored under k.
func (m *Map[K, V]) Get(k K) (V, bool) {
	v, ok := m.m[k]
	return v, ok
}

// Has reports whether k is present.
func (m *Map[K, V]) Has(k K) bool {
	_, ok := m.m[k]
	return ok
}

// Put stores v under k.
func (m *Map[K, V]) Put(ctx *Context, k K, v V) {
	prev, had := m.m[k]
	ctx.tx.journal.record(func() {
		if had {
			m.m[k] = prev
		} else {
			delete(m.m, k)
		}
	})
	m.m[k] = v
}

// Delete removes k.
func (m *Map[K, V]) Delete(ctx *Context, k K) {
	prev, had := m.m[k]
	if !had {
		return
	}
	ctx.tx.journal.record(func() { m.m[k] = prev })
	delete(m.m, k)
}

// Len returns the number of keys.
func (m *Map[K, V]) Len() int {
	return len(m.m)
}

// Range calls fn for every entry in unspecified order until fn returns false.
func (m *Map[K, V]) Range(fn func(K, V) bool) {
	for k, v := range m.m {
		if !fn(k, v) {
			return
		}
	}
}

// Cell is a single journaled state slot.
type Cell[T any] struct {
	v T
}

// NewCell returns a Cell holding v.
func NewCell[T any](v T) *Cell[T] {
	return &Cell[T]{v: v}
}

func (c *Cell[T]) Get() T {
	return c.v
}

func (c *Cell[T]) Set(ctx *Context, v T) {
	prev := c.v
	ctx.tx.journal.record(func() { c.v = prev })
	c.v = v
}
