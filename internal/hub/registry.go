package hub

import "sort"

// ConnID identifies a registered connection. IDs start at 1 and are never reused
// within one Registry.
type ConnID uint64

// Registry maps connection ids to their outboxes.
// It is not safe for concurrent use; the Hub owns it from its event loop.
type Registry struct {
	lastID ConnID
	conns  map[ConnID]entry
}

type entry struct {
	origin string
	outbox *Outbox
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[ConnID]entry)}
}

// Register stores outbox under a fresh id.
//
// Precondition: outbox must be non-nil.
// Postcondition: Returns an id strictly greater than every id issued before.
func (r *Registry) Register(origin string, outbox *Outbox) ConnID {
	r.lastID++
	r.conns[r.lastID] = entry{origin: origin, outbox: outbox}
	return r.lastID
}

// Deregister removes id and returns its outbox. Unknown ids report false.
func (r *Registry) Deregister(id ConnID) (*Outbox, bool) {
	e, ok := r.conns[id]
	if !ok {
		return nil, false
	}
	delete(r.conns, id)
	return e.outbox, true
}

// Origin returns the origin label recorded for id.
func (r *Registry) Origin(id ConnID) (string, bool) {
	e, ok := r.conns[id]
	return e.origin, ok
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	return len(r.conns)
}

// IDs returns the registered ids in ascending order.
func (r *Registry) IDs() []ConnID {
	ids := make([]ConnID, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Each calls fn for every registered connection in ascending id order.
func (r *Registry) Each(fn func(id ConnID, origin string, outbox *Outbox)) {
	for _, id := range r.IDs() {
		e := r.conns[id]
		fn(id, e.origin, e.outbox)
	}
}

// Drain removes every connection and returns their outboxes.
//
// Postcondition: Len() == 0. lastID is unchanged so ids are still never reused.
func (r *Registry) Drain() []*Outbox {
	out := make([]*Outbox, 0, len(r.conns))
	for _, id := range r.IDs() {
		out = append(out, r.conns[id].outbox)
		delete(r.conns, id)
	}
	return out
}
