package realtime

import "sync"

// StateObservable broadcasts boolean connectivity to any number of
// subscribers. A value is delivered exactly once per transition: publishing
// the current value again is a no-op, so a subscriber never sees the same
// state twice in a row.
type StateObservable struct {
	mu      sync.Mutex
	seq     int
	subs    map[int]func(bool)
	current bool
}

func NewStateObservable() *StateObservable {
	return &StateObservable{subs: make(map[int]func(bool))}
}

// Subscribe registers fn and immediately delivers the current value, so a
// late subscriber can initialize. The returned func removes the
// subscription; calling it more than once is harmless.
func (o *StateObservable) Subscribe(fn func(bool)) func() {
	o.mu.Lock()
	id := o.seq
	o.seq++
	o.subs[id] = fn
	cur := o.current
	o.mu.Unlock()

	fn(cur)

	return func() {
		o.mu.Lock()
		delete(o.subs, id)
		o.mu.Unlock()
	}
}

// Publish broadcasts v to all subscribers if it differs from the last
// published value.
func (o *StateObservable) Publish(v bool) {
	o.mu.Lock()
	if o.current == v {
		o.mu.Unlock()
		return
	}
	o.current = v
	fns := make([]func(bool), 0, len(o.subs))
	for _, fn := range o.subs {
		fns = append(fns, fn)
	}
	o.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

// Current returns the last published value.
func (o *StateObservable) Current() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}
