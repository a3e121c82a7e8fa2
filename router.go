// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bus

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// sink is the sending half of a single-consumer queue feeding a
// ResponseStream. It is a small wrapper around a buffered channel plus a
// closed flag so route() can detect "closed" without a panicking send. A
// full sink never stalls the single reader task: send evicts the oldest
// queued payload and enqueues the new one instead, per spec.md §4.7/§9's
// drop-oldest backpressure contract.
type sink struct {
	ch     chan []byte
	mu     sync.Mutex
	closed bool
}

func newSink(capacity int) *sink {
	return &sink{ch: make(chan []byte, capacity)}
}

// send enqueues payload without blocking. If the sink is closed, payload is
// dropped and ok is false. If the sink is full, send drops the oldest
// queued payload (logging the eviction) to make room rather than dropping
// the incoming payload or blocking the caller.
func (s *sink) send(payload []byte) (ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- payload:
		return true
	default:
	}
	select {
	case <-s.ch:
		logrus.WithField("component", "sink").Warn("bus: sink full, dropping oldest payload")
	default:
		// a concurrent receive already freed a slot
	}
	select {
	case s.ch <- payload:
		return true
	default:
		return false
	}
}

// close marks the sink terminated and closes its channel; idempotent. It
// holds the same mutex as send, so no send can race the close; payloads
// already queued stay readable until the consumer drains them.
func (s *sink) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// routerTable holds the two independent id->sink maps spec.md §4.3
// requires: one for request ids, one for order ids. Concurrent route()
// calls on different ids never serialize against each other beyond the
// brief read-lock needed to look the id up.
type routerTable struct {
	mu   sync.RWMutex
	reqs map[int32]*sink
	ords map[int32]*sink
}

func newRouterTable() *routerTable {
	return &routerTable{reqs: make(map[int32]*sink), ords: make(map[int32]*sink)}
}

func (t *routerTable) tableFor(kind idSpace) map[int32]*sink {
	if kind == idSpaceOrder {
		return t.ords
	}
	return t.reqs
}

// idSpace distinguishes the two correlation-id namespaces. Request ids and
// order ids are disjoint logical spaces that happen to share a numeric
// type; modeling them as two maps (rather than one tagged map) matches the
// dispatch rule directly: some message kinds search a specific map first.
type idSpace int

const (
	idSpaceRequest idSpace = iota
	idSpaceOrder
)

// insert registers sink under id in the given map, overwriting and
// returning any prior sink (now orphaned — the caller should close it).
// Insertion happens-before the caller writes the outbound frame, so a
// reply cannot race past registration (spec.md §4.3, §4.6, §9).
func (t *routerTable) insert(kind idSpace, id int32, s *sink) *sink {
	t.mu.Lock()
	defer t.mu.Unlock()
	m := t.tableFor(kind)
	prior := m[id]
	m[id] = s
	return prior
}

// remove unregisters and returns the sink for id, or nil if absent.
func (t *routerTable) remove(kind idSpace, id int32) *sink {
	t.mu.Lock()
	defer t.mu.Unlock()
	m := t.tableFor(kind)
	s := m[id]
	delete(m, id)
	return s
}

// removeIfSame unregisters id only if its currently-registered sink is
// still want — guarding against a ResponseStream cancelling itself after a
// later SendRequest/SendOrder call already overwrote its id with a fresh
// sink (insert's overwrite semantics, spec.md §4.3). Returns true if it
// removed want.
func (t *routerTable) removeIfSame(kind idSpace, id int32, want *sink) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	m := t.tableFor(kind)
	if m[id] != want {
		return false
	}
	delete(m, id)
	return true
}

// contains is a fast membership test.
func (t *routerTable) contains(kind idSpace, id int32) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.tableFor(kind)[id]
	return ok
}

// route looks up id in the given map and enqueues payload on its sink. A
// full sink drops its oldest payload to make room rather than stalling; a
// miss or a closed sink is logged by the caller (the dispatcher) and never
// blocks or panics.
func (t *routerTable) route(kind idSpace, id int32, payload []byte) bool {
	t.mu.RLock()
	s := t.tableFor(kind)[id]
	t.mu.RUnlock()
	if s == nil {
		return false
	}
	return s.send(payload)
}

// closeAll terminates every registered sink in both maps (used on fatal
// transport failure to unblock every waiting consumer) and empties both maps.
func (t *routerTable) closeAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, s := range t.reqs {
		s.close()
		delete(t.reqs, id)
	}
	for id, s := range t.ords {
		s.close()
		delete(t.ords, id)
	}
}
