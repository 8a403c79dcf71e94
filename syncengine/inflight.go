package syncengine

import (
	"sync"

	"github.com/cyp0633/libcaldora-sync/queue"
)

// inflightSet holds writes that were sent to the server and have not yet
// been confirmed, queued or rolled back, grouped by lock key. A refresh
// overlays them the same way it overlays the queue.
type inflightSet struct {
	mu   sync.Mutex
	next uint64
	ops  map[string][]inflightOp
}

type inflightOp struct {
	seq uint64
	op  queue.Operation
}

func newInflightSet() *inflightSet {
	return &inflightSet{ops: make(map[string][]inflightOp)}
}

// add registers op under key and returns the function that settles it.
func (s *inflightSet) add(key string, op queue.Operation) func() {
	s.mu.Lock()
	s.next++
	seq := s.next
	s.ops[key] = append(s.ops[key], inflightOp{seq: seq, op: op})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		kept := s.ops[key][:0]
		for _, o := range s.ops[key] {
			if o.seq != seq {
				kept = append(kept, o)
			}
		}
		if len(kept) == 0 {
			delete(s.ops, key)
			return
		}
		s.ops[key] = kept
	}
}

// list returns the unsettled operations under key in registration order.
func (s *inflightSet) list(key string) []queue.Operation {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]queue.Operation, 0, len(s.ops[key]))
	for _, o := range s.ops[key] {
		out = append(out, o.op)
	}
	return out
}
