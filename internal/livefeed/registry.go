package livefeed

import (
	"sync"

	"msm-monitoring/internal/observability/metrics"
)

// Connection is a subscriber endpoint that accepts pushed payloads.
type Connection interface {
	Send(payload []byte) error
}

type subscriberSet struct {
	mu      sync.Mutex
	members map[Connection]struct{}
	// retired is set once the set is empty and unlinked from the registry.
	retired bool
}

// Registry indexes live subscribers by parameter id. Each parameter has its own lock;
// the outer lock only guards the index map.
type Registry struct {
	mu   sync.RWMutex
	sets map[int64]*subscriberSet
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{sets: make(map[int64]*subscriberSet)}
}

// Subscribe adds conn to parameterID's set. Callers authorize beforehand.
func (r *Registry) Subscribe(conn Connection, parameterID int64) {
	if r == nil || conn == nil {
		return
	}
	for {
		set := r.lookup(parameterID, true)
		set.mu.Lock()
		if set.retired {
			set.mu.Unlock()
			continue
		}
		set.members[conn] = struct{}{}
		set.mu.Unlock()
		return
	}
}

// Unsubscribe removes conn from parameterID's set. It is a no-op for non-members.
func (r *Registry) Unsubscribe(conn Connection, parameterID int64) {
	if r == nil || conn == nil {
		return
	}
	set := r.lookup(parameterID, false)
	if set == nil {
		return
	}
	set.mu.Lock()
	delete(set.members, conn)
	retire := len(set.members) == 0 && !set.retired
	if retire {
		set.retired = true
	}
	set.mu.Unlock()
	if !retire {
		return
	}
	r.mu.Lock()
	if r.sets[parameterID] == set {
		delete(r.sets, parameterID)
	}
	r.mu.Unlock()
}

// Publish sends payload to every current subscriber of parameterID and returns the delivered count.
// A failed send skips that connection; removal belongs to the disconnect path.
func (r *Registry) Publish(parameterID int64, payload []byte) int {
	if r == nil {
		return 0
	}
	set := r.lookup(parameterID, false)
	if set == nil {
		return 0
	}
	set.mu.Lock()
	targets := make([]Connection, 0, len(set.members))
	for conn := range set.members {
		targets = append(targets, conn)
	}
	set.mu.Unlock()

	delivered := 0
	for _, conn := range targets {
		if err := conn.Send(payload); err != nil {
			metrics.IncLiveDelivery(metrics.ResultError)
			continue
		}
		metrics.IncLiveDelivery(metrics.ResultSuccess)
		delivered++
	}
	return delivered
}

// Subscribers returns the subscriber count of parameterID.
func (r *Registry) Subscribers(parameterID int64) int {
	set := r.lookup(parameterID, false)
	if set == nil {
		return 0
	}
	set.mu.Lock()
	defer set.mu.Unlock()
	return len(set.members)
}

// Has reports whether parameterID has an index entry.
func (r *Registry) Has(parameterID int64) bool {
	return r.lookup(parameterID, false) != nil
}

func (r *Registry) lookup(parameterID int64, create bool) *subscriberSet {
	r.mu.RLock()
	set := r.sets[parameterID]
	r.mu.RUnlock()
	if set != nil || !create {
		return set
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if set = r.sets[parameterID]; set == nil {
		set = &subscriberSet{members: make(map[Connection]struct{})}
		r.sets[parameterID] = set
	}
	return set
}
