package correlation

import "sync"

// InFlight is the responder-side dedup set. An id is inserted before any
// asynchronous processing begins, so a re-delivery of the same physical
// request during the processing window is discarded instead of
// reprocessed. Insertion must be atomic with respect to concurrent
// deliveries of the same id, which arrive on independent callback
// invocations.
type InFlight struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

// NewInFlight creates an empty dedup set.
func NewInFlight() *InFlight {
	return &InFlight{ids: make(map[string]struct{})}
}

// TryBegin atomically inserts the id. It returns false if the id is
// already being processed; the caller must then discard the request
// without producing a second response.
func (f *InFlight) TryBegin(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.ids[id]; ok {
		return false
	}
	f.ids[id] = struct{}{}
	return true
}

// End removes the id. It must be called exactly once per successful
// TryBegin, on a guaranteed-cleanup path (defer), whether processing
// completed normally or the engine failed.
func (f *InFlight) End(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.ids, id)
}

// Count returns the number of requests currently being processed.
// Diagnostic only; no concurrency ceiling is enforced.
func (f *InFlight) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ids)
}
