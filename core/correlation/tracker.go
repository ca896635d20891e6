// Package correlation tracks the lifecycle of request ids on both sides
// of the peer link: the requester's pending-request map and the
// responder's in-flight dedup set.
package correlation

import (
	"sync"
	"time"

	"github.com/perminder-klair/apple-watch-notes/core/dto"
)

// Tracker is the requester-side registry of in-flight requests. Every
// registered id resolves at most once, no matter how many response
// envelopes arrive for it: the duplicate delivered by the durable and
// transient channels racing is a no-op here.
type Tracker struct {
	mu      sync.Mutex
	pending map[string]*pendingEntry
}

type pendingEntry struct {
	req      dto.PendingRequest
	complete func(dto.Completion)
	timer    *time.Timer
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{pending: make(map[string]*pendingEntry)}
}

// Register records a new pending request. The complete callback fires
// exactly once, on Resolve or Fail. A non-zero ttl arms a timer that
// fails the request with dto.ErrRequestTimeout if no resolution arrived
// in time.
func (t *Tracker) Register(id string, kind dto.RequestKind, ttl time.Duration, complete func(dto.Completion)) dto.PendingRequest {
	req := dto.PendingRequest{ID: id, Kind: kind, SubmittedAt: time.Now()}

	entry := &pendingEntry{req: req, complete: complete}
	if ttl > 0 {
		entry.timer = time.AfterFunc(ttl, func() {
			t.Fail(id, dto.ErrRequestTimeout)
		})
	}

	t.mu.Lock()
	t.pending[id] = entry
	t.mu.Unlock()

	return req
}

// Resolve completes a pending request with a result. Resolving an id
// that is not pending is a no-op and returns false.
func (t *Tracker) Resolve(id, result string) bool {
	entry, ok := t.take(id)
	if !ok {
		return false
	}
	if entry.complete != nil {
		entry.complete(dto.Completion{RequestID: id, Kind: entry.req.Kind, Result: result})
	}
	return true
}

// Fail completes a pending request with an error. Failing an id that is
// not pending is a no-op and returns false.
func (t *Tracker) Fail(id string, err error) bool {
	entry, ok := t.take(id)
	if !ok {
		return false
	}
	if entry.complete != nil {
		entry.complete(dto.Completion{RequestID: id, Kind: entry.req.Kind, Err: err})
	}
	return true
}

// IsPending reports whether the id is registered and unresolved.
func (t *Tracker) IsPending(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.pending[id]
	return ok
}

// PendingCount returns the number of unresolved requests.
func (t *Tracker) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// take removes the entry under lock so that concurrent resolutions of
// one id cannot both observe it. The completion callback runs outside
// the lock.
func (t *Tracker) take(id string) (*pendingEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.pending[id]
	if !ok {
		return nil, false
	}
	delete(t.pending, id)
	if entry.timer != nil {
		entry.timer.Stop()
	}
	return entry, true
}
