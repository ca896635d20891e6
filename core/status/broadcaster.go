// Package status maintains the capable peer's capability snapshot and
// broadcasts it to the counterpart over the transient channel. A missed
// broadcast is superseded by the next one; staleness self-heals on the
// next reachability transition.
package status

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/perminder-klair/apple-watch-notes/core/engine"
	"github.com/perminder-klair/apple-watch-notes/core/envelope"
)

// Broadcast states.
const (
	StateDisconnected  = "disconnected"
	StateUnknownStatus = "connected-unknown-status"
	StateBroadcasted   = "connected-broadcasted"
)

var transitions = map[string]map[string]struct{}{
	StateDisconnected: {
		StateUnknownStatus: struct{}{},
	},
	StateUnknownStatus: {
		StateBroadcasted:  struct{}{},
		StateDisconnected: struct{}{},
	},
	StateBroadcasted: {
		StateDisconnected: struct{}{},
	},
}

// Prober reports the current capability snapshot. It is polled at each
// broadcast, never cached.
type Prober func() (available bool, statusText string)

// EngineProber derives the snapshot from the engine collaborators'
// readiness. The advertised capability is summarization: the requester
// gates summarize requests on it.
func EngineProber(summarizer engine.Summarizer, transcriber engine.Transcriber) Prober {
	return func() (bool, string) {
		available, text := summarizer.Ready()
		if !available {
			return false, text
		}
		if ok, ttext := transcriber.Ready(); !ok {
			// summarization still works; surface the degraded part
			return true, ttext
		}
		return true, text
	}
}

// transientSender is the slice of the transport adapter the broadcaster
// piggybacks on. No durable fallback by design.
type transientSender interface {
	SendTransient(ctx context.Context, env envelope.Envelope) error
	Reachable() bool
}

// Broadcaster publishes status-update envelopes on transport activation
// and whenever reachability transitions from unreachable to reachable.
type Broadcaster struct {
	transport transientSender
	probe     Prober

	mu    sync.Mutex
	state string
}

// New creates a broadcaster in the disconnected state.
func New(tr transientSender, probe Prober) *Broadcaster {
	return &Broadcaster{transport: tr, probe: probe, state: StateDisconnected}
}

// State returns the current broadcast state.
func (b *Broadcaster) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// OnActivated handles successful transport activation: if the peer is
// reachable, the first snapshot goes out immediately.
func (b *Broadcaster) OnActivated(ctx context.Context) {
	if !b.transport.Reachable() {
		return
	}
	if b.transition(StateUnknownStatus) {
		b.broadcast(ctx)
	}
}

// OnReachability handles reachability transitions: loss from any state
// drops back to disconnected, regain triggers a fresh broadcast.
func (b *Broadcaster) OnReachability(ctx context.Context, reachable bool) {
	if !reachable {
		b.transition(StateDisconnected)
		return
	}
	if b.transition(StateUnknownStatus) {
		b.broadcast(ctx)
	}
}

// transition applies a state change if the transitions table allows it.
func (b *Broadcaster) transition(next string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if allowed, ok := transitions[b.state]; ok {
		if _, ok := allowed[next]; ok {
			b.state = next
			return true
		}
	}
	return false
}

func (b *Broadcaster) broadcast(ctx context.Context) {
	available, text := b.probe()
	env := envelope.NewStatusUpdate(available, text, time.Now())

	if err := b.transport.SendTransient(ctx, env); err != nil {
		// superseded by the next broadcast; stay in unknown-status so a
		// later reachability flap retries
		log.Warnf("status broadcast failed: %v", err)
		return
	}

	log.Infof("broadcasted status: available=%v (%s)", available, text)
	b.transition(StateBroadcasted)
}
