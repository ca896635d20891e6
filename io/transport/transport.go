// Package transport wraps the host platform's peer-messaging primitive
// into the three delivery paths the protocol needs: a best-effort
// transient send, a durable queued send that survives process restarts,
// and a file-backed side channel for payloads above the transient size
// ceiling. Inbound traffic and connectivity transitions are exposed as a
// single event stream.
package transport

import (
	"context"
	stderrors "errors"
	"os"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/perminder-klair/apple-watch-notes/core/envelope"
)

// DefaultTransientLimit is the size ceiling of the transient channel.
// Payloads above it must go through the large-payload side channel.
const DefaultTransientLimit = 60 * 1024

var (
	// ErrNotReachable is returned by sends that require the peer to be
	// currently reachable.
	ErrNotReachable = stderrors.New("peer not reachable")
	// ErrPayloadTooLarge is returned by SendTransient when the encoded
	// envelope exceeds the transient size ceiling.
	ErrPayloadTooLarge = stderrors.New("payload exceeds transient size ceiling")
)

// PeerMessenger is the platform peer-channel primitive the adapter wraps.
// Implementations: io/gateway/ws (production), MemMessenger (tests).
type PeerMessenger interface {
	// Activate opens the channel and installs the delegate receiving
	// inbound traffic and state transitions.
	Activate(ctx context.Context, d Delegate) error
	// SendMessage hands a message to the transport. Completion means
	// "handed over", not "received by peer".
	SendMessage(ctx context.Context, data []byte) error
	// TransferFile ships the file at path to the peer via the side
	// channel. The receiving delegate gets a short-lived local copy.
	TransferFile(ctx context.Context, path string) error
	Reachable() bool
	Paired() bool
	Close() error
}

// Delegate receives inbound traffic from a PeerMessenger.
type Delegate interface {
	OnMessage(data []byte)
	// OnFile is invoked with a local path holding the transferred body.
	// The backing storage is reclaimed when the callback returns, so the
	// body must be read into memory before returning.
	OnFile(path string)
	OnReachabilityChanged(reachable bool)
	OnPairingChanged(paired bool)
}

// Event is an element of the adapter's inbound stream: a decoded
// envelope or a connectivity transition.
type Event interface{ isEvent() }

// MessageEvent carries a decoded inbound envelope.
type MessageEvent struct{ Envelope envelope.Envelope }

// ReachabilityEvent signals a reachability transition.
type ReachabilityEvent struct{ Reachable bool }

// PairingEvent signals a pairing transition.
type PairingEvent struct{ Paired bool }

func (MessageEvent) isEvent()      {}
func (ReachabilityEvent) isEvent() {}
func (PairingEvent) isEvent()      {}

// Adapter layers the protocol's delivery semantics over a PeerMessenger.
type Adapter struct {
	messenger PeerMessenger
	outbox    *Outbox
	events    chan Event
	wake      chan struct{}
	limit     int

	mu        sync.Mutex
	activated bool
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithTransientLimit overrides the transient channel size ceiling.
func WithTransientLimit(limit int) Option {
	return func(a *Adapter) { a.limit = limit }
}

// NewAdapter creates an adapter over the given messenger and durable
// outbox. Call Activate before sending.
func NewAdapter(messenger PeerMessenger, outbox *Outbox, opts ...Option) *Adapter {
	a := &Adapter{
		messenger: messenger,
		outbox:    outbox,
		events:    make(chan Event, 128),
		wake:      make(chan struct{}, 1),
		limit:     DefaultTransientLimit,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Activate opens the underlying channel and starts the outbox drain
// loop. The loop stops when ctx is cancelled.
func (a *Adapter) Activate(ctx context.Context) error {
	a.mu.Lock()
	if a.activated {
		a.mu.Unlock()
		return errors.New("adapter already activated")
	}
	a.activated = true
	a.mu.Unlock()

	if err := a.messenger.Activate(ctx, (*adapterDelegate)(a)); err != nil {
		return errors.Wrap(err, "activate peer messenger")
	}

	go a.drainLoop(ctx)
	a.kick()
	return nil
}

// Events returns the inbound stream of decoded envelopes and
// connectivity transitions.
func (a *Adapter) Events() <-chan Event { return a.events }

// Reachable reports whether the peer is currently reachable.
func (a *Adapter) Reachable() bool { return a.messenger.Reachable() }

// Paired reports whether a peer is paired with this device.
func (a *Adapter) Paired() bool { return a.messenger.Paired() }

// TransientSizeLimit returns the transient channel size ceiling in
// bytes. Callers route larger payloads through SendLargePayload.
func (a *Adapter) TransientSizeLimit() int { return a.limit }

// SendTransient performs a best-effort low-latency send. It fails with
// ErrNotReachable when the peer is unreachable and ErrPayloadTooLarge
// above the size ceiling. Success reflects hand-off, not receipt.
func (a *Adapter) SendTransient(ctx context.Context, env envelope.Envelope) error {
	data, err := envelope.Encode(env)
	if err != nil {
		return err
	}
	if len(data) > a.limit {
		return ErrPayloadTooLarge
	}
	if !a.messenger.Reachable() {
		return ErrNotReachable
	}
	return a.messenger.SendMessage(ctx, data)
}

// SendDurable queues the envelope for guaranteed eventual delivery. The
// entry survives a process restart and is drained whenever the peer is
// reachable. No ordering is guaranteed relative to transient traffic.
func (a *Adapter) SendDurable(ctx context.Context, env envelope.Envelope) error {
	data, err := envelope.Encode(env)
	if err != nil {
		return err
	}
	if _, err := a.outbox.Append(data); err != nil {
		return errors.Wrap(err, "queue durable message")
	}
	a.kick()
	return nil
}

// SendLargePayload ships an envelope whose encoded form exceeds the
// transient ceiling through the file side channel.
func (a *Adapter) SendLargePayload(ctx context.Context, env envelope.Envelope) error {
	data, err := envelope.Encode(env)
	if err != nil {
		return err
	}
	if !a.messenger.Reachable() {
		return ErrNotReachable
	}

	f, err := os.CreateTemp("", "peer-transfer-*.json")
	if err != nil {
		return errors.Wrap(err, "create transfer file")
	}
	path := f.Name()
	defer os.Remove(path)

	if _, err := f.Write(data); err != nil {
		f.Close()
		return errors.Wrap(err, "write transfer file")
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "close transfer file")
	}

	return a.messenger.TransferFile(ctx, path)
}

// SendReliable implements the response delivery policy: the durable send
// happens unconditionally, and a transient copy is attempted
// opportunistically while the peer is reachable. The two copies may
// race; receivers dedup by correlation id.
func (a *Adapter) SendReliable(ctx context.Context, env envelope.Envelope) error {
	if err := a.SendDurable(ctx, env); err != nil {
		return err
	}
	if a.messenger.Reachable() {
		if err := a.SendTransient(ctx, env); err != nil {
			log.Debugf("opportunistic transient send skipped: %v", err)
		}
	}
	return nil
}

func (a *Adapter) kick() {
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

func (a *Adapter) drainLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.wake:
		}
		a.drain(ctx)
	}
}

// drain pushes queued outbox entries to the peer in order, stopping at
// the first failure. Failed entries stay queued for the next wake-up.
func (a *Adapter) drain(ctx context.Context) {
	if !a.messenger.Reachable() {
		return
	}

	for _, entry := range a.outbox.Pending() {
		if err := a.messenger.SendMessage(ctx, entry.Data); err != nil {
			log.Warnf("durable drain interrupted at seq %d: %v", entry.Seq, err)
			return
		}
		if err := a.outbox.MarkSent(entry.Seq); err != nil {
			log.Errorf("failed to mark outbox seq %d sent: %v", entry.Seq, err)
			return
		}
	}
}

// adapterDelegate receives raw inbound traffic from the messenger.
// Envelopes that fail to decode are logged and dropped: they carry no
// usable correlation id, so no response can be generated for them.
type adapterDelegate Adapter

func (d *adapterDelegate) adapter() *Adapter { return (*Adapter)(d) }

func (d *adapterDelegate) OnMessage(data []byte) {
	env, err := envelope.Decode(data)
	if err != nil {
		log.Warnf("dropping malformed inbound message: %v", err)
		return
	}
	d.adapter().events <- MessageEvent{Envelope: env}
}

func (d *adapterDelegate) OnFile(path string) {
	// the file body must be copied into memory before this callback
	// returns; the backing storage is reclaimed afterwards
	data, err := os.ReadFile(path)
	if err != nil {
		log.Errorf("failed to read transferred file %s: %v", path, err)
		return
	}

	env, err := envelope.Decode(data)
	if err != nil {
		log.Warnf("dropping malformed transferred payload: %v", err)
		return
	}
	d.adapter().events <- MessageEvent{Envelope: env}
}

func (d *adapterDelegate) OnReachabilityChanged(reachable bool) {
	a := d.adapter()
	if reachable {
		a.kick()
	}
	a.events <- ReachabilityEvent{Reachable: reachable}
}

func (d *adapterDelegate) OnPairingChanged(paired bool) {
	d.adapter().events <- PairingEvent{Paired: paired}
}
