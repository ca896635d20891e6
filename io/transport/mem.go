package transport

import (
	"context"
	"os"
	"sync"

	"github.com/pkg/errors"
)

// MemMessenger is an in-process PeerMessenger linked to a counterpart,
// with fault knobs for exercising the protocol against an unreliable
// channel: unreachability, silent drops and duplicate delivery.
type MemMessenger struct {
	mu        sync.Mutex
	peer      *MemMessenger
	delegate  Delegate
	reachable bool
	paired    bool
	duplicate bool
	drop      bool
	closed    bool

	deliveries chan func()
}

// NewMemPair creates two linked messengers, both paired and reachable.
func NewMemPair() (*MemMessenger, *MemMessenger) {
	a := &MemMessenger{reachable: true, paired: true, deliveries: make(chan func(), 256)}
	b := &MemMessenger{reachable: true, paired: true, deliveries: make(chan func(), 256)}
	a.peer = b
	b.peer = a
	return a, b
}

// Activate installs the delegate and starts the delivery pump. Inbound
// callbacks are invoked from a single goroutine until ctx is cancelled.
func (m *MemMessenger) Activate(ctx context.Context, d Delegate) error {
	m.mu.Lock()
	m.delegate = d
	m.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case deliver := <-m.deliveries:
				deliver()
			}
		}
	}()
	return nil
}

// SendMessage delivers data to the counterpart. With the drop knob set
// the hand-off still succeeds locally but nothing arrives, mirroring the
// transient channel's "handed to transport" completion semantics.
func (m *MemMessenger) SendMessage(_ context.Context, data []byte) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.New("messenger closed")
	}
	if !m.reachable {
		m.mu.Unlock()
		return ErrNotReachable
	}
	drop, duplicate, peer := m.drop, m.duplicate, m.peer
	m.mu.Unlock()

	if drop {
		return nil
	}

	copies := 1
	if duplicate {
		copies = 2
	}
	for i := 0; i < copies; i++ {
		body := append([]byte(nil), data...)
		peer.enqueue(func() {
			if d := peer.currentDelegate(); d != nil {
				d.OnMessage(body)
			}
		})
	}
	return nil
}

// TransferFile copies the file body now and delivers it on the peer side
// as a short-lived temp file that is removed as soon as the delegate
// callback returns, matching the platform's side-channel contract.
func (m *MemMessenger) TransferFile(_ context.Context, path string) error {
	body, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read transfer source")
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.New("messenger closed")
	}
	if !m.reachable {
		m.mu.Unlock()
		return ErrNotReachable
	}
	duplicate, peer := m.duplicate, m.peer
	m.mu.Unlock()

	copies := 1
	if duplicate {
		copies = 2
	}
	for i := 0; i < copies; i++ {
		data := append([]byte(nil), body...)
		peer.enqueue(func() {
			d := peer.currentDelegate()
			if d == nil {
				return
			}
			tmp, err := os.CreateTemp("", "mem-transfer-*.json")
			if err != nil {
				return
			}
			name := tmp.Name()
			_, werr := tmp.Write(data)
			cerr := tmp.Close()
			if werr == nil && cerr == nil {
				d.OnFile(name)
			}
			os.Remove(name)
		})
	}
	return nil
}

// Reachable reports this side's view of the counterpart.
func (m *MemMessenger) Reachable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reachable
}

// Paired reports the pairing state.
func (m *MemMessenger) Paired() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paired
}

// Close tears the messenger down; further sends fail.
func (m *MemMessenger) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// SetReachable flips this side's view of the counterpart and notifies
// the delegate of the transition.
func (m *MemMessenger) SetReachable(reachable bool) {
	m.mu.Lock()
	changed := m.reachable != reachable
	m.reachable = reachable
	m.mu.Unlock()

	if !changed {
		return
	}
	m.enqueue(func() {
		if d := m.currentDelegate(); d != nil {
			d.OnReachabilityChanged(reachable)
		}
	})
}

// SetPaired flips the pairing state and notifies the delegate.
func (m *MemMessenger) SetPaired(paired bool) {
	m.mu.Lock()
	changed := m.paired != paired
	m.paired = paired
	m.mu.Unlock()

	if !changed {
		return
	}
	m.enqueue(func() {
		if d := m.currentDelegate(); d != nil {
			d.OnPairingChanged(paired)
		}
	})
}

// SetDuplicate makes every subsequent delivery arrive twice on the peer,
// simulating transport-level duplication.
func (m *MemMessenger) SetDuplicate(duplicate bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.duplicate = duplicate
}

// SetDrop makes subsequent message sends succeed locally but never
// arrive, simulating transient loss.
func (m *MemMessenger) SetDrop(drop bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drop = drop
}

func (m *MemMessenger) currentDelegate() Delegate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.delegate
}

func (m *MemMessenger) enqueue(deliver func()) {
	m.deliveries <- deliver
}
