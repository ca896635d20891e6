package transport

import (
	"encoding/binary"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"
)

// outbox record keys. Every WAL write uses a strictly increasing index;
// a sent marker references the queued record it retires by sequence
// number carried in its value.
const (
	keyQueued = "queued"
	keySent   = "sent"
)

// Entry is a queued durable message awaiting delivery.
type Entry struct {
	Seq  uint64
	Data []byte
}

// Outbox is the WAL-backed durable queue behind sendDurable. Queued
// entries survive process restarts: on open, the log is replayed and
// every queued record without a matching sent marker becomes pending
// again.
type Outbox struct {
	mu      sync.Mutex
	wal     *gowal.Wal
	next    uint64
	pending map[uint64][]byte
}

// OpenOutbox opens (or creates) the durable queue in dir and recovers
// undelivered entries from the log.
func OpenOutbox(dir string) (*Outbox, error) {
	wal, err := gowal.NewWAL(gowal.Config{
		Dir:              dir,
		Prefix:           "outbox_",
		SegmentThreshold: 1024 * 1024,
		MaxSegments:      100,
		IsInSyncDiskMode: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "open outbox wal")
	}

	o := &Outbox{wal: wal, pending: make(map[uint64][]byte)}

	for msg := range wal.Iterator() {
		if msg.Idx >= o.next {
			o.next = msg.Idx + 1
		}
		switch msg.Key {
		case keyQueued:
			o.pending[msg.Idx] = append([]byte(nil), msg.Value...)
		case keySent:
			if len(msg.Value) == 8 {
				delete(o.pending, binary.BigEndian.Uint64(msg.Value))
			}
		}
	}

	return o, nil
}

// Append queues a message for durable delivery and returns its sequence
// number.
func (o *Outbox) Append(data []byte) (uint64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	seq := o.next
	if err := o.wal.Write(seq, keyQueued, data); err != nil {
		return 0, errors.Wrap(err, "append outbox entry")
	}
	o.next++
	o.pending[seq] = append([]byte(nil), data...)
	return seq, nil
}

// MarkSent retires a queued entry after successful hand-off to the
// transport.
func (o *Outbox) MarkSent(seq uint64) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.pending[seq]; !ok {
		return nil
	}

	marker := make([]byte, 8)
	binary.BigEndian.PutUint64(marker, seq)
	if err := o.wal.Write(o.next, keySent, marker); err != nil {
		return errors.Wrap(err, "write sent marker")
	}
	o.next++
	delete(o.pending, seq)
	return nil
}

// Pending returns undelivered entries in queue order.
func (o *Outbox) Pending() []Entry {
	o.mu.Lock()
	defer o.mu.Unlock()

	entries := make([]Entry, 0, len(o.pending))
	for seq, data := range o.pending {
		entries = append(entries, Entry{Seq: seq, Data: append([]byte(nil), data...)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Seq < entries[j].Seq })
	return entries
}

// Len returns the number of undelivered entries.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}

// Close closes the underlying WAL.
func (o *Outbox) Close() error {
	return o.wal.Close()
}
