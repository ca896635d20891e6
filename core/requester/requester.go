// Package requester implements the lightweight peer's side of the
// offload protocol: it validates preconditions locally, mints request
// ids, routes payloads through the right delivery path and resolves
// pending requests when responses arrive.
package requester

import (
	"context"
	"errors"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/perminder-klair/apple-watch-notes/core/correlation"
	"github.com/perminder-klair/apple-watch-notes/core/dto"
	"github.com/perminder-klair/apple-watch-notes/core/engine"
	"github.com/perminder-klair/apple-watch-notes/core/envelope"
	"github.com/perminder-klair/apple-watch-notes/io/transport"
)

// MinSummaryContentLen is the minimum content length (in characters) a
// summarize request must carry. Shorter content is rejected locally and
// never sent to the peer.
const MinSummaryContentLen = 50

// peerTransport is the slice of the transport adapter the requester
// consumes.
type peerTransport interface {
	SendTransient(ctx context.Context, env envelope.Envelope) error
	SendLargePayload(ctx context.Context, env envelope.Envelope) error
	Events() <-chan transport.Event
	Reachable() bool
	Paired() bool
}

// Requester is the long-lived requesting peer service. One instance per
// process, constructed at start and injected into consumers.
type Requester struct {
	transport peerTransport
	tracker   *correlation.Tracker
	ttl       time.Duration

	mu         sync.Mutex
	conn       dto.ConnectionState
	peerStatus dto.PeerStatus
	subs       map[uint64]func(dto.Completion)
	nextSub    uint64
}

// New creates the requesting peer service. A non-zero ttl bounds how
// long a request may stay pending before it fails with
// dto.ErrRequestTimeout; zero leaves unanswered requests pending
// indefinitely.
func New(tr peerTransport, tracker *correlation.Tracker, ttl time.Duration) *Requester {
	return &Requester{
		transport: tr,
		tracker:   tracker,
		ttl:       ttl,
		conn: dto.ConnectionState{
			PeerReachable: tr.Reachable(),
			PeerPaired:    tr.Paired(),
		},
		subs: make(map[uint64]func(dto.Completion)),
	}
}

// Run consumes the transport event stream, applying inbound events one
// at a time. It returns when ctx is cancelled.
func (r *Requester) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-r.transport.Events():
			r.handleEvent(ev)
		}
	}
}

// Subscribe registers a completion callback and returns its unsubscribe
// func. After unsubscribing, the owning surface receives no further
// completions; the underlying requests still complete.
func (r *Requester) Subscribe(fn func(dto.Completion)) (unsubscribe func()) {
	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.subs, id)
		r.mu.Unlock()
	}
}

// RequestSummary sends a summarize request for the given note content.
// It validates preconditions locally and returns the minted request id;
// the outcome arrives later through subscribed callbacks. Each
// precondition failure carries a distinct reason and produces no
// outbound send.
func (r *Requester) RequestSummary(ctx context.Context, noteID, content string) (string, error) {
	if !r.transport.Reachable() {
		return "", dto.ErrPeerUnreachable
	}
	if !r.PeerStatus().CapabilityAvailable {
		return "", dto.ErrCapabilityUnavailable
	}
	if utf8.RuneCountInString(content) < MinSummaryContentLen {
		return "", dto.ErrContentTooShort
	}

	id := uuid.NewString()
	r.tracker.Register(id, dto.KindSummary, r.ttl, r.fanOut)

	log.Infof("requesting summary for note %s (request %s)", noteID, id)
	r.send(ctx, id, envelope.NewSummarizeRequest(id, content, time.Now()))
	return id, nil
}

// RequestTranscription sends recorded audio for transcription. No
// content-length precondition applies; oversized payloads are rerouted
// through the large-payload side channel automatically.
func (r *Requester) RequestTranscription(ctx context.Context, audioID string, audio []byte) (string, error) {
	if !r.transport.Reachable() {
		return "", dto.ErrPeerUnreachable
	}

	id := uuid.NewString()
	r.tracker.Register(id, dto.KindTranscription, r.ttl, r.fanOut)

	log.Infof("requesting transcription of clip %s (%d bytes, request %s)", audioID, len(audio), id)
	r.send(ctx, id, envelope.NewTranscribeRequest(id, audio, time.Now()))
	return id, nil
}

// IsPending reports whether a request is still awaiting its response.
func (r *Requester) IsPending(id string) bool {
	return r.tracker.IsPending(id)
}

// ConnectionState returns the current view of the peer link.
func (r *Requester) ConnectionState() dto.ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn
}

// PeerStatus returns the last capability snapshot reported by the peer.
func (r *Requester) PeerStatus() dto.PeerStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peerStatus
}

// send routes the envelope through the transient channel, falling back
// to the large-payload path above the size ceiling. A send failure
// resolves the pending request immediately with a transport error.
func (r *Requester) send(ctx context.Context, id string, env envelope.Envelope) {
	err := r.transport.SendTransient(ctx, env)
	if errors.Is(err, transport.ErrPayloadTooLarge) {
		err = r.transport.SendLargePayload(ctx, env)
	}
	if err != nil {
		log.Warnf("send failed for request %s: %v", id, err)
		r.tracker.Fail(id, errors.Join(dto.ErrSendFailed, err))
	}
}

func (r *Requester) handleEvent(ev transport.Event) {
	switch e := ev.(type) {
	case transport.MessageEvent:
		r.mu.Lock()
		r.conn.PeerAppInstalled = true
		r.mu.Unlock()
		r.handleEnvelope(e.Envelope)
	case transport.ReachabilityEvent:
		r.mu.Lock()
		r.conn.PeerReachable = e.Reachable
		r.mu.Unlock()
		log.Infof("peer reachability changed: %v", e.Reachable)
	case transport.PairingEvent:
		r.mu.Lock()
		r.conn.PeerPaired = e.Paired
		r.mu.Unlock()
		log.Infof("peer pairing changed: %v", e.Paired)
	}
}

func (r *Requester) handleEnvelope(env envelope.Envelope) {
	switch p := env.Payload.(type) {
	case envelope.SummarizeResponse:
		r.resolve(p.RequestID, p.Success, p.Result, p.Error, engine.CodeGenerationFailed)
	case envelope.TranscribeResponse:
		r.resolve(p.RequestID, p.Success, p.Result, p.Error, engine.CodeRecognitionFailed)
	case envelope.StatusUpdate:
		r.mu.Lock()
		r.peerStatus = dto.PeerStatus{
			CapabilityAvailable: p.CapabilityAvailable,
			StatusText:          p.StatusText,
			ReceivedAt:          time.Now(),
		}
		r.mu.Unlock()
		log.Infof("peer status: available=%v (%s)", p.CapabilityAvailable, p.StatusText)
	default:
		log.Warnf("ignoring unexpected inbound kind %s", env.Kind)
	}
}

// resolve completes the matching pending request exactly once; a second
// copy of the same response (durable and transient paths racing) is a
// silent no-op inside the tracker.
func (r *Requester) resolve(id string, success bool, result, errCode *string, fallbackCode string) {
	if success && result != nil {
		if !r.tracker.Resolve(id, *result) {
			log.Debugf("response for unknown or already resolved request %s", id)
		}
		return
	}

	code := fallbackCode
	if errCode != nil {
		code = *errCode
	}
	if !r.tracker.Fail(id, engine.NewError(code, "")) {
		log.Debugf("failure response for unknown or already resolved request %s", id)
	}
}

func (r *Requester) fanOut(c dto.Completion) {
	r.mu.Lock()
	callbacks := make([]func(dto.Completion), 0, len(r.subs))
	for _, fn := range r.subs {
		callbacks = append(callbacks, fn)
	}
	r.mu.Unlock()

	for _, fn := range callbacks {
		fn(c)
	}
}
