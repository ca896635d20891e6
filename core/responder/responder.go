// Package responder implements the capable peer's side of the offload
// protocol: inbound request dispatch behind the dedup gate, engine
// invocation and exactly-one response production per accepted request.
package responder

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/perminder-klair/apple-watch-notes/core/correlation"
	"github.com/perminder-klair/apple-watch-notes/core/engine"
	"github.com/perminder-klair/apple-watch-notes/core/envelope"
	"github.com/perminder-klair/apple-watch-notes/io/transport"
)

// peerTransport is the slice of the transport adapter the responder
// consumes. Responses go through the reliable path: durable
// unconditionally, transient opportunistically.
type peerTransport interface {
	SendReliable(ctx context.Context, env envelope.Envelope) error
	Events() <-chan transport.Event
	Reachable() bool
}

// StatusNotifier receives connectivity transitions the availability
// broadcaster reacts to.
type StatusNotifier interface {
	OnActivated(ctx context.Context)
	OnReachability(ctx context.Context, reachable bool)
}

// Responder is the long-lived responding peer service. One instance per
// process, constructed at start and injected into consumers.
type Responder struct {
	transport   peerTransport
	inflight    *correlation.InFlight
	summarizer  engine.Summarizer
	transcriber engine.Transcriber
	notifier    StatusNotifier
}

// Option configures a Responder.
type Option func(*Responder)

// WithStatusNotifier attaches the availability broadcaster.
func WithStatusNotifier(n StatusNotifier) Option {
	return func(r *Responder) { r.notifier = n }
}

// New creates the responding peer service.
func New(tr peerTransport, inflight *correlation.InFlight, summarizer engine.Summarizer, transcriber engine.Transcriber, opts ...Option) *Responder {
	r := &Responder{
		transport:   tr,
		inflight:    inflight,
		summarizer:  summarizer,
		transcriber: transcriber,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// InFlightCount returns the number of requests currently being
// processed. Diagnostic only; no concurrency cap is enforced.
func (r *Responder) InFlightCount() int {
	return r.inflight.Count()
}

// Run consumes the transport event stream and dispatches accepted
// requests to the engines. Each accepted request is processed in its own
// goroutine so a slow engine does not stall dispatch of unrelated ids.
// Run returns when ctx is cancelled.
func (r *Responder) Run(ctx context.Context) {
	if r.notifier != nil {
		r.notifier.OnActivated(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-r.transport.Events():
			switch e := ev.(type) {
			case transport.MessageEvent:
				r.dispatch(ctx, e.Envelope)
			case transport.ReachabilityEvent:
				if r.notifier != nil {
					r.notifier.OnReachability(ctx, e.Reachable)
				}
			}
		}
	}
}

// dispatch routes an inbound envelope by kind. A request proceeds only
// if its id passes the dedup gate; a duplicate of a request still in
// flight is discarded without a second response, since the original
// response remains authoritative.
func (r *Responder) dispatch(ctx context.Context, env envelope.Envelope) {
	if !env.IsRequest() {
		log.Warnf("ignoring non-request inbound kind %s", env.Kind)
		return
	}

	id := env.RequestID()
	if !r.inflight.TryBegin(id) {
		log.Infof("discarding duplicate delivery of request %s", id)
		return
	}

	switch p := env.Payload.(type) {
	case envelope.SummarizeRequest:
		go r.processSummarize(ctx, p)
	case envelope.TranscribeRequest:
		go r.processTranscribe(ctx, p)
	}
}

// processSummarize produces exactly one summarize-response for the
// accepted request: the engine's result on success, its failure code
// otherwise. End runs deferred so the id is released on every exit
// path.
func (r *Responder) processSummarize(ctx context.Context, req envelope.SummarizeRequest) {
	defer r.inflight.End(req.RequestID)

	var resp envelope.Envelope
	result, err := r.summarizer.Summarize(ctx, req.Content)
	if err != nil {
		code := engine.CodeOf(err, engine.CodeGenerationFailed)
		log.Warnf("summarization of request %s failed: %s", req.RequestID, code)
		resp = envelope.NewSummarizeFailure(req.RequestID, code, time.Now())
	} else {
		log.Infof("summarized request %s (%d -> %d chars)", req.RequestID, len(req.Content), len(result))
		resp = envelope.NewSummarizeResult(req.RequestID, result, time.Now())
	}

	r.reply(ctx, req.RequestID, resp)
}

// processTranscribe runs after the transport adapter has already copied
// the file-backed audio body into memory inside the delivery callback;
// only then does asynchronous transcription begin.
func (r *Responder) processTranscribe(ctx context.Context, req envelope.TranscribeRequest) {
	defer r.inflight.End(req.RequestID)

	var resp envelope.Envelope
	result, err := r.transcriber.Transcribe(ctx, req.Audio)
	if err != nil {
		code := engine.CodeOf(err, engine.CodeRecognitionFailed)
		log.Warnf("transcription of request %s failed: %s", req.RequestID, code)
		resp = envelope.NewTranscribeFailure(req.RequestID, code, time.Now())
	} else {
		log.Infof("transcribed request %s (%d bytes of audio)", req.RequestID, len(req.Audio))
		resp = envelope.NewTranscribeResult(req.RequestID, result, time.Now())
	}

	r.reply(ctx, req.RequestID, resp)
}

func (r *Responder) reply(ctx context.Context, id string, resp envelope.Envelope) {
	if err := r.transport.SendReliable(ctx, resp); err != nil {
		log.Errorf("failed to queue response for request %s: %v", id, err)
	}
}
