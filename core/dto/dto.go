// Package dto provides data transfer objects exchanged between the
// requesting and responding peer services.
package dto

import (
	"errors"
	"time"
)

// RequestKind identifies the type of work a request carries.
type RequestKind string

const (
	// KindSummary is a text summarization request.
	KindSummary RequestKind = "summary"
	// KindTranscription is a speech transcription request.
	KindTranscription RequestKind = "transcription"
)

// PendingRequest is the requester-side record of a sent request that has
// not received its response yet.
type PendingRequest struct {
	ID          string
	Kind        RequestKind
	SubmittedAt time.Time
}

// Completion is delivered to subscribers when a pending request resolves,
// either with a result or with an error (transport, timeout or engine).
type Completion struct {
	RequestID string
	Kind      RequestKind
	Result    string
	Err       error
}

// ConnectionState is the requester-side view of the peer link.
type ConnectionState struct {
	PeerReachable    bool
	PeerPaired       bool
	PeerAppInstalled bool
}

// PeerStatus is the responder-reported capability snapshot, received via
// status-update envelopes.
type PeerStatus struct {
	CapabilityAvailable bool
	StatusText          string
	ReceivedAt          time.Time
}

// Rejection reasons surfaced by the requesting peer service before any
// send attempt is made, plus post-send failure modes.
var (
	ErrPeerUnreachable       = errors.New("peer is not reachable")
	ErrCapabilityUnavailable = errors.New("peer capability is not available")
	ErrContentTooShort       = errors.New("content too short to summarize")
	ErrSendFailed            = errors.New("failed to hand message to transport")
	ErrRequestTimeout        = errors.New("request timed out without a response")
)
