// Package envelope defines the wire schema exchanged between the paired
// peers and the encode/decode boundary for it.
//
// Every message crossing the transport is a single Envelope: a kind tag,
// a timestamp and a kind-specific payload. Schema validation happens here,
// once, at the boundary. Decode is pure: no I/O, no side effects,
// identical input always yields identical output.
package envelope

import (
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/pkg/errors"
)

// Kind discriminates the payload shape of an Envelope.
type Kind string

const (
	KindSummarizeRequest   Kind = "summarize-request"
	KindSummarizeResponse  Kind = "summarize-response"
	KindTranscribeRequest  Kind = "transcribe-request"
	KindTranscribeResponse Kind = "transcribe-response"
	KindStatusUpdate       Kind = "status-update"
)

// ErrMalformed is returned by Decode for any input that cannot be
// reconstructed into a valid Envelope: unknown kind, missing or mistyped
// required field, undecodable binary blob, or a response violating the
// exactly-one-of result/error rule.
var ErrMalformed = stderrors.New("malformed envelope")

// SummarizeRequest asks the responding peer to summarize note content.
type SummarizeRequest struct {
	RequestID string
	Content   string
}

// SummarizeResponse carries exactly one of Result or Error back to the
// requester. GeneratedAt is the responder-side production time (unix ms).
type SummarizeResponse struct {
	RequestID   string
	Success     bool
	Result      *string
	Error       *string
	GeneratedAt int64
}

// TranscribeRequest carries raw audio to the responding peer.
type TranscribeRequest struct {
	RequestID string
	Audio     []byte
}

// TranscribeResponse carries exactly one of Result or Error.
type TranscribeResponse struct {
	RequestID string
	Success   bool
	Result    *string
	Error     *string
}

// StatusUpdate is the responder capability snapshot broadcast.
type StatusUpdate struct {
	CapabilityAvailable bool
	StatusText          string
}

// Envelope is the unit written to and read from the wire. Payload holds
// one of the payload structs above; its concrete type must match Kind.
type Envelope struct {
	Kind      Kind
	Timestamp int64 // unix milliseconds
	Payload   any
}

// RequestID extracts the correlation id carried by the payload, or ""
// for kinds that carry none (status-update).
func (e Envelope) RequestID() string {
	switch p := e.Payload.(type) {
	case SummarizeRequest:
		return p.RequestID
	case SummarizeResponse:
		return p.RequestID
	case TranscribeRequest:
		return p.RequestID
	case TranscribeResponse:
		return p.RequestID
	}
	return ""
}

// IsRequest reports whether the envelope is a request-kind message that
// must pass the responder's dedup gate before processing.
func (e Envelope) IsRequest() bool {
	return e.Kind == KindSummarizeRequest || e.Kind == KindTranscribeRequest
}

// NewSummarizeRequest builds a summarize-request envelope.
func NewSummarizeRequest(requestID, content string, ts time.Time) Envelope {
	return Envelope{
		Kind:      KindSummarizeRequest,
		Timestamp: ts.UnixMilli(),
		Payload:   SummarizeRequest{RequestID: requestID, Content: content},
	}
}

// NewTranscribeRequest builds a transcribe-request envelope.
func NewTranscribeRequest(requestID string, audio []byte, ts time.Time) Envelope {
	return Envelope{
		Kind:      KindTranscribeRequest,
		Timestamp: ts.UnixMilli(),
		Payload:   TranscribeRequest{RequestID: requestID, Audio: audio},
	}
}

// NewSummarizeResult builds a successful summarize-response.
func NewSummarizeResult(requestID, result string, ts time.Time) Envelope {
	return Envelope{
		Kind:      KindSummarizeResponse,
		Timestamp: ts.UnixMilli(),
		Payload: SummarizeResponse{
			RequestID:   requestID,
			Success:     true,
			Result:      &result,
			GeneratedAt: ts.UnixMilli(),
		},
	}
}

// NewSummarizeFailure builds a summarize-response carrying an engine
// failure code.
func NewSummarizeFailure(requestID, code string, ts time.Time) Envelope {
	return Envelope{
		Kind:      KindSummarizeResponse,
		Timestamp: ts.UnixMilli(),
		Payload: SummarizeResponse{
			RequestID:   requestID,
			Success:     false,
			Error:       &code,
			GeneratedAt: ts.UnixMilli(),
		},
	}
}

// NewTranscribeResult builds a successful transcribe-response.
func NewTranscribeResult(requestID, result string, ts time.Time) Envelope {
	return Envelope{
		Kind:      KindTranscribeResponse,
		Timestamp: ts.UnixMilli(),
		Payload:   TranscribeResponse{RequestID: requestID, Success: true, Result: &result},
	}
}

// NewTranscribeFailure builds a transcribe-response carrying an engine
// failure code.
func NewTranscribeFailure(requestID, code string, ts time.Time) Envelope {
	return Envelope{
		Kind:      KindTranscribeResponse,
		Timestamp: ts.UnixMilli(),
		Payload:   TranscribeResponse{RequestID: requestID, Success: false, Error: &code},
	}
}

// NewStatusUpdate builds a status-update envelope.
func NewStatusUpdate(available bool, statusText string, ts time.Time) Envelope {
	return Envelope{
		Kind:      KindStatusUpdate,
		Timestamp: ts.UnixMilli(),
		Payload:   StatusUpdate{CapabilityAvailable: available, StatusText: statusText},
	}
}

// wire structs use pointer fields so a missing required field is
// distinguishable from a zero value.

type wireEnvelope struct {
	Kind      *string         `json:"kind"`
	Timestamp *int64          `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

type wireSummarizeRequest struct {
	RequestID *string `json:"requestId"`
	Content   *string `json:"content"`
}

type wireSummarizeResponse struct {
	RequestID   *string `json:"requestId"`
	Success     *bool   `json:"success"`
	Result      *string `json:"result,omitempty"`
	Error       *string `json:"error,omitempty"`
	GeneratedAt *int64  `json:"generatedAt"`
}

type wireTranscribeRequest struct {
	RequestID  *string `json:"requestId"`
	AudioBytes *string `json:"audioBytes"` // base64, length-bounded blob
}

type wireTranscribeResponse struct {
	RequestID *string `json:"requestId"`
	Success   *bool   `json:"success"`
	Result    *string `json:"result,omitempty"`
	Error     *string `json:"error,omitempty"`
}

type wireStatusUpdate struct {
	CapabilityAvailable *bool   `json:"capabilityAvailable"`
	StatusText          *string `json:"statusText"`
}

// Encode serializes an Envelope into its wire representation. The payload
// concrete type must match Kind, and responses must carry exactly one of
// result/error.
func Encode(e Envelope) ([]byte, error) {
	var (
		raw json.RawMessage
		err error
	)

	switch p := e.Payload.(type) {
	case SummarizeRequest:
		if e.Kind != KindSummarizeRequest {
			return nil, errors.Wrapf(ErrMalformed, "kind %s does not match payload", e.Kind)
		}
		raw, err = json.Marshal(wireSummarizeRequest{RequestID: &p.RequestID, Content: &p.Content})
	case SummarizeResponse:
		if e.Kind != KindSummarizeResponse {
			return nil, errors.Wrapf(ErrMalformed, "kind %s does not match payload", e.Kind)
		}
		if err := checkOutcome(p.Success, p.Result, p.Error); err != nil {
			return nil, err
		}
		raw, err = json.Marshal(wireSummarizeResponse{
			RequestID:   &p.RequestID,
			Success:     &p.Success,
			Result:      p.Result,
			Error:       p.Error,
			GeneratedAt: &p.GeneratedAt,
		})
	case TranscribeRequest:
		if e.Kind != KindTranscribeRequest {
			return nil, errors.Wrapf(ErrMalformed, "kind %s does not match payload", e.Kind)
		}
		blob := base64.StdEncoding.EncodeToString(p.Audio)
		raw, err = json.Marshal(wireTranscribeRequest{RequestID: &p.RequestID, AudioBytes: &blob})
	case TranscribeResponse:
		if e.Kind != KindTranscribeResponse {
			return nil, errors.Wrapf(ErrMalformed, "kind %s does not match payload", e.Kind)
		}
		if err := checkOutcome(p.Success, p.Result, p.Error); err != nil {
			return nil, err
		}
		raw, err = json.Marshal(wireTranscribeResponse{
			RequestID: &p.RequestID,
			Success:   &p.Success,
			Result:    p.Result,
			Error:     p.Error,
		})
	case StatusUpdate:
		if e.Kind != KindStatusUpdate {
			return nil, errors.Wrapf(ErrMalformed, "kind %s does not match payload", e.Kind)
		}
		raw, err = json.Marshal(wireStatusUpdate{
			CapabilityAvailable: &p.CapabilityAvailable,
			StatusText:          &p.StatusText,
		})
	default:
		return nil, errors.Wrapf(ErrMalformed, "unknown payload type %T", e.Payload)
	}
	if err != nil {
		return nil, errors.Wrap(err, "marshal payload")
	}

	kind := string(e.Kind)
	return json.Marshal(wireEnvelope{Kind: &kind, Timestamp: &e.Timestamp, Payload: raw})
}

// Decode parses a wire representation back into an Envelope. Any missing
// or mistyped required field, unknown kind, undecodable audio blob or
// result/error violation fails with ErrMalformed.
func Decode(data []byte) (Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return Envelope{}, errors.Wrap(ErrMalformed, err.Error())
	}
	if w.Kind == nil || w.Timestamp == nil || len(w.Payload) == 0 {
		return Envelope{}, errors.Wrap(ErrMalformed, "missing kind, timestamp or payload")
	}

	e := Envelope{Kind: Kind(*w.Kind), Timestamp: *w.Timestamp}

	switch e.Kind {
	case KindSummarizeRequest:
		var p wireSummarizeRequest
		if err := json.Unmarshal(w.Payload, &p); err != nil {
			return Envelope{}, errors.Wrap(ErrMalformed, err.Error())
		}
		if p.RequestID == nil || p.Content == nil {
			return Envelope{}, errors.Wrap(ErrMalformed, "summarize-request: missing requestId or content")
		}
		e.Payload = SummarizeRequest{RequestID: *p.RequestID, Content: *p.Content}
	case KindSummarizeResponse:
		var p wireSummarizeResponse
		if err := json.Unmarshal(w.Payload, &p); err != nil {
			return Envelope{}, errors.Wrap(ErrMalformed, err.Error())
		}
		if p.RequestID == nil || p.Success == nil || p.GeneratedAt == nil {
			return Envelope{}, errors.Wrap(ErrMalformed, "summarize-response: missing required field")
		}
		if err := checkOutcome(*p.Success, p.Result, p.Error); err != nil {
			return Envelope{}, err
		}
		e.Payload = SummarizeResponse{
			RequestID:   *p.RequestID,
			Success:     *p.Success,
			Result:      p.Result,
			Error:       p.Error,
			GeneratedAt: *p.GeneratedAt,
		}
	case KindTranscribeRequest:
		var p wireTranscribeRequest
		if err := json.Unmarshal(w.Payload, &p); err != nil {
			return Envelope{}, errors.Wrap(ErrMalformed, err.Error())
		}
		if p.RequestID == nil || p.AudioBytes == nil {
			return Envelope{}, errors.Wrap(ErrMalformed, "transcribe-request: missing requestId or audioBytes")
		}
		audio, err := base64.StdEncoding.DecodeString(*p.AudioBytes)
		if err != nil {
			return Envelope{}, errors.Wrap(ErrMalformed, "transcribe-request: audio blob is not valid base64")
		}
		e.Payload = TranscribeRequest{RequestID: *p.RequestID, Audio: audio}
	case KindTranscribeResponse:
		var p wireTranscribeResponse
		if err := json.Unmarshal(w.Payload, &p); err != nil {
			return Envelope{}, errors.Wrap(ErrMalformed, err.Error())
		}
		if p.RequestID == nil || p.Success == nil {
			return Envelope{}, errors.Wrap(ErrMalformed, "transcribe-response: missing required field")
		}
		if err := checkOutcome(*p.Success, p.Result, p.Error); err != nil {
			return Envelope{}, err
		}
		e.Payload = TranscribeResponse{
			RequestID: *p.RequestID,
			Success:   *p.Success,
			Result:    p.Result,
			Error:     p.Error,
		}
	case KindStatusUpdate:
		var p wireStatusUpdate
		if err := json.Unmarshal(w.Payload, &p); err != nil {
			return Envelope{}, errors.Wrap(ErrMalformed, err.Error())
		}
		if p.CapabilityAvailable == nil || p.StatusText == nil {
			return Envelope{}, errors.Wrap(ErrMalformed, "status-update: missing required field")
		}
		e.Payload = StatusUpdate{CapabilityAvailable: *p.CapabilityAvailable, StatusText: *p.StatusText}
	default:
		return Envelope{}, errors.Wrapf(ErrMalformed, "unknown kind %q", *w.Kind)
	}

	return e, nil
}

// checkOutcome enforces that a response carries exactly one of
// result/error, and that the populated side agrees with the success flag.
func checkOutcome(success bool, result, errCode *string) error {
	if result != nil && errCode != nil {
		return errors.Wrap(ErrMalformed, "response carries both result and error")
	}
	if result == nil && errCode == nil {
		return errors.Wrap(ErrMalformed, "response carries neither result nor error")
	}
	if success && result == nil {
		return errors.Wrap(ErrMalformed, "success response without result")
	}
	if !success && errCode == nil {
		return errors.Wrap(ErrMalformed, "failure response without error")
	}
	return nil
}
