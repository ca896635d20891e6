// Package engine defines the external engine collaborators consumed by
// the responding peer and the failure taxonomy they report. The engines
// themselves (platform speech recognition, summarization model) live
// behind these interfaces.
package engine

import (
	"context"
	"errors"
)

// Summarizer failure codes.
const (
	CodeAIUnavailable    = "aiUnavailable"
	CodeTooShort         = "tooShort"
	CodeGenerationFailed = "generationFailed"
)

// Transcriber failure codes.
const (
	CodeNotAuthorized         = "notAuthorized"
	CodeRecognizerUnavailable = "recognizerUnavailable"
	CodeAudioError            = "audioError"
	CodeRecognitionFailed     = "recognitionFailed"
	CodeNoResult              = "noResult"
	CodeEmptyResult           = "emptyResult"
)

// Error is an engine failure carrying a stable protocol code. The code,
// not the message, crosses the wire in response envelopes.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

// NewError builds an engine failure with the given code.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// CodeOf extracts the protocol code from an engine failure. Errors that
// are not engine errors fall back to the supplied default code, so every
// accepted request still yields a definitive response.
func CodeOf(err error, fallback string) string {
	var engErr *Error
	if errors.As(err, &engErr) {
		return engErr.Code
	}
	return fallback
}

//go:generate mockgen -destination=../../mocks/mock_engines.go -package=mocks . Summarizer,Transcriber

// Summarizer produces a condensed form of note content.
type Summarizer interface {
	Summarize(ctx context.Context, content string) (string, error)
	// Ready reports whether the engine can currently accept work, with a
	// human-readable status for the availability broadcast.
	Ready() (bool, string)
}

// Transcriber converts recorded audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
	Ready() (bool, string)
}
