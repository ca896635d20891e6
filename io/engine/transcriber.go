package engine

import (
	"context"

	coreengine "github.com/perminder-klair/apple-watch-notes/core/engine"
)

// Unavailable is the transcriber wired in on hosts without a speech
// recognition service. Every request yields a definitive
// recognizerUnavailable response instead of silence, and the
// availability broadcast carries the degraded status text.
type Unavailable struct{}

// NewUnavailable creates the stub transcriber.
func NewUnavailable() *Unavailable {
	return &Unavailable{}
}

// Transcribe always fails with recognizerUnavailable.
func (u *Unavailable) Transcribe(_ context.Context, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", coreengine.NewError(coreengine.CodeAudioError, "empty audio payload")
	}
	return "", coreengine.NewError(coreengine.CodeRecognizerUnavailable, "no speech recognition service on this host")
}

// Ready reports unavailable with an explanatory status.
func (u *Unavailable) Ready() (bool, string) {
	return false, "no speech recognition service on this host"
}
