package voice

import (
	"strings"
	"sync"
)

// TranscriptAccumulator collects streamed output transcription fragments for
// the assistant turn currently in flight.
type TranscriptAccumulator struct {
	mu sync.Mutex
	b  strings.Builder
}

func NewTranscriptAccumulator() *TranscriptAccumulator {
	return &TranscriptAccumulator{}
}

// Append adds a transcription fragment to the current turn.
func (a *TranscriptAccumulator) Append(delta string) {
	if delta == "" {
		return
	}
	a.mu.Lock()
	a.b.WriteString(delta)
	a.mu.Unlock()
}

// Current returns the accumulated text without clearing it.
func (a *TranscriptAccumulator) Current() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.b.String()
}

// TakeAndClear returns the accumulated text and resets the accumulator.
// Called when the model reports the turn complete.
func (a *TranscriptAccumulator) TakeAndClear() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.b.String()
	a.b.Reset()
	return out
}

// Clear discards the partial transcript of an interrupted turn.
func (a *TranscriptAccumulator) Clear() {
	a.mu.Lock()
	a.b.Reset()
	a.mu.Unlock()
}
