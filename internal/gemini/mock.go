package gemini

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/acapanni/memoir/internal/audio"
)

// MockDialer provides deterministic live sessions when no API key is set.
// Every user audio frame elicits a short canned transcript and a completed
// turn so the rest of the pipeline can be exercised offline.
type MockDialer struct{}

func NewMockDialer() *MockDialer { return &MockDialer{} }

func (d *MockDialer) Dial(ctx context.Context, cfg LiveConfig) (LiveConn, <-chan LiveEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	conn := &mockConn{events: make(chan LiveEvent, 16)}
	conn.events <- LiveEvent{Type: EventOpened}
	return conn, conn.events, nil
}

type mockConn struct {
	mu     sync.Mutex
	closed bool
	events chan LiveEvent
}

func (c *mockConn) SendAudio(ctx context.Context, data []byte, mimeType string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("live session is closed")
	}
	// Echo back a tiny turn so playback and transcripts light up offline.
	select {
	case c.events <- LiveEvent{
		Type:         EventServerContent,
		Transcript:   "I am listening.",
		Audio:        mockTurnAudio(),
		AudioMIME:    fmt.Sprintf("audio/pcm;rate=%d", audio.OutputSampleRate),
		TurnComplete: true,
	}:
	default:
	}
	return nil
}

// mockTurnAudio is 200ms of a quiet 440Hz tone, encoded like real model
// output, so scheduled playback is audible offline.
func mockTurnAudio() []byte {
	samples := make([]float32, audio.OutputSampleRate/5)
	for i := range samples {
		samples[i] = 0.1 * float32(math.Sin(2*math.Pi*440*float64(i)/audio.OutputSampleRate))
	}
	return audio.EncodePCM16LE(samples)
}

func (c *mockConn) SendText(ctx context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("live session is closed")
	}
	return nil
}

func (c *mockConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.events <- LiveEvent{Type: EventClosed, Detail: "session closed"}
	close(c.events)
	return nil
}

// MockAnalyzer replies with a canned sentence and never requests tool calls.
type MockAnalyzer struct{}

func NewMockAnalyzer() *MockAnalyzer { return &MockAnalyzer{} }

func (a *MockAnalyzer) Generate(ctx context.Context, req AnalyzeRequest) (string, []FunctionCall, error) {
	select {
	case <-ctx.Done():
		return "", nil, ctx.Err()
	default:
	}

	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return "Nothing to analyze.", nil, nil
	}
	if len(req.Images) > 0 {
		return "A photo without additional context.", nil, nil
	}
	return "Okay.", nil, nil
}
