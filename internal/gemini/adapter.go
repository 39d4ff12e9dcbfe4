// Package gemini wraps the Google GenAI SDK behind narrow interfaces so the
// voice pipeline can run against a scripted fake in tests and in mock mode.
package gemini

import (
	"context"
	"strings"
)

// LiveEventType discriminates events emitted by a live connection.
type LiveEventType string

const (
	EventOpened        LiveEventType = "opened"
	EventServerContent LiveEventType = "server_content"
	EventError         LiveEventType = "error"
	EventClosed        LiveEventType = "closed"
)

// LiveEvent is a normalized message from the live model connection.
type LiveEvent struct {
	Type LiveEventType

	// Fields below are set for server_content events.
	Transcript   string
	Audio        []byte
	AudioMIME    string
	TurnComplete bool
	Interrupted  bool

	// Detail carries the error text for error events and the close reason
	// for closed events.
	Detail string
}

// LiveConfig configures a live bidirectional session.
type LiveConfig struct {
	Model        string
	VoiceName    string
	SystemPrompt string
}

// LiveConn is an open bidirectional session with the live model.
type LiveConn interface {
	SendAudio(ctx context.Context, data []byte, mimeType string) error
	SendText(ctx context.Context, text string) error
	Close() error
}

// LiveDialer opens live sessions. The returned channel is closed when the
// connection ends; an error or closed event is always the final element.
type LiveDialer interface {
	Dial(ctx context.Context, cfg LiveConfig) (LiveConn, <-chan LiveEvent, error)
}

// ToolParam describes one parameter of a function declaration.
type ToolParam struct {
	Type        string
	Description string
}

// ToolDecl is a function the model may call during analysis.
type ToolDecl struct {
	Name        string
	Description string
	Params      map[string]ToolParam
	Required    []string
}

// FunctionCall is a tool invocation returned by the model.
type FunctionCall struct {
	Name string
	Args map[string]any
}

// InlineImage is an image attached inline to an analysis request.
type InlineImage struct {
	MIMEType string
	Data     []byte
}

// AnalyzeRequest is a single-shot generation request, optionally with
// inline images and tool declarations.
type AnalyzeRequest struct {
	Model             string
	SystemInstruction string
	Prompt            string
	Images            []InlineImage
	Tools             []ToolDecl
}

// Analyzer runs non-streaming model calls for image analysis and the
// reactive tool loop.
type Analyzer interface {
	Generate(ctx context.Context, req AnalyzeRequest) (string, []FunctionCall, error)
}

// NewBackends returns the live dialer and analyzer for the given API key.
// A blank key selects the deterministic mock pair so the server still comes
// up for local development.
func NewBackends(ctx context.Context, apiKey string) (LiveDialer, Analyzer, error) {
	if strings.TrimSpace(apiKey) == "" {
		return NewMockDialer(), NewMockAnalyzer(), nil
	}
	c, err := NewClient(ctx, apiKey)
	if err != nil {
		return nil, nil, err
	}
	return c, c, nil
}
