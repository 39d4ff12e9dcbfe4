package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"google.golang.org/genai"
)

// Client talks to the Gemini API. It implements both LiveDialer and
// Analyzer on a single shared SDK client.
type Client struct {
	genai *genai.Client
}

func NewClient(ctx context.Context, apiKey string) (*Client, error) {
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Client{genai: c}, nil
}

// Dial opens a live bidirectional session and starts a receiver goroutine
// that translates SDK messages into LiveEvents.
func (c *Client) Dial(ctx context.Context, cfg LiveConfig) (LiveConn, <-chan LiveEvent, error) {
	connectCfg := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: cfg.VoiceName},
			},
		},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
	}
	if cfg.SystemPrompt != "" {
		connectCfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: cfg.SystemPrompt}},
		}
	}

	session, err := c.genai.Live.Connect(ctx, cfg.Model, connectCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connect live session: %w", err)
	}

	conn := &liveConn{session: session}
	events := make(chan LiveEvent, 32)
	go conn.receiveLoop(events)
	return conn, events, nil
}

type liveConn struct {
	session *genai.Session
	closed  atomic.Bool

	closeOnce sync.Once
	closeErr  error
}

func (c *liveConn) SendAudio(ctx context.Context, data []byte, mimeType string) error {
	if c.closed.Load() {
		return fmt.Errorf("live session is closed")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.session.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{Data: data, MIMEType: mimeType},
	})
}

func (c *liveConn) SendText(ctx context.Context, text string) error {
	if c.closed.Load() {
		return fmt.Errorf("live session is closed")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.session.SendClientContent(genai.LiveClientContentInput{
		Turns: []*genai.Content{
			{Role: genai.RoleUser, Parts: []*genai.Part{{Text: text}}},
		},
	})
}

func (c *liveConn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr = c.session.Close()
	})
	return c.closeErr
}

func (c *liveConn) receiveLoop(events chan<- LiveEvent) {
	defer close(events)

	events <- LiveEvent{Type: EventOpened}
	for {
		msg, err := c.session.Receive()
		if err != nil {
			if c.closed.Load() || errors.Is(err, io.EOF) {
				events <- LiveEvent{Type: EventClosed, Detail: err.Error()}
			} else {
				events <- LiveEvent{Type: EventError, Detail: err.Error()}
			}
			return
		}

		sc := msg.ServerContent
		if sc == nil {
			continue
		}

		ev := LiveEvent{
			Type:         EventServerContent,
			TurnComplete: sc.TurnComplete,
			Interrupted:  sc.Interrupted,
		}
		if sc.OutputTranscription != nil {
			ev.Transcript = sc.OutputTranscription.Text
		}
		if sc.ModelTurn != nil {
			for _, part := range sc.ModelTurn.Parts {
				if part.InlineData != nil && len(part.InlineData.Data) > 0 {
					ev.Audio = part.InlineData.Data
					ev.AudioMIME = part.InlineData.MIMEType
				}
			}
		}
		events <- ev
	}
}

// Generate runs a single-shot model call with optional inline images and
// tool declarations and returns the text plus any requested function calls.
func (c *Client) Generate(ctx context.Context, req AnalyzeRequest) (string, []FunctionCall, error) {
	parts := []*genai.Part{{Text: req.Prompt}}
	for _, img := range req.Images {
		parts = append(parts, &genai.Part{
			InlineData: &genai.Blob{Data: img.Data, MIMEType: img.MIMEType},
		})
	}
	contents := []*genai.Content{{Role: genai.RoleUser, Parts: parts}}

	cfg := &genai.GenerateContentConfig{}
	if req.SystemInstruction != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.SystemInstruction}},
		}
	}
	if len(req.Tools) > 0 {
		cfg.Tools = toGenaiTools(req.Tools)
	}

	resp, err := c.genai.Models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		return "", nil, fmt.Errorf("generate content: %w", err)
	}

	var calls []FunctionCall
	for _, fc := range resp.FunctionCalls() {
		calls = append(calls, FunctionCall{Name: fc.Name, Args: fc.Args})
	}
	return resp.Text(), calls, nil
}

func toGenaiTools(decls []ToolDecl) []*genai.Tool {
	fns := make([]*genai.FunctionDeclaration, 0, len(decls))
	for _, d := range decls {
		props := make(map[string]*genai.Schema, len(d.Params))
		for name, p := range d.Params {
			props[name] = &genai.Schema{
				Type:        schemaType(p.Type),
				Description: p.Description,
			}
		}
		fns = append(fns, &genai.FunctionDeclaration{
			Name:        d.Name,
			Description: d.Description,
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: props,
				Required:   d.Required,
			},
		})
	}
	return []*genai.Tool{{FunctionDeclarations: fns}}
}

func schemaType(t string) genai.Type {
	switch t {
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	default:
		return genai.TypeString
	}
}
