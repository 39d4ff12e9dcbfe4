package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientAudioChunk MessageType = "client_audio_chunk"
	TypeClientControl    MessageType = "client_control"
	TypePlaybackChunk    MessageType = "playback_chunk"
	TypePlaybackReset    MessageType = "playback_reset"
	TypeTranscriptDelta  MessageType = "transcript_delta"
	TypeTurnComplete     MessageType = "turn_complete"
	TypeGalleryUpdate    MessageType = "gallery_update"
	TypeStatusEvent      MessageType = "status_event"
	TypeErrorEvent       MessageType = "error_event"
)

// Control actions accepted in client_control messages.
const (
	ActionStart        = "start"
	ActionStop         = "stop"
	ActionReset        = "reset"
	ActionInterrupt    = "interrupt"
	ActionAdvancePhoto = "advance_photo"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type ClientAudioChunk struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	Seq         int         `json:"seq"`
	PCM16Base64 string      `json:"pcm16_base64"`
	SampleRate  int         `json:"sample_rate"`
	TSMs        int64       `json:"ts_ms"`
}

type ClientControl struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Action    string      `json:"action"`
	Reason    string      `json:"reason,omitempty"`
}

// PlaybackChunk schedules one assistant audio chunk. StartAtMs is the offset
// from the connection epoch at which the chunk should begin playing.
type PlaybackChunk struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	Seq         int         `json:"seq"`
	PCM16Base64 string      `json:"pcm16_base64"`
	SampleRate  int         `json:"sample_rate"`
	StartAtMs   int64       `json:"start_at_ms"`
}

// PlaybackReset tells the client to flush every scheduled chunk immediately.
type PlaybackReset struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Reason    string      `json:"reason"`
}

type TranscriptDelta struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TextDelta string      `json:"text_delta"`
}

type TurnComplete struct {
	Type       MessageType `json:"type"`
	SessionID  string      `json:"session_id"`
	Transcript string      `json:"transcript"`
}

// GalleryPhoto is the wire form of one photo in a gallery_update. Image bytes
// never travel over the websocket; the client fetches them over HTTP.
type GalleryPhoto struct {
	FileName    string `json:"file_name"`
	MIMEType    string `json:"mime_type"`
	UserContext string `json:"user_context"`
	AIContext   string `json:"ai_context"`
	URL         string `json:"url,omitempty"`
}

type GalleryUpdate struct {
	Type         MessageType    `json:"type"`
	SessionID    string         `json:"session_id"`
	Biography    string         `json:"biography"`
	Photos       []GalleryPhoto `json:"photos"`
	CurrentIndex int            `json:"current_index"`

	// PendingReapply is raised when a context edit is waiting for a session
	// reset to reach the live model.
	PendingReapply bool `json:"pending_reapply"`
}

type StatusEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	State     string      `json:"state"`
	Detail    string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientAudioChunk:
		var msg ClientAudioChunk
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.PCM16Base64 == "" || msg.SampleRate <= 0 {
			return nil, errors.New("invalid client_audio_chunk")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Action == "" {
			return nil, errors.New("invalid client_control")
		}
		switch msg.Action {
		case ActionStart, ActionStop, ActionReset, ActionInterrupt, ActionAdvancePhoto:
		default:
			return nil, fmt.Errorf("unknown control action %q", msg.Action)
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
