package voice

import (
	"context"
	"encoding/base64"
	"sync"
	"time"

	"github.com/acapanni/memoir/internal/gallery"
	"github.com/acapanni/memoir/internal/gemini"
	"github.com/acapanni/memoir/internal/observability"
	"github.com/acapanni/memoir/internal/protocol"
	"github.com/acapanni/memoir/internal/reliability"
	"github.com/acapanni/memoir/internal/session"
)

const outboundSendTimeout = 600 * time.Millisecond

// Orchestrator wires websocket connections to voice sessions. One voice
// session exists per connection; the photo library is shared.
type Orchestrator struct {
	sessions *session.Manager
	dialer   gemini.LiveDialer
	analyzer gemini.Analyzer
	library  *gallery.Library
	metrics  *observability.Metrics

	liveModel     string
	analysisModel string
	voiceName     string
	captureDepth  int
	audioDumpPath string
}

func NewOrchestrator(
	sessions *session.Manager,
	dialer gemini.LiveDialer,
	analyzer gemini.Analyzer,
	library *gallery.Library,
	metrics *observability.Metrics,
	liveModel, analysisModel, voiceName string,
	captureDepth int,
	audioDumpPath string,
) *Orchestrator {
	return &Orchestrator{
		sessions:      sessions,
		dialer:        dialer,
		analyzer:      analyzer,
		library:       library,
		metrics:       metrics,
		liveModel:     liveModel,
		analysisModel: analysisModel,
		voiceName:     voiceName,
		captureDepth:  captureDepth,
		audioDumpPath: audioDumpPath,
	}
}

// RunConnection drives one websocket connection: inbound mic frames and
// controls in, playback chunks, transcripts and gallery updates out.
func (o *Orchestrator) RunConnection(ctx context.Context, s *session.Session, inbound <-chan any, outbound chan<- any) error {
	sink := newWSOutputSink(s.ID, outbound, o)

	hooks := Hooks{
		OnState: func(state State, detail string) {
			o.metrics.SessionEvents.WithLabelValues("state_" + string(state)).Inc()
			o.send(outbound, protocol.StatusEvent{
				Type:      protocol.TypeStatusEvent,
				SessionID: s.ID,
				State:     string(state),
				Detail:    detail,
			})
		},
		OnTranscriptDelta: func(text string) {
			o.send(outbound, protocol.TranscriptDelta{
				Type:      protocol.TypeTranscriptDelta,
				SessionID: s.ID,
				TextDelta: text,
			})
		},
		OnTurnComplete: func(transcript string) {
			o.send(outbound, protocol.TurnComplete{
				Type:       protocol.TypeTurnComplete,
				SessionID:  s.ID,
				Transcript: transcript,
			})
		},
		OnInterrupted: func(pending int) {
			_ = o.sessions.Interrupt(s.ID)
			o.metrics.SessionEvents.WithLabelValues("model_interrupted").Inc()
		},
		OnError: func(code, source, detail string, retryable bool) {
			o.send(outbound, protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: s.ID,
				Code:      code,
				Source:    source,
				Retryable: retryable,
				Detail:    detail,
			})
		},
	}

	vs := NewVoiceSession(s.ID, SessionConfig{
		LiveModel:     o.liveModel,
		AnalysisModel: o.analysisModel,
		VoiceName:     o.voiceName,
		CaptureDepth:  o.captureDepth,
		AudioDumpPath: o.audioDumpPath,
	}, o.dialer, o.analyzer, o.library, sink, o.metrics, hooks)
	defer vs.Close()

	// Push the current gallery once up front and on every later mutation,
	// whether it came from this connection, an upload, or the sync agent.
	o.send(outbound, o.galleryUpdate(s.ID))
	unsubscribe := o.library.Subscribe(func() {
		o.send(outbound, o.galleryUpdate(s.ID))
	})
	defer unsubscribe()

	if err := vs.Connect(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			switch m := msg.(type) {
			case protocol.ClientAudioChunk:
				_ = o.sessions.Touch(s.ID)
				data, err := base64.StdEncoding.DecodeString(m.PCM16Base64)
				if err != nil {
					o.send(outbound, protocol.ErrorEvent{
						Type:      protocol.TypeErrorEvent,
						SessionID: s.ID,
						Code:      "invalid_audio_payload",
						Source:    reliability.SourceCapture,
						Retryable: false,
						Detail:    err.Error(),
					})
					continue
				}
				vs.HandleFrame(data)

			case protocol.ClientControl:
				_ = o.sessions.Touch(s.ID)
				switch m.Action {
				case protocol.ActionStart:
					vs.SetMicEnabled(true)
				case protocol.ActionStop:
					vs.SetMicEnabled(false)
				case protocol.ActionReset:
					if err := vs.Reset(ctx); err != nil {
						o.send(outbound, protocol.ErrorEvent{
							Type:      protocol.TypeErrorEvent,
							SessionID: s.ID,
							Code:      "session_reset_failed",
							Source:    reliability.SourceTransport,
							Retryable: reliability.IsRetryableLiveError(err.Error()),
							Detail:    err.Error(),
						})
					}
				case protocol.ActionInterrupt:
					vs.Interrupt("client_interrupted")
					_ = o.sessions.Interrupt(s.ID)
					o.metrics.SessionEvents.WithLabelValues("client_interrupted").Inc()
				case protocol.ActionAdvancePhoto:
					if photo, ok := o.library.Advance(); ok {
						vs.NotifyPhotoDisplayed(photo.FileName)
					}
				}
			}
		}
	}
}

func (o *Orchestrator) galleryUpdate(sessionID string) protocol.GalleryUpdate {
	snap := o.library.Snapshot()
	photos := make([]protocol.GalleryPhoto, 0, len(snap.Photos))
	for _, p := range snap.Photos {
		photos = append(photos, protocol.GalleryPhoto{
			FileName:    p.FileName,
			MIMEType:    p.MIMEType,
			UserContext: p.UserContext,
			AIContext:   p.AIContext,
			URL:         p.URL,
		})
	}
	return protocol.GalleryUpdate{
		Type:           protocol.TypeGalleryUpdate,
		SessionID:      sessionID,
		Biography:      snap.Biography,
		Photos:         photos,
		CurrentIndex:   snap.CurrentIndex,
		PendingReapply: snap.PendingReapply,
	}
}

// send delivers with a bounded wait. A saturated outbound queue means the
// websocket writer is wedged; dropping beats stalling the event loop.
func (o *Orchestrator) send(outbound chan<- any, msg any) {
	timer := time.NewTimer(outboundSendTimeout)
	defer timer.Stop()
	select {
	case outbound <- msg:
	case <-timer.C:
		o.metrics.SessionEvents.WithLabelValues("outbound_drop").Inc()
	}
}

// wsOutputSink schedules playback through the websocket. The epoch is fixed
// at connection start; Now is wall time since then, mirroring how a browser
// audio clock advances.
type wsOutputSink struct {
	sessionID string
	outbound  chan<- any
	orch      *Orchestrator

	mu    sync.Mutex
	epoch time.Time
}

func newWSOutputSink(sessionID string, outbound chan<- any, orch *Orchestrator) *wsOutputSink {
	return &wsOutputSink{
		sessionID: sessionID,
		outbound:  outbound,
		orch:      orch,
		epoch:     time.Now(),
	}
}

func (w *wsOutputSink) Now() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return time.Since(w.epoch)
}

func (w *wsOutputSink) Play(chunk PlaybackChunk) error {
	w.orch.send(w.outbound, protocol.PlaybackChunk{
		Type:        protocol.TypePlaybackChunk,
		SessionID:   w.sessionID,
		Seq:         chunk.Seq,
		PCM16Base64: base64.StdEncoding.EncodeToString(chunk.Data),
		SampleRate:  chunk.SampleRate,
		StartAtMs:   chunk.StartAt.Milliseconds(),
	})
	return nil
}

func (w *wsOutputSink) Flush(reason string) error {
	w.orch.send(w.outbound, protocol.PlaybackReset{
		Type:      protocol.TypePlaybackReset,
		SessionID: w.sessionID,
		Reason:    reason,
	})
	return nil
}
