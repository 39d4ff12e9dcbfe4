package voice

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/acapanni/memoir/internal/audio"
	"github.com/acapanni/memoir/internal/gallery"
	"github.com/acapanni/memoir/internal/gemini"
	"github.com/acapanni/memoir/internal/observability"
	"github.com/acapanni/memoir/internal/reliability"
)

// State is the lifecycle state of a voice session.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosed     State = "closed"
	StateError      State = "error"
)

// Hooks carries the session's outbound notifications. All callbacks are
// optional and are invoked from the session's event loop.
type Hooks struct {
	OnState           func(state State, detail string)
	OnTranscriptDelta func(text string)
	OnTurnComplete    func(transcript string)
	OnInterrupted     func(pendingChunks int)
	OnError           func(code, source, detail string, retryable bool)
}

// SessionConfig bundles the knobs a voice session needs.
type SessionConfig struct {
	LiveModel     string
	AnalysisModel string
	VoiceName     string
	CaptureDepth  int

	// AudioDumpPath, when set, receives a WAV file with the assistant audio
	// of the whole session on close.
	AudioDumpPath string
}

// VoiceSession owns one live model connection and the pipelines around it:
// mic capture in, playback scheduling out, transcript accumulation, and the
// reactive context sync on each completed turn.
type VoiceSession struct {
	id         string
	cfg        SessionConfig
	dialer     gemini.LiveDialer
	library    *gallery.Library
	scheduler  *PlaybackScheduler
	transcript *TranscriptAccumulator
	syncAgent  *ContextSyncAgent
	metrics    *observability.Metrics
	hooks      Hooks

	mu          sync.Mutex
	state       State
	conn        gemini.LiveConn
	capture     *CapturePipeline
	cancel      context.CancelFunc
	micEnabled  bool
	connectedAt time.Time
	firstAudio  bool
	dumpPCM     []byte
	loopDone    chan struct{}
}

func NewVoiceSession(
	id string,
	cfg SessionConfig,
	dialer gemini.LiveDialer,
	analyzer gemini.Analyzer,
	library *gallery.Library,
	sink OutputSink,
	metrics *observability.Metrics,
	hooks Hooks,
) *VoiceSession {
	s := &VoiceSession{
		id:         id,
		cfg:        cfg,
		dialer:     dialer,
		library:    library,
		scheduler:  NewPlaybackScheduler(sink, metrics),
		transcript: NewTranscriptAccumulator(),
		metrics:    metrics,
		hooks:      hooks,
		state:      StateIdle,
		micEnabled: true,
	}
	s.syncAgent = NewContextSyncAgent(analyzer, library, cfg.AnalysisModel, metrics, s.sendConversationText)
	return s
}

// State returns the current lifecycle state.
func (s *VoiceSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect dials the live model with a system prompt built from the current
// photo library. Valid from idle or closed.
func (s *VoiceSession) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateIdle, StateClosed, StateError:
	default:
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("cannot connect from state %q", st)
	}
	s.state = StateConnecting
	s.mu.Unlock()
	s.notifyState(StateConnecting, "")

	prompt := BuildSystemPrompt(s.library.Snapshot())
	sessionCtx, cancel := context.WithCancel(ctx)
	conn, events, err := s.dialer.Dial(sessionCtx, gemini.LiveConfig{
		Model:        s.cfg.LiveModel,
		VoiceName:    s.cfg.VoiceName,
		SystemPrompt: prompt,
	})
	if err != nil {
		cancel()
		s.mu.Lock()
		s.state = StateError
		s.mu.Unlock()
		s.notifyState(StateError, err.Error())
		s.notifyError("live_connect_failed", reliability.SourceTransport, err.Error(),
			reliability.IsRetryableLiveError(err.Error()))
		return err
	}

	capture := NewCapturePipeline(s.cfg.CaptureDepth, s.metrics, func(err error) {
		s.notifyError("live_send_audio_failed", reliability.SourceCapture, err.Error(),
			reliability.IsRetryableLiveError(err.Error()))
	})
	capture.Start(sessionCtx, conn)

	loopDone := make(chan struct{})
	s.mu.Lock()
	s.conn = conn
	s.capture = capture
	s.cancel = cancel
	s.connectedAt = time.Now()
	s.firstAudio = false
	s.loopDone = loopDone
	s.mu.Unlock()

	s.library.ClearPendingReapply()

	go func() {
		defer close(loopDone)
		s.eventLoop(sessionCtx, events)
	}()
	return nil
}

// Reset tears down the live connection and dials again with a freshly built
// system prompt. Used after gallery edits so the model sees current contexts.
func (s *VoiceSession) Reset(ctx context.Context) error {
	s.teardown("reset")
	s.scheduler.Interrupt("reset")
	s.transcript.Clear()
	return s.Connect(ctx)
}

// HandleFrame feeds one mic frame (PCM16 little endian) into the capture
// pipeline. Frames are dropped while the mic is muted or the session is not
// open.
func (s *VoiceSession) HandleFrame(data []byte) {
	s.mu.Lock()
	capture := s.capture
	ok := s.state == StateOpen && s.micEnabled && capture != nil
	s.mu.Unlock()
	if !ok {
		return
	}
	capture.HandleFrame(data)
}

// SetMicEnabled gates mic forwarding without tearing down the session.
func (s *VoiceSession) SetMicEnabled(enabled bool) {
	s.mu.Lock()
	s.micEnabled = enabled
	s.mu.Unlock()
}

// Interrupt cancels all pending playback and discards the in-flight
// transcript without touching the connection. Used for client-side stops;
// model barge-ins take the same path through the event loop.
func (s *VoiceSession) Interrupt(reason string) int {
	pending := s.scheduler.Interrupt(reason)
	s.transcript.Clear()
	return pending
}

// NotifyPhotoDisplayed tells the live conversation that fileName is now on
// screen. Used for manual slide advances.
func (s *VoiceSession) NotifyPhotoDisplayed(fileName string) {
	s.sendConversationText(DisplayedPhotoMessage(fileName))
}

// Close ends the session. Idempotent.
func (s *VoiceSession) Close() {
	s.teardown("closed")
	s.mu.Lock()
	// The event loop usually reaches StateClosed first and has already told
	// the client why. Only notify here when the loop never got the chance,
	// and never paper over a surfaced error status.
	closed := s.state != StateError && s.state != StateClosed
	if closed {
		s.state = StateClosed
	}
	dump := s.dumpPCM
	s.dumpPCM = nil
	s.mu.Unlock()
	if closed {
		s.notifyState(StateClosed, "")
	}

	if s.cfg.AudioDumpPath != "" && len(dump) > 0 {
		if err := audio.WriteWAVPCM16LEFile(s.cfg.AudioDumpPath, dump, audio.OutputSampleRate); err != nil {
			log.Printf("session %s: write audio dump: %v", s.id, err)
		} else {
			log.Printf("session %s: wrote audio dump (%s, peak %.2f)",
				s.id, audio.PCMDuration(dump, audio.OutputSampleRate), audio.PCMPeak(dump))
		}
	}
}

func (s *VoiceSession) teardown(reason string) {
	s.mu.Lock()
	conn := s.conn
	capture := s.capture
	cancel := s.cancel
	done := s.loopDone
	s.conn = nil
	s.capture = nil
	s.cancel = nil
	s.loopDone = nil
	s.mu.Unlock()

	if capture != nil {
		capture.Stop()
	}
	if conn != nil {
		_ = conn.Close()
	}
	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			log.Printf("session %s: event loop did not drain on %s", s.id, reason)
		}
	}
}

func (s *VoiceSession) eventLoop(ctx context.Context, events <-chan gemini.LiveEvent) {
	for ev := range events {
		switch ev.Type {
		case gemini.EventOpened:
			s.mu.Lock()
			s.state = StateOpen
			s.mu.Unlock()
			s.notifyState(StateOpen, "")

		case gemini.EventServerContent:
			s.handleServerContent(ctx, ev)

		case gemini.EventError:
			s.mu.Lock()
			s.state = StateError
			s.mu.Unlock()
			s.notifyState(StateError, ev.Detail)
			s.notifyError("live_stream_failed", reliability.SourceTransport, ev.Detail,
				reliability.IsRetryableLiveError(ev.Detail))
			return

		case gemini.EventClosed:
			s.mu.Lock()
			closed := s.state != StateError && s.state != StateClosed
			if closed {
				s.state = StateClosed
			}
			s.mu.Unlock()
			if closed {
				s.notifyState(StateClosed, ev.Detail)
			}
			return
		}
	}
}

func (s *VoiceSession) handleServerContent(ctx context.Context, ev gemini.LiveEvent) {
	// Interruption first: flush before anything else so stale audio never
	// outlives the barge-in.
	if ev.Interrupted {
		pending := s.scheduler.Interrupt("model_interrupted")
		s.transcript.Clear()
		if s.hooks.OnInterrupted != nil {
			s.hooks.OnInterrupted(pending)
		}
	}

	if len(ev.Audio) > 0 {
		if _, ok := s.scheduler.Schedule(ev.Audio, audio.OutputSampleRate); ok {
			s.mu.Lock()
			if !s.firstAudio {
				s.firstAudio = true
				if s.metrics != nil {
					s.metrics.ObserveFirstAudioLatency(time.Since(s.connectedAt))
				}
			}
			if s.cfg.AudioDumpPath != "" {
				s.dumpPCM = append(s.dumpPCM, ev.Audio...)
			}
			s.mu.Unlock()
		}
	}

	if ev.Transcript != "" {
		s.transcript.Append(ev.Transcript)
		if s.hooks.OnTranscriptDelta != nil {
			s.hooks.OnTranscriptDelta(ev.Transcript)
		}
	}

	if ev.TurnComplete {
		turnText := s.transcript.TakeAndClear()
		if s.hooks.OnTurnComplete != nil {
			s.hooks.OnTurnComplete(turnText)
		}
		// The sync call runs off the event loop so a slow analysis never
		// stalls audio.
		go s.syncAgent.Process(ctx, turnText)
	}
}

func (s *VoiceSession) sendConversationText(text string) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.SendText(ctx, text); err != nil {
		log.Printf("session %s: send conversation text: %v", s.id, err)
	}
}

func (s *VoiceSession) notifyState(state State, detail string) {
	if s.hooks.OnState != nil {
		s.hooks.OnState(state, detail)
	}
}

func (s *VoiceSession) notifyError(code, source, detail string, retryable bool) {
	if s.metrics != nil {
		s.metrics.ProviderErrors.WithLabelValues("gemini_live", code).Inc()
	}
	if s.hooks.OnError != nil {
		s.hooks.OnError(code, source, detail, retryable)
	}
}
