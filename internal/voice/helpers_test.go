package voice

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/acapanni/memoir/internal/gallery"
	"github.com/acapanni/memoir/internal/gemini"
)

// fakeSink is an OutputSink with a manually advanced clock.
type fakeSink struct {
	mu      sync.Mutex
	now     time.Duration
	played  []PlaybackChunk
	flushes []string
}

func (f *fakeSink) Now() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeSink) advance(d time.Duration) {
	f.mu.Lock()
	f.now += d
	f.mu.Unlock()
}

func (f *fakeSink) Play(chunk PlaybackChunk) error {
	f.mu.Lock()
	f.played = append(f.played, chunk)
	f.mu.Unlock()
	return nil
}

func (f *fakeSink) Flush(reason string) error {
	f.mu.Lock()
	f.flushes = append(f.flushes, reason)
	f.mu.Unlock()
	return nil
}

func (f *fakeSink) playedChunks() []PlaybackChunk {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]PlaybackChunk, len(f.played))
	copy(out, f.played)
	return out
}

func (f *fakeSink) flushReasons() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.flushes))
	copy(out, f.flushes)
	return out
}

// fakeConn records outbound traffic to the live model. Close ends the
// event stream the way the real connection does.
type fakeConn struct {
	events chan gemini.LiveEvent

	mu     sync.Mutex
	audio  [][]byte
	texts  []string
	closed bool
}

func (f *fakeConn) SendAudio(_ context.Context, data []byte, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return fmt.Errorf("live session is closed")
	}
	f.audio = append(f.audio, data)
	return nil
}

func (f *fakeConn) SendText(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return fmt.Errorf("live session is closed")
	}
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	if f.events != nil {
		f.events <- gemini.LiveEvent{Type: gemini.EventClosed}
		close(f.events)
	}
	return nil
}

func (f *fakeConn) sentAudio() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.audio))
	copy(out, f.audio)
	return out
}

func (f *fakeConn) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.texts))
	copy(out, f.texts)
	return out
}

// fakeDialer hands out a scripted event channel per dial.
type fakeDialer struct {
	mu     sync.Mutex
	conns  []*fakeConn
	chans  []chan gemini.LiveEvent
	propts []string
}

func (f *fakeDialer) Dial(_ context.Context, cfg gemini.LiveConfig) (gemini.LiveConn, <-chan gemini.LiveEvent, error) {
	events := make(chan gemini.LiveEvent, 32)
	conn := &fakeConn{events: events}
	events <- gemini.LiveEvent{Type: gemini.EventOpened}

	f.mu.Lock()
	f.conns = append(f.conns, conn)
	f.chans = append(f.chans, events)
	f.propts = append(f.propts, cfg.SystemPrompt)
	f.mu.Unlock()
	return conn, events, nil
}

func (f *fakeDialer) latest() (*fakeConn, chan gemini.LiveEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.conns)
	if n == 0 {
		return nil, nil
	}
	return f.conns[n-1], f.chans[n-1]
}

func (f *fakeDialer) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

// fakeAnalyzer replies with scripted function calls.
type fakeAnalyzer struct {
	mu    sync.Mutex
	calls []gemini.FunctionCall
	err   error
	reqs  []gemini.AnalyzeRequest
}

func (f *fakeAnalyzer) Generate(_ context.Context, req gemini.AnalyzeRequest) (string, []gemini.FunctionCall, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return "", nil, f.err
	}
	return "", f.calls, nil
}

func (f *fakeAnalyzer) requests() []gemini.AnalyzeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]gemini.AnalyzeRequest, len(f.reqs))
	copy(out, f.reqs)
	return out
}

func testLibrary(names ...string) *gallery.Library {
	l := gallery.NewLibrary(nil)
	photos := make([]gallery.Photo, 0, len(names))
	for _, n := range names {
		photos = append(photos, gallery.Photo{FileName: n, MIMEType: "image/jpeg", UserContext: "ctx-" + n})
	}
	l.Replace(photos, "bio")
	return l
}

func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}
