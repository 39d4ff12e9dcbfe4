package voice

import (
	"sync"
	"time"

	"github.com/acapanni/memoir/internal/audio"
	"github.com/acapanni/memoir/internal/observability"
)

// PlaybackChunk is one scheduled piece of assistant audio. StartAt is the
// offset from the sink's epoch at which the chunk must begin playing.
type PlaybackChunk struct {
	Seq        int
	Data       []byte
	SampleRate int
	StartAt    time.Duration
}

// OutputSink receives scheduled chunks and flush requests. Now reports the
// playhead position relative to the sink's epoch.
type OutputSink interface {
	Now() time.Duration
	Play(chunk PlaybackChunk) error
	Flush(reason string) error
}

// PlaybackScheduler lays assistant audio chunks end to end so playback is
// gapless. A chunk never starts in the past: when the stream has drained,
// the next chunk is pinned to the sink's current playhead.
type PlaybackScheduler struct {
	sink    OutputSink
	metrics *observability.Metrics

	mu     sync.Mutex
	clock  time.Duration
	seq    int
	timers map[int]*time.Timer
}

func NewPlaybackScheduler(sink OutputSink, metrics *observability.Metrics) *PlaybackScheduler {
	return &PlaybackScheduler{
		sink:    sink,
		metrics: metrics,
		timers:  make(map[int]*time.Timer),
	}
}

// Schedule assigns the next start slot to data and hands it to the sink.
// Empty chunks are ignored.
func (p *PlaybackScheduler) Schedule(data []byte, sampleRate int) (PlaybackChunk, bool) {
	dur := audio.PCMDuration(data, sampleRate)
	if dur <= 0 {
		return PlaybackChunk{}, false
	}

	p.mu.Lock()
	start := p.clock
	if now := p.sink.Now(); start < now {
		start = now
	}
	p.seq++
	chunk := PlaybackChunk{
		Seq:        p.seq,
		Data:       data,
		SampleRate: sampleRate,
		StartAt:    start,
	}
	p.clock = start + dur

	seq := chunk.Seq
	delay := p.clock - p.sink.Now()
	if delay < 0 {
		delay = 0
	}
	p.timers[seq] = time.AfterFunc(delay, func() {
		p.mu.Lock()
		delete(p.timers, seq)
		p.mu.Unlock()
	})

	// Deliver while still holding the lock: a concurrent Interrupt must not
	// slip its flush between the slot assignment and the sink seeing the
	// chunk, or the client would play stale audio after the reset.
	err := p.sink.Play(chunk)
	p.mu.Unlock()

	if err != nil {
		return chunk, false
	}
	if p.metrics != nil {
		p.metrics.PlaybackScheduled.Inc()
	}
	return chunk, true
}

// Interrupt flushes every pending chunk and rewinds the clock so the next
// chunk starts at the current playhead. Returns how many chunks were still
// pending. The flush reaches the sink under the same lock as chunk delivery,
// so every chunk the sink sees after the flush was scheduled after it.
func (p *PlaybackScheduler) Interrupt(reason string) int {
	p.mu.Lock()
	n := len(p.timers)
	for seq, t := range p.timers {
		t.Stop()
		delete(p.timers, seq)
	}
	p.clock = 0
	_ = p.sink.Flush(reason)
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.PlaybackInterrupts.Inc()
	}
	return n
}

// Pending reports how many scheduled chunks have not finished playing.
func (p *PlaybackScheduler) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.timers)
}

// Horizon returns the offset at which the next chunk would start.
func (p *PlaybackScheduler) Horizon() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if now := p.sink.Now(); p.clock < now {
		return now
	}
	return p.clock
}
