package voice

import (
	"context"
	"log"
	"sync"

	"github.com/acapanni/memoir/internal/audio"
	"github.com/acapanni/memoir/internal/gemini"
	"github.com/acapanni/memoir/internal/observability"
)

const defaultCaptureQueueDepth = 64

// CapturePipeline forwards mic frames to the live connection through a
// bounded queue. When the queue is full the oldest frame is dropped so the
// freshest audio always gets through.
type CapturePipeline struct {
	metrics *observability.Metrics
	onError func(err error)

	mu      sync.Mutex
	queue   chan []byte
	started bool
	stopped bool
}

func NewCapturePipeline(depth int, metrics *observability.Metrics, onError func(err error)) *CapturePipeline {
	if depth <= 0 {
		depth = defaultCaptureQueueDepth
	}
	return &CapturePipeline{
		metrics: metrics,
		onError: onError,
		queue:   make(chan []byte, depth),
	}
}

// Start begins draining the queue into conn. Calling Start again is a no-op.
func (c *CapturePipeline) Start(ctx context.Context, conn gemini.LiveConn) {
	c.mu.Lock()
	if c.started || c.stopped {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	go c.forward(ctx, conn)
}

// HandleFrame enqueues one PCM16 frame. Empty frames are skipped; a full
// queue drops the oldest frame rather than blocking the reader.
func (c *CapturePipeline) HandleFrame(data []byte) {
	if len(data) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}

	for {
		select {
		case c.queue <- data:
			return
		default:
		}
		select {
		case <-c.queue:
			if c.metrics != nil {
				c.metrics.CaptureFramesDropped.Inc()
			}
		default:
		}
	}
}

// Stop closes the queue. Safe to call more than once and concurrently with
// HandleFrame.
func (c *CapturePipeline) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.stopped = true
	close(c.queue)
}

// Stopped reports whether the pipeline no longer accepts frames, either
// because Stop was called or because forwarding hit a terminal send failure.
func (c *CapturePipeline) Stopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

func (c *CapturePipeline) forward(ctx context.Context, conn gemini.LiveConn) {
	for data := range c.queue {
		if err := conn.SendAudio(ctx, data, audio.InputMIMEType()); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("capture: send audio failed: %v", err)
			// The connection is gone. Shut the intake so callers see a dead
			// pipeline instead of frames silently vanishing into the queue.
			c.Stop()
			if c.onError != nil {
				c.onError(err)
			}
			return
		}
	}
}
