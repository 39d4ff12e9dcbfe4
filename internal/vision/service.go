// Package vision runs one-shot image model calls over the photo library:
// the background analysis pass after an upload and ad hoc questions about
// the photos.
package vision

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/acapanni/memoir/internal/gallery"
	"github.com/acapanni/memoir/internal/gemini"
	"github.com/acapanni/memoir/internal/observability"
	"github.com/acapanni/memoir/internal/reliability"
)

const (
	analysisPrompt = "Analyze and describe this image in a single, concise sentence for extra context in a voice conversation."

	// AnalysisFailedContext replaces the pending marker when a photo could
	// not be analyzed. It is shown to the user, not an internal state.
	AnalysisFailedContext = "Error: AI analysis failed for this image."

	analysisTimeout  = 45 * time.Second
	analysisAttempts = 3
	backoffBase      = 500 * time.Millisecond
	backoffCap       = 5 * time.Second
)

// Service owns the auxiliary image model calls.
type Service struct {
	analyzer gemini.Analyzer
	library  *gallery.Library
	model    string
	metrics  *observability.Metrics
}

func NewService(analyzer gemini.Analyzer, library *gallery.Library, model string, metrics *observability.Metrics) *Service {
	return &Service{
		analyzer: analyzer,
		library:  library,
		model:    model,
		metrics:  metrics,
	}
}

// AnalyzeAll describes every named photo in the background and stores the
// result as that photo's AI context. Each photo runs in its own goroutine,
// mirroring the upload flow where descriptions trickle in one by one. The
// returned channel closes once every photo has been handled.
func (s *Service) AnalyzeAll(ctx context.Context, fileNames []string) <-chan struct{} {
	done := make(chan struct{})
	snap := s.library.Snapshot()
	byName := make(map[string]gallery.Photo, len(snap.Photos))
	for _, p := range snap.Photos {
		byName[p.FileName] = p
	}

	pending := make(chan struct{}, len(fileNames))
	launched := 0
	for _, name := range fileNames {
		photo, ok := byName[name]
		if !ok {
			continue
		}
		launched++
		go func(photo gallery.Photo) {
			defer func() { pending <- struct{}{} }()
			s.analyzeOne(ctx, photo)
		}(photo)
	}

	go func() {
		defer close(done)
		for i := 0; i < launched; i++ {
			<-pending
		}
	}()
	return done
}

func (s *Service) analyzeOne(ctx context.Context, photo gallery.Photo) {
	text, err := s.generateWithRetry(ctx, gemini.AnalyzeRequest{
		Model:  s.model,
		Prompt: analysisPrompt,
		Images: []gemini.InlineImage{{MIMEType: photo.MIMEType, Data: photo.Data}},
	})
	if err != nil {
		log.Printf("vision: analyze %s: %v", photo.FileName, err)
		if s.metrics != nil {
			s.metrics.ProviderErrors.WithLabelValues("gemini_vision", "analyze_failed").Inc()
		}
		s.library.SetAIContext(photo.FileName, AnalysisFailedContext)
		return
	}
	s.library.SetAIContext(photo.FileName, strings.TrimSpace(text))
}

// Ask answers a free-form question about the uploaded photos, with every
// photo and its contexts passed inline.
func (s *Service) Ask(ctx context.Context, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", fmt.Errorf("empty question")
	}
	snap := s.library.Snapshot()
	if len(snap.Photos) == 0 {
		return "", fmt.Errorf("no photos uploaded")
	}

	var b strings.Builder
	b.WriteString("Answer the question using the attached photos.\n")
	if snap.Biography != "" {
		b.WriteString("Biography of the person in the photos: " + snap.Biography + "\n")
	}
	for _, p := range snap.Photos {
		fmt.Fprintf(&b, "Photo %q", p.FileName)
		if p.UserContext != "" {
			fmt.Fprintf(&b, ", user context: %s", p.UserContext)
		}
		if p.AIContext != "" && p.AIContext != gallery.AIContextPending {
			fmt.Fprintf(&b, ", prior analysis: %s", p.AIContext)
		}
		b.WriteString("\n")
	}
	b.WriteString("\nQuestion: " + question)

	images := make([]gemini.InlineImage, 0, len(snap.Photos))
	for _, p := range snap.Photos {
		images = append(images, gemini.InlineImage{MIMEType: p.MIMEType, Data: p.Data})
	}

	text, err := s.generateWithRetry(ctx, gemini.AnalyzeRequest{
		Model:  s.model,
		Prompt: b.String(),
		Images: images,
	})
	if err != nil {
		if s.metrics != nil {
			s.metrics.ProviderErrors.WithLabelValues("gemini_vision", "ask_failed").Inc()
		}
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// generateWithRetry retries transient upstream failures with capped backoff.
// Hard failures return after the first attempt.
func (s *Service) generateWithRetry(ctx context.Context, req gemini.AnalyzeRequest) (string, error) {
	var lastErr error
	for attempt := 0; attempt < analysisAttempts; attempt++ {
		if attempt > 0 {
			wait := reliability.ExponentialBackoff(attempt-1, backoffBase, backoffCap)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		callCtx, cancel := context.WithTimeout(ctx, analysisTimeout)
		text, _, err := s.analyzer.Generate(callCtx, req)
		cancel()
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !reliability.IsRetryableLiveError(err.Error()) {
			return "", err
		}
	}
	return "", lastErr
}
