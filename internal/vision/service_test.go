package vision

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/acapanni/memoir/internal/gallery"
	"github.com/acapanni/memoir/internal/gemini"
)

type scriptedAnalyzer struct {
	mu   sync.Mutex
	errs []error
	text string
	reqs []gemini.AnalyzeRequest
}

func (a *scriptedAnalyzer) Generate(_ context.Context, req gemini.AnalyzeRequest) (string, []gemini.FunctionCall, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reqs = append(a.reqs, req)
	if len(a.errs) > 0 {
		err := a.errs[0]
		a.errs = a.errs[1:]
		if err != nil {
			return "", nil, err
		}
	}
	return a.text, nil, nil
}

func (a *scriptedAnalyzer) calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.reqs)
}

func (a *scriptedAnalyzer) requests() []gemini.AnalyzeRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]gemini.AnalyzeRequest, len(a.reqs))
	copy(out, a.reqs)
	return out
}

func testLibrary(t *testing.T, names ...string) *gallery.Library {
	t.Helper()
	lib := gallery.NewLibrary(gallery.NewInMemoryStore())
	photos := make([]gallery.Photo, 0, len(names))
	for _, name := range names {
		photos = append(photos, gallery.Photo{
			FileName:    name,
			MIMEType:    "image/jpeg",
			Data:        []byte(name),
			UserContext: "ctx-" + name,
			AIContext:   gallery.AIContextPending,
		})
	}
	lib.Replace(photos, "bio")
	return lib
}

func aiContext(lib *gallery.Library, name string) string {
	for _, p := range lib.Snapshot().Photos {
		if p.FileName == name {
			return p.AIContext
		}
	}
	return ""
}

func TestAnalyzeAllStoresDescriptions(t *testing.T) {
	lib := testLibrary(t, "a.jpg", "b.jpg")
	analyzer := &scriptedAnalyzer{text: "A sunny beach."}
	svc := NewService(analyzer, lib, "analysis-model", nil)

	done := svc.AnalyzeAll(context.Background(), []string{"a.jpg", "b.jpg"})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("analysis did not finish")
	}

	if got := aiContext(lib, "a.jpg"); got != "A sunny beach." {
		t.Fatalf("a.jpg AI context = %q", got)
	}
	if got := aiContext(lib, "b.jpg"); got != "A sunny beach." {
		t.Fatalf("b.jpg AI context = %q", got)
	}
	if analyzer.calls() != 2 {
		t.Fatalf("analyzer calls = %d, want 2", analyzer.calls())
	}
	req := analyzer.requests()[0]
	if len(req.Images) != 1 {
		t.Fatalf("analysis request carries %d images, want 1", len(req.Images))
	}
	if !strings.Contains(req.Prompt, "single, concise sentence") {
		t.Fatalf("analysis prompt = %q", req.Prompt)
	}
}

func TestAnalyzeAllSkipsUnknownNames(t *testing.T) {
	lib := testLibrary(t, "a.jpg")
	analyzer := &scriptedAnalyzer{text: "Fine."}
	svc := NewService(analyzer, lib, "m", nil)

	done := svc.AnalyzeAll(context.Background(), []string{"a.jpg", "ghost.jpg"})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("analysis did not finish")
	}
	if analyzer.calls() != 1 {
		t.Fatalf("analyzer calls = %d, want 1", analyzer.calls())
	}
}

func TestAnalyzeAllRetriesTransientFailure(t *testing.T) {
	lib := testLibrary(t, "a.jpg")
	analyzer := &scriptedAnalyzer{
		errs: []error{fmt.Errorf("upstream unavailable")},
		text: "A mountain trail.",
	}
	svc := NewService(analyzer, lib, "m", nil)

	done := svc.AnalyzeAll(context.Background(), []string{"a.jpg"})
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("analysis did not finish")
	}

	if got := aiContext(lib, "a.jpg"); got != "A mountain trail." {
		t.Fatalf("AI context after retry = %q", got)
	}
	if analyzer.calls() != 2 {
		t.Fatalf("analyzer calls = %d, want 2", analyzer.calls())
	}
}

func TestAnalyzeAllHardFailureSetsErrorContext(t *testing.T) {
	lib := testLibrary(t, "a.jpg")
	analyzer := &scriptedAnalyzer{errs: []error{fmt.Errorf("invalid argument")}}
	svc := NewService(analyzer, lib, "m", nil)

	done := svc.AnalyzeAll(context.Background(), []string{"a.jpg"})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("analysis did not finish")
	}

	if got := aiContext(lib, "a.jpg"); got != AnalysisFailedContext {
		t.Fatalf("AI context = %q, want failure sentinel", got)
	}
	if analyzer.calls() != 1 {
		t.Fatalf("hard failure should not retry, calls = %d", analyzer.calls())
	}
}

func TestAskIncludesAllPhotosAndContexts(t *testing.T) {
	lib := testLibrary(t, "a.jpg", "b.jpg")
	lib.SetAIContext("a.jpg", "A birthday party.")
	analyzer := &scriptedAnalyzer{text: "They are at a party."}
	svc := NewService(analyzer, lib, "m", nil)

	answer, err := svc.Ask(context.Background(), "Where are they?")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if answer != "They are at a party." {
		t.Fatalf("answer = %q", answer)
	}

	req := analyzer.requests()[0]
	if len(req.Images) != 2 {
		t.Fatalf("Ask carried %d images, want 2", len(req.Images))
	}
	for _, want := range []string{"Where are they?", "bio", "ctx-a.jpg", "A birthday party.", `"b.jpg"`} {
		if !strings.Contains(req.Prompt, want) {
			t.Fatalf("Ask prompt missing %q:\n%s", want, req.Prompt)
		}
	}
	if strings.Contains(req.Prompt, gallery.AIContextPending) {
		t.Fatalf("Ask prompt leaks the pending marker:\n%s", req.Prompt)
	}
}

func TestAskRejectsEmptyInputs(t *testing.T) {
	analyzer := &scriptedAnalyzer{text: "irrelevant"}

	svc := NewService(analyzer, testLibrary(t, "a.jpg"), "m", nil)
	if _, err := svc.Ask(context.Background(), "   "); err == nil {
		t.Fatalf("blank question should fail")
	}

	empty := gallery.NewLibrary(gallery.NewInMemoryStore())
	svc = NewService(analyzer, empty, "m", nil)
	if _, err := svc.Ask(context.Background(), "anything"); err == nil {
		t.Fatalf("empty library should fail")
	}
	if analyzer.calls() != 0 {
		t.Fatalf("analyzer should not be called, calls = %d", analyzer.calls())
	}
}
