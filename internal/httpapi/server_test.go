package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/acapanni/memoir/internal/config"
	"github.com/acapanni/memoir/internal/gallery"
	"github.com/acapanni/memoir/internal/gemini"
	"github.com/acapanni/memoir/internal/observability"
	"github.com/acapanni/memoir/internal/session"
	"github.com/acapanni/memoir/internal/vision"
)

func newTestServer(t *testing.T) (*httptest.Server, *gallery.Library) {
	t.Helper()
	cfg := config.Config{
		SessionInactivityTimeout: 2 * time.Minute,
		AnalysisModel:            "analysis-model",
	}
	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	metrics := observability.NewMetrics("test_httpapi_" + time.Now().Format("150405") + "_" + fmt.Sprintf("%d", time.Now().UnixNano()%1e9))
	library := gallery.NewLibrary(gallery.NewInMemoryStore())
	visionSvc := vision.NewService(gemini.NewMockAnalyzer(), library, cfg.AnalysisModel, metrics)
	srv := New(cfg, sessions, nil, library, visionSvc, metrics)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, library
}

func uploadGallery(t *testing.T, ts *httptest.Server, biography string, files map[string]string) galleryView {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	photosMeta := make([]map[string]string, 0, len(files))
	for name, context := range files {
		photosMeta = append(photosMeta, map[string]string{"fileName": name, "context": context})
	}
	metaJSON, _ := json.Marshal(map[string]any{
		"biography": biography,
		"photos":    photosMeta,
	})
	if err := w.WriteField("meta", string(metaJSON)); err != nil {
		t.Fatalf("write meta field: %v", err)
	}

	for name := range files {
		header := textproto.MIMEHeader{}
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="photos"; filename=%q`, name))
		header.Set("Content-Type", "image/jpeg")
		part, err := w.CreatePart(header)
		if err != nil {
			t.Fatalf("create part: %v", err)
		}
		if _, err := part.Write([]byte("jpeg-bytes-" + name)); err != nil {
			t.Fatalf("write part: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	res, err := http.Post(ts.URL+"/v1/gallery", w.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("upload request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(res.Body)
		t.Fatalf("upload status = %d: %s", res.StatusCode, body)
	}
	var view galleryView
	if err := json.NewDecoder(res.Body).Decode(&view); err != nil {
		t.Fatalf("decode upload response: %v", err)
	}
	return view
}

func fetchGallery(t *testing.T, ts *httptest.Server) galleryView {
	t.Helper()
	res, err := http.Get(ts.URL + "/v1/gallery")
	if err != nil {
		t.Fatalf("get gallery error = %v", err)
	}
	defer res.Body.Close()
	var view galleryView
	if err := json.NewDecoder(res.Body).Decode(&view); err != nil {
		t.Fatalf("decode gallery: %v", err)
	}
	return view
}

func TestCreateAndEndSession(t *testing.T) {
	ts, _ := newTestServer(t)

	res, err := http.Post(ts.URL+"/v1/voice/session", "application/json", nil)
	if err != nil {
		t.Fatalf("create session request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want %d", res.StatusCode, http.StatusCreated)
	}

	var created map[string]any
	if err := json.NewDecoder(res.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	sessionID, _ := created["session_id"].(string)
	if sessionID == "" {
		t.Fatalf("missing session_id in create response: %+v", created)
	}

	endRes, err := http.Post(ts.URL+"/v1/voice/session/"+sessionID+"/end", "application/json", nil)
	if err != nil {
		t.Fatalf("end session request error = %v", err)
	}
	defer endRes.Body.Close()
	if endRes.StatusCode != http.StatusOK {
		t.Fatalf("end status = %d, want %d", endRes.StatusCode, http.StatusOK)
	}
}

func TestSessionWSRequiresKnownSession(t *testing.T) {
	ts, _ := newTestServer(t)

	res, err := http.Get(ts.URL + "/v1/voice/session/ws")
	if err != nil {
		t.Fatalf("ws request error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing session_id status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}

	res, err = http.Get(ts.URL + "/v1/voice/session/ws?session_id=nope")
	if err != nil {
		t.Fatalf("ws request error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown session status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}

func TestGalleryUploadAndAnalysis(t *testing.T) {
	ts, library := newTestServer(t)

	view := uploadGallery(t, ts, "Born in 1952 in Naples.", map[string]string{
		"a.jpg": "Her wedding day.",
		"b.jpg": "",
	})
	if len(view.Photos) != 2 {
		t.Fatalf("uploaded %d photos, want 2", len(view.Photos))
	}
	if view.Biography != "Born in 1952 in Naples." {
		t.Fatalf("biography = %q", view.Biography)
	}
	var wedding galleryPhotoView
	for _, p := range view.Photos {
		if p.FileName == "a.jpg" {
			wedding = p
		}
	}
	if wedding.UserContext != "Her wedding day." {
		t.Fatalf("a.jpg user context = %q", wedding.UserContext)
	}
	if wedding.URL == "" {
		t.Fatalf("photo URL not populated")
	}

	// The mock analyzer resolves each pending context in the background.
	deadline := time.Now().Add(2 * time.Second)
	for {
		view = fetchGallery(t, ts)
		done := true
		for _, p := range view.Photos {
			if p.AIContext == gallery.AIContextPending {
				done = false
			}
		}
		if done {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("analysis never completed: %+v", view.Photos)
		}
		time.Sleep(10 * time.Millisecond)
	}
	for _, p := range view.Photos {
		if p.AIContext == "" || p.AIContext == gallery.AIContextPending {
			t.Fatalf("photo %s AI context = %q", p.FileName, p.AIContext)
		}
	}

	if library.Len() != 2 {
		t.Fatalf("library length = %d", library.Len())
	}
}

func TestGalleryUploadRejectsEmpty(t *testing.T) {
	ts, _ := newTestServer(t)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("meta", `{"biography":"x"}`)
	_ = w.Close()

	res, err := http.Post(ts.URL+"/v1/gallery", w.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("upload request error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestGalleryPhotoBytes(t *testing.T) {
	ts, _ := newTestServer(t)
	uploadGallery(t, ts, "", map[string]string{"a.jpg": ""})

	res, err := http.Get(ts.URL + "/v1/gallery/photo/a.jpg")
	if err != nil {
		t.Fatalf("get photo error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	if ct := res.Header.Get("Content-Type"); ct != "image/jpeg" {
		t.Fatalf("content type = %q", ct)
	}
	body, _ := io.ReadAll(res.Body)
	if string(body) != "jpeg-bytes-a.jpg" {
		t.Fatalf("photo bytes = %q", body)
	}

	missing, err := http.Get(ts.URL + "/v1/gallery/photo/ghost.jpg")
	if err != nil {
		t.Fatalf("get photo error = %v", err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("missing photo status = %d", missing.StatusCode)
	}
}

func TestGalleryContextUpdateAndClear(t *testing.T) {
	ts, library := newTestServer(t)
	uploadGallery(t, ts, "", map[string]string{"a.jpg": "old"})

	body := strings.NewReader(`{"context":"Her garden in spring."}`)
	res, err := http.Post(ts.URL+"/v1/gallery/photo/a.jpg/context", "application/json", body)
	if err != nil {
		t.Fatalf("update context error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update status = %d", res.StatusCode)
	}
	if got := fetchGallery(t, ts).Photos[0].UserContext; got != "Her garden in spring." {
		t.Fatalf("user context = %q", got)
	}
	if !library.PendingReapply() {
		t.Fatalf("context edit should mark the library for reapply")
	}

	clearRes, err := http.Post(ts.URL+"/v1/gallery/clear", "application/json", nil)
	if err != nil {
		t.Fatalf("clear error = %v", err)
	}
	clearRes.Body.Close()
	if got := fetchGallery(t, ts); len(got.Photos) != 0 {
		t.Fatalf("photos after clear = %d", len(got.Photos))
	}
}

func TestGalleryAsk(t *testing.T) {
	ts, _ := newTestServer(t)

	res, err := http.Post(ts.URL+"/v1/gallery/ask", "application/json", strings.NewReader(`{"question":"Who is this?"}`))
	if err != nil {
		t.Fatalf("ask error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("ask without photos status = %d, want %d", res.StatusCode, http.StatusConflict)
	}

	uploadGallery(t, ts, "bio", map[string]string{"a.jpg": ""})
	res, err = http.Post(ts.URL+"/v1/gallery/ask", "application/json", strings.NewReader(`{"question":"Who is this?"}`))
	if err != nil {
		t.Fatalf("ask error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("ask status = %d", res.StatusCode)
	}
	var answer map[string]string
	if err := json.NewDecoder(res.Body).Decode(&answer); err != nil {
		t.Fatalf("decode answer: %v", err)
	}
	if answer["answer"] == "" {
		t.Fatalf("empty answer")
	}
}
