package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/acapanni/memoir/internal/gallery"
)

const maxUploadBytes = 64 << 20

// uploadMeta is the JSON carried in the "meta" form field of a gallery
// upload, pairing each file with the user's free-text context.
type uploadMeta struct {
	Biography string `json:"biography"`
	Photos    []struct {
		FileName string `json:"fileName"`
		Context  string `json:"context"`
	} `json:"photos"`
}

type galleryPhotoView struct {
	FileName    string `json:"fileName"`
	MIMEType    string `json:"mimeType"`
	UserContext string `json:"userContext"`
	AIContext   string `json:"aiContext"`
	URL         string `json:"url"`
}

type galleryView struct {
	Biography      string             `json:"biography"`
	Photos         []galleryPhotoView `json:"photos"`
	CurrentIndex   int                `json:"currentIndex"`
	PendingReapply bool               `json:"pendingReapply"`
}

// handleUploadGallery replaces the photo library from a multipart upload:
// image files plus a "meta" field with the biography and per-photo contexts.
// AI analysis of each photo starts in the background; results land in the
// library as they arrive and reach connected clients as gallery updates.
func (s *Server) handleUploadGallery(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_upload", err.Error())
		return
	}

	var meta uploadMeta
	if raw := r.FormValue("meta"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			respondError(w, http.StatusBadRequest, "invalid_meta", err.Error())
			return
		}
	}
	contexts := make(map[string]string, len(meta.Photos))
	for _, p := range meta.Photos {
		contexts[p.FileName] = p.Context
	}

	if r.MultipartForm == nil || len(r.MultipartForm.File["photos"]) == 0 {
		respondError(w, http.StatusBadRequest, "no_photos", "at least one photo file is required")
		return
	}

	photos := make([]gallery.Photo, 0, len(r.MultipartForm.File["photos"]))
	for _, header := range r.MultipartForm.File["photos"] {
		photo, err := readUploadedPhoto(header)
		if err != nil {
			respondError(w, http.StatusBadRequest, "unreadable_photo", fmt.Sprintf("%s: %v", header.Filename, err))
			return
		}
		photo.UserContext = contexts[photo.FileName]
		photos = append(photos, photo)
	}

	s.library.Replace(photos, strings.TrimSpace(meta.Biography))

	names := make([]string, 0, len(photos))
	for _, p := range photos {
		names = append(names, p.FileName)
	}
	if s.vision != nil {
		// Outlives the request on purpose.
		s.vision.AnalyzeAll(context.Background(), names)
	}

	respondJSON(w, http.StatusCreated, s.galleryView())
}

func readUploadedPhoto(header *multipart.FileHeader) (gallery.Photo, error) {
	f, err := header.Open()
	if err != nil {
		return gallery.Photo{}, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxUploadBytes+1))
	if err != nil {
		return gallery.Photo{}, err
	}
	if len(data) == 0 {
		return gallery.Photo{}, errors.New("empty file")
	}
	if len(data) > maxUploadBytes {
		return gallery.Photo{}, errors.New("file too large")
	}

	name := path.Base(strings.TrimSpace(header.Filename))
	if name == "" || name == "." || name == "/" {
		return gallery.Photo{}, errors.New("missing file name")
	}
	mimeType := strings.TrimSpace(header.Header.Get("Content-Type"))
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return gallery.Photo{}, fmt.Errorf("unsupported content type %q", mimeType)
	}

	return gallery.Photo{
		FileName:  name,
		MIMEType:  mimeType,
		Data:      data,
		AIContext: gallery.AIContextPending,
		URL:       "/v1/gallery/photo/" + url.PathEscape(name),
	}, nil
}

func (s *Server) handleGetGallery(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.galleryView())
}

func (s *Server) handleClearGallery(w http.ResponseWriter, _ *http.Request) {
	s.library.Clear()
	respondJSON(w, http.StatusOK, s.galleryView())
}

func (s *Server) handleAskGallery(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Question string `json:"question"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if s.vision == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "vision service not configured")
		return
	}

	answer, err := s.vision.Ask(r.Context(), req.Question)
	if err != nil {
		if s.library.Len() == 0 {
			respondError(w, http.StatusConflict, "no_photos", err.Error())
			return
		}
		respondError(w, http.StatusBadGateway, "ask_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"answer": answer})
}

// handleUpdatePhotoContext edits the user context of one photo. The change
// reaches the live conversation on the next session reset.
func (s *Server) handleUpdatePhotoContext(w http.ResponseWriter, r *http.Request) {
	fileName, err := url.PathUnescape(chi.URLParam(r, "fileName"))
	if err != nil || strings.TrimSpace(fileName) == "" {
		respondError(w, http.StatusBadRequest, "invalid_file_name", "missing file name")
		return
	}

	var req struct {
		Context string `json:"context"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	if !s.library.UpdateUserContext(fileName, req.Context) {
		respondError(w, http.StatusNotFound, "photo_not_found", fmt.Sprintf("no photo named %q", fileName))
		return
	}
	respondJSON(w, http.StatusOK, s.galleryView())
}

func (s *Server) handleGetPhoto(w http.ResponseWriter, r *http.Request) {
	fileName, err := url.PathUnescape(chi.URLParam(r, "fileName"))
	if err != nil || strings.TrimSpace(fileName) == "" {
		respondError(w, http.StatusBadRequest, "invalid_file_name", "missing file name")
		return
	}

	for _, p := range s.library.Snapshot().Photos {
		if p.FileName == fileName {
			w.Header().Set("Content-Type", p.MIMEType)
			w.Header().Set("Cache-Control", "no-store")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(p.Data)
			return
		}
	}
	respondError(w, http.StatusNotFound, "photo_not_found", fmt.Sprintf("no photo named %q", fileName))
}

func (s *Server) galleryView() galleryView {
	snap := s.library.Snapshot()
	photos := make([]galleryPhotoView, 0, len(snap.Photos))
	for _, p := range snap.Photos {
		photos = append(photos, galleryPhotoView{
			FileName:    p.FileName,
			MIMEType:    p.MIMEType,
			UserContext: p.UserContext,
			AIContext:   p.AIContext,
			URL:         p.URL,
		})
	}
	return galleryView{
		Biography:      snap.Biography,
		Photos:         photos,
		CurrentIndex:   snap.CurrentIndex,
		PendingReapply: snap.PendingReapply,
	}
}
