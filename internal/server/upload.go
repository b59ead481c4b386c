package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sindelabs/weaviate-mcp/internal/images"
	"github.com/sindelabs/weaviate-mcp/internal/observability"
)

// uploadResponse is returned by POST /upload-image.
type uploadResponse struct {
	ImageID     string `json:"image_id"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
	ExpiresAt   string `json:"expires_at"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// UploadHandler accepts multipart image uploads and stores them for later
// use as image_id arguments to the search tools.
type UploadHandler struct {
	store   *images.Store
	metrics *observability.ConnectorMetrics
	log     *slog.Logger
	maxSize int64
}

// NewUploadHandler creates the handler for POST /upload-image.
func NewUploadHandler(store *images.Store, maxSize int64, metrics *observability.ConnectorMetrics, log *slog.Logger) *UploadHandler {
	return &UploadHandler{
		store:   store,
		metrics: metrics,
		log:     log,
		maxSize: maxSize,
	}
}

func (h *UploadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}

	_, span := observability.StartUploadSpan(r.Context(), "http")
	defer span.End()

	// The multipart envelope adds overhead on top of the raw image bytes.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxSize+1<<20)

	file, header, err := r.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "image exceeds the size limit"})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "multipart field 'image' is required"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "reading upload: " + err.Error()})
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}

	img, err := h.store.Put(data, contentType, "http")
	if err != nil {
		observability.RecordError(span, err)
		if errors.Is(err, images.ErrTooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: err.Error()})
			return
		}
		h.log.Error("storing uploaded image", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "storing image failed"})
		return
	}

	h.metrics.UploadsTotal.Inc()
	h.metrics.UploadBytesTotal.Add(float64(len(data)))
	h.log.Info("image uploaded", "image_id", img.ID, "bytes", len(data), "content_type", img.ContentType)

	writeJSON(w, http.StatusOK, uploadResponse{
		ImageID:     img.ID,
		ContentType: img.ContentType,
		Size:        len(data),
		ExpiresAt:   img.ExpiresAt.UTC().Format(time.RFC3339),
	})
}
