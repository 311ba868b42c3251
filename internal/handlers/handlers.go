package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Brownie44l1/garbage-api/internal/apperr"
	"github.com/Brownie44l1/garbage-api/internal/inference"
	"github.com/Brownie44l1/garbage-api/internal/middleware"
)

const (
	rootMessage = "Garbage Detection API. Use /predict to get predictions."

	msgNoFile       = "No file uploaded."
	msgInvalidType  = "Invalid image type. Allowed: jpeg, jpg, png."
	msgTooLarge     = "Image too large (max 5MB)."
	msgInvalidImage = "Invalid image file. Could not decode jpeg or png data."
	msgNotReady     = "Model is loading."

	// multipart boundaries, part headers and other fields ride on top of the file
	multipartOverhead = 1 << 20
)

var allowedTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/jpg":  true,
}

// Predictor is the inference pipeline as seen by the HTTP layer.
type Predictor interface {
	Infer(ctx context.Context, data []byte) (*inference.Result, error)
	Info() inference.Info
	RecordRejected(err error)
}

type Handler struct {
	mu             sync.RWMutex
	predictor      Predictor
	maxUploadBytes int64
	now            func() time.Time
}

// NewHandler returns a handler that reports not-ready until SetPredictor.
func NewHandler(maxUploadBytes int64) *Handler {
	return &Handler{
		maxUploadBytes: maxUploadBytes,
		now:            time.Now,
	}
}

// SetPredictor opens the readiness gate.
func (h *Handler) SetPredictor(p Predictor) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.predictor = p
}

func (h *Handler) current() Predictor {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.predictor
}

// Ready reports whether the model has finished loading.
func (h *Handler) Ready() bool {
	return h.current() != nil
}

func (h *Handler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": rootMessage})
}

func (h *Handler) Health(c *gin.Context) {
	now := h.now().UTC().Format("2006-01-02T15:04:05Z")
	if !h.Ready() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "loading", "time": now})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": now})
}

func (h *Handler) Info(c *gin.Context) {
	p := h.current()
	if p == nil {
		fail(c, apperr.ErrNotReady)
		return
	}
	c.JSON(http.StatusOK, p.Info())
}

func (h *Handler) Predict(c *gin.Context) {
	p := h.current()
	if p == nil {
		fail(c, apperr.ErrNotReady)
		return
	}

	data, err := h.readUpload(c)
	if err != nil {
		p.RecordRejected(err)
		fail(c, err)
		return
	}

	result, err := p.Infer(c.Request.Context(), data)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// readUpload streams the multipart body up to the "file" part, checks its
// media type and then reads at most maxUploadBytes+1 bytes of it.
func (h *Handler) readUpload(c *gin.Context) ([]byte, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+multipartOverhead)

	reader, err := c.Request.MultipartReader()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrNoFile, err)
	}

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			return nil, fmt.Errorf("%w: no %q part", apperr.ErrNoFile, "file")
		}
		if err != nil {
			if isBodyTooLarge(err) {
				return nil, fmt.Errorf("%w: %v", apperr.ErrPayloadTooLarge, err)
			}
			return nil, fmt.Errorf("%w: %v", apperr.ErrNoFile, err)
		}
		if part.FormName() != "file" {
			part.Close()
			continue
		}
		defer part.Close()

		contentType := part.Header.Get("Content-Type")
		if !allowedTypes[mediaType(contentType)] {
			return nil, fmt.Errorf("%w: %q", apperr.ErrUnsupportedMediaType, contentType)
		}

		data, err := io.ReadAll(io.LimitReader(part, h.maxUploadBytes+1))
		if err != nil {
			if isBodyTooLarge(err) {
				return nil, fmt.Errorf("%w: %v", apperr.ErrPayloadTooLarge, err)
			}
			return nil, fmt.Errorf("%w: %v", apperr.ErrNoFile, err)
		}
		if int64(len(data)) > h.maxUploadBytes {
			return nil, fmt.Errorf("%w: more than %d bytes", apperr.ErrPayloadTooLarge, h.maxUploadBytes)
		}
		slog.DebugContext(c.Request.Context(), "received file",
			slog.String("filename", part.FileName()), slog.Int("bytes", len(data)))
		return data, nil
	}
}

// fail maps err to its status code and client-facing detail.
func fail(c *gin.Context, err error) {
	ctx := c.Request.Context()
	switch {
	case errors.Is(err, apperr.ErrNotReady):
		detail(c, http.StatusServiceUnavailable, msgNotReady)
	case errors.Is(err, apperr.ErrNoFile):
		detail(c, http.StatusBadRequest, msgNoFile)
	case errors.Is(err, apperr.ErrUnsupportedMediaType):
		detail(c, http.StatusBadRequest, msgInvalidType)
	case errors.Is(err, apperr.ErrPayloadTooLarge):
		detail(c, http.StatusBadRequest, msgTooLarge)
	case errors.Is(err, apperr.ErrInvalidImage):
		slog.InfoContext(ctx, "rejected undecodable image",
			slog.String("request_id", middleware.GetRequestID(c)), slog.Any("error", err))
		detail(c, http.StatusBadRequest, msgInvalidImage)
	default:
		slog.ErrorContext(ctx, "prediction failed",
			slog.String("request_id", middleware.GetRequestID(c)), slog.Any("error", err))
		detail(c, http.StatusInternalServerError, "Prediction error: "+err.Error())
	}
}

func mediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mt
}

func isBodyTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe) || strings.Contains(err.Error(), "request body too large")
}

func detail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"detail": msg})
}
