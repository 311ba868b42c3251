package handlers_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/garbage-api/internal/classes"
	"github.com/Brownie44l1/garbage-api/internal/config"
	"github.com/Brownie44l1/garbage-api/internal/handlers"
	"github.com/Brownie44l1/garbage-api/internal/inference"
	"github.com/Brownie44l1/garbage-api/internal/inference/inferencetest"
	"github.com/Brownie44l1/garbage-api/internal/metrics"
	"github.com/Brownie44l1/garbage-api/internal/router"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var labels = []string{"cardboard", "glass", "metal", "paper", "plastic", "trash"}

type predictResponse struct {
	Prediction string            `json:"prediction"`
	Confidence float64           `json:"confidence"`
	Latency    float64           `json:"latency"`
	TopK       []inference.Score `json:"top_k"`
	Detail     string            `json:"detail"`
}

type testServer struct {
	handler *handlers.Handler
	engine  *gin.Engine
	model   *inferencetest.StubModel
}

func newTestServer(t *testing.T, scores ...float32) *testServer {
	t.Helper()
	if len(scores) == 0 {
		scores = []float32{0.05, 0.1, 0.6, 0.05, 0.15, 0.05}
	}
	stub := inferencetest.NewStubModel(scores...)
	m := metrics.New()
	h := handlers.NewHandler(config.MaxUploadBytes)
	h.SetPredictor(inference.NewService(stub, classes.New(labels), 3, m))
	return &testServer{
		handler: h,
		engine:  router.NewRouter(h, router.Options{Metrics: m}),
		model:   stub,
	}
}

func solidImage(c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func redJPEG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, solidImage(color.RGBA{R: 255, A: 255}), nil))
	return buf.Bytes()
}

func redPNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, solidImage(color.RGBA{R: 255, A: 255})))
	return buf.Bytes()
}

// padTo appends zero bytes after a complete image; decoders stop at the
// end marker so the result still decodes.
func padTo(data []byte, size int) []byte {
	out := make([]byte, size)
	copy(out, data)
	return out
}

func uploadRequest(t *testing.T, field, contentType string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename="upload"`, field))
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	part, err := w.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/predict", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func (s *testServer) do(req *http.Request) (*httptest.ResponseRecorder, predictResponse) {
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	var resp predictResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func TestPredict_Success(t *testing.T) {
	s := newTestServer(t)

	for _, ct := range []string{"image/jpeg", "image/jpg", "image/png"} {
		t.Run(ct, func(t *testing.T) {
			data := redJPEG(t)
			if ct == "image/png" {
				data = redPNG(t)
			}
			w, resp := s.do(uploadRequest(t, "file", ct, data))
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())

			assert.Equal(t, "metal", resp.Prediction)
			assert.GreaterOrEqual(t, resp.Confidence, 0.0)
			assert.LessOrEqual(t, resp.Confidence, 1.0)
			assert.GreaterOrEqual(t, resp.Latency, 0.0)
			require.Len(t, resp.TopK, 3)
			assert.True(t, sort.SliceIsSorted(resp.TopK, func(i, j int) bool {
				return resp.TopK[i].Confidence > resp.TopK[j].Confidence
			}))
		})
	}
}

func TestPredict_ResponseShape(t *testing.T) {
	s := newTestServer(t)
	w, _ := s.do(uploadRequest(t, "file", "image/jpeg", redJPEG(t)))
	require.Equal(t, http.StatusOK, w.Code)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	assert.Equal(t, []string{"confidence", "latency", "prediction", "top_k"}, keys)

	var top []map[string]any
	require.NoError(t, json.Unmarshal(raw["top_k"], &top))
	assert.Contains(t, top[0], "class")
	assert.Contains(t, top[0], "confidence")
}

func TestPredict_Idempotent(t *testing.T) {
	s := newTestServer(t)
	data := redJPEG(t)

	_, first := s.do(uploadRequest(t, "file", "image/jpeg", data))
	_, second := s.do(uploadRequest(t, "file", "image/jpeg", data))
	assert.Equal(t, first.Prediction, second.Prediction)
	assert.Equal(t, first.Confidence, second.Confidence)
}

func TestPredict_SoftmaxedLogits(t *testing.T) {
	s := newTestServer(t, 2.0, 0.5, -1.0)
	w, resp := s.do(uploadRequest(t, "file", "image/png", redPNG(t)))
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, "cardboard", resp.Prediction)
	assert.InDelta(t, 0.7856, resp.Confidence, 1e-3)
	total := 0.0
	for _, s := range resp.TopK {
		total += s.Confidence
	}
	assert.InDelta(t, 1.0, total, 1e-6)
}

func TestPredict_TopKShorterThanK(t *testing.T) {
	s := newTestServer(t, 0.3, 0.7)
	w, resp := s.do(uploadRequest(t, "file", "image/png", redPNG(t)))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, resp.TopK, 2)
}

func TestPredict_Rejections(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		req    func(t *testing.T) *http.Request
		detail string
	}{
		{
			name: "missing file field",
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, "image", "image/jpeg", redJPEG(t))
			},
			detail: "No file uploaded.",
		},
		{
			name: "not multipart",
			req: func(t *testing.T) *http.Request {
				return httptest.NewRequest(http.MethodPost, "/predict", bytes.NewReader(redJPEG(t)))
			},
			detail: "No file uploaded.",
		},
		{
			name: "gif with valid jpeg payload",
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, "file", "image/gif", redJPEG(t))
			},
			detail: "Invalid image type. Allowed: jpeg, jpg, png.",
		},
		{
			name: "missing content type",
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, "file", "", redJPEG(t))
			},
			detail: "Invalid image type. Allowed: jpeg, jpg, png.",
		},
		{
			name: "oversized gif",
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, "file", "image/gif", make([]byte, 3*config.MaxUploadBytes))
			},
			detail: "Invalid image type. Allowed: jpeg, jpg, png.",
		},
		{
			name: "one byte over limit",
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, "file", "image/png", padTo(redPNG(t), config.MaxUploadBytes+1))
			},
			detail: "Image too large (max 5MB).",
		},
		{
			name: "far over limit",
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, "file", "image/png", padTo(redPNG(t), 3*config.MaxUploadBytes))
			},
			detail: "Image too large (max 5MB).",
		},
		{
			name: "undecodable bytes",
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, "file", "image/jpeg", []byte("not a jpeg"))
			},
			detail: "Invalid image file. Could not decode jpeg or png data.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, resp := s.do(tt.req(t))
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.detail, resp.Detail)
		})
	}
	assert.Equal(t, 0, s.model.Calls())
}

func TestPredict_SkipsFieldsBeforeFile(t *testing.T) {
	s := newTestServer(t)

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	require.NoError(t, w.WriteField("note", "kitchen bin"))
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="red.png"`)
	header.Set("Content-Type", "image/png")
	part, err := w.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(redPNG(t))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/predict", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec, resp := s.do(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "metal", resp.Prediction)
}

func TestPredict_ExactlyMaxSizeAccepted(t *testing.T) {
	s := newTestServer(t)
	data := padTo(redPNG(t), config.MaxUploadBytes)
	require.Len(t, data, 5*1024*1024)

	w, resp := s.do(uploadRequest(t, "file", "image/png", data))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "metal", resp.Prediction)
}

func TestPredict_InternalError(t *testing.T) {
	s := newTestServer(t)
	s.model.Err = errors.New("onnx session crashed")

	w, resp := s.do(uploadRequest(t, "file", "image/jpeg", redJPEG(t)))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, resp.Detail, "Prediction error: ")
	assert.Contains(t, resp.Detail, "onnx session crashed")
}

func TestNotReady(t *testing.T) {
	h := handlers.NewHandler(config.MaxUploadBytes)
	engine := router.NewRouter(h, router.Options{})

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"loading"`)

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, uploadRequest(t, "file", "image/jpeg", redJPEG(t)))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"detail":"Model is loading."}`, w.Body.String())

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/info", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.False(t, h.Ready())
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	ts, err := time.Parse(time.RFC3339, body["time"])
	require.NoError(t, err)
	assert.Equal(t, time.UTC, ts.Location())
	assert.WithinDuration(t, time.Now(), ts, time.Minute)
}

func TestHealth_UnderConcurrentLoad(t *testing.T) {
	s := newTestServer(t)
	data := redJPEG(t)

	var wg sync.WaitGroup
	codes := make(chan int, 40)
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			w := httptest.NewRecorder()
			s.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
			codes <- w.Code
		}()
		go func() {
			defer wg.Done()
			body := &bytes.Buffer{}
			mw := multipart.NewWriter(body)
			header := make(textproto.MIMEHeader)
			header.Set("Content-Disposition", `form-data; name="file"; filename="red.jpg"`)
			header.Set("Content-Type", "image/jpeg")
			part, _ := mw.CreatePart(header)
			_, _ = part.Write(data)
			_ = mw.Close()
			req := httptest.NewRequest(http.MethodPost, "/predict", body)
			req.Header.Set("Content-Type", mw.FormDataContentType())
			w := httptest.NewRecorder()
			s.engine.ServeHTTP(w, req)
			codes <- w.Code
		}()
	}
	wg.Wait()
	close(codes)
	for code := range codes {
		assert.Equal(t, http.StatusOK, code)
	}
}

func TestRootAndInfo(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"Garbage Detection API. Use /predict to get predictions."}`, w.Body.String())

	w = httptest.NewRecorder()
	s.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/info", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var info inference.Info
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, 6, info.NumClasses)
	assert.Equal(t, labels, info.Classes)
	assert.False(t, info.ClassesFallback)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.do(uploadRequest(t, "file", "image/gif", redJPEG(t)))
	s.do(uploadRequest(t, "file", "image/jpeg", redJPEG(t)))

	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `garbage_api_predictions_total{outcome="client_error"} 1`)
	assert.Contains(t, w.Body.String(), `garbage_api_predictions_total{outcome="success"} 1`)
	assert.Contains(t, w.Body.String(), `garbage_api_predicted_class_total{class="metal"} 1`)
}
