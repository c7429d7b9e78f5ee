package handler

import (
	"bytes"
	"encoding/json"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/getcharzp/go-clickseg/internal/config"
	"github.com/getcharzp/go-clickseg/internal/service"
	"github.com/getcharzp/go-clickseg/segment"
	"github.com/getcharzp/go-clickseg/segment/segtest"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := segtest.Family()
	rt := segtest.NewRuntime(segtest.Encoder(f, false), segtest.Decoder(f, []float32{0.25, 0.75, 0.5}))
	models, err := segment.LoadModels(rt, f, segtest.EncoderPath, segtest.DecoderPath, false, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = models.Close() })

	cfg := config.Default()
	cfg.Upload.MaxSize = 1 << 20
	manager, err := service.NewSessionManager(models, nil,
		&config.SessionConfig{TTL: time.Minute, MaxSessions: 4},
		&config.InferenceConfig{MaxConcurrent: 1, QueueTimeout: time.Second},
		zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(manager.Close)

	h := NewSessionHandler(cfg, manager, zap.NewNop())
	return NewRouter(h, BuildInfo{Version: "test"}, zap.NewNop())
}

func do(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func uploadRequest(t *testing.T, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", "photo.png")
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode(t *testing.T, w *httptest.ResponseRecorder, data any) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	if data != nil {
		require.NoError(t, json.Unmarshal(env.Data, data))
	}
	return env
}

func TestSessionLifecycle(t *testing.T) {
	r := newTestRouter(t)

	w := do(r, uploadRequest(t, segtest.PNG(400, 300)))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var info struct {
		ID     string  `json:"id"`
		Width  int     `json:"width"`
		Height int     `json:"height"`
		Scale  float64 `json:"scale"`
		State  string  `json:"state"`
	}
	env := decode(t, w, &info)
	assert.True(t, env.Success)
	assert.NotEmpty(t, info.ID)
	assert.Equal(t, 400, info.Width)
	assert.Equal(t, 300, info.Height)
	assert.InDelta(t, 2.56, info.Scale, 1e-9)

	// 预测之前取 Mask
	w = do(r, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/"+info.ID+"/masks/0", nil))
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(r, httptest.NewRequest(http.MethodPost, "/api/v1/sessions/"+info.ID+"/predict",
		strings.NewReader(`{"x": 200, "y": 150}`)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var pred struct {
		Scores    []float32 `json:"scores"`
		BestIndex int       `json:"best_index"`
		Ranked    []struct {
			Index int     `json:"index"`
			Score float32 `json:"score"`
		} `json:"ranked"`
		MaskURL string `json:"mask_url"`
	}
	decode(t, w, &pred)
	assert.Equal(t, []float32{0.25, 0.75, 0.5}, pred.Scores)
	assert.Equal(t, 1, pred.BestIndex)
	require.Len(t, pred.Ranked, 3)
	assert.Equal(t, 2, pred.Ranked[1].Index)

	w = do(r, httptest.NewRequest(http.MethodGet, pred.MaskURL, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	mask, err := png.Decode(w.Body)
	require.NoError(t, err)
	assert.Equal(t, 400, mask.Bounds().Dx())
	assert.Equal(t, 300, mask.Bounds().Dy())

	w = do(r, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/"+info.ID+"/masks/9", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = do(r, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/"+info.ID+"/masks/abc", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/"+info.ID+"/overlay/2", nil))
	require.Equal(t, http.StatusOK, w.Code)
	overlay, err := png.Decode(w.Body)
	require.NoError(t, err)
	assert.Equal(t, 400, overlay.Bounds().Dx())

	w = do(r, httptest.NewRequest(http.MethodDelete, "/api/v1/sessions/"+info.ID, nil))
	assert.Equal(t, http.StatusOK, w.Code)
	w = do(r, httptest.NewRequest(http.MethodPost, "/api/v1/sessions/"+info.ID+"/predict",
		strings.NewReader(`{"x": 1, "y": 1}`)))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateRejectsInvalidUpload(t *testing.T) {
	r := newTestRouter(t)

	w := do(r, uploadRequest(t, []byte("plain text")))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	env := decode(t, w, nil)
	assert.False(t, env.Success)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", nil)
	w = do(r, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPredictValidation(t *testing.T) {
	r := newTestRouter(t)

	w := do(r, uploadRequest(t, segtest.PNG(64, 64)))
	require.Equal(t, http.StatusCreated, w.Code)
	var info struct {
		ID string `json:"id"`
	}
	decode(t, w, &info)

	w = do(r, httptest.NewRequest(http.MethodPost, "/api/v1/sessions/"+info.ID+"/predict",
		strings.NewReader(`{"x": 10}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// 原点也是合法坐标
	w = do(r, httptest.NewRequest(http.MethodPost, "/api/v1/sessions/"+info.ID+"/predict",
		strings.NewReader(`{"x": 0, "y": 0}`)))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestInfoRoutes(t *testing.T) {
	r := newTestRouter(t)

	w := do(r, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"family":"fake"`)

	w = do(r, httptest.NewRequest(http.MethodGet, "/version", nil))
	assert.Contains(t, w.Body.String(), `"version":"test"`)

	w = do(r, httptest.NewRequest(http.MethodGet, "/device", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var report segment.DeviceReport
	decode(t, w, &report)
	assert.Equal(t, segment.DeviceCPU, report.Effective)
	assert.False(t, report.Fallback)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/sessions", nil)
	w = do(r, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
