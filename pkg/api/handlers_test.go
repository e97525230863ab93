package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/rasterd/pkg/service"
)

type fakeService struct {
	renderResult *service.ImageResult
	renderErr    error
	renderCalls  []service.RenderOptions
	renderBodies []string

	restartStatus string
	restartCalls  int

	health service.Health
}

func (f *fakeService) Render(ctx context.Context, content string, opts service.RenderOptions, callback service.RenderCallback) (*service.ImageResult, error) {
	f.renderCalls = append(f.renderCalls, opts)
	f.renderBodies = append(f.renderBodies, content)
	if f.renderErr != nil {
		return nil, f.renderErr
	}
	return f.renderResult, nil
}

func (f *fakeService) Restart(ctx context.Context) string {
	f.restartCalls++
	return f.restartStatus
}

func (f *fakeService) Health() service.Health {
	return f.health
}

func testLog() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

func newTestRouter(svc *fakeService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return NewRouter(svc, testLog())
}

func postJSON(t *testing.T, router *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRenderEndpoint_ReturnsImage(t *testing.T) {
	svc := &fakeService{renderResult: &service.ImageResult{
		RequestID: "req-1",
		Data:      []byte("png-bytes"),
		Format:    "png",
	}}
	router := newTestRouter(svc)

	rec := postJSON(t, router, "/render", RenderRequest{Content: "<p>hello</p>"})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "req-1", rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "png-bytes", rec.Body.String())

	require.Len(t, svc.renderBodies, 1)
	assert.Equal(t, "<p>hello</p>", svc.renderBodies[0])
}

func TestRenderEndpoint_PassesOptionsThrough(t *testing.T) {
	svc := &fakeService{renderResult: &service.ImageResult{Format: "jpeg", Data: []byte("jpg")}}
	router := newTestRouter(svc)

	rec := postJSON(t, router, "/render", RenderRequest{
		Content:   "<p>x</p>",
		Width:     1024,
		Height:    768,
		FullPage:  true,
		Format:    "jpeg",
		Quality:   80,
		WaitUntil: "networkidle",
		TimeoutMs: 5000,
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))

	require.Len(t, svc.renderCalls, 1)
	opts := svc.renderCalls[0]
	assert.Equal(t, 1024, opts.Width)
	assert.Equal(t, 768, opts.Height)
	assert.True(t, opts.FullPage)
	assert.Equal(t, "jpeg", opts.Format)
	assert.Equal(t, 80, opts.Quality)
	assert.Equal(t, "networkidle", opts.WaitUntil)
	assert.Equal(t, 5*time.Second, opts.Timeout)
}

func TestRenderEndpoint_MissingContentIs400(t *testing.T) {
	svc := &fakeService{}
	router := newTestRouter(svc)

	rec := postJSON(t, router, "/render", map[string]any{"width": 100})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Error, "invalid request body")
	assert.Empty(t, svc.renderCalls)
}

func TestRenderEndpoint_MalformedJSONIs400(t *testing.T) {
	router := newTestRouter(&fakeService{})

	req := httptest.NewRequest(http.MethodPost, "/render", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRenderEndpoint_ServiceErrorIs500(t *testing.T) {
	svc := &fakeService{renderErr: errors.New("browser is gone")}
	router := newTestRouter(svc)

	rec := postJSON(t, router, "/render", RenderRequest{Content: "<p>x</p>"})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Error, "browser is gone")
}

func TestRestartEndpoint(t *testing.T) {
	svc := &fakeService{restartStatus: "Render session restarted"}
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/restart", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Render session restarted", resp["status"])
	assert.Equal(t, 1, svc.restartCalls)
}

func TestHealthEndpoint(t *testing.T) {
	svc := &fakeService{health: service.Health{
		State:       "connected",
		Mode:        "local",
		ActivePages: 2,
		FontServing: true,
	}}
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var health service.Health
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, svc.health, health)
}

func TestUnknownRouteIs404(t *testing.T) {
	router := newTestRouter(&fakeService{})

	req := httptest.NewRequest(http.MethodGet, "/render", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
