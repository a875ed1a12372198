package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	apperrors "capsule-notifier/internal/common/errors"
	"capsule-notifier/internal/common/logger"
	checkcapsules "capsule-notifier/internal/workers/capsule/check-capsules"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeRunner struct {
	mu     sync.Mutex
	inputs []*checkcapsules.Input
	output *checkcapsules.Output
	err    error
}

func (r *fakeRunner) Execute(_ context.Context, input *checkcapsules.Input) (*checkcapsules.Output, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inputs = append(r.inputs, input)
	return r.output, r.err
}

func processed(success, failed int) *checkcapsules.Output {
	return checkcapsules.Summary{Success: success, Failed: failed}.Output()
}

func newTestServer(t *testing.T, runner Runner, checks ...ReadinessCheck) http.Handler {
	t.Helper()
	return NewServer(0, runner, logger.NewTestLogger(t), checks...).Handler()
}

func serve(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestServer_Preflight(t *testing.T) {
	h := newTestServer(t, &fakeRunner{})

	for _, path := range []string{"/", "/check-capsules", "/anything"} {
		w := serve(h, http.MethodOptions, path, "")

		assert.Equal(t, http.StatusOK, w.Code, path)
		assert.Equal(t, "ok", w.Body.String())
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "authorization, x-client-info, apikey, content-type", w.Header().Get("Access-Control-Allow-Headers"))
	}
}

func TestServer_Run(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		runner     *fakeRunner
		wantStatus int
		wantBody   string
	}{
		{
			name:       "nothing due",
			method:     http.MethodPost,
			path:       "/",
			runner:     &fakeRunner{output: &checkcapsules.Output{Message: checkcapsules.MessageNoCapsules, Count: new(int)}},
			wantStatus: http.StatusOK,
			wantBody:   `{"message":"No capsules to unlock","count":0}`,
		},
		{
			name:       "processed",
			method:     http.MethodPost,
			path:       "/check-capsules",
			body:       `{"name":"Functions"}`,
			runner:     &fakeRunner{output: processed(1, 1)},
			wantStatus: http.StatusOK,
			wantBody:   `{"message":"Capsules processed","success":1,"failed":1}`,
		},
		{
			name:       "get is accepted",
			method:     http.MethodGet,
			path:       "/",
			runner:     &fakeRunner{output: processed(2, 0)},
			wantStatus: http.StatusOK,
			wantBody:   `{"message":"Capsules processed","success":2,"failed":0}`,
		},
		{
			name:       "fatal failure",
			method:     http.MethodPost,
			path:       "/",
			runner:     &fakeRunner{err: apperrors.NewTokenSigningFailedError(errors.New("invalid key"))},
			wantStatus: http.StatusInternalServerError,
			wantBody:   `{"error":"TOKEN_SIGNING_FAILED: APNs token signing failed: invalid key"}`,
		},
		{
			name:       "overlapping run",
			method:     http.MethodPost,
			path:       "/",
			runner:     &fakeRunner{err: checkcapsules.ErrRunInProgress},
			wantStatus: http.StatusConflict,
			wantBody:   `{"error":"check-capsules run already in progress"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(t, tt.runner)
			w := serve(h, tt.method, tt.path, tt.body)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.JSONEq(t, tt.wantBody, w.Body.String())
			assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
			require.Len(t, tt.runner.inputs, 1)
			assert.Equal(t, checkcapsules.TriggerHTTP, tt.runner.inputs[0].Trigger)
		})
	}
}

func TestServer_RunDecodesBody(t *testing.T) {
	runner := &fakeRunner{output: processed(0, 0)}
	h := newTestServer(t, runner)

	w := serve(h, http.MethodPost, "/", `{"limit": 25, "dryRun": true}`)
	require.Equal(t, http.StatusOK, w.Code)

	require.Len(t, runner.inputs, 1)
	assert.Equal(t, 25, runner.inputs[0].Limit)
	assert.True(t, runner.inputs[0].DryRun)
}

func TestServer_RunRejectsInvalidBody(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"limit":`},
		{"negative limit", `{"limit": -3}`},
		{"wrong type", `{"dryRun": "yes"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{output: processed(0, 0)}
			h := newTestServer(t, runner)

			w := serve(h, http.MethodPost, "/", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)

			var resp map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp["error"])
			assert.Empty(t, runner.inputs)
		})
	}
}

func TestServer_Health(t *testing.T) {
	h := newTestServer(t, &fakeRunner{})

	w := serve(h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","service":"capsule-notifier"}`, w.Body.String())
}

func TestServer_Ready(t *testing.T) {
	healthy := ReadinessCheck{Name: "postgres", Check: func(context.Context) error { return nil }}
	broken := ReadinessCheck{Name: "redis", Check: func(context.Context) error { return errors.New("connection refused") }}

	w := serve(newTestServer(t, &fakeRunner{}, healthy), http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","checks":{"postgres":"ok"}}`, w.Body.String())

	w = serve(newTestServer(t, &fakeRunner{}, healthy, broken), http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"unavailable","checks":{"postgres":"ok","redis":"connection refused"}}`, w.Body.String())
}

func TestServer_Metrics(t *testing.T) {
	w := serve(newTestServer(t, &fakeRunner{}), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestRecovery(t *testing.T) {
	router := gin.New()
	router.Use(Recovery(logger.NewTestLogger(t)))
	router.GET("/panic", func(c *gin.Context) { panic("boom") })

	w := serve(router, http.MethodGet, "/panic", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, w.Body.String())
}
