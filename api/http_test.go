package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/streamplex/transcode-api/heartbeat"
	"github.com/streamplex/transcode-api/locks"
	"github.com/streamplex/transcode-api/pipeline"
	"github.com/streamplex/transcode-api/scheduler"
	"github.com/streamplex/transcode-api/store"
	"github.com/streamplex/transcode-api/supervisor"
	"github.com/streamplex/transcode-api/transcode"
	"github.com/streamplex/transcode-api/video"
)

type stubProber struct{}

func (stubProber) ProbeFile(requestID, path string, opts ...string) (video.InputVideo, error) {
	return video.InputVideo{}, nil
}

func (stubProber) Keyframes(ctx context.Context, path string) ([]float64, error) {
	return nil, nil
}

func testRouter(t *testing.T) http.Handler {
	prober := stubProber{}
	registry := locks.NewRegistry()
	layout := transcode.Layout{MediaDir: t.TempDir()}
	memStore := store.NewMemoryStore()
	hb := heartbeat.NewStore()
	synthesizer := video.NewSynthesizer(prober, registry, time.Minute)
	encoder := transcode.NewEncoder(registry)

	runner := supervisor.NewRunner(hb)
	runner.BuildCommand = func(supervisor.Job) *exec.Cmd { return exec.Command("true") }

	sched := scheduler.NewScheduler(memStore, prober, synthesizer, hb, encoder, runner, layout)
	coordinator := pipeline.NewCoordinator(memStore, prober, nil, synthesizer, encoder, layout, nil)

	return NewTranscodeAPIRouter(memStore, sched, coordinator, encoder, layout)
}

func TestRouterRoutes(t *testing.T) {
	require := require.New(t)
	router := testRouter(t)

	do := func(method, target string, body string, contentType string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		var req *http.Request
		if body != "" {
			req = httptest.NewRequest(method, target, strings.NewReader(body))
			req.Header.Set("Content-Type", contentType)
		} else {
			req = httptest.NewRequest(method, target, nil)
		}
		router.ServeHTTP(rr, req)
		return rr
	}

	rr := do("GET", "/ok", "", "")
	require.Equal(http.StatusOK, rr.Code)
	require.Equal("OK", rr.Body.String())

	// catalog routes are wired and JSON-validated
	rr = do("POST", "/api/video", `{"source":"a.mp4"}`, "text/plain")
	require.Equal(http.StatusUnsupportedMediaType, rr.Code)
	rr = do("GET", "/api/video/123", "", "")
	require.Equal(http.StatusNotFound, rr.Code)
	require.Contains(rr.Header().Get("Content-Type"), "application/json")
	rr = do("DELETE", "/api/video/123", "", "")
	require.Equal(http.StatusNotFound, rr.Code)
	rr = do("POST", "/api/video/123/preview", "", "")
	require.Equal(http.StatusNotFound, rr.Code)

	// media routes dispatch playlist and segment names through one handler
	rr = do("GET", "/video/123/720p/index.m3u8", "", "")
	require.Equal(http.StatusNotFound, rr.Code)
	rr = do("GET", "/video/123/333p/index.m3u8", "", "")
	require.Equal(http.StatusBadRequest, rr.Code)
	rr = do("GET", "/preview/123/evil.txt", "", "")
	require.Equal(http.StatusNotFound, rr.Code)
	rr = do("GET", "/thumbnail/video_123/thumbnail.jpg", "", "")
	require.Equal(http.StatusNotFound, rr.Code)

	rr = do("GET", "/nope", "", "")
	require.Equal(http.StatusNotFound, rr.Code)
}

func TestListenAndServeShutsDownOnCancel(t *testing.T) {
	require := require.New(t)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		prober := stubProber{}
		registry := locks.NewRegistry()
		layout := transcode.Layout{MediaDir: t.TempDir()}
		memStore := store.NewMemoryStore()
		hb := heartbeat.NewStore()
		synthesizer := video.NewSynthesizer(prober, registry, time.Minute)
		encoder := transcode.NewEncoder(registry)
		runner := supervisor.NewRunner(hb)
		sched := scheduler.NewScheduler(memStore, prober, synthesizer, hb, encoder, runner, layout)
		coordinator := pipeline.NewCoordinator(memStore, prober, nil, synthesizer, encoder, layout, nil)

		errCh <- ListenAndServe(ctx, "127.0.0.1:0", memStore, sched, coordinator, encoder, layout)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.NoError(err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
