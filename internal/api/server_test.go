package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	xdraw "golang.org/x/image/draw"

	"github.com/bryanchriswhite/owallpaperd/internal/compositor"
	"github.com/bryanchriswhite/owallpaperd/internal/daemon"
	"github.com/bryanchriswhite/owallpaperd/internal/window"
	"github.com/bryanchriswhite/owallpaperd/internal/window/windowtest"
)

type testEnv struct {
	server  *httptest.Server
	backend *windowtest.Backend
	ctrl    *daemon.Controller
	dir     string
}

func writePNG(t *testing.T, path string, c color.Color) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	xdraw.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{}, xdraw.Src)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

// newTestEnv runs a controller over a fake two-output display. hook, when set,
// runs each time the watcher takes a server timestamp.
func newTestEnv(t *testing.T, hook func(baseline uint32)) *testEnv {
	t.Helper()

	b := windowtest.New(
		window.Geometry{X: 0, Y: 0, Width: 16, Height: 12},
		window.Geometry{X: 16, Y: 0, Width: 8, Height: 8},
	)
	if hook != nil {
		b.AfterMarker(hook)
	}

	d, err := daemon.New(b, daemon.WithRenderer(compositor.Renderer{Scaler: xdraw.NearestNeighbor}))
	require.NoError(t, err)

	ctrl := daemon.NewController(d, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		ctrl.Run(ctx)
	}()

	srv := httptest.NewServer(NewServer(ctrl, "test").Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
		d.Shutdown()
	})

	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "red.png"), color.RGBA{R: 0xff, A: 0xff})
	writePNG(t, filepath.Join(dir, "green.png"), color.RGBA{G: 0xff, A: 0xff})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.png"), []byte("not a png"), 0644))

	return &testEnv{server: srv, backend: b, ctrl: ctrl, dir: dir}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) load(t *testing.T, name, mode string) daemon.WallpaperInfo {
	t.Helper()
	body := fmt.Sprintf(`{"path": %q, "mode": %q, "background": "#102030"}`, filepath.Join(e.dir, name), mode)
	resp := e.do(t, "POST", "/api/wallpapers", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var info daemon.WallpaperInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	return info
}

func TestServer_Health(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, "GET", "/api/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, map[string]string{"status": "healthy", "version": "test"}, body)
}

func TestServer_Options(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, "OPTIONS", "/api/wallpapers", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "DELETE")
}

func TestServer_OutputsAndWorkspaces(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, "GET", "/api/outputs", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var outputs []daemon.Output
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&outputs))
	assert.Equal(t, []daemon.Output{
		{Index: 0, X: 0, Y: 0, Width: 16, Height: 12},
		{Index: 1, X: 16, Y: 0, Width: 8, Height: 8},
	}, outputs)

	resp = env.do(t, "GET", "/api/workspaces", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ws struct {
		Workspaces []int64 `json:"workspaces"`
		Applied    []int   `json:"applied"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ws))
	assert.Equal(t, []int64{-1, -1}, ws.Workspaces)
	assert.Equal(t, []int{-1, -1}, ws.Applied)
}

func TestServer_WallpaperLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)

	red := env.load(t, "red.png", "fill")
	green := env.load(t, "green.png", "center")
	assert.Equal(t, compositor.ModeFill, red.Mode)
	assert.Equal(t, "#102030", red.Background)
	assert.NotEqual(t, red.ID, green.ID)

	resp := env.do(t, "GET", "/api/wallpapers", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []daemon.WallpaperInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	assert.Equal(t, []daemon.WallpaperInfo{red, green}, list)

	resp = env.do(t, "PUT", "/api/outputs/1/wallpaper", fmt.Sprintf(`{"wallpaper_id": %d}`, green.ID))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	status, err := env.ctrl.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{-1, green.ID}, status.Applied)

	resp = env.do(t, "DELETE", fmt.Sprintf("/api/wallpapers/%d", red.ID), "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, "DELETE", fmt.Sprintf("/api/wallpapers/%d", red.ID), "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_Preview(t *testing.T) {
	env := newTestEnv(t, nil)
	info := env.load(t, "red.png", "fill")

	resp := env.do(t, "GET", fmt.Sprintf("/api/wallpapers/%d/preview/0", info.ID), "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))

	img, err := png.Decode(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 16, 12), img.Bounds())
	r, g, b, _ := img.At(8, 6).RGBA()
	assert.Equal(t, []uint32{0xffff, 0, 0}, []uint32{r, g, b})

	resp = env.do(t, "GET", fmt.Sprintf("/api/wallpapers/%d/preview/2", info.ID), "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, "GET", "/api/wallpapers/99/preview/0", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_Errors(t *testing.T) {
	env := newTestEnv(t, nil)
	info := env.load(t, "red.png", "full")

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"malformed body", "POST", "/api/wallpapers", "{", http.StatusBadRequest},
		{"missing path", "POST", "/api/wallpapers", `{"mode": "fill"}`, http.StatusBadRequest},
		{"bad color", "POST", "/api/wallpapers", fmt.Sprintf(`{"path": %q, "background": "teal"}`, filepath.Join(env.dir, "red.png")), http.StatusBadRequest},
		{"unknown mode", "POST", "/api/wallpapers", fmt.Sprintf(`{"path": %q, "mode": "zoom"}`, filepath.Join(env.dir, "red.png")), http.StatusUnprocessableEntity},
		{"undecodable image", "POST", "/api/wallpapers", fmt.Sprintf(`{"path": %q, "mode": "fill"}`, filepath.Join(env.dir, "broken.png")), http.StatusUnprocessableEntity},
		{"missing image", "POST", "/api/wallpapers", fmt.Sprintf(`{"path": %q, "mode": "fill"}`, filepath.Join(env.dir, "nope.png")), http.StatusUnprocessableEntity},
		{"output out of range", "PUT", "/api/outputs/5/wallpaper", fmt.Sprintf(`{"wallpaper_id": %d}`, info.ID), http.StatusBadRequest},
		{"unknown wallpaper", "PUT", "/api/outputs/0/wallpaper", `{"wallpaper_id": 42}`, http.StatusNotFound},
		{"non-numeric index", "PUT", "/api/outputs/x/wallpaper", `{"wallpaper_id": 0}`, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}

	status, err := env.ctrl.Status(context.Background())
	require.NoError(t, err)
	assert.Len(t, status.Wallpapers, 1, "failed loads leave the collection unchanged")
}

func TestServer_WorkspaceStream(t *testing.T) {
	trigger := make(chan struct{})
	var once sync.Once
	release := func() { once.Do(func() { close(trigger) }) }

	var mu sync.Mutex
	markers := 0
	var env *testEnv
	env = newTestEnv(t, func(uint32) {
		mu.Lock()
		markers++
		first := markers == 1
		mu.Unlock()
		if first {
			<-trigger
			env.backend.SetWorkspaces(2, 0)
		}
	})
	t.Cleanup(release)

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/api/workspaces/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var msg struct {
		Workspaces []int64 `json:"workspaces"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, []int64{-1, -1}, msg.Workspaces)

	release()
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, []int64{2, 0}, msg.Workspaces)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{daemon.ErrUnknownWallpaper, http.StatusNotFound},
		{fmt.Errorf("apply: %w", daemon.ErrWallpaperMismatch), http.StatusBadRequest},
		{daemon.ErrOutputOutOfBounds, http.StatusBadRequest},
		{daemon.ErrInvalidImage, http.StatusUnprocessableEntity},
		{daemon.ErrUnimplementedMode, http.StatusUnprocessableEntity},
		{daemon.ErrNotRunning, http.StatusServiceUnavailable},
		{bytes.ErrTooLarge, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}
