package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	fastws "github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/otiai10/copy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tus/tusd/pkg/handler"
	"go.uber.org/zap"

	"dirbrowse/config"
	"dirbrowse/host"
	"dirbrowse/mutation"
	"dirbrowse/navigation"
	"dirbrowse/session"
	"dirbrowse/store"
)

func newTestApp(t *testing.T, mutate func(*config.Config)) (*application, string) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, copy.Copy("testdata/fixture", root))

	cfg := &config.Config{
		Server:  config.ServerConfig{Write: true},
		Storage: config.StorageConfig{Path: filepath.Join(t.TempDir(), "dirbrowse.db")},
		Host:    config.HostConfig{Root: root},
		Upload:  config.UploadConfig{Dir: t.TempDir()},
	}
	if mutate != nil {
		mutate(cfg)
	}
	config.ApplyDefaults(cfg)
	require.NoError(t, config.Validate(cfg))

	a, err := build(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Shutdown() })
	return a, root
}

func call(t *testing.T, a *application, method, target string, body any) (int, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return send(t, a, req)
}

func send(t *testing.T, a *application, req *http.Request) (int, []byte) {
	t.Helper()
	resp, err := a.http.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func decodeState(t *testing.T, data []byte) stateResponse {
	t.Helper()
	var out stateResponse
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func names(st session.State) []string {
	out := make([]string, len(st.Entries))
	for i, it := range st.Entries {
		out[i] = it.Name
	}
	return out
}

func addDocs(t *testing.T, a *application) store.DirectoryRecord {
	t.Helper()
	code, data := call(t, a, http.MethodPost, "/api/directories", addRequest{Path: "/Docs"})
	require.Equal(t, http.StatusCreated, code, string(data))
	var rec store.DirectoryRecord
	require.NoError(t, json.Unmarshal(data, &rec))
	return rec
}

func TestBrowseOverHTTP(t *testing.T) {
	a, root := newTestApp(t, nil)
	rec := addDocs(t, a)
	assert.Equal(t, "Docs", rec.Name)

	code, _ := call(t, a, http.MethodPost, "/api/directories", addRequest{Path: "/Docs"})
	assert.Equal(t, http.StatusConflict, code)

	code, data := call(t, a, http.MethodGet, "/api/directories", nil)
	require.Equal(t, http.StatusOK, code)
	var dirs []store.DirectoryRecord
	require.NoError(t, json.Unmarshal(data, &dirs))
	assert.Len(t, dirs, 1)

	code, data = call(t, a, http.MethodPost, "/api/enter/"+rec.ID, nil)
	require.Equal(t, http.StatusOK, code, string(data))
	st := decodeState(t, data).State
	assert.Equal(t, navigation.ViewBrowsing, st.View)
	assert.Equal(t, "Docs", st.Path)
	assert.Equal(t, []string{"Drafts", "notes.txt"}, names(st))

	code, data = call(t, a, http.MethodPost, "/api/descend", nameRequest{Name: "Drafts"})
	require.Equal(t, http.StatusOK, code, string(data))
	st = decodeState(t, data).State
	assert.Equal(t, "Docs/Drafts", st.Path)
	assert.Equal(t, []string{"outline.md"}, names(st))

	code, data = call(t, a, http.MethodPost, "/api/ascend", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Docs", decodeState(t, data).State.Path)

	code, data = call(t, a, http.MethodPost, "/api/folders", nameRequest{Name: "Archive"})
	require.Equal(t, http.StatusOK, code, string(data))
	assert.Equal(t, []string{"Archive", "Drafts", "notes.txt"}, names(decodeState(t, data).State))
	info, err := os.Stat(filepath.Join(root, "Docs", "Archive"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	code, _ = call(t, a, http.MethodPost, "/api/folders", nameRequest{Name: "Archive"})
	assert.Equal(t, http.StatusConflict, code)
	code, _ = call(t, a, http.MethodPost, "/api/folders", nameRequest{Name: "a/b"})
	assert.Equal(t, http.StatusBadRequest, code)

	audit, err := os.ReadFile(a.cfg.Storage.AuditLog)
	require.NoError(t, err)
	assert.Contains(t, string(audit), `"name":"Archive"`)

	code, data = call(t, a, http.MethodDelete, "/api/entries?name=notes.txt", nil)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, decodeState(t, data).Cancelled)
	_, err = os.Stat(filepath.Join(root, "Docs", "notes.txt"))
	require.NoError(t, err)

	code, data = call(t, a, http.MethodDelete, "/api/entries?name=notes.txt&confirm=true", nil)
	require.Equal(t, http.StatusOK, code, string(data))
	assert.Equal(t, []string{"Archive", "Drafts"}, names(decodeState(t, data).State))
	_, err = os.Stat(filepath.Join(root, "Docs", "notes.txt"))
	assert.True(t, errors.Is(err, os.ErrNotExist))

	code, data = call(t, a, http.MethodPost, "/api/home", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, navigation.ViewHome, decodeState(t, data).State.View)

	code, _ = call(t, a, http.MethodPost, "/api/descend", nameRequest{Name: "Drafts"})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestUploadFormAndPreview(t *testing.T) {
	a, root := newTestApp(t, nil)
	rec := addDocs(t, a)
	code, _ := call(t, a, http.MethodPost, "/api/enter/"+rec.ID, nil)
	require.Equal(t, http.StatusOK, code)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for name, content := range map[string]string{"report.txt": "quarterly numbers", "notes.txt": "clobber"} {
		part, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/files", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	code, data := send(t, a, req)
	require.Equal(t, http.StatusOK, code, string(data))

	var up uploadResponse
	require.NoError(t, json.Unmarshal(data, &up))
	statuses := map[string]mutation.Status{}
	for _, o := range up.Outcomes {
		statuses[o.Name] = o.Status
	}
	assert.Equal(t, mutation.StatusSuccess, statuses["report.txt"])
	assert.Equal(t, mutation.StatusSkipped, statuses["notes.txt"])

	original, err := os.ReadFile(filepath.Join(root, "Docs", "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(original))

	resp, err := a.http.Test(httptest.NewRequest(http.MethodGet, "/api/file?name=report.txt", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
	assert.Equal(t, "text", resp.Header.Get("X-Preview-Kind"))
	content, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "quarterly numbers", string(content))

	code, _ = call(t, a, http.MethodGet, "/api/file?name=missing.txt", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestReadOnlyModeHidesWrites(t *testing.T) {
	a, _ := newTestApp(t, func(c *config.Config) { c.Server.Write = false })
	rec := addDocs(t, a)
	code, _ := call(t, a, http.MethodPost, "/api/enter/"+rec.ID, nil)
	require.Equal(t, http.StatusOK, code)

	code, _ = call(t, a, http.MethodPost, "/api/folders", nameRequest{Name: "Archive"})
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = call(t, a, http.MethodDelete, "/api/entries?name=notes.txt&confirm=true", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Nil(t, a.uploader)
}

func TestDeniedConsent(t *testing.T) {
	a, _ := newTestApp(t, func(c *config.Config) { c.Host.Consent = "deny" })
	code, data := call(t, a, http.MethodPost, "/api/directories", addRequest{Path: "/Docs"})
	assert.Equal(t, http.StatusForbidden, code, string(data))

	code, _ = call(t, a, http.MethodPost, "/api/directories", addRequest{Path: "/missing"})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestResumableUploadCompletion(t *testing.T) {
	a, root := newTestApp(t, nil)
	require.NotNil(t, a.uploader)
	rec := addDocs(t, a)
	code, _ := call(t, a, http.MethodPost, "/api/enter/"+rec.ID, nil)
	require.Equal(t, http.StatusOK, code)

	temp := filepath.Join(a.cfg.Upload.Dir, "abc123")
	require.NoError(t, os.WriteFile(temp, []byte("resumed"), 0o644))
	require.NoError(t, os.WriteFile(temp+".info", []byte("{}"), 0o644))

	outcomes := a.uploader.complete(context.Background(), handler.FileInfo{
		ID:       "abc123",
		Size:     7,
		MetaData: handler.MetaData{"filename": "tus.txt"},
	})
	require.Len(t, outcomes, 1)
	assert.Equal(t, mutation.StatusSuccess, outcomes[0].Status)

	data, err := os.ReadFile(filepath.Join(root, "Docs", "tus.txt"))
	require.NoError(t, err)
	assert.Equal(t, "resumed", string(data))
	_, err = os.Stat(temp)
	assert.True(t, errors.Is(err, os.ErrNotExist))
	_, err = os.Stat(temp + ".info")
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestResumableUploadSurvivesShutdownSignal(t *testing.T) {
	a, root := newTestApp(t, nil)
	rec := addDocs(t, a)
	code, _ := call(t, a, http.MethodPost, "/api/enter/"+rec.ID, nil)
	require.Equal(t, http.StatusOK, code)

	content := bytes.Repeat([]byte("z"), 3*mutation.ChunkSize)
	temp := filepath.Join(a.cfg.Upload.Dir, "late")
	require.NoError(t, os.WriteFile(temp, content, 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	outcomes := a.uploader.complete(ctx, handler.FileInfo{
		ID:       "late",
		Size:     int64(len(content)),
		MetaData: handler.MetaData{"filename": "late.bin"},
	})
	require.Len(t, outcomes, 1)
	assert.Equal(t, mutation.StatusSuccess, outcomes[0].Status)

	data, err := os.ReadFile(filepath.Join(root, "Docs", "late.bin"))
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestWatcherRefreshesOnExternalChange(t *testing.T) {
	a, root := newTestApp(t, func(c *config.Config) {
		c.Watch.Enabled = true
		c.Watch.Debounce = 20 * time.Millisecond
	})
	require.NotNil(t, a.watcher)
	rec := addDocs(t, a)
	code, _ := call(t, a, http.MethodPost, "/api/enter/"+rec.ID, nil)
	require.Equal(t, http.StatusOK, code)

	require.Eventually(t, func() bool {
		a.watcher.mu.Lock()
		defer a.watcher.mu.Unlock()
		return a.watcher.watched == filepath.Join(root, "Docs")
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(root, "Docs", "external.txt"), []byte("x"), 0o644))
	assert.Eventually(t, func() bool {
		_, ok := a.ctrl.State().Entries.Lookup("external.txt")
		return ok
	}, 5*time.Second, 20*time.Millisecond)
}

func TestStalledEventClientIsDropped(t *testing.T) {
	prev := wsWriteTimeout
	wsWriteTimeout = 50 * time.Millisecond
	t.Cleanup(func() { wsWriteTimeout = prev })

	a, _ := newTestApp(t, nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = a.http.Listener(ln) }()

	conn, _, err := fastws.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/events", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return a.hub.count() == 1 }, 5*time.Second, 10*time.Millisecond)

	// The client never reads, so the socket buffers fill and a write times out.
	big := session.Notification{Title: "filler", Description: strings.Repeat("x", 1<<20)}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200 && a.hub.count() > 0; i++ {
			a.hub.broadcast(wsMessage{Type: "notification", Notification: &big})
		}
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("broadcast blocked on a stalled client")
	}
	assert.Equal(t, 0, a.hub.count())
}

func TestPreviewDispositionEscapesName(t *testing.T) {
	a, root := newTestApp(t, nil)
	rec := addDocs(t, a)
	name := `say "hi".txt`
	require.NoError(t, os.WriteFile(filepath.Join(root, "Docs", name), []byte("hi"), 0o644))
	code, _ := call(t, a, http.MethodPost, "/api/enter/"+rec.ID, nil)
	require.Equal(t, http.StatusOK, code)

	req := httptest.NewRequest(http.MethodGet, "/api/file?name="+url.QueryEscape(name), nil)
	resp, err := a.http.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	disposition, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition"))
	require.NoError(t, err)
	assert.Equal(t, "inline", disposition)
	assert.Equal(t, name, params["filename"])
}

func TestMetricsEndpoint(t *testing.T) {
	a, _ := newTestApp(t, func(c *config.Config) { c.Metrics.Enabled = true })
	addDocs(t, a)

	code, data := call(t, a, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(data), "dirbrowse_permission_checks_total")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{session.ErrBusy, fiber.StatusConflict},
		{session.ErrDuplicate, fiber.StatusConflict},
		{session.ErrAlreadyExists, fiber.StatusConflict},
		{session.ErrNotFound, fiber.StatusNotFound},
		{host.ErrNotFound, fiber.StatusNotFound},
		{session.ErrPermissionDenied, fiber.StatusForbidden},
		{session.ErrStaleAuthorization, fiber.StatusForbidden},
		{session.ErrNotBrowsing, fiber.StatusBadRequest},
		{session.ErrUnsupported, fiber.StatusNotImplemented},
		{session.ErrHostFailure, fiber.StatusInternalServerError},
		{fmt.Errorf("%w: %w", session.ErrHostFailure, host.ErrInvalidName), fiber.StatusBadRequest},
		{fmt.Errorf("%w: %w", session.ErrHostFailure, host.ErrTypeMismatch), fiber.StatusBadRequest},
		{fiber.NewError(fiber.StatusTeapot, "tea"), fiber.StatusTeapot},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
