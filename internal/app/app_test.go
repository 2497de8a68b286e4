// Package app_test contains unit tests for the app package.
package app_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/frame-ingest/internal/app"
	"github.com/JakeFAU/frame-ingest/internal/config"
	"github.com/JakeFAU/frame-ingest/internal/frame"
	memorypublisher "github.com/JakeFAU/frame-ingest/internal/publisher/memory"
	"github.com/JakeFAU/frame-ingest/internal/wire"
)

type fixedClock struct{}

func (fixedClock) Now() time.Time { return time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC) }

func testConfig(dir string) config.Config {
	return config.Config{
		Server:  config.ServerConfig{Host: "127.0.0.1", Port: 0},
		Ingress: config.IngressConfig{Mode: "batch", MaxPayloadBytes: 1 << 20},
		Frame:   config.FrameConfig{Width: 2, Height: 2, Channels: 1, Input: "raw"},
		Queue:   config.QueueConfig{Capacity: 64},
		Workers: config.WorkersConfig{Count: 2},
		Output:  config.OutputConfig{Format: "png", Digest: "sha256"},
		Storage: config.StorageConfig{
			Backend: "local",
			Prefix:  "cam",
			Local:   config.LocalConfig{Dir: dir},
			Memory:  config.MemoryConfig{Retention: 16},
		},
		Notify:   config.NotifyConfig{Backend: "memory", Encoding: "json", Topic: "artifacts"},
		Shutdown: config.ShutdownConfig{Timeout: 5 * time.Second, DrainTimeout: 5 * time.Second},
	}
}

func startApp(t *testing.T, cfg config.Config) (*app.App, string, context.CancelFunc, <-chan error) {
	t.Helper()
	a, err := app.Build(context.Background(), cfg, app.WithLogger(zap.NewNop()), app.WithClock(fixedClock{}))
	require.NoError(t, err)
	addr, err := a.Listen()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	return a, "http://" + addr.String(), cancel, done
}

func postBatch(t *testing.T, url string, frames ...[]byte) {
	t.Helper()
	payload, err := wire.EncodeBatch(frames)
	require.NoError(t, err)
	resp, err := http.Post(url+"/v1/frames", "application/octet-stream", bytes.NewReader(payload))
	require.NoError(t, err)
	defer func() {
		if errInner := resp.Body.Close(); errInner != nil {
			t.Log(errInner)
		}
	}()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "OK", string(body))
}

func countFiles(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0
	}
	require.NoError(t, err)
	return len(entries)
}

func waitStopped(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("app did not stop")
	}
}

func TestAppPersistsPostedFrames(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a, url, cancel, done := startApp(t, testConfig(dir))
	defer cancel()

	postBatch(t, url, []byte{0, 1, 2, 3}, []byte{4, 5, 6, 7})

	require.Eventually(t, func() bool {
		return countFiles(t, filepath.Join(dir, "cam")) == 2
	}, 5*time.Second, 10*time.Millisecond)

	resp, err := http.Get(url + "/readyz")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(url + "/v1/artifacts")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Contains(t, string(body), "file://")

	cancel()
	waitStopped(t, done)

	pub, ok := a.Publisher().(*memorypublisher.Publisher)
	require.True(t, ok)
	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "artifacts", msgs[0].Topic)
}

func TestAppPersistsLengthPrefixedExample(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.Output.Format = "raw"
	cfg.Storage.Prefix = ""
	_, url, cancel, done := startApp(t, cfg)
	defer cancel()

	payload := []byte{0, 0, 0, 2, 0, 0, 0, 3, 'a', 'b', 'c', 0, 0, 0, 2, 'x', 'y'}
	resp, err := http.Post(url+"/", "application/octet-stream", bytes.NewReader(payload))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, "OK", string(body))

	cancel()
	waitStopped(t, done)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	contents := make(map[string]bool, len(entries))
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		require.NoError(t, err)
		contents[string(data)] = true
	}
	assert.Equal(t, map[string]bool{"abc": true, "xy": true}, contents)
}

func TestAppShutdownDrainsQueue(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.Workers.Count = 1
	_, url, cancel, done := startApp(t, cfg)
	defer cancel()

	const total = 40
	frames := make([][]byte, 0, total)
	for i := range total {
		frames = append(frames, []byte{byte(i), 0, 0, 0})
	}
	postBatch(t, url, frames...)

	cancel()
	waitStopped(t, done)

	assert.Equal(t, total, countFiles(t, filepath.Join(dir, "cam")))

	_, err := http.Post(url+"/v1/frames", "application/octet-stream", bytes.NewReader([]byte{0, 0, 0, 0}))
	assert.Error(t, err, "listener should be closed after shutdown")
}

func TestAppRunWithCanceledContextStillDrains(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a, err := app.Build(context.Background(), testConfig(dir), app.WithLogger(zap.NewNop()), app.WithClock(fixedClock{}))
	require.NoError(t, err)
	_, err = a.Listen()
	require.NoError(t, err)

	const total = 10
	for i := range total {
		require.NoError(t, a.Queue().Push(frame.Frame{Seq: uint64(i + 1), Data: []byte{byte(i), 1, 2, 3}}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, a.Run(ctx))

	assert.Equal(t, total, countFiles(t, filepath.Join(dir, "cam")))
}

func TestAppMemoryBackendWithMalformedPayload(t *testing.T) {
	t.Parallel()

	cfg := testConfig("")
	cfg.Storage.Backend = "memory"
	cfg.Notify.Backend = "none"
	a, url, cancel, done := startApp(t, cfg)
	defer cancel()

	resp, err := http.Post(url+"/", "application/octet-stream", bytes.NewReader([]byte{0, 0}))
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Nil(t, a.Publisher())
	assert.Zero(t, a.Queue().Len())

	cancel()
	waitStopped(t, done)
}

func TestBuildFailsWhenOutputDirUnavailable(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	_, err := app.Build(context.Background(), testConfig(filepath.Join(file, "frames")), app.WithLogger(zap.NewNop()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "local blob store init failed")
}

func TestBuildRejectsInvalidSettings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{name: "format", mutate: func(c *config.Config) { c.Output.Format = "tiff" }, want: "output format"},
		{name: "digest", mutate: func(c *config.Config) { c.Output.Digest = "md5" }, want: "output.digest"},
		{name: "mode", mutate: func(c *config.Config) { c.Ingress.Mode = "stream" }, want: "ingress mode"},
		{name: "channels", mutate: func(c *config.Config) { c.Frame.Channels = 2 }, want: "image encoder"},
		{name: "encoding", mutate: func(c *config.Config) { c.Notify.Encoding = "xml" }, want: "notify encoding"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig(t.TempDir())
			tt.mutate(&cfg)
			_, err := app.Build(context.Background(), cfg, app.WithLogger(zap.NewNop()))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCloseWithoutRun(t *testing.T) {
	t.Parallel()

	a, err := app.Build(context.Background(), testConfig(t.TempDir()), app.WithLogger(zap.NewNop()))
	require.NoError(t, err)
	_, err = a.Listen()
	require.NoError(t, err)
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
}
