package cmd

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/frame-ingest/internal/wire"
)

func TestSendCommandPostsFiles(t *testing.T) {
	t.Parallel()

	var frames atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		batch, err := wire.NewDecoder(wire.ModeBatch, 0).Decode(body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		frames.Add(int64(len(batch.Frames)))
		_, _ = w.Write([]byte("OK"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	var paths []string
	for _, name := range []string{"a.raw", "b.raw", "c.raw"} {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(name), 0o600))
		paths = append(paths, p)
	}

	root := newRootCmd()
	root.SetArgs(append([]string{"send", "--url", srv.URL, "--batch-size", "2"}, paths...))
	require.NoError(t, root.Execute())
	assert.Equal(t, int64(3), frames.Load())
}

func TestSendCommandRequiresFiles(t *testing.T) {
	t.Parallel()

	root := newRootCmd()
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"send"})
	require.Error(t, root.Execute())
}

func TestSendCommandMissingFile(t *testing.T) {
	t.Parallel()

	root := newRootCmd()
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"send", "--url", "http://127.0.0.1:1", filepath.Join(t.TempDir(), "missing")})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read ")
}
