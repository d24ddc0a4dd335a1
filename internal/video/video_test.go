package video

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testURL = "https://www.youtube.com/watch?v=dQw4w9WgXcQ"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// fakeConverter mimics the analyze/convert/download endpoints.
func fakeConverter(t *testing.T, duration string, fileSize int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("POST /mates/analyze/ajax", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		assert.Equal(t, testURL, r.PostForm.Get("url"))
		fmt.Fprintf(w, `{"status":"ok","result":{"title":"Never Gonna Give You Up!","t":%s,"a":"Rick Astley",
			"links":{"mp4":{"18":{"size":"3 MB","k":"key360","q":"360p"},"135":{"size":"5 MB","k":"key480","q":"480p"}},
			"mp3":{"mp3128":{"size":"2 MB","k":"keymp3","q":"128kbps"}}}}}`, duration)
	})
	mux.HandleFunc("POST /mates/convert", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		json.NewEncoder(w).Encode(map[string]string{
			"status": "ok",
			"dlink":  srv.URL + "/file/" + r.PostForm.Get("_id"),
		})
	})
	mux.HandleFunc("GET /file/{key}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", fileSize)))
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, srv *httptest.Server, maxSize int64) *Client {
	t.Helper()
	c, err := New(ClientConfig{
		AnalyzeURL:  srv.URL + "/mates/analyze/ajax",
		ConvertURL:  srv.URL + "/mates/convert",
		DownloadDir: t.TempDir(),
		MaxSize:     maxSize,
		Timeout:     5 * time.Second,
		Logger:      testLogger(),
	})
	require.NoError(t, err)
	return c
}

func TestValidURL(t *testing.T) {
	valid := []string{
		testURL,
		"youtube.com/watch?v=dQw4w9WgXcQ",
		"https://youtu.be/dQw4w9WgXcQ",
		"https://www.youtube.com/shorts/dQw4w9WgXcQ",
	}
	for _, u := range valid {
		assert.True(t, ValidURL(u), u)
	}
	for _, u := range []string{"", "https://vimeo.com/123", "https://youtu.be/short"} {
		assert.False(t, ValidURL(u), u)
	}
	assert.Equal(t, "dQw4w9WgXcQ", ExtractID("https://youtu.be/dQw4w9WgXcQ?t=10"))
	assert.Equal(t, "", ExtractID("https://example.com"))
}

func TestInfo_ParsesFormats(t *testing.T) {
	c := newTestClient(t, fakeConverter(t, `212`, 10), 1024)

	info, err := c.Info(context.Background(), testURL)
	require.NoError(t, err)
	assert.Equal(t, "dQw4w9WgXcQ", info.ID)
	assert.Equal(t, "Rick Astley", info.Author)
	assert.Equal(t, 212*time.Second, info.Duration)
	require.Len(t, info.MP4, 2)
	require.Len(t, info.MP3, 1)
}

func TestInfo_InvalidURL(t *testing.T) {
	c := newTestClient(t, fakeConverter(t, `1`, 1), 1024)
	_, err := c.Info(context.Background(), "not a url")
	assert.ErrorIs(t, err, ErrInvalidURL)
}

func TestDownload_PrefersMP4360(t *testing.T) {
	c := newTestClient(t, fakeConverter(t, `"3:32"`, 100), 1024)

	res, err := c.Download(context.Background(), testURL, MP4)
	require.NoError(t, err)
	assert.Equal(t, "360p", res.Quality)
	assert.EqualValues(t, 100, res.Size)
	assert.True(t, strings.HasPrefix(res.Filename, "Never Gonna Give You Up_"))
	assert.FileExists(t, res.Path)

	c.Remove(res.Path)
	assert.NoFileExists(t, res.Path)
}

func TestDownload_TooLarge(t *testing.T) {
	c := newTestClient(t, fakeConverter(t, `60`, 2048), 1024)

	_, err := c.Download(context.Background(), testURL, MP3)
	require.ErrorIs(t, err, ErrTooLarge)

	entries, _ := os.ReadDir(c.cfg.DownloadDir)
	assert.Empty(t, entries, "partial file must be removed")
}

func TestDownload_TooLong(t *testing.T) {
	c := newTestClient(t, fakeConverter(t, `900`, 10), 1024)

	_, err := c.Download(context.Background(), testURL, MP4)
	require.True(t, errors.Is(err, ErrTooLong), "got %v", err)
}

func TestCleanupOld(t *testing.T) {
	c := newTestClient(t, fakeConverter(t, `1`, 1), 1024)
	old := filepath.Join(c.cfg.DownloadDir, "old.mp4")
	fresh := filepath.Join(c.cfg.DownloadDir, "fresh.mp4")
	require.NoError(t, os.WriteFile(old, []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(fresh, []byte("b"), 0o644))
	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	n, err := c.CleanupOld(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoFileExists(t, old)
	assert.FileExists(t, fresh)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "Unknown", FormatDuration(0))
	assert.Equal(t, "3:32", FormatDuration(212*time.Second))
	assert.Equal(t, "1:01:01", FormatDuration(3661*time.Second))
}
