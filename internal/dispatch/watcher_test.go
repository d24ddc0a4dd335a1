package dispatch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reload struct {
	cat *Catalog
	err error
}

func TestWatcher_ReloadsAndKeepsOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	f := builtinFile(t)
	writeCatalog(t, path, f)

	cat, err := LoadCatalog(path)
	require.NoError(t, err)
	d := NewDispatcher(cat, ExecutorConfig{Logger: testDispatchLogger()})

	reloads := make(chan reload, 4)
	w, err := NewWatcher(WatcherConfig{
		Path:       path,
		Dispatcher: d,
		Debounce:   100 * time.Millisecond,
		Logger:     testDispatchLogger(),
		OnReload:   func(c *Catalog, err error) { reloads <- reload{c, err} },
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	f.Greeting.Text = "Halo dari katalog baru"
	writeCatalog(t, path, f)

	select {
	case r := <-reloads:
		require.NoError(t, r.err)
	case <-time.After(5 * time.Second):
		t.Fatal("catalog was not reloaded")
	}
	_, res := d.Handle(context.Background(), direct("hai"))
	assert.Equal(t, "Halo dari katalog baru", res.Text)

	require.NoError(t, os.WriteFile(path, []byte("commands: [broken"), 0o644))
	select {
	case r := <-reloads:
		require.Error(t, r.err)
	case <-time.After(5 * time.Second):
		t.Fatal("invalid catalog did not trigger a reload attempt")
	}
	_, res = d.Handle(context.Background(), direct("hai"))
	assert.Equal(t, "Halo dari katalog baru", res.Text)
}

func TestNewWatcher_RequiresPath(t *testing.T) {
	_, err := NewWatcher(WatcherConfig{Dispatcher: NewDispatcher(nil, ExecutorConfig{})})
	require.Error(t, err)
}
