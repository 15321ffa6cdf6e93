package workspace

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherInvalidatesBootstrapOnChange(t *testing.T) {
	m, err := NewManager(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	dir, err := m.Prepare("", "sess-1")
	require.NoError(t, err)

	skills := filepath.Join(dir, SkillsDir)
	require.NoError(t, os.MkdirAll(skills, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(skills, "a.md"), []byte("v1"), 0644))

	w, err := NewWatcher(m, 20*time.Millisecond)
	require.NoError(t, err)
	defer w.Stop()
	require.NoError(t, w.Watch(dir))
	w.Start()

	first, err := m.LoadBootstrap(dir)
	require.NoError(t, err)
	assert.Equal(t, "v1", first)

	require.NoError(t, os.WriteFile(filepath.Join(skills, "a.md"), []byte("v2"), 0644))

	assert.Eventually(t, func() bool {
		fresh, err := m.LoadBootstrap(dir)
		return err == nil && fresh == "v2"
	}, 3*time.Second, 25*time.Millisecond)
}

func TestWatcherIgnoresNonMarkdown(t *testing.T) {
	m, err := NewManager(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	dir, err := m.Prepare("", "sess-1")
	require.NoError(t, err)
	skills := filepath.Join(dir, SkillsDir)
	require.NoError(t, os.MkdirAll(skills, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(skills, "a.md"), []byte("v1"), 0644))

	w, err := NewWatcher(m, 10*time.Millisecond)
	require.NoError(t, err)
	defer w.Stop()
	require.NoError(t, w.Watch(dir))
	w.Start()

	first, err := m.LoadBootstrap(dir)
	require.NoError(t, err)
	require.Equal(t, "v1", first)

	require.NoError(t, os.WriteFile(filepath.Join(skills, "scratch.tmp"), []byte("x"), 0644))
	time.Sleep(100 * time.Millisecond)

	cached, err := m.LoadBootstrap(dir)
	require.NoError(t, err)
	assert.Equal(t, "v1", cached)
}

func TestWatcherWatchMissingDir(t *testing.T) {
	m, err := NewManager(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	w, err := NewWatcher(m, 0)
	require.NoError(t, err)
	defer w.Stop()

	assert.Error(t, w.Watch(filepath.Join(m.Root(), "missing")))
}

func TestWatcherStopIdempotent(t *testing.T) {
	m, err := NewManager(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	w, err := NewWatcher(m, 0)
	require.NoError(t, err)
	w.Stop()
	w.Stop()
}
