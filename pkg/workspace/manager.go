package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// SessionHeaderFile is written into the workspace before each run.
	SessionHeaderFile = "SESSION.md"
	// SkillsDir holds the markdown skill files folded into the bootstrap
	// context.
	SkillsDir = "skills"
	// MaxSkillFileSize caps individual skill files (1MB).
	MaxSkillFileSize = 1 * 1024 * 1024
)

// Manager prepares workspace directories for agent runs and loads their
// skill/bootstrap context.
type Manager struct {
	root   string
	logger zerolog.Logger

	mu             sync.RWMutex
	bootstrapCache map[string]string
}

// NewManager creates a workspace manager rooted at the given directory.
func NewManager(root string, logger zerolog.Logger) (*Manager, error) {
	if root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		root = filepath.Join(home, ".openclaw", "workspace")
	}

	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create workspace root: %w", err)
	}

	return &Manager{
		root:           root,
		logger:         logger,
		bootstrapCache: make(map[string]string),
	}, nil
}

// Root returns the workspace root directory.
func (m *Manager) Root() string {
	return m.root
}

// Prepare ensures the workspace directory for a session exists and refreshes
// its session header file. Idempotent and safe to retry.
func (m *Manager) Prepare(dir, sessionID string) (string, error) {
	if dir == "" {
		dir = filepath.Join(m.root, sessionID)
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(m.root, dir)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create workspace dir: %w", err)
	}

	header := fmt.Sprintf("# Session\n\n- id: %s\n- prepared: %s\n",
		sessionID, time.Now().UTC().Format(time.RFC3339))
	headerPath := filepath.Join(dir, SessionHeaderFile)
	if err := os.WriteFile(headerPath, []byte(header), 0644); err != nil {
		return "", fmt.Errorf("failed to write session header: %w", err)
	}

	m.logger.Debug().Str("dir", dir).Str("session_id", sessionID).Msg("Workspace prepared")
	return dir, nil
}

// LoadBootstrap loads the concatenated skill context for a workspace
// directory. Results are cached until InvalidateBootstrap is called (the
// watcher does this on file changes).
func (m *Manager) LoadBootstrap(dir string) (string, error) {
	m.mu.RLock()
	cached, ok := m.bootstrapCache[dir]
	m.mu.RUnlock()
	if ok {
		return cached, nil
	}

	skillsPath := filepath.Join(dir, SkillsDir)
	entries, err := os.ReadDir(skillsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read skills dir: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		path := filepath.Join(skillsPath, name)
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.Size() > MaxSkillFileSize {
			m.logger.Warn().Str("file", path).Int64("size", info.Size()).Msg("Skill file too large, skipping")
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read skill file %s: %w", name, err)
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.Write(data)
	}

	bootstrap := b.String()

	m.mu.Lock()
	m.bootstrapCache[dir] = bootstrap
	m.mu.Unlock()

	m.logger.Debug().Str("dir", dir).Int("skills", len(names)).Msg("Bootstrap context loaded")
	return bootstrap, nil
}

// InvalidateBootstrap drops the cached bootstrap context for a directory.
func (m *Manager) InvalidateBootstrap(dir string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.bootstrapCache, dir)
}

// ApplyEnv applies process environment overrides and returns a restore
// function that reinstates the previous values. The restore function must
// run on every exit path of the caller.
func ApplyEnv(overrides map[string]string) (restore func()) {
	type prior struct {
		value   string
		existed bool
	}

	previous := make(map[string]prior, len(overrides))
	for key, value := range overrides {
		old, existed := os.LookupEnv(key)
		previous[key] = prior{value: old, existed: existed}
		os.Setenv(key, value)
	}

	return func() {
		for key, p := range previous {
			if p.existed {
				os.Setenv(key, p.value)
			} else {
				os.Unsetenv(key)
			}
		}
	}
}
