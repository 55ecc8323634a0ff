package checkpoint

// ============================================================================
// Responsibilities:
// 1. Serialise the full simulation state to a JSON checkpoint
// 2. Write atomically (temp file + rename) so a crash never leaves half a file
// 3. Check the schema version on load
// 4. Keep a bounded number of older checkpoints as backups
// ============================================================================

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/ChuLiYu/epiflight/pkg/types"
)

var (
	ErrCorruptedCheckpoint = errors.New("checkpoint file is corrupted")
	ErrIncompatibleVersion = errors.New("checkpoint schema version is incompatible")
	ErrNotFound            = errors.New("checkpoint file not found")
)

// Manager reads and writes one checkpoint path.
type Manager struct {
	path string
	keep int // older checkpoints to retain; 0 keeps none
	mu   sync.Mutex
}

// NewManager creates a manager for path that retains keep backups.
func NewManager(path string, keep int) *Manager {
	if keep < 0 {
		keep = 0
	}
	return &Manager{path: path, keep: keep}
}

// Write stores data atomically, moving any previous checkpoint to a backup first.
func (m *Manager) Write(data types.SnapshotData) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data.SchemaVer = types.SchemaVersion

	jsonBytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("failed to create checkpoint dir: %w", err)
	}

	tmpPath := m.path + ".tmp"
	if err := writeSynced(tmpPath, jsonBytes); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp checkpoint: %w", err)
	}

	if m.keep > 0 && m.exists() {
		backup := fmt.Sprintf("%s.%s.bak", m.path, time.Now().Format("20060102_150405.000000000"))
		if err := os.Rename(m.path, backup); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("failed to back up checkpoint: %w", err)
		}
	}

	if err := os.Rename(tmpPath, m.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename checkpoint: %w", err)
	}

	return m.pruneLocked()
}

func writeSynced(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Load reads the checkpoint. A missing file returns ErrNotFound.
func (m *Manager) Load() (types.SnapshotData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return load(m.path)
}

// LoadFile reads a checkpoint at an arbitrary path.
func LoadFile(path string) (types.SnapshotData, error) {
	return load(path)
}

func load(path string) (types.SnapshotData, error) {
	var data types.SnapshotData

	jsonBytes, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return data, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return data, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	if err := json.Unmarshal(jsonBytes, &data); err != nil {
		return data, fmt.Errorf("%w: %v", ErrCorruptedCheckpoint, err)
	}
	if data.SchemaVer != types.SchemaVersion {
		return data, fmt.Errorf("%w: got %d, want %d", ErrIncompatibleVersion, data.SchemaVer, types.SchemaVersion)
	}
	if len(data.Countries) == 0 {
		return data, fmt.Errorf("%w: no countries", ErrCorruptedCheckpoint)
	}
	return data, nil
}

// Exists reports whether a checkpoint is present.
func (m *Manager) Exists() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exists()
}

func (m *Manager) exists() bool {
	_, err := os.Stat(m.path)
	return err == nil
}

// Path returns the checkpoint path.
func (m *Manager) Path() string {
	return m.path
}

// Backups lists retained backups, oldest first.
func (m *Manager) Backups() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backupsLocked()
}

func (m *Manager) backupsLocked() ([]string, error) {
	matches, err := filepath.Glob(m.path + ".*.bak")
	if err != nil {
		return nil, err
	}
	// timestamps sort lexically
	sort.Strings(matches)
	return matches, nil
}

func (m *Manager) pruneLocked() error {
	backups, err := m.backupsLocked()
	if err != nil {
		return err
	}
	excess := len(backups) - m.keep
	for i := 0; i < excess; i++ {
		if err := os.Remove(backups[i]); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to prune checkpoint %s: %w", filepath.Base(backups[i]), err)
		}
	}
	return nil
}
