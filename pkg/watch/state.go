package watch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Sriram-PR/campus-crawler/pkg/storage"
	"github.com/Sriram-PR/campus-crawler/pkg/utils"
)

const stateFileName = "watch_state.json"

// RunState is the outcome of the last scheduled crawl of one start URL
type RunState struct {
	LastRunTime     time.Time `json:"last_run_time"`
	PagesCrawled    int64     `json:"pages_crawled"`
	FilesDownloaded int64     `json:"files_downloaded"`
	Errors          int64     `json:"errors"`
	StopReason      string    `json:"stop_reason,omitempty"`
	ErrorMessage    string    `json:"error_message,omitempty"`
}

// Succeeded reports whether the run finished without a setup or persistence error
func (r RunState) Succeeded() bool {
	return r.ErrorMessage == ""
}

// State is the persisted watch state of one data root
type State struct {
	Sites     map[string]RunState `json:"sites"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// StateManager loads and saves watch state under a data root's state directory
type StateManager struct {
	stateDir  string
	statePath string
	state     State
	mu        sync.RWMutex
}

// NewStateManager creates a state manager for dataRoot. Nothing is read until Load.
func NewStateManager(dataRoot string) *StateManager {
	stateDir := filepath.Join(dataRoot, storage.StateDirName)
	return &StateManager{
		stateDir:  stateDir,
		statePath: filepath.Join(stateDir, stateFileName),
		state:     State{Sites: make(map[string]RunState)},
	}
}

// Path returns the state file location
func (m *StateManager) Path() string {
	return m.statePath
}

// Load reads the state file; a missing file leaves an empty state
func (m *StateManager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			m.state = State{Sites: make(map[string]RunState)}
			return nil
		}
		return fmt.Errorf("%w: read watch state: %w", utils.ErrFilesystem, err)
	}

	var loaded State
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("%w: parse watch state %s: %v", utils.ErrParsing, m.statePath, err)
	}
	if loaded.Sites == nil {
		loaded.Sites = make(map[string]RunState)
	}
	m.state = loaded
	return nil
}

// Save writes the state file through a temp file and rename
func (m *StateManager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.UpdatedAt = time.Now().UTC()

	if err := os.MkdirAll(m.stateDir, 0755); err != nil {
		return fmt.Errorf("%w: create state directory: %w", utils.ErrFilesystem, err)
	}
	data, err := json.MarshalIndent(m.state, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal watch state: %v", utils.ErrParsing, err)
	}

	tmpPath := m.statePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("%w: write watch state: %w", utils.ErrFilesystem, err)
	}
	if err := os.Rename(tmpPath, m.statePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: replace watch state: %w", utils.ErrFilesystem, err)
	}
	return nil
}

// Get returns the last recorded run for startURL
func (m *StateManager) Get(startURL string) (RunState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.state.Sites[startURL]
	return state, ok
}

// Record replaces the last run of startURL. Call Save to persist it.
func (m *StateManager) Record(startURL string, run RunState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Sites[startURL] = run
}

// ShouldRun reports whether startURL was never crawled or its last run is at least interval old
func (m *StateManager) ShouldRun(startURL string, interval time.Duration) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.state.Sites[startURL]
	if !ok {
		return true
	}
	return time.Since(state.LastRunTime) >= interval
}

// NextRunTime returns when startURL is next due; now if it never ran
func (m *StateManager) NextRunTime(startURL string, interval time.Duration) time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.state.Sites[startURL]
	if !ok {
		return time.Now()
	}
	return state.LastRunTime.Add(interval)
}
