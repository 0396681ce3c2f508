package download

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// progressMarkerName is the durable per-video progress marker written
// alongside the media files so progress survives a process restart.
const progressMarkerName = "progress.txt"

type (
	// ProgressStore tracks best-effort in-flight download progress by
	// video ID. Implementations must be safe for concurrent use; the
	// orchestrator owns an instance rather than sharing process-global
	// state so tests can inject and inspect one directly.
	ProgressStore interface {
		Set(videoID string, progress float64)
		Get(videoID string) (float64, bool)
		Evict(videoID string)
	}

	memoryProgressStore struct {
		mu      sync.RWMutex
		entries map[string]float64
	}
)

func NewProgressStore() ProgressStore {
	return &memoryProgressStore{entries: make(map[string]float64)}
}

func (store *memoryProgressStore) Set(videoID string, progress float64) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.entries[videoID] = progress
}

func (store *memoryProgressStore) Get(videoID string) (float64, bool) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	progress, ok := store.entries[videoID]
	return progress, ok
}

func (store *memoryProgressStore) Evict(videoID string) {
	store.mu.Lock()
	defer store.mu.Unlock()
	delete(store.entries, videoID)
}

// WriteProgressMarker best-effort persists the progress fraction to the
// videos marker file. Failures are ignored; the marker is a fallback value,
// never a source of truth.
func WriteProgressMarker(videoDir string, progress float64) {
	path := filepath.Join(videoDir, progressMarkerName)
	_ = os.WriteFile(path, []byte(fmt.Sprintf("%.2f", progress)), 0o644)
}

// ReadProgressMarker returns the fraction recorded in the videos marker
// file, if one exists and parses.
func ReadProgressMarker(videoDir string) (float64, bool) {
	contents, err := os.ReadFile(filepath.Join(videoDir, progressMarkerName))
	if err != nil {
		return 0, false
	}

	progress, err := strconv.ParseFloat(strings.TrimSpace(string(contents)), 64)
	if err != nil || progress < 0 || progress > 1 {
		return 0, false
	}

	return progress, true
}
