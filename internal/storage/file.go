package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
)

// fileStore implements Store interface using JSON file storage
type fileStore struct {
	mu sync.RWMutex

	// file path for storage
	filePath string

	// in-memory data
	chats map[int64]*ChatState

	// dirty flag to track changes
	dirty bool
}

// NewFileStore creates a new file-based store
func NewFileStore(filePath string) (Store, error) {
	store := &fileStore{
		filePath: filePath,
		chats:    make(map[int64]*ChatState),
		dirty:    false,
	}

	// Try to load existing data
	if err := store.load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load storage file: %w", err)
	}

	return store, nil
}

// load reads data from file
func (f *fileStore) load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.filePath)
	if err != nil {
		return err
	}

	var storedData struct {
		Chats map[int64]*ChatState `json:"chats"`
	}

	if err := json.Unmarshal(data, &storedData); err != nil {
		return fmt.Errorf("failed to unmarshal storage data: %w", err)
	}

	f.chats = storedData.Chats
	if f.chats == nil {
		f.chats = make(map[int64]*ChatState)
	}
	f.dirty = false

	return nil
}

// saveLocked writes data to file without acquiring locks.
// Caller must hold at least a read lock.
func (f *fileStore) saveLocked() error {
	storedData := struct {
		Chats map[int64]*ChatState `json:"chats"`
	}{
		Chats: f.chats,
	}

	data, err := json.MarshalIndent(storedData, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal storage data: %w", err)
	}

	// Write to temporary file first
	tmpPath := f.filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temporary file: %w", err)
	}

	// Rename to final path (atomic replace)
	if err := os.Rename(tmpPath, f.filePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}

	f.dirty = false
	return nil
}

// markDirty marks the store as needing save
func (f *fileStore) markDirty() {
	f.dirty = true
}

// Save stores chat state, overwriting any previous state for the chat
func (f *fileStore) Save(state *ChatState) error {
	if state == nil {
		return fmt.Errorf("chat state cannot be nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	copied := *state
	f.chats[state.ChatID] = &copied
	f.markDirty()
	return f.saveLocked()
}

// Get retrieves the state for a chat
func (f *fileStore) Get(chatID int64) (*ChatState, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	state, exists := f.chats[chatID]
	if !exists {
		return nil, false, nil
	}
	copied := *state
	return &copied, true, nil
}

// Delete removes the state for a chat
func (f *fileStore) Delete(chatID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.chats, chatID)
	f.markDirty()
	return f.saveLocked()
}

// List returns the state of every known chat, most recently used first
func (f *fileStore) List() ([]*ChatState, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	states := make([]*ChatState, 0, len(f.chats))
	for _, state := range f.chats {
		copied := *state
		states = append(states, &copied)
	}
	sort.Slice(states, func(i, j int) bool {
		return states[i].LastUsedAt.After(states[j].LastUsedAt)
	})
	return states, nil
}

// Close flushes pending changes and releases the store
func (f *fileStore) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.dirty {
		return f.saveLocked()
	}
	return nil
}
