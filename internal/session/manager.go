// Package session tracks per-chat Claude CLI session state: which session a
// chat resumes, where it runs and which model it uses.
package session

import (
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"claude-tg/internal/storage"
)

// ChatState is an alias for storage.ChatState
type ChatState = storage.ChatState

// Manager handles per-chat session state on top of a storage backend
type Manager struct {
	mu sync.Mutex

	// storage backend
	store storage.Store

	// defaults applied when a chat is first seen
	defaultWorkingDir string
	defaultModel      string
}

// NewManager creates a session manager over the given store
func NewManager(store storage.Store, defaultWorkingDir, defaultModel string) *Manager {
	return &Manager{
		store:             store,
		defaultWorkingDir: defaultWorkingDir,
		defaultModel:      defaultModel,
	}
}

// Get returns the state for a chat, or false when the chat is unknown
func (m *Manager) Get(chatID int64) (*ChatState, bool, error) {
	return m.store.Get(chatID)
}

// GetOrCreate returns the state for a chat, creating a fresh one with the
// configured defaults on first contact.
func (m *Manager) GetOrCreate(chatID int64) (*ChatState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, exists, err := m.store.Get(chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to load chat state: %w", err)
	}
	if exists {
		return state, nil
	}

	now := time.Now()
	state = &ChatState{
		ChatID:     chatID,
		WorkingDir: m.defaultWorkingDir,
		Model:      m.defaultModel,
		CreatedAt:  now,
		LastUsedAt: now,
	}
	if err := m.store.Save(state); err != nil {
		return nil, fmt.Errorf("failed to save new chat state: %w", err)
	}

	log.Infof("Created chat state: chat=%d workdir=%s", chatID, state.WorkingDir)
	return state, nil
}

// BindSession records the CLI-issued session ID for a chat so the next turn
// can resume it.
func (m *Manager) BindSession(chatID int64, sessionID string) error {
	return m.update(chatID, func(state *ChatState) {
		state.SessionID = sessionID
	})
}

// SetWorkingDir changes the directory the chat's turns run in
func (m *Manager) SetWorkingDir(chatID int64, dir string) error {
	return m.update(chatID, func(state *ChatState) {
		state.WorkingDir = dir
	})
}

// SetModel changes the model override for a chat. An empty name restores the
// configured default.
func (m *Manager) SetModel(chatID int64, model string) error {
	return m.update(chatID, func(state *ChatState) {
		if model == "" {
			model = m.defaultModel
		}
		state.Model = model
	})
}

// Touch bumps the usage counters after a completed turn
func (m *Manager) Touch(chatID int64) error {
	return m.update(chatID, func(state *ChatState) {
		state.MessageCount++
		state.LastUsedAt = time.Now()
	})
}

// Reset drops the chat's bound session so the next message starts a fresh
// conversation. Working directory and model are kept.
func (m *Manager) Reset(chatID int64) error {
	return m.update(chatID, func(state *ChatState) {
		state.SessionID = ""
		state.MessageCount = 0
	})
}

// List returns every known chat state, most recently used first
func (m *Manager) List() ([]*ChatState, error) {
	return m.store.List()
}

// update applies fn to the chat's state under the manager lock and persists
// the result. Unknown chats get a fresh default state first.
func (m *Manager) update(chatID int64, fn func(*ChatState)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, exists, err := m.store.Get(chatID)
	if err != nil {
		return fmt.Errorf("failed to load chat state: %w", err)
	}
	if !exists {
		now := time.Now()
		state = &ChatState{
			ChatID:     chatID,
			WorkingDir: m.defaultWorkingDir,
			Model:      m.defaultModel,
			CreatedAt:  now,
			LastUsedAt: now,
		}
	}

	fn(state)

	if err := m.store.Save(state); err != nil {
		return fmt.Errorf("failed to save chat state: %w", err)
	}
	return nil
}
