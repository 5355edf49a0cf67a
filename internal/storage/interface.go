package storage

import (
	"time"
)

// ChatState is the persisted state for one Telegram chat: which Claude CLI
// session the chat continues, where it runs, and usage counters.
type ChatState struct {
	ChatID       int64     `json:"chatID"`
	SessionID    string    `json:"sessionID,omitempty"`
	WorkingDir   string    `json:"workingDir,omitempty"`
	Model        string    `json:"model,omitempty"`
	MessageCount int       `json:"messageCount"`
	CreatedAt    time.Time `json:"createdAt"`
	LastUsedAt   time.Time `json:"lastUsedAt"`
}

// Store defines the interface for persistent chat state storage
type Store interface {
	Save(state *ChatState) error
	Get(chatID int64) (*ChatState, bool, error)
	Delete(chatID int64) error
	List() ([]*ChatState, error)

	// Maintenance
	Close() error
}

// Options contains configuration options for storage
type Options struct {
	Type     string // "file" (only file storage is supported)
	FilePath string // path to JSON file for chat state storage
}
