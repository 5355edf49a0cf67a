package session

import (
	"path/filepath"
	"testing"
	"time"

	"claude-tg/internal/storage"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	store, err := storage.NewFileStore(filepath.Join(t.TempDir(), "chats.json"))
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewManager(store, "/srv/project", "sonnet")
}

func TestGetOrCreate_AppliesDefaults(t *testing.T) {
	m := newTestManager(t)

	state, err := m.GetOrCreate(100)
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if state.ChatID != 100 {
		t.Errorf("ChatID = %d, want 100", state.ChatID)
	}
	if state.WorkingDir != "/srv/project" {
		t.Errorf("WorkingDir = %q, want default", state.WorkingDir)
	}
	if state.Model != "sonnet" {
		t.Errorf("Model = %q, want default", state.Model)
	}
	if state.SessionID != "" {
		t.Errorf("SessionID = %q, want empty for a fresh chat", state.SessionID)
	}
	if state.CreatedAt.IsZero() || state.LastUsedAt.IsZero() {
		t.Error("timestamps should be set on creation")
	}
}

func TestGetOrCreate_ReturnsExisting(t *testing.T) {
	m := newTestManager(t)

	first, err := m.GetOrCreate(100)
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if err := m.BindSession(100, "sess-1"); err != nil {
		t.Fatalf("BindSession failed: %v", err)
	}

	second, err := m.GetOrCreate(100)
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if second.SessionID != "sess-1" {
		t.Errorf("SessionID = %q, want %q", second.SessionID, "sess-1")
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Error("CreatedAt should not change on repeat GetOrCreate")
	}
}

func TestBindSession_UnknownChatCreatesState(t *testing.T) {
	m := newTestManager(t)

	if err := m.BindSession(7, "sess-7"); err != nil {
		t.Fatalf("BindSession failed: %v", err)
	}

	state, exists, err := m.Get(7)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !exists {
		t.Fatal("chat should exist after BindSession")
	}
	if state.SessionID != "sess-7" {
		t.Errorf("SessionID = %q, want %q", state.SessionID, "sess-7")
	}
	if state.WorkingDir != "/srv/project" {
		t.Errorf("WorkingDir = %q, defaults should apply to implicit creation", state.WorkingDir)
	}
}

func TestSetWorkingDirAndModel(t *testing.T) {
	m := newTestManager(t)

	if _, err := m.GetOrCreate(1); err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if err := m.SetWorkingDir(1, "/tmp/other"); err != nil {
		t.Fatalf("SetWorkingDir failed: %v", err)
	}
	if err := m.SetModel(1, "opus"); err != nil {
		t.Fatalf("SetModel failed: %v", err)
	}

	state, _, err := m.Get(1)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if state.WorkingDir != "/tmp/other" {
		t.Errorf("WorkingDir = %q, want %q", state.WorkingDir, "/tmp/other")
	}
	if state.Model != "opus" {
		t.Errorf("Model = %q, want %q", state.Model, "opus")
	}
}

func TestSetModel_EmptyRestoresDefault(t *testing.T) {
	m := newTestManager(t)

	if err := m.SetModel(1, "opus"); err != nil {
		t.Fatalf("SetModel failed: %v", err)
	}
	if err := m.SetModel(1, ""); err != nil {
		t.Fatalf("SetModel failed: %v", err)
	}

	state, _, err := m.Get(1)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if state.Model != "sonnet" {
		t.Errorf("Model = %q, want default %q", state.Model, "sonnet")
	}
}

func TestTouch_BumpsCounters(t *testing.T) {
	m := newTestManager(t)

	state, err := m.GetOrCreate(1)
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	before := state.LastUsedAt

	time.Sleep(5 * time.Millisecond)
	if err := m.Touch(1); err != nil {
		t.Fatalf("Touch failed: %v", err)
	}
	if err := m.Touch(1); err != nil {
		t.Fatalf("Touch failed: %v", err)
	}

	state, _, err = m.Get(1)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if state.MessageCount != 2 {
		t.Errorf("MessageCount = %d, want 2", state.MessageCount)
	}
	if !state.LastUsedAt.After(before) {
		t.Error("LastUsedAt should advance on Touch")
	}
}

func TestReset_DropsSessionKeepsWorkdir(t *testing.T) {
	m := newTestManager(t)

	if err := m.SetWorkingDir(1, "/tmp/keep"); err != nil {
		t.Fatalf("SetWorkingDir failed: %v", err)
	}
	if err := m.BindSession(1, "sess-1"); err != nil {
		t.Fatalf("BindSession failed: %v", err)
	}
	if err := m.Touch(1); err != nil {
		t.Fatalf("Touch failed: %v", err)
	}

	if err := m.Reset(1); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}

	state, _, err := m.Get(1)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if state.SessionID != "" {
		t.Errorf("SessionID = %q, want empty after Reset", state.SessionID)
	}
	if state.MessageCount != 0 {
		t.Errorf("MessageCount = %d, want 0 after Reset", state.MessageCount)
	}
	if state.WorkingDir != "/tmp/keep" {
		t.Errorf("WorkingDir = %q, Reset must not touch the working dir", state.WorkingDir)
	}
}

func TestList_ReturnsAllChats(t *testing.T) {
	m := newTestManager(t)

	for _, chatID := range []int64{1, 2, 3} {
		if _, err := m.GetOrCreate(chatID); err != nil {
			t.Fatalf("GetOrCreate failed: %v", err)
		}
	}

	states, err := m.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(states) != 3 {
		t.Errorf("List returned %d states, want 3", len(states))
	}
}
