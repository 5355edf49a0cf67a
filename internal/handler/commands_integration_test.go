//go:build integration

package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"gopkg.in/telebot.v4"

	"claude-tg/internal/claude"
	"claude-tg/internal/config"
	"claude-tg/internal/session"
	"claude-tg/internal/storage"
	"claude-tg/internal/transport"
	"claude-tg/internal/voice"
)

// telegramRecorder fakes the Bot API and records every outgoing text
type telegramRecorder struct {
	t *testing.T

	mu       sync.Mutex
	nextID   int
	messages []string
}

func newTelegramRecorder(t *testing.T) *telegramRecorder {
	return &telegramRecorder{t: t, nextID: 1}
}

func (r *telegramRecorder) serveHTTP(w http.ResponseWriter, req *http.Request) {
	if strings.Contains(req.URL.Path, "/file/") {
		_, _ = w.Write([]byte("fake-ogg-bytes"))
		return
	}

	parts := strings.Split(req.URL.Path, "/")
	method := parts[len(parts)-1]

	var payload map[string]interface{}
	_ = json.NewDecoder(req.Body).Decode(&payload)

	switch method {
	case "getMe":
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"ok": true,
			"result": map[string]interface{}{
				"id": 1, "is_bot": true, "first_name": "test-bot", "username": "test_bot",
			},
		})
	case "getFile":
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"ok": true,
			"result": map[string]interface{}{
				"file_id": "voice-file", "file_path": "voice/1.oga",
			},
		})
	case "sendMessage", "editMessageText":
		text, _ := payload["text"].(string)
		r.mu.Lock()
		r.messages = append(r.messages, text)
		msgID := r.nextID
		r.nextID++
		r.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"ok": true,
			"result": map[string]interface{}{
				"message_id": msgID,
				"chat":       map[string]interface{}{"id": 10, "type": "private"},
				"text":       text,
			},
		})
	default:
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"ok": true, "result": true})
	}
}

func (r *telegramRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.messages))
	copy(out, r.messages)
	return out
}

func (r *telegramRecorder) assertAnyContains(t *testing.T, want string) string {
	t.Helper()
	for _, msg := range r.all() {
		if strings.Contains(msg, want) {
			return msg
		}
	}
	t.Fatalf("no recorded message contains %q, got:\n%s", want, strings.Join(r.all(), "\n---\n"))
	return ""
}

// writeFakeClaude drops a shell script standing in for the claude binary
func writeFakeClaude(t *testing.T, body string) string {
	t.Helper()
	binary := filepath.Join(t.TempDir(), "claude")
	script := fmt.Sprintf("#!/bin/sh\ncat <<'EOF'\n%s\nEOF\n", body)
	if err := os.WriteFile(binary, []byte(script), 0755); err != nil {
		t.Fatalf("failed to write fake claude: %v", err)
	}
	return binary
}

const turnStream = `{"type":"system","subtype":"init","session_id":"sess-integration-1"}
{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Bash","input":{"command":"ls"}}]}}
{"type":"result","session_id":"sess-integration-1","result":"**bold** reply with ` + "`code`" + `","num_turns":1}`

type harness struct {
	bot      *Bot
	tgBot    *telebot.Bot
	recorder *telegramRecorder
	workDir  string
}

func newHarness(t *testing.T, claudeBody string, allowedUsers []int64) *harness {
	t.Helper()

	recorder := newTelegramRecorder(t)
	srv := httptest.NewServer(http.HandlerFunc(recorder.serveHTTP))
	t.Cleanup(srv.Close)

	tgBot, err := telebot.NewBot(telebot.Settings{
		Token:       "test-token",
		URL:         srv.URL,
		Offline:     true,
		Synchronous: true,
	})
	if err != nil {
		t.Fatalf("failed to create telebot: %v", err)
	}

	workDir := t.TempDir()
	store, err := storage.NewFileStore(filepath.Join(t.TempDir(), "chats.json"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := &config.Config{}
	cfg.Telegram.AllowedUsers = allowedUsers
	cfg.Format.MessageLimit = 4000

	bot := NewBot(cfg,
		session.NewManager(store, workDir, ""),
		claude.NewRunner(claude.Options{Binary: writeFakeClaude(t, claudeBody)}),
		transport.NewSender(tgBot, cfg.Format.MessageLimit),
		voice.Disabled(),
	)
	bot.SetTelegramBot(tgBot)
	bot.Start()
	t.Cleanup(bot.Close)

	return &harness{bot: bot, tgBot: tgBot, recorder: recorder, workDir: workDir}
}

func (h *harness) process(updateID int, userID int64, text string) {
	h.tgBot.ProcessUpdate(telebot.Update{
		ID: updateID,
		Message: &telebot.Message{
			ID:       updateID,
			Text:     text,
			Unixtime: time.Now().Unix(),
			Sender:   &telebot.User{ID: userID, FirstName: "Integration"},
			Chat:     &telebot.Chat{ID: userID, Type: telebot.ChatPrivate},
		},
	})
}

func TestIntegration_StartAndHelp(t *testing.T) {
	h := newHarness(t, turnStream, nil)

	h.process(1, 100, "/start")
	h.recorder.assertAnyContains(t, "Claude Code")

	h.process(2, 100, "/help")
	h.recorder.assertAnyContains(t, "/model")
}

func TestIntegration_AccessControl(t *testing.T) {
	h := newHarness(t, turnStream, []int64{100})

	h.process(1, 999, "/start")
	h.recorder.assertAnyContains(t, "没有权限")

	h.process(2, 100, "/start")
	h.recorder.assertAnyContains(t, "Claude Code")
}

func TestIntegration_TextTurnDeliversRenderedReply(t *testing.T) {
	h := newHarness(t, turnStream, nil)

	h.process(1, 100, "please do something")

	final := h.recorder.assertAnyContains(t, "<b>bold</b>")
	if !strings.Contains(final, "<code>code</code>") {
		t.Errorf("inline code was not rendered: %q", final)
	}

	// The CLI-issued session must be bound for the next turn
	h.process(2, 100, "/status")
	h.recorder.assertAnyContains(t, "sess-integration-1")
}

func TestIntegration_NewResetsSession(t *testing.T) {
	h := newHarness(t, turnStream, nil)

	h.process(1, 100, "run a turn")
	h.process(2, 100, "/status")
	h.recorder.assertAnyContains(t, "sess-integration-1")

	h.process(3, 100, "/new")
	h.recorder.assertAnyContains(t, "已重置会话")

	h.recorder.mu.Lock()
	h.recorder.messages = nil
	h.recorder.mu.Unlock()

	h.process(4, 100, "/status")
	h.recorder.assertAnyContains(t, "尚未开始")
}

func TestIntegration_CdAndLs(t *testing.T) {
	h := newHarness(t, turnStream, nil)

	sub := filepath.Join(h.workDir, "pkg")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(sub, "main.go"), []byte("package main\n"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	h.process(1, 100, "/cd pkg")
	h.recorder.assertAnyContains(t, "工作目录已切换")

	h.process(2, 100, "/ls")
	h.recorder.assertAnyContains(t, "main.go")
}

func TestIntegration_CdRejectsMissingDir(t *testing.T) {
	h := newHarness(t, turnStream, nil)

	h.process(1, 100, "/cd does-not-exist")
	h.recorder.assertAnyContains(t, "目录不存在")
}

func TestIntegration_ClaudeFailureSurfaced(t *testing.T) {
	binary := filepath.Join(t.TempDir(), "claude")
	if err := os.WriteFile(binary, []byte("#!/bin/sh\nexit 7\n"), 0755); err != nil {
		t.Fatalf("failed to write fake claude: %v", err)
	}

	h := newHarness(t, "", nil)
	h.bot.runner = claude.NewRunner(claude.Options{Binary: binary})

	h.process(1, 100, "do something")
	h.recorder.assertAnyContains(t, "处理失败")
}

func TestIntegration_VoiceTurn(t *testing.T) {
	h := newHarness(t, turnStream, nil)
	h.bot.transcriber = staticTranscriber{"从语音转换的文字"}

	h.tgBot.ProcessUpdate(telebot.Update{
		ID: 1,
		Message: &telebot.Message{
			ID:       1,
			Unixtime: time.Now().Unix(),
			Sender:   &telebot.User{ID: 100, FirstName: "Integration"},
			Chat:     &telebot.Chat{ID: 100, Type: telebot.ChatPrivate},
			Voice: &telebot.Voice{
				File:     telebot.File{FileID: "voice-file"},
				Duration: 2,
			},
		},
	})

	h.recorder.assertAnyContains(t, "🎤 从语音转换的文字")
	h.recorder.assertAnyContains(t, "<b>bold</b>")
}

type staticTranscriber struct{ text string }

func (s staticTranscriber) Transcribe(context.Context, io.Reader, string) (string, error) {
	return s.text, nil
}
