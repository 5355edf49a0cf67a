package handler

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"claude-tg/internal/claude"
	"claude-tg/internal/render"
)

func TestEscapeHTML(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"<b>tag</b>", "&lt;b&gt;tag&lt;/b&gt;"},
		{"a & b", "a &amp; b"},
		{"&amp;", "&amp;amp;"},
	}
	for _, tt := range tests {
		if got := escapeHTML(tt.in); got != tt.want {
			t.Errorf("escapeHTML(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFirstLine(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"single line", "hello", "hello"},
		{"multi line keeps first", "first\nsecond\nthird", "first"},
		{"long line truncated", strings.Repeat("x", 200), strings.Repeat("x", 120) + "..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := firstLine(tt.in); got != tt.want {
				t.Errorf("firstLine() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFirstLine_DoesNotSplitRunes(t *testing.T) {
	in := strings.Repeat("汉", 60) // 180 bytes
	got := firstLine(in)
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("long text should be truncated, got %q", got)
	}
	for _, r := range got {
		if r == '�' {
			t.Fatal("truncation split a multi-byte rune")
		}
	}
}

func TestTurnBookkeeping(t *testing.T) {
	b := &Bot{turns: make(map[int64]context.CancelFunc)}

	if b.isBusy(1) {
		t.Fatal("fresh chat should be idle")
	}
	if b.cancelTurn(1) {
		t.Fatal("cancelTurn should report false with nothing running")
	}

	cancelled := false
	if !b.acquireTurn(1, func() { cancelled = true }) {
		t.Fatal("first acquire should succeed")
	}
	if !b.isBusy(1) {
		t.Fatal("chat should be busy after acquire")
	}
	if b.acquireTurn(1, func() {}) {
		t.Fatal("second acquire for the same chat must fail")
	}
	if !b.acquireTurn(2, func() {}) {
		t.Fatal("acquire for a different chat should succeed")
	}

	if !b.cancelTurn(1) {
		t.Fatal("cancelTurn should find the running turn")
	}
	if !cancelled {
		t.Fatal("cancelTurn must invoke the turn's cancel func")
	}

	b.releaseTurn(1)
	if b.isBusy(1) {
		t.Fatal("chat should be idle after release")
	}
}

func TestProgressTracker_ObserveFoldsEvents(t *testing.T) {
	// lastEdit just set keeps maybeFlush quiet, so only the folded lines
	// are under test here.
	p := &progressTracker{lastEdit: time.Now()}

	p.observe(claude.Event{Type: "system", Subtype: "init"})
	p.observe(claude.Event{Type: "assistant", Message: claude.Message{Content: []claude.ContentBlock{
		{Type: "tool_use", Name: "Bash", Input: json.RawMessage(`{"command":"go vet ./..."}`)},
		{Type: "text", Text: "checking the\npackages now"},
	}}})
	p.observe(claude.Event{Type: "user", Message: claude.Message{Content: []claude.ContentBlock{
		{Type: "tool_result", Content: json.RawMessage(`"no issues found"`)},
	}}})
	p.observe(claude.Event{Type: "result"})

	want := []string{
		"🚀 会话已启动",
		"🔧 Bash: go vet ./...",
		"💬 checking the",
		"📎 no issues found",
	}
	if len(p.lines) != len(want) {
		t.Fatalf("tracker folded %d lines, want %d: %q", len(p.lines), len(want), p.lines)
	}
	for i, line := range want {
		if p.lines[i] != line {
			t.Errorf("line %d = %q, want %q", i, p.lines[i], line)
		}
	}
}

func TestProgressTracker_CapsLines(t *testing.T) {
	p := &progressTracker{}
	for i := 0; i < 20; i++ {
		p.push("line")
	}
	if len(p.lines) != progressMaxLines {
		t.Errorf("tracker kept %d lines, want %d", len(p.lines), progressMaxLines)
	}
	if !p.dirty {
		t.Error("push should mark the tracker dirty")
	}
}

func TestRenderSafe_NormalPath(t *testing.T) {
	b := &Bot{}
	got := b.renderSafe("**bold**")
	want := render.Convert("**bold**")
	if got != want {
		t.Errorf("renderSafe = %q, want Convert output %q", got, want)
	}
}

func TestRenderSafe_EmptyInput(t *testing.T) {
	b := &Bot{}
	if got := b.renderSafe(""); got != "" {
		t.Errorf("renderSafe(\"\") = %q, want empty", got)
	}
}
