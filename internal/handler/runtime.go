package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"
	"gopkg.in/telebot.v4"

	"claude-tg/internal/claude"
	"claude-tg/internal/render"
)

const (
	// Minimum spacing between edits of the progress message
	progressEditInterval = 1500 * time.Millisecond

	// Tool activity lines kept visible in the progress message
	progressMaxLines = 6
)

// runTurn executes one Claude turn for a chat: single-flight guard, progress
// message, streamed activity updates and the final rendered reply.
func (b *Bot) runTurn(c telebot.Context, prompt string) error {
	chatID := c.Chat().ID

	turnCtx, cancel := context.WithCancel(b.ctx)
	if !b.acquireTurn(chatID, cancel) {
		cancel()
		return c.Send("⏳ 上一条消息还在处理中。可以用 /stop 停止它。")
	}
	defer b.releaseTurn(chatID)
	defer cancel()

	state, err := b.sessions.GetOrCreate(chatID)
	if err != nil {
		log.Errorf("Failed to load chat state: %v", err)
		return c.Send(fmt.Sprintf("获取会话状态失败: %v", err))
	}

	progressMsg, err := b.sender.Send(c.Chat(), "🤖 正在处理...")
	if err != nil {
		log.Errorf("Failed to send progress message: %v", err)
		return err
	}

	progress := newProgressTracker(b, progressMsg)
	result, runErr := b.runner.Run(turnCtx, claude.RunOptions{
		Prompt:     prompt,
		SessionID:  state.SessionID,
		WorkingDir: state.WorkingDir,
		Model:      state.Model,
	}, progress.observe)

	switch {
	case runErr == nil:
		b.finishTurn(c, chatID, progressMsg, result)
	case errors.Is(runErr, context.Canceled):
		if _, err := b.sender.Edit(progressMsg, "🛑 已停止。"); err != nil {
			log.Warnf("Failed to finalize progress message: %v", err)
		}
	case errors.Is(runErr, context.DeadlineExceeded):
		if _, err := b.sender.Edit(progressMsg, "⏰ 任务超时，已终止。可以换个更小的问题重试。"); err != nil {
			log.Warnf("Failed to finalize progress message: %v", err)
		}
	default:
		log.Errorf("Claude turn failed: chat=%d err=%v", chatID, runErr)
		text := fmt.Sprintf("❌ 处理失败: %s", escapeHTML(runErr.Error()))
		if _, err := b.sender.Edit(progressMsg, text); err != nil {
			log.Warnf("Failed to finalize progress message: %v", err)
		}
	}
	return nil
}

// finishTurn persists session state and delivers the rendered result
func (b *Bot) finishTurn(c telebot.Context, chatID int64, progressMsg *telebot.Message, result *claude.Result) {
	if result.SessionID != "" {
		if err := b.sessions.BindSession(chatID, result.SessionID); err != nil {
			log.Errorf("Failed to bind session: %v", err)
		}
	}
	if err := b.sessions.Touch(chatID); err != nil {
		log.Warnf("Failed to touch chat state: %v", err)
	}

	text := result.Text
	if strings.TrimSpace(text) == "" {
		text = "（没有文本输出）"
	}

	html := b.renderSafe(text)
	if result.IsError {
		html = "⚠️ <b>Claude 报告了错误</b>\n\n" + html
	}

	b.sender.Delete(progressMsg)
	b.sender.SendLong(b.ctx, c.Chat(), html)

	log.Infof("Turn delivered: chat=%d session=%s turns=%d cost=$%.4f",
		chatID, result.SessionID, result.NumTurns, result.TotalCostUSD)
}

// renderSafe converts markdown to Telegram HTML, substituting a labeled
// plain-text fallback if the converter ever panics so the reply is never
// silently dropped.
func (b *Bot) renderSafe(text string) (html string) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Markdown conversion panicked: %v", r)
			html = "⚠️ <b>消息格式化失败，以下为原始文本</b>\n\n<pre>" + escapeHTML(text) + "</pre>"
		}
	}()
	return render.Convert(text)
}

// acquireTurn registers a running turn for the chat. It reports false when
// the chat already has one in flight.
func (b *Bot) acquireTurn(chatID int64, cancel context.CancelFunc) bool {
	b.turnsMu.Lock()
	defer b.turnsMu.Unlock()
	if _, busy := b.turns[chatID]; busy {
		return false
	}
	b.turns[chatID] = cancel
	return true
}

func (b *Bot) releaseTurn(chatID int64) {
	b.turnsMu.Lock()
	defer b.turnsMu.Unlock()
	delete(b.turns, chatID)
}

// cancelTurn stops the chat's running turn, reporting whether there was one
func (b *Bot) cancelTurn(chatID int64) bool {
	b.turnsMu.Lock()
	cancel, busy := b.turns[chatID]
	b.turnsMu.Unlock()
	if !busy {
		return false
	}
	cancel()
	return true
}

func (b *Bot) isBusy(chatID int64) bool {
	b.turnsMu.Lock()
	defer b.turnsMu.Unlock()
	_, busy := b.turns[chatID]
	return busy
}

// progressTracker folds stream events into throttled edits of the progress
// message. The runner invokes observe sequentially, so no locking is needed.
type progressTracker struct {
	bot *Bot
	msg *telebot.Message

	lines    []string
	lastEdit time.Time
	dirty    bool
}

func newProgressTracker(bot *Bot, msg *telebot.Message) *progressTracker {
	return &progressTracker{bot: bot, msg: msg, lastEdit: time.Now()}
}

// observe records one stream event and refreshes the progress message when
// enough time has passed since the previous edit.
func (p *progressTracker) observe(event claude.Event) {
	switch event.Type {
	case "assistant":
		for _, block := range event.ToolUses() {
			summary := claude.ToolSummary(block)
			line := "🔧 " + block.Name
			if summary != "" {
				line += ": " + summary
			}
			p.push(line)
		}
		if text := event.TextBlocks(); text != "" {
			p.push("💬 " + firstLine(text))
		}
	case "user":
		// Tool results come back on user events.
		for _, block := range event.Message.Content {
			if block.Type != "tool_result" {
				continue
			}
			if result := strings.TrimSpace(claude.ToolResultText(block.Content)); result != "" {
				p.push("📎 " + firstLine(result))
			}
		}
	case "system":
		if event.Subtype == "init" {
			p.push("🚀 会话已启动")
		}
	default:
		return
	}
	p.maybeFlush()
}

func (p *progressTracker) push(line string) {
	p.lines = append(p.lines, line)
	if len(p.lines) > progressMaxLines {
		p.lines = p.lines[len(p.lines)-progressMaxLines:]
	}
	p.dirty = true
}

func (p *progressTracker) maybeFlush() {
	if !p.dirty || time.Since(p.lastEdit) < progressEditInterval {
		return
	}
	p.lastEdit = time.Now()
	p.dirty = false

	var sb strings.Builder
	sb.WriteString("🤖 正在处理...\n\n")
	for _, line := range p.lines {
		sb.WriteString(escapeHTML(line))
		sb.WriteString("\n")
	}
	if _, err := p.bot.sender.Edit(p.msg, strings.TrimRight(sb.String(), "\n")); err != nil {
		log.Debugf("Failed to edit progress message: %v", err)
	}
}

// firstLine cuts a text block down to a single short display line
func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 120 {
		cut := 120
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + "..."
	}
	return s
}
