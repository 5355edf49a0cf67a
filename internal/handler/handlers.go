// Package handler wires Telegram updates to the Claude Code CLI: command
// routing, access control, the per-chat turn loop and voice input.
package handler

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"gopkg.in/telebot.v4"

	"claude-tg/internal/claude"
	"claude-tg/internal/config"
	"claude-tg/internal/session"
	"claude-tg/internal/transport"
	"claude-tg/internal/voice"
)

// Bot represents the Telegram bot with all dependencies
type Bot struct {
	config      *config.Config
	tgBot       *telebot.Bot
	sessions    *session.Manager
	runner      *claude.Runner
	sender      *transport.Sender
	transcriber voice.Transcriber

	// Public or local URL of the web UI, empty when disabled
	webURL string

	ctx    context.Context
	cancel context.CancelFunc

	// One running turn per chat (chatID -> cancel func of the turn)
	turnsMu sync.Mutex
	turns   map[int64]context.CancelFunc
}

// NewBot creates a new bot instance
func NewBot(cfg *config.Config, sessions *session.Manager, runner *claude.Runner, sender *transport.Sender, transcriber voice.Transcriber) *Bot {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bot{
		config:      cfg,
		sessions:    sessions,
		runner:      runner,
		sender:      sender,
		transcriber: transcriber,
		ctx:         ctx,
		cancel:      cancel,
		turns:       make(map[int64]context.CancelFunc),
	}
}

// SetTelegramBot sets the Telegram bot instance
func (b *Bot) SetTelegramBot(tgBot *telebot.Bot) {
	b.tgBot = tgBot
}

// SetWebURL records the web UI address announced by /web
func (b *Bot) SetWebURL(url string) {
	b.webURL = url
}

// Start registers all handlers
func (b *Bot) Start() {
	if b.tgBot == nil {
		log.Error("Telegram bot not set")
		return
	}

	b.tgBot.Use(b.restrictAccess)

	// Register command handlers
	b.tgBot.Handle("/start", b.handleStart)
	b.tgBot.Handle("/help", b.handleHelp)
	b.tgBot.Handle("/new", b.handleNew)
	b.tgBot.Handle("/status", b.handleStatus)
	b.tgBot.Handle("/stop", b.handleStop)
	b.tgBot.Handle("/cd", b.handleCd)
	b.tgBot.Handle("/ls", b.handleLs)
	b.tgBot.Handle("/model", b.handleModel)
	b.tgBot.Handle("/diff", b.handleDiff)
	b.tgBot.Handle("/web", b.handleWeb)

	// Plain text and voice messages become Claude turns
	b.tgBot.Handle(telebot.OnText, b.handleText)
	b.tgBot.Handle(telebot.OnVoice, b.handleVoice)
}

// Close cancels all running turns
func (b *Bot) Close() {
	b.cancel()
}

// restrictAccess rejects users outside the configured allowlist. An empty
// allowlist admits everyone.
func (b *Bot) restrictAccess(next telebot.HandlerFunc) telebot.HandlerFunc {
	return func(c telebot.Context) error {
		allowed := b.config.Telegram.AllowedUsers
		if len(allowed) == 0 {
			return next(c)
		}
		sender := c.Sender()
		if sender != nil {
			for _, id := range allowed {
				if sender.ID == id {
					return next(c)
				}
			}
		}
		log.Warnf("Rejected unauthorized user: %v", sender)
		return c.Send("⛔ 你没有权限使用此机器人。")
	}
}

// handleStart handles the /start command
func (b *Bot) handleStart(c telebot.Context) error {
	user := c.Sender()
	message := fmt.Sprintf(`👋 你好 %s!

欢迎使用 Claude Code Telegram Bot。

我会把你的消息交给 Claude Code 处理，可以帮助你：
• 编写和重构代码
• 回答关于代码库的问题
• 执行命令、查看文件和 git 变更

基本命令：
/new - 开启新会话
/status - 查看当前会话状态
/stop - 停止正在运行的任务
/cd <目录> - 切换工作目录
/ls - 查看工作目录文件

发送任何非命令文本，我将把它作为指令交给 Claude Code。

使用 /help 查看所有可用命令。`, user.FirstName)

	return c.Send(message)
}

// handleHelp handles the /help command
func (b *Bot) handleHelp(c telebot.Context) error {
	helpText := `📚 Claude Code Bot 帮助

会话命令：
• /new - 放弃当前会话，下一条消息开启新会话
• /status - 显示会话 ID、工作目录、模型和消息数
• /stop - 停止当前正在运行的任务
• /model [名称] - 查看或设置模型（留空恢复默认）

工作区命令：
• /cd <目录> - 切换 Claude 的工作目录
• /ls - 列出工作目录内容
• /diff - 查看未提交的 git 变更
• /web - 获取网页版文件浏览器地址

交互模式：
发送任何非命令文本，Claude Code 会在工作目录中执行它，
并把结果流式返回。也可以直接发送语音消息。

注意事项：
• 同一会话的消息共享上下文（通过 --resume 续接）
• 每个聊天同时只能运行一个任务
• 长回复会自动分段发送`

	return c.Send(helpText)
}

// handleNew handles the /new command
func (b *Bot) handleNew(c telebot.Context) error {
	chatID := c.Chat().ID
	if err := b.sessions.Reset(chatID); err != nil {
		log.Errorf("Failed to reset session: %v", err)
		return c.Send(fmt.Sprintf("重置会话失败: %v", err))
	}
	return c.Send("✅ 已重置会话。下一条消息将开启全新的对话。")
}

// handleStatus handles the /status command
func (b *Bot) handleStatus(c telebot.Context) error {
	chatID := c.Chat().ID
	state, err := b.sessions.GetOrCreate(chatID)
	if err != nil {
		log.Errorf("Failed to load chat state: %v", err)
		return c.Send(fmt.Sprintf("获取会话状态失败: %v", err))
	}

	sessionLabel := "（尚未开始）"
	if state.SessionID != "" {
		sessionLabel = state.SessionID
	}
	modelLabel := state.Model
	if modelLabel == "" {
		modelLabel = "（默认）"
	}
	busy := "空闲"
	if b.isBusy(chatID) {
		busy = "处理中"
	}

	var sb strings.Builder
	sb.WriteString("📊 当前会话状态\n\n")
	sb.WriteString(fmt.Sprintf("会话: <code>%s</code>\n", escapeHTML(sessionLabel)))
	sb.WriteString(fmt.Sprintf("工作目录: <code>%s</code>\n", escapeHTML(state.WorkingDir)))
	sb.WriteString(fmt.Sprintf("模型: %s\n", escapeHTML(modelLabel)))
	sb.WriteString(fmt.Sprintf("消息数: %d\n", state.MessageCount))
	sb.WriteString(fmt.Sprintf("状态: %s", busy))

	_, err = b.sender.Send(c.Chat(), sb.String())
	return err
}

// handleStop handles the /stop command
func (b *Bot) handleStop(c telebot.Context) error {
	chatID := c.Chat().ID
	if !b.cancelTurn(chatID) {
		return c.Send("当前没有正在运行的任务。")
	}
	return c.Send("🛑 已请求停止当前任务。")
}

// handleCd handles the /cd command
func (b *Bot) handleCd(c telebot.Context) error {
	chatID := c.Chat().ID
	args := c.Args()
	if len(args) == 0 {
		return c.Send("用法: /cd <目录>")
	}

	state, err := b.sessions.GetOrCreate(chatID)
	if err != nil {
		return c.Send(fmt.Sprintf("获取会话状态失败: %v", err))
	}

	dir := strings.Join(args, " ")
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(state.WorkingDir, dir)
	}
	dir = filepath.Clean(dir)

	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return c.Send(fmt.Sprintf("目录不存在: %s", dir))
	}

	if err := b.sessions.SetWorkingDir(chatID, dir); err != nil {
		log.Errorf("Failed to set working dir: %v", err)
		return c.Send(fmt.Sprintf("切换工作目录失败: %v", err))
	}
	_, err = b.sender.Send(c.Chat(), fmt.Sprintf("📂 工作目录已切换为 <code>%s</code>", escapeHTML(dir)))
	return err
}

// handleLs handles the /ls command
func (b *Bot) handleLs(c telebot.Context) error {
	chatID := c.Chat().ID
	state, err := b.sessions.GetOrCreate(chatID)
	if err != nil {
		return c.Send(fmt.Sprintf("获取会话状态失败: %v", err))
	}

	entries, err := os.ReadDir(state.WorkingDir)
	if err != nil {
		return c.Send(fmt.Sprintf("读取目录失败: %v", err))
	}

	// Directories first, then files, both alphabetically
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir() != entries[j].IsDir() {
			return entries[i].IsDir()
		}
		return entries[i].Name() < entries[j].Name()
	})

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📂 <code>%s</code>\n\n", escapeHTML(state.WorkingDir)))
	shown := 0
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if entry.IsDir() {
			sb.WriteString(fmt.Sprintf("📁 %s/\n", escapeHTML(entry.Name())))
		} else {
			sb.WriteString(fmt.Sprintf("📄 %s\n", escapeHTML(entry.Name())))
		}
		shown++
		if shown >= 100 {
			sb.WriteString("…\n")
			break
		}
	}
	if shown == 0 {
		sb.WriteString("（空目录）")
	}

	b.sender.SendLong(b.ctx, c.Chat(), sb.String())
	return nil
}

// handleModel handles the /model command
func (b *Bot) handleModel(c telebot.Context) error {
	chatID := c.Chat().ID
	args := c.Args()

	if len(args) == 0 {
		state, err := b.sessions.GetOrCreate(chatID)
		if err != nil {
			return c.Send(fmt.Sprintf("获取会话状态失败: %v", err))
		}
		model := state.Model
		if model == "" {
			model = "（默认）"
		}
		return c.Send(fmt.Sprintf("当前模型: %s\n使用 /model <名称> 修改，/model default 恢复默认。", model))
	}

	model := args[0]
	if model == "default" {
		model = ""
	}
	if err := b.sessions.SetModel(chatID, model); err != nil {
		log.Errorf("Failed to set model: %v", err)
		return c.Send(fmt.Sprintf("设置模型失败: %v", err))
	}
	return c.Send("✅ 模型已更新，对下一条消息生效。")
}

// handleDiff handles the /diff command
func (b *Bot) handleDiff(c telebot.Context) error {
	chatID := c.Chat().ID
	state, err := b.sessions.GetOrCreate(chatID)
	if err != nil {
		return c.Send(fmt.Sprintf("获取会话状态失败: %v", err))
	}

	cmd := exec.CommandContext(b.ctx, "git", "-C", state.WorkingDir, "diff", "--stat")
	out, err := cmd.Output()
	if err != nil {
		return c.Send(fmt.Sprintf("git diff 失败: %v", err))
	}
	if len(strings.TrimSpace(string(out))) == 0 {
		return c.Send("工作区没有未提交的修改。")
	}

	html := "🔀 <b>未提交的修改</b>\n<pre>" + escapeHTML(strings.TrimSpace(string(out))) + "</pre>"
	if b.webURL != "" {
		html += fmt.Sprintf("\n完整 diff: %s/diff", b.webURL)
	}
	b.sender.SendLong(b.ctx, c.Chat(), html)
	return nil
}

// handleWeb handles the /web command
func (b *Bot) handleWeb(c telebot.Context) error {
	if b.webURL == "" {
		return c.Send("网页界面未启用。在 config.toml 的 [web] 中开启。")
	}
	return c.Send(fmt.Sprintf("🌐 文件浏览器: %s", b.webURL))
}

// handleText handles plain text messages (non-commands)
func (b *Bot) handleText(c telebot.Context) error {
	text := strings.TrimSpace(c.Text())
	if text == "" {
		return nil
	}
	return b.runTurn(c, text)
}

// handleVoice downloads a voice note, transcribes it, echoes the transcript
// and runs it as a normal turn.
func (b *Bot) handleVoice(c telebot.Context) error {
	msg := c.Message()
	if msg == nil || msg.Voice == nil {
		return nil
	}

	rc, err := b.tgBot.File(&msg.Voice.File)
	if err != nil {
		log.Errorf("Failed to download voice file: %v", err)
		return c.Send(fmt.Sprintf("下载语音失败: %v", err))
	}
	defer rc.Close()

	text, err := b.transcriber.Transcribe(b.ctx, rc, "voice.ogg")
	if err != nil {
		log.Errorf("Failed to transcribe voice: %v", err)
		return c.Send(fmt.Sprintf("语音识别失败: %v", err))
	}

	if _, err := b.sender.Send(c.Chat(), "🎤 "+escapeHTML(text)); err != nil {
		log.Warnf("Failed to echo transcript: %v", err)
	}
	return b.runTurn(c, text)
}

// escapeHTML escapes text destined for Telegram HTML messages
func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}
