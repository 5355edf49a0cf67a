// Package transport delivers rendered HTML to Telegram: long documents are
// split into balanced chunks and sent strictly in order, with pacing and
// per-chunk failure recovery.
package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"gopkg.in/telebot.v4"

	"claude-tg/internal/render"
)

const (
	// Minimum spacing between chunk sends, below Telegram's per-chat limit
	sendInterval = 350 * time.Millisecond

	// Retries per chunk on flood errors before giving up on it
	floodRetries = 3
)

// Sender wraps a telebot instance with ordered, rate-limited chunk delivery
type Sender struct {
	bot     *telebot.Bot
	limiter *rate.Limiter
	limit   int
}

// NewSender creates a sender with the given per-message length budget
func NewSender(bot *telebot.Bot, limit int) *Sender {
	if limit <= 0 {
		limit = render.DefaultLimit
	}
	return &Sender{
		bot:     bot,
		limiter: rate.NewLimiter(rate.Every(sendInterval), 1),
		limit:   limit,
	}
}

// SendLong splits html into balanced chunks and sends them in order. Chunk
// i is fully delivered (or given up on) before chunk i+1 is attempted; every
// chunk after the first is sent without notification. A chunk that cannot be
// delivered is replaced by a labeled error message so the rest of the
// document still arrives.
func (s *Sender) SendLong(ctx context.Context, to telebot.Recipient, html string) []*telebot.Message {
	chunks := render.Split(html, s.limit)

	var sent []*telebot.Message
	for i, chunk := range chunks {
		if err := s.limiter.Wait(ctx); err != nil {
			log.Warnf("Chunk pacing aborted: chunk=%d/%d err=%v", i+1, len(chunks), err)
			return sent
		}

		opts := &telebot.SendOptions{
			ParseMode:             telebot.ModeHTML,
			DisableWebPagePreview: true,
			DisableNotification:   i > 0,
		}

		msg, err := s.sendChunk(to, chunk, opts)
		if err != nil {
			log.Errorf("Failed to deliver chunk %d/%d: %v", i+1, len(chunks), err)
			fallback := fmt.Sprintf("⚠️ 第 %d/%d 段消息发送失败: %v", i+1, len(chunks), err)
			msg, err = s.bot.Send(to, fallback, &telebot.SendOptions{DisableNotification: i > 0})
			if err != nil {
				log.Errorf("Failed to deliver fallback for chunk %d/%d: %v", i+1, len(chunks), err)
				continue
			}
		}
		sent = append(sent, msg)
	}
	return sent
}

// sendChunk delivers one chunk: flood errors are waited out and retried in
// place, an HTML parse rejection falls back to the stripped plain text.
func (s *Sender) sendChunk(to telebot.Recipient, chunk string, opts *telebot.SendOptions) (*telebot.Message, error) {
	var lastErr error
	for attempt := 0; attempt <= floodRetries; attempt++ {
		msg, err := s.bot.Send(to, chunk, opts)
		if err == nil {
			return msg, nil
		}
		lastErr = err

		var flood telebot.FloodError
		if errors.As(err, &flood) {
			wait := time.Duration(flood.RetryAfter) * time.Second
			log.Warnf("Telegram flood control, retrying chunk in %v", wait)
			time.Sleep(wait)
			continue
		}

		if isParseError(err) {
			log.Warnf("Telegram rejected chunk markup, resending as plain text: %v", err)
			plain := &telebot.SendOptions{
				DisableWebPagePreview: opts.DisableWebPagePreview,
				DisableNotification:   opts.DisableNotification,
			}
			return s.bot.Send(to, render.StripTags(chunk), plain)
		}

		return nil, err
	}
	return nil, lastErr
}

// Send delivers one short HTML message
func (s *Sender) Send(to telebot.Recipient, text string) (*telebot.Message, error) {
	return s.bot.Send(to, text, &telebot.SendOptions{
		ParseMode:             telebot.ModeHTML,
		DisableWebPagePreview: true,
	})
}

// Edit replaces the text of an already sent message. Telegram's "message is
// not modified" rejection is not an error for our callers.
func (s *Sender) Edit(msg *telebot.Message, text string) (*telebot.Message, error) {
	edited, err := s.bot.Edit(msg, text, &telebot.SendOptions{
		ParseMode:             telebot.ModeHTML,
		DisableWebPagePreview: true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "message is not modified") {
			return msg, nil
		}
		if isParseError(err) {
			return s.bot.Edit(msg, render.StripTags(text))
		}
		return nil, err
	}
	return edited, nil
}

// Delete removes a message, ignoring already-deleted errors
func (s *Sender) Delete(msg *telebot.Message) {
	if msg == nil {
		return
	}
	if err := s.bot.Delete(msg); err != nil {
		log.Debugf("Failed to delete message %d: %v", msg.ID, err)
	}
}

// Limit returns the configured per-message length budget
func (s *Sender) Limit() int {
	return s.limit
}

func isParseError(err error) bool {
	var tErr *telebot.Error
	if errors.As(err, &tErr) {
		return strings.Contains(tErr.Description, "can't parse entities")
	}
	return false
}
