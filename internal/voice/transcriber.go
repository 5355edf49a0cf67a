// Package voice turns Telegram voice notes into text through an
// OpenAI-compatible transcription API.
package voice

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/sashabaranov/go-openai"
	log "github.com/sirupsen/logrus"
)

// Transcriber converts spoken audio into text
type Transcriber interface {
	Transcribe(ctx context.Context, r io.Reader, filename string) (string, error)
}

// Options configures the OpenAI transcriber
type Options struct {
	APIKey  string
	BaseURL string // empty uses the default OpenAI endpoint
	Model   string // defaults to whisper-1
}

type openaiTranscriber struct {
	client *openai.Client
	model  string
}

// New creates a Transcriber backed by the OpenAI audio API
func New(opts Options) Transcriber {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	model := opts.Model
	if model == "" {
		model = openai.Whisper1
	}
	return &openaiTranscriber{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

// Transcribe sends the audio stream to the transcription API and returns the
// trimmed text.
func (t *openaiTranscriber) Transcribe(ctx context.Context, r io.Reader, filename string) (string, error) {
	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    t.model,
		Reader:   r,
		FilePath: filename,
	})
	if err != nil {
		return "", fmt.Errorf("transcription request failed: %w", err)
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", fmt.Errorf("transcription returned no text")
	}
	log.Infof("Transcribed voice message: file=%s text_len=%d", filename, len(text))
	return text, nil
}

// Disabled returns a Transcriber that rejects every request, used when the
// voice feature is switched off in config.
func Disabled() Transcriber {
	return disabledTranscriber{}
}

type disabledTranscriber struct{}

func (disabledTranscriber) Transcribe(context.Context, io.Reader, string) (string, error) {
	return "", fmt.Errorf("voice transcription is disabled, enable [voice] in config.toml")
}
