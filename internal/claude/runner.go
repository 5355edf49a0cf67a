// Package claude runs the Claude Code CLI as a subprocess in streaming JSON
// mode and decodes its NDJSON event stream.
package claude

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// scanBufferSize bounds a single NDJSON line. Tool results can carry whole
// files, so the default 64 KiB scanner limit is far too small.
const scanBufferSize = 1024 * 1024

// Options configures a Runner
type Options struct {
	Binary         string
	WorkingDir     string
	Model          string
	PermissionMode string
	MaxTurns       int
	Timeout        time.Duration
}

// RunOptions are the per-invocation parameters of one turn
type RunOptions struct {
	Prompt     string
	SessionID  string // resume this session when non-empty
	WorkingDir string // overrides the runner default when non-empty
	Model      string // overrides the runner default when non-empty
}

// Result is the terminal "result" event of a run
type Result struct {
	Text         string
	SessionID    string
	TotalCostUSD float64
	NumTurns     int
	DurationMs   int64
	IsError      bool
}

// ErrNoResult reports a stream that ended without a terminal result event
var ErrNoResult = errors.New("claude stream ended without a result event")

// Runner launches Claude Code CLI turns
type Runner struct {
	opts Options
}

// NewRunner creates a runner with the given defaults
func NewRunner(opts Options) *Runner {
	if opts.Binary == "" {
		opts.Binary = "claude"
	}
	return &Runner{opts: opts}
}

// Run executes one turn: it launches the CLI with --output-format
// stream-json, forwards every decoded event to onEvent in stream order, and
// returns the terminal result. Cancelling ctx kills the subprocess. onEvent
// may be nil.
func (r *Runner) Run(ctx context.Context, opts RunOptions, onEvent func(Event)) (*Result, error) {
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	runID := uuid.NewString()
	args := r.buildArgs(opts)

	cmd := exec.CommandContext(ctx, r.opts.Binary, args...)
	if dir := r.workingDir(opts); dir != "" {
		cmd.Dir = dir
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}

	log.Infof("Starting claude run: run=%s session=%s model=%s prompt_len=%d",
		runID, opts.SessionID, r.model(opts), len(opts.Prompt))

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", r.opts.Binary, err)
	}

	var result *Result

	// Drain stdout fully before Wait; Wait closes the pipe and can discard
	// the buffered result event.
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, scanBufferSize), scanBufferSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var event Event
		if err := json.Unmarshal(line, &event); err != nil {
			log.Warnf("Skipping malformed stream line: run=%s err=%v", runID, err)
			continue
		}

		if event.Type == "result" {
			result = &Result{
				Text:         event.Result,
				SessionID:    event.SessionID,
				TotalCostUSD: event.TotalCostUSD,
				NumTurns:     event.NumTurns,
				DurationMs:   event.DurationMs,
				IsError:      event.IsError,
			}
		}
		if onEvent != nil {
			onEvent(event)
		}
	}
	scanErr := scanner.Err()

	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		log.Warnf("Claude run cancelled: run=%s err=%v", runID, ctx.Err())
		return nil, ctx.Err()
	}
	if scanErr != nil {
		return nil, fmt.Errorf("failed to read claude stream: %w", scanErr)
	}
	if waitErr != nil {
		return nil, fmt.Errorf("claude exited: %w", waitErr)
	}
	if result == nil {
		return nil, ErrNoResult
	}

	log.Infof("Claude run complete: run=%s session=%s turns=%d cost=$%.4f duration=%dms",
		runID, result.SessionID, result.NumTurns, result.TotalCostUSD, result.DurationMs)
	return result, nil
}

func (r *Runner) buildArgs(opts RunOptions) []string {
	args := []string{"--print", "--verbose", "--output-format", "stream-json"}
	if opts.SessionID != "" {
		args = append(args, "--resume", opts.SessionID)
	}
	if model := r.model(opts); model != "" {
		args = append(args, "--model", model)
	}
	if r.opts.PermissionMode != "" {
		args = append(args, "--permission-mode", r.opts.PermissionMode)
	}
	if r.opts.MaxTurns > 0 {
		args = append(args, "--max-turns", fmt.Sprintf("%d", r.opts.MaxTurns))
	}
	return append(args, opts.Prompt)
}

func (r *Runner) model(opts RunOptions) string {
	if opts.Model != "" {
		return opts.Model
	}
	return r.opts.Model
}

func (r *Runner) workingDir(opts RunOptions) string {
	if opts.WorkingDir != "" {
		return opts.WorkingDir
	}
	return r.opts.WorkingDir
}
