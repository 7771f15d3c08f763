// Package whisper wraps the openai-whisper CLI for plain-text transcription.
package whisper

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Options configures a transcription run.
type Options struct {
	// Cmd is the whisper executable. Defaults to "whisper" (PATH lookup).
	Cmd string

	// Model selects the whisper model size (tiny/base/small/medium).
	Model string

	// Language, when set, skips whisper's language autodetection.
	Language string

	// Timeout is the hard wall-clock limit for the run. Legislature floor
	// sessions run for hours; transcription can too.
	Timeout time.Duration
}

func (o Options) cmdOrDefault() string {
	if strings.TrimSpace(o.Cmd) == "" {
		return "whisper"
	}
	return o.Cmd
}

func (o Options) modelOrDefault() string {
	if strings.TrimSpace(o.Model) == "" {
		return "base"
	}
	return o.Model
}

// Client runs whisper. The zero value is usable.
type Client struct {
	execFn func(ctx context.Context, name string, args ...string) ([]byte, error)
}

func New() *Client {
	return &Client{}
}

// Transcribe runs whisper over an audio file and returns the plain-text
// transcript. Output goes to a throwaway directory so re-invocation on the
// same file never sees a previous attempt's partial output.
//
// --condition_on_previous_text False prevents hallucination loops on long
// quiet stretches; --no_speech_threshold 0.6 improves silence detection.
func (c *Client) Transcribe(ctx context.Context, audioPath string, opts Options) (string, error) {
	if strings.TrimSpace(audioPath) == "" {
		return "", fmt.Errorf("whisper: audioPath is required")
	}

	outputDir, err := os.MkdirTemp("", "whisper-out-*")
	if err != nil {
		return "", fmt.Errorf("whisper: create output dir: %w", err)
	}
	defer os.RemoveAll(outputDir)

	args := []string{
		audioPath,
		"--model", opts.modelOrDefault(),
		"--output_format", "txt",
		"--output_dir", outputDir,
		"--condition_on_previous_text", "False",
		"--no_speech_threshold", "0.6",
	}
	if strings.TrimSpace(opts.Language) != "" && !strings.EqualFold(opts.Language, "auto") {
		args = append(args, "--language", opts.Language)
	}

	runCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	if c.execFn != nil {
		if _, err := c.execFn(runCtx, opts.cmdOrDefault(), args...); err != nil {
			return "", fmt.Errorf("whisper failed: %w", err)
		}
	} else {
		var buf bytes.Buffer
		cmd := exec.CommandContext(runCtx, opts.cmdOrDefault(), args...)
		cmd.Stdout = &buf
		cmd.Stderr = &buf
		if err := cmd.Run(); err != nil {
			return "", fmt.Errorf("whisper failed: %w (output=%s)", err, tail(buf.String(), 500))
		}
	}

	return readTranscript(outputDir, audioPath)
}

// readTranscript locates whisper's .txt output. Whisper names it after the
// input file's basename, but fall back to any .txt in the directory.
func readTranscript(outputDir, audioPath string) (string, error) {
	base := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	cand := filepath.Join(outputDir, base+".txt")
	if _, err := os.Stat(cand); err != nil {
		matches, _ := filepath.Glob(filepath.Join(outputDir, "*.txt"))
		if len(matches) == 0 {
			return "", fmt.Errorf("whisper output not found in %s", outputDir)
		}
		cand = matches[0]
	}

	data, err := os.ReadFile(cand)
	if err != nil {
		return "", fmt.Errorf("whisper: read transcript: %w", err)
	}
	return string(data), nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
