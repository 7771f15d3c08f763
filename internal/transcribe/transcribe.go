// Package transcribe implements the first pipeline stage: fetch a video's
// audio track and turn it into a plain-text transcript.
package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"opendome.systems/pipeline/internal/queue"
	"opendome.systems/pipeline/internal/worker"
	"opendome.systems/pipeline/pkg/whisper"
	"opendome.systems/pipeline/pkg/ytdlp"
)

const (
	probeTimeout    = 30 * time.Second
	downloadTimeout = 30 * time.Minute
	whisperTimeout  = 2 * time.Hour

	// minTranscriptChars rejects transcripts that are effectively empty:
	// whisper emits a few junk tokens on silent or broken audio.
	minTranscriptChars = 100
)

// audioFetcher is the slice of the yt-dlp client the stage uses.
type audioFetcher interface {
	GetInfo(ctx context.Context, url string, extraArgs ...string) (*ytdlp.Info, error)
	DownloadAudio(ctx context.Context, url string, destPath string) error
}

// transcriber is the slice of the whisper client the stage uses.
type transcriber interface {
	Transcribe(ctx context.Context, audioPath string, opts whisper.Options) (string, error)
}

// Processor downloads audio with yt-dlp and transcribes it with whisper.
// Each attempt works in a fresh temp directory, so re-running a reclaimed
// video never trips over a previous worker's partial files.
type Processor struct {
	ytdlp   audioFetcher
	whisper transcriber
	opts    whisper.Options

	// maxDurationSeconds is the policy limit; videos over it are skipped
	// rather than transcribed. Zero disables the check.
	maxDurationSeconds int
}

// New constructs the stage processor.
func New(ytdlpClient *ytdlp.Client, whisperClient *whisper.Client, opts whisper.Options, maxDurationSeconds int) *Processor {
	if opts.Timeout <= 0 {
		opts.Timeout = whisperTimeout
	}
	return &Processor{
		ytdlp:              ytdlpClient,
		whisper:            whisperClient,
		opts:               opts,
		maxDurationSeconds: maxDurationSeconds,
	}
}

// Process implements worker.Processor.
func (p *Processor) Process(ctx context.Context, video *queue.Video) (queue.Payload, error) {
	duration := p.probeDuration(ctx, video)

	if p.maxDurationSeconds > 0 && duration > p.maxDurationSeconds {
		return queue.Payload{}, fmt.Errorf("video too long: %dh exceeds %dh limit: %w",
			duration/3600, p.maxDurationSeconds/3600, worker.ErrSkipItem)
	}

	tmpDir, err := os.MkdirTemp("", "transcribe-*")
	if err != nil {
		return queue.Payload{}, fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	audioPath := filepath.Join(tmpDir, video.VideoID+".m4a")
	dlCtx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()
	if err := p.ytdlp.DownloadAudio(dlCtx, video.URL, audioPath); err != nil {
		return queue.Payload{}, fmt.Errorf("download audio: %w", err)
	}

	transcript, err := p.whisper.Transcribe(ctx, audioPath, p.opts)
	if err != nil {
		return queue.Payload{}, fmt.Errorf("transcribe: %w", err)
	}

	transcript = strings.TrimSpace(transcript)
	if len(transcript) < minTranscriptChars {
		return queue.Payload{}, fmt.Errorf("transcript too short: %d chars", len(transcript))
	}

	return queue.Payload{Transcript: transcript, DurationSeconds: duration}, nil
}

// probeDuration asks yt-dlp for the video length. Probe failures are not
// fatal: the duration is a policy input and a nice-to-have column, and the
// actual download will surface a broken URL on its own.
func (p *Processor) probeDuration(ctx context.Context, video *queue.Video) int {
	if video.DurationSeconds > 0 {
		return video.DurationSeconds
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	info, err := p.ytdlp.GetInfo(probeCtx, video.URL)
	if err != nil {
		slog.Warn("duration probe failed", "video_id", video.VideoID, "error", err)
		return 0
	}
	return int(info.Duration)
}
