package whisper

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestTranscribe_ReadsOutputFile(t *testing.T) {
	c := New()
	c.execFn = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		// args: audioPath, --model, <m>, --output_format, txt, --output_dir, <dir>, ...
		var outputDir string
		for i, a := range args {
			if a == "--output_dir" && i+1 < len(args) {
				outputDir = args[i+1]
			}
		}
		if outputDir == "" {
			t.Fatalf("no --output_dir in args: %v", args)
		}
		return nil, os.WriteFile(filepath.Join(outputDir, "session.txt"), []byte("the house will come to order"), 0o644)
	}

	text, err := c.Transcribe(context.Background(), "/tmp/session.m4a", Options{Model: "base", Language: "en"})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if text != "the house will come to order" {
		t.Fatalf("unexpected transcript: %q", text)
	}
}

func TestTranscribe_CommandFailure(t *testing.T) {
	c := New()
	c.execFn = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return nil, errors.New("CUDA out of memory")
	}

	_, err := c.Transcribe(context.Background(), "/tmp/session.m4a", Options{})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "whisper failed") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTranscribe_MissingOutput(t *testing.T) {
	c := New()
	c.execFn = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return nil, nil // claims success, writes nothing
	}

	_, err := c.Transcribe(context.Background(), "/tmp/session.m4a", Options{})
	if err == nil {
		t.Fatalf("expected error for missing output")
	}
}

func TestTranscribe_RequiresAudioPath(t *testing.T) {
	c := New()
	if _, err := c.Transcribe(context.Background(), "  ", Options{}); err == nil {
		t.Fatalf("expected error for empty audio path")
	}
}
