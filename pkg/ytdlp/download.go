package ytdlp

import (
	"context"
	"fmt"
	"strings"
)

// DownloadAudio fetches just the audio track of a video into destPath.
// Transcription only needs audio; pulling the m4a stream instead of the full
// video keeps downloads an order of magnitude smaller. The retry and socket
// timeout flags guard against flaky long transfers.
func (c *Client) DownloadAudio(ctx context.Context, url string, destPath string) error {
	if strings.TrimSpace(url) == "" {
		return fmt.Errorf("ytdlp: url is required")
	}
	if strings.TrimSpace(destPath) == "" {
		return fmt.Errorf("ytdlp: destPath is required")
	}

	args := []string{
		"-f", "bestaudio[ext=m4a]/bestaudio/140",
		"-o", destPath,
		"--no-playlist",
		"--retries", "3",
		"--fragment-retries", "3",
		"--socket-timeout", "30",
		CleanURL(url),
	}

	stdout, stderr, err := c.exec(ctx, args...)
	if err != nil {
		return wrapExecError(c.PathOrDefault(), args, stdout, stderr, err)
	}
	return nil
}
