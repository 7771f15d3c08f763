package ytdlp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// PlaylistEntry is one video in a channel or playlist listing.
type PlaylistEntry struct {
	ID       string  `json:"id"`
	URL      string  `json:"url"`
	Title    string  `json:"title"`
	Duration float64 `json:"duration"`
}

// FlatPlaylist enumerates a channel or playlist without downloading anything,
// returning up to limit entries. Lines that fail to parse are skipped; yt-dlp
// interleaves warnings with its --print-json output.
func (c *Client) FlatPlaylist(ctx context.Context, url string, limit int) ([]PlaylistEntry, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("ytdlp: url is required")
	}
	if limit <= 0 {
		limit = 100
	}

	args := []string{
		"--flat-playlist",
		"--print-json",
		"--playlist-end", strconv.Itoa(limit),
		url,
	}

	stdout, stderr, err := c.exec(ctx, args...)
	if err != nil {
		return nil, wrapExecError(c.PathOrDefault(), args, stdout, stderr, err)
	}

	var entries []PlaylistEntry
	scanner := bufio.NewScanner(bytes.NewReader(stdout))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var entry PlaylistEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		if entry.ID != "" {
			entries = append(entries, entry)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("ytdlp: scan playlist output: %w", err)
	}
	return entries, nil
}
