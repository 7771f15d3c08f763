// Package export writes the static site's data files: a video index, a
// search index, per-video detail files, downloadable transcripts, and
// aggregate stats.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"opendome.systems/pipeline/internal/queue"
)

// searchSnippetChars bounds how much transcript feeds the search index.
const searchSnippetChars = 2000

// VideoLister is the read-only store slice the exporter needs.
type VideoLister interface {
	ListSummarized(ctx context.Context) ([]queue.Video, error)
	CountsByStatus(ctx context.Context) (map[queue.Status]int, error)
}

// IndexEntry is one row of videos.json. Transcripts are kept out of the
// index to hold its size down; detail files carry them.
type IndexEntry struct {
	VideoID         string `json:"video_id"`
	URL             string `json:"url"`
	Title           string `json:"title"`
	Chamber         string `json:"chamber"`
	SessionType     string `json:"session_type"`
	SessionYear     int    `json:"session_year"`
	DayNumber       int    `json:"day_number"`
	VideoDate       string `json:"video_date"`
	DurationMinutes int    `json:"duration_minutes"`
	Summary         string `json:"summary"`
	HasTranscript   bool   `json:"has_transcript"`
	UpdatedAt       string `json:"updated_at"`
}

// Detail is one per-video JSON file, transcript included.
type Detail struct {
	IndexEntry
	Transcript string `json:"transcript"`
}

// SearchEntry is one row of search_index.json: title plus summary plus the
// head of the transcript, lowercased for substring matching in the browser.
type SearchEntry struct {
	VideoID string `json:"video_id"`
	Title   string `json:"title"`
	Text    string `json:"text"`
}

// Stats is stats.json.
type Stats struct {
	TotalVideos int    `json:"total_videos"`
	Summarized  int    `json:"summarized"`
	Transcribed int    `json:"transcribed"`
	LastUpdated string `json:"last_updated"`
}

// Exporter renders the site data directory from the store.
type Exporter struct {
	store  VideoLister
	dir    string
	logger *slog.Logger
	now    func() time.Time
}

func New(store VideoLister, dir string, logger *slog.Logger) *Exporter {
	return &Exporter{store: store, dir: dir, logger: logger, now: time.Now}
}

// Export writes every site data file and returns the number of videos
// exported.
func (e *Exporter) Export(ctx context.Context) (int, error) {
	videos, err := e.store.ListSummarized(ctx)
	if err != nil {
		return 0, fmt.Errorf("list summarized: %w", err)
	}

	transcriptsDir := filepath.Join(e.dir, "transcripts")
	if err := os.MkdirAll(transcriptsDir, 0o755); err != nil {
		return 0, fmt.Errorf("create export dir: %w", err)
	}

	index := make([]IndexEntry, 0, len(videos))
	search := make([]SearchEntry, 0, len(videos))
	for _, v := range videos {
		entry := indexEntry(v)
		index = append(index, entry)
		search = append(search, searchEntry(v))

		if err := writeJSON(filepath.Join(e.dir, v.VideoID+".json"), Detail{
			IndexEntry: entry,
			Transcript: v.Transcript,
		}); err != nil {
			return 0, err
		}
		if v.Transcript != "" {
			path := filepath.Join(transcriptsDir, v.VideoID+".txt")
			if err := os.WriteFile(path, []byte(transcriptText(v)), 0o644); err != nil {
				return 0, fmt.Errorf("write transcript %s: %w", v.VideoID, err)
			}
		}
	}

	if err := writeJSON(filepath.Join(e.dir, "videos.json"), index); err != nil {
		return 0, err
	}
	if err := writeJSON(filepath.Join(e.dir, "search_index.json"), search); err != nil {
		return 0, err
	}

	stats, err := e.stats(ctx)
	if err != nil {
		return 0, err
	}
	if err := writeJSON(filepath.Join(e.dir, "stats.json"), stats); err != nil {
		return 0, err
	}

	e.logger.Info("site data exported", "videos", len(videos), "dir", e.dir)
	return len(videos), nil
}

func (e *Exporter) stats(ctx context.Context) (Stats, error) {
	counts, err := e.store.CountsByStatus(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("counts by status: %w", err)
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	return Stats{
		TotalVideos: total,
		Summarized:  counts[queue.StatusSummarized],
		Transcribed: counts[queue.StatusTranscribed] + counts[queue.StatusSummarizing] + counts[queue.StatusSummarized],
		LastUpdated: e.now().UTC().Format(time.RFC3339),
	}, nil
}

func indexEntry(v queue.Video) IndexEntry {
	return IndexEntry{
		VideoID:         v.VideoID,
		URL:             v.URL,
		Title:           v.DisplayTitle(),
		Chamber:         v.Chamber,
		SessionType:     v.SessionType,
		SessionYear:     v.SessionYear,
		DayNumber:       v.DayNumber,
		VideoDate:       v.VideoDate,
		DurationMinutes: v.DurationSeconds / 60,
		Summary:         v.Summary,
		HasTranscript:   v.Transcript != "",
		UpdatedAt:       v.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func searchEntry(v queue.Video) SearchEntry {
	snippet := v.Transcript
	if len(snippet) > searchSnippetChars {
		snippet = snippet[:searchSnippetChars]
	}
	text := fmt.Sprintf("%s %s %s", v.DisplayTitle(), v.Summary, snippet)
	return SearchEntry{
		VideoID: v.VideoID,
		Title:   v.DisplayTitle(),
		Text:    strings.ToLower(text),
	}
}

func transcriptText(v queue.Video) string {
	var sb strings.Builder
	sb.WriteString("Georgia Legislature Video Transcript\n")
	sb.WriteString("=====================================\n")
	fmt.Fprintf(&sb, "Title: %s\n", v.DisplayTitle())
	fmt.Fprintf(&sb, "Date: %s\n", orUnknown(v.VideoDate))
	fmt.Fprintf(&sb, "Chamber: %s\n", orUnknown(v.Chamber))
	fmt.Fprintf(&sb, "Video: %s\n\n", v.URL)
	sb.WriteString("TRANSCRIPT\n----------\n")
	sb.WriteString(v.Transcript)
	sb.WriteString("\n")
	return sb.String()
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "Unknown"
	}
	return s
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}
