// Package scrape discovers new legislature session videos and seeds them into
// the shared work table. It reads the chamber archive pages for linked
// recordings and enumerates the broadcast YouTube channels.
package scrape

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"opendome.systems/pipeline/internal/queue"
	"opendome.systems/pipeline/pkg/ytdlp"
)

// DefaultArchives are the HTML archive pages that link individual floor
// session recordings.
var DefaultArchives = map[string]string{
	"house_floor": "https://www.house.ga.gov/en-US/HouseFloorVideoArchives.aspx",
}

// DefaultChannels are the YouTube channels carrying Senate floor and
// committee coverage.
var DefaultChannels = map[string]string{
	"gpb_lawmakers": "https://www.youtube.com/@GPBLawmakers/videos",
	"senate_press":  "https://www.youtube.com/@GeorgiaStateSenate/videos",
}

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

// VideoInserter seeds discovered videos. Inserts are idempotent on video_id.
type VideoInserter interface {
	InsertVideo(ctx context.Context, v queue.Video) (bool, error)
}

// Results tallies one scrape pass.
type Results struct {
	New      int
	Existing int
	Errors   int
}

// Scraper fetches the configured sources and inserts whatever it finds.
type Scraper struct {
	store        VideoInserter
	yt           *ytdlp.Client
	httpClient   *http.Client
	logger       *slog.Logger
	archives     map[string]string
	channels     map[string]string
	channelLimit int
}

func New(store VideoInserter, yt *ytdlp.Client, logger *slog.Logger) *Scraper {
	return &Scraper{
		store:        store,
		yt:           yt,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		logger:       logger,
		archives:     DefaultArchives,
		channels:     DefaultChannels,
		channelLimit: 200,
	}
}

// Run scrapes every configured source. Source failures are logged and
// counted, not fatal; the remaining sources still run.
func (s *Scraper) Run(ctx context.Context, year int) Results {
	var results Results
	results.add(s.ScrapeArchives(ctx, year))
	results.add(s.ScrapeChannels(ctx))
	return results
}

func (r *Results) add(other Results) {
	r.New += other.New
	r.Existing += other.Existing
	r.Errors += other.Errors
}

// ScrapeArchives fetches each HTML archive page and inserts the videos it
// links. The archive pages carry no year, so the caller supplies it.
func (s *Scraper) ScrapeArchives(ctx context.Context, year int) Results {
	var results Results
	for source, url := range s.archives {
		links, err := s.fetchArchiveLinks(ctx, url)
		if err != nil {
			s.logger.Error("archive scrape failed", "source", source, "error", err)
			results.Errors++
			continue
		}
		s.logger.Info("archive page fetched", "source", source, "links", len(links))

		for _, link := range links {
			video, ok := ParseArchiveLink(link, source, year)
			if !ok {
				continue
			}
			s.insert(ctx, video, &results)
		}
	}
	return results
}

// ScrapeChannels enumerates each YouTube channel without downloading and
// inserts the videos listed.
func (s *Scraper) ScrapeChannels(ctx context.Context) Results {
	var results Results
	currentYear := time.Now().Year()
	for source, url := range s.channels {
		entries, err := s.yt.FlatPlaylist(ctx, url, s.channelLimit)
		if err != nil {
			s.logger.Error("channel scrape failed", "source", source, "error", err)
			results.Errors++
			continue
		}
		s.logger.Info("channel enumerated", "source", source, "entries", len(entries))

		for _, entry := range entries {
			video, ok := ParseChannelEntry(entry, source, currentYear)
			if !ok {
				continue
			}
			s.insert(ctx, video, &results)
		}
	}
	return results
}

func (s *Scraper) insert(ctx context.Context, video queue.Video, results *Results) {
	inserted, err := s.store.InsertVideo(ctx, video)
	if err != nil {
		s.logger.Error("insert failed", "video_id", video.VideoID, "error", err)
		results.Errors++
		return
	}
	if inserted {
		s.logger.Info("new video discovered",
			"video_id", video.VideoID,
			"chamber", video.Chamber,
			"day", video.DayNumber,
		)
		results.New++
		return
	}
	results.Existing++
}

func (s *Scraper) fetchArchiveLinks(ctx context.Context, url string) ([]Link, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}
	return ExtractVideoLinks(resp.Body)
}
