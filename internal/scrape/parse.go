package scrape

import (
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"opendome.systems/pipeline/internal/queue"
	"opendome.systems/pipeline/internal/videoid"
	"opendome.systems/pipeline/pkg/ytdlp"
)

var (
	dayPattern  = regexp.MustCompile(`(?i)Day\s*(\d+)`)
	datePattern = regexp.MustCompile(`(?i)(January|February|March|April|May|June|July|August|September|October|November|December)\s+(\d+)`)
	partPattern = regexp.MustCompile(`(?i)Part\s*(\d+)`)
	timePattern = regexp.MustCompile(`(?i)\((AM|PM)\)`)
	yearPattern = regexp.MustCompile(`20\d{2}`)
)

var titleCaser = cases.Title(language.AmericanEnglish)

// Link is an anchor pointing at a video, with its visible text.
type Link struct {
	URL  string
	Text string
}

// ExtractVideoLinks walks an archive page and returns every anchor whose href
// points at YouTube, paired with the link text the page shows for it.
func ExtractVideoLinks(r io.Reader) ([]Link, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse archive html: %w", err)
	}

	var links []Link
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			href := attr(n, "href")
			if strings.Contains(href, "youtu") {
				links = append(links, Link{URL: href, Text: strings.TrimSpace(nodeText(n))})
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return links, nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

// ParseArchiveLink turns an archive anchor like "Day 25 - February 28 Part 1"
// into a video record. Returns false when no video ID can be extracted.
func ParseArchiveLink(link Link, source string, year int) (queue.Video, bool) {
	videoID, err := videoid.FromURL(link.URL)
	if err != nil {
		return queue.Video{}, false
	}

	video := queue.Video{
		VideoID:     videoID,
		URL:         link.URL,
		RawText:     link.Text,
		Source:      source,
		SessionYear: year,
		Chamber:     "senate",
		SessionType: "regular",
		Status:      queue.StatusPending,
	}
	if strings.Contains(strings.ToLower(source), "house") {
		video.Chamber = "house"
	}
	if strings.Contains(strings.ToLower(link.Text), "special") {
		video.SessionType = "special"
	}

	if m := dayPattern.FindStringSubmatch(link.Text); m != nil {
		video.DayNumber, _ = strconv.Atoi(m[1])
	}
	if m := partPattern.FindStringSubmatch(link.Text); m != nil {
		video.Part, _ = strconv.Atoi(m[1])
	}
	if m := timePattern.FindStringSubmatch(link.Text); m != nil {
		video.TimeOfDay = strings.ToUpper(m[1])
	}
	if m := datePattern.FindStringSubmatch(link.Text); m != nil {
		if month, ok := monthNumber(m[1]); ok {
			day, _ := strconv.Atoi(m[2])
			video.VideoDate = fmt.Sprintf("%04d-%02d-%02d", year, month, day)
		}
	}

	video.Title = archiveTitle(video)
	return video, true
}

func archiveTitle(v queue.Video) string {
	parts := []string{titleCaser.String(v.Chamber)}
	if v.DayNumber > 0 {
		parts = append(parts, fmt.Sprintf("Day %d", v.DayNumber))
	}
	if v.Part > 0 {
		parts = append(parts, fmt.Sprintf("Part %d", v.Part))
	}
	if v.TimeOfDay != "" {
		parts = append(parts, fmt.Sprintf("(%s)", v.TimeOfDay))
	}
	return strings.Join(parts, " ")
}

func monthNumber(name string) (time.Month, bool) {
	t, err := time.Parse("January", titleCaser.String(name))
	if err != nil {
		return 0, false
	}
	return t.Month(), true
}

// ParseChannelEntry turns a flat-playlist entry like "Georgia Senate 2026 -
// Day 5 AM Session 1" into a video record. Returns false when the entry has
// no usable ID.
func ParseChannelEntry(entry ytdlp.PlaylistEntry, source string, fallbackYear int) (queue.Video, bool) {
	if entry.ID == "" {
		return queue.Video{}, false
	}

	video := queue.Video{
		VideoID:     entry.ID,
		URL:         videoid.WatchURL(entry.ID),
		Title:       entry.Title,
		RawText:     entry.Title,
		Source:      source,
		SessionType: "regular",
		SessionYear: fallbackYear,
		Status:      queue.StatusPending,
	}
	if entry.Duration > 0 {
		video.DurationSeconds = int(entry.Duration)
	}

	switch {
	case strings.Contains(entry.Title, "Senate"):
		video.Chamber = "senate"
	case strings.Contains(entry.Title, "House"):
		video.Chamber = "house"
	}
	switch {
	case strings.Contains(entry.Title, "Committee"):
		video.SessionType = "committee"
	case strings.Contains(entry.Title, "Press"):
		video.SessionType = "press"
	}

	if m := dayPattern.FindStringSubmatch(entry.Title); m != nil {
		video.DayNumber, _ = strconv.Atoi(m[1])
	}
	if m := yearPattern.FindString(entry.Title); m != "" {
		video.SessionYear, _ = strconv.Atoi(m)
	}
	return video, true
}
