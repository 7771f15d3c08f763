// Package videoid extracts YouTube video IDs from the URL shapes the
// legislature sources use: watch links, youtu.be shortlinks, embeds, and the
// /live/ links the archive pages carry for streamed floor sessions.
package videoid

import (
	"errors"
	"net/url"
	"strings"
)

var ErrNotYouTube = errors.New("not a youtube url or video id not found")

// FromURL extracts the YouTube video ID from a URL.
func FromURL(urlStr string) (string, error) {
	urlStr = strings.TrimSpace(urlStr)
	if urlStr == "" {
		return "", errors.New("empty url")
	}

	u, err := url.Parse(urlStr)
	if err != nil {
		return "", err
	}

	host := normalizeHost(u.Host)

	if host == "youtu.be" {
		id := firstPathSegment(u.Path)
		if id == "" {
			return "", ErrNotYouTube
		}
		return id, nil
	}

	if strings.Contains(host, "youtube.com") {
		if q := u.Query().Get("v"); q != "" {
			return q, nil
		}
		for _, prefix := range []string{"/embed/", "/v/", "/shorts/", "/live/"} {
			if strings.HasPrefix(u.Path, prefix) {
				if id := firstPathSegment(strings.TrimPrefix(u.Path, prefix)); id != "" {
					return id, nil
				}
			}
		}
	}

	return "", ErrNotYouTube
}

// WatchURL returns the canonical watch URL for a video ID.
func WatchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + url.QueryEscape(videoID)
}

func normalizeHost(hostport string) string {
	h := strings.TrimSpace(strings.ToLower(hostport))
	if h == "" {
		return ""
	}
	// url.URL.Host may include port.
	if strings.Contains(h, ":") {
		if parsed, err := url.Parse("//" + h); err == nil && parsed.Hostname() != "" {
			h = parsed.Hostname()
		}
	}
	return strings.TrimSuffix(h, ".")
}

func firstPathSegment(p string) string {
	p = strings.TrimPrefix(strings.TrimSpace(p), "/")
	if p == "" {
		return ""
	}
	seg, _, _ := strings.Cut(p, "/")
	return strings.TrimSpace(seg)
}
