// Package feed fetches remote RSS/Atom feeds and normalizes them into the
// canonical shape the rest of the engine works with.
package feed

import (
	"bytes"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

// Podcast holds enclosure metadata for an episode. It is serialized to JSON
// by the storage layer.
type Podcast struct {
	URL      string `json:"url"`
	Type     string `json:"type,omitempty"`
	Length   int64  `json:"length,omitempty"`
	Duration string `json:"duration,omitempty"`
	Image    string `json:"image,omitempty"`
	Title    string `json:"title,omitempty"`
	Author   string `json:"author,omitempty"`
}

// Post is one normalized article or episode.
type Post struct {
	Title    string
	Link     string
	Author   string
	ImageURL string
	Summary  string
	Content  string
	PubDate  time.Time
	Podcast  *Podcast
}

// Feed is the canonical record produced from one raw feed payload.
type Feed struct {
	Title       string
	Link        string
	URL         string
	Description string
	Icon        string
	// IconGuessed marks an icon synthesized from a favicon service rather
	// than supplied by the source. The fetcher may clear it after probing.
	IconGuessed bool
	LastUpdated time.Time
	Posts       []Post
}

// Normalize parses raw feed bytes into the canonical record. It performs no
// network or storage access and is deterministic for identical input.
// Unrecognized payloads fail with a ParseError.
func Normalize(raw []byte, feedURL string) (*Feed, error) {
	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, &ParseError{URL: feedURL, Err: err}
	}

	f := &Feed{
		Title:       parsed.Title,
		Link:        parsed.Link,
		URL:         feedURL,
		Description: parsed.Description,
		LastUpdated: normalizeTime(parsed.UpdatedParsed, parsed.PublishedParsed),
	}
	if f.Title == "" {
		f.Title = feedURL
	}
	if f.Link == "" {
		f.Link = feedURL
	}

	if parsed.Image != nil && parsed.Image.URL != "" {
		f.Icon = parsed.Image.URL
	} else if icon := GuessFavicon(f.Link); icon != "" {
		f.Icon = icon
		f.IconGuessed = true
	}

	f.Posts = make([]Post, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		f.Posts = append(f.Posts, normalizeItem(item))
	}
	return f, nil
}

func normalizeItem(item *gofeed.Item) Post {
	p := Post{
		Title:   item.Title,
		Link:    resolveLink(item.Link, item.GUID),
		Summary: item.Description,
		Content: item.Content,
		PubDate: normalizeTime(item.PublishedParsed, item.UpdatedParsed),
	}
	if p.Content == "" {
		p.Content = item.Description
	}

	if item.Author != nil {
		p.Author = item.Author.Name
	} else if len(item.Authors) > 0 && item.Authors[0] != nil {
		p.Author = item.Authors[0].Name
	}

	// First audio enclosure becomes the episode; first image enclosure
	// becomes the item image. The two never share a URL.
	for _, enc := range item.Enclosures {
		if enc == nil || enc.URL == "" {
			continue
		}
		switch {
		case strings.HasPrefix(enc.Type, "audio/") && p.Podcast == nil:
			length, _ := strconv.ParseInt(enc.Length, 10, 64)
			p.Podcast = &Podcast{
				URL:    enc.URL,
				Type:   enc.Type,
				Length: length,
				Title:  item.Title,
			}
		case strings.HasPrefix(enc.Type, "image/") && p.ImageURL == "":
			p.ImageURL = enc.URL
		}
	}
	if p.ImageURL == "" && item.Image != nil {
		p.ImageURL = item.Image.URL
	}
	if p.Podcast != nil && item.ITunesExt != nil {
		p.Podcast.Duration = item.ITunesExt.Duration
		p.Podcast.Author = item.ITunesExt.Author
		p.Podcast.Image = item.ITunesExt.Image
	}
	return p
}

// resolveLink picks an item's canonical link: prefer a candidate that looks
// like an absolute URL, then the first non-empty candidate, then "".
func resolveLink(candidates ...string) string {
	for _, c := range candidates {
		if strings.HasPrefix(c, "http") {
			return c
		}
	}
	for _, c := range candidates {
		if c != "" {
			return c
		}
	}
	return ""
}

// normalizeTime picks the first non-nil timestamp and converts it to UTC.
// Absent or unparseable source dates come through as the zero time.
func normalizeTime(candidates ...*time.Time) time.Time {
	for _, t := range candidates {
		if t != nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// GuessFavicon synthesizes a favicon-service URL for the origin of pageURL.
// Returns "" when the origin cannot be determined.
func GuessFavicon(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return "https://icons.duckduckgo.com/ip3/" + u.Host + ".ico"
}
