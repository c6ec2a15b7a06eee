package quill

import "time"

// Feed view modes.
const (
	ViewArticle = 1
	ViewMedia   = 2
)

// Feed is a subscribed RSS/Atom source.
type Feed struct {
	ID             int64      `json:"id"`
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	Link           string     `json:"link"`
	URL            string     `json:"url"`
	Icon           string     `json:"icon,omitempty"`
	LastUpdated    *time.Time `json:"last_updated,omitempty"`
	LastFetch      *time.Time `json:"last_fetch,omitempty"`
	LastFetchError *string    `json:"last_fetch_error,omitempty"`
	FolderID       *int64     `json:"folder_id,omitempty"`
	FetchFrequency int        `json:"fetch_frequency"`
	View           int        `json:"view"`
	HasUnread      bool       `json:"has_unread"`
}

// Post is one article or episode belonging to a feed. Summary is
// HTML-stripped and truncated for list display; the full body is loaded
// separately via PostContent.
type Post struct {
	ID       int64      `json:"id"`
	FeedID   int64      `json:"feed_id"`
	Title    string     `json:"title"`
	Link     string     `json:"link"`
	Author   string     `json:"author,omitempty"`
	ImageURL string     `json:"image_url,omitempty"`
	Summary  string     `json:"summary,omitempty"`
	Podcast  *Podcast   `json:"podcast,omitempty"`
	PubDate  *time.Time `json:"pub_date,omitempty"`
	IsRead   bool       `json:"is_read"`
}

// Podcast is the enclosure metadata of an episode.
type Podcast struct {
	URL      string `json:"url"`
	Type     string `json:"type,omitempty"`
	Length   int64  `json:"length,omitempty"`
	Duration string `json:"duration,omitempty"`
	Image    string `json:"image,omitempty"`
	Title    string `json:"title,omitempty"`
	Author   string `json:"author,omitempty"`
}

// Folder is a named grouping of feeds.
type Folder struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// PostFilter selects posts for listing. Nil scope pointers mean "all".
type PostFilter struct {
	FeedID     *int64
	FolderID   *int64
	UnreadOnly bool
	Limit      int
	Offset     int
}

// ImportResult aggregates one OPML import run.
type ImportResult struct {
	Success int      `json:"success"`
	Skipped int      `json:"skipped"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors,omitempty"`
}

// RefreshResult summarizes one refresh cycle.
type RefreshResult struct {
	Due      int `json:"due"`
	Failed   int `json:"failed"`
	NewPosts int `json:"new_posts"`
}

// Event describes one completed feed attempt during a refresh cycle.
type Event struct {
	FeedID   int64
	Title    string
	NewPosts int
	Err      error
}
