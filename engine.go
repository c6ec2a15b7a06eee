// Package quill is the ingestion and storage engine of a desktop RSS/Atom
// reader: it fetches and normalizes feeds, imports OPML subscription lists,
// and refreshes subscriptions on a schedule, all backed by an embedded
// SQLite database.
package quill

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"

	"github.com/tannerhall/quill/internal/feed"
	"github.com/tannerhall/quill/internal/importer"
	"github.com/tannerhall/quill/internal/opml"
	"github.com/tannerhall/quill/internal/refresh"
	"github.com/tannerhall/quill/internal/storage"
)

// Config is re-exported so callers don't import internal packages.
type Config = storage.Config

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config { return storage.DefaultConfig() }

var (
	// ErrFeedExists reports an explicit add of a url or site link that is
	// already subscribed.
	ErrFeedExists = errors.New("feed already exists")
	// ErrFolderExists reports an explicit create of a duplicate folder name.
	ErrFolderExists = errors.New("folder already exists")
	// ErrScopeConflict reports a bulk operation given both a feed scope and
	// a folder scope.
	ErrScopeConflict = storage.ErrScopeConflict
)

// summaryLimit caps stripped summaries for list display, in runes.
const summaryLimit = 300

// Engine is the public API over the fetcher, importer, refresher, and
// storage gateway.
type Engine struct {
	store     *storage.Store
	fetcher   *feed.Fetcher
	importer  *importer.Importer
	refresher *refresh.Refresher
	policy    *bluemonday.Policy

	rawEvents chan refresh.Event
	events    chan Event
}

// NewEngine opens the database and wires the pipeline. A nil cfg uses
// DefaultConfig.
func NewEngine(cfg *Config) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	store, err := storage.NewStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	fetcher := feed.NewFetcher(
		time.Duration(cfg.Fetch.TimeoutSeconds)*time.Second,
		cfg.Fetch.ProbeFavicons,
	)

	e := &Engine{
		store:     store,
		fetcher:   fetcher,
		policy:    bluemonday.StrictPolicy(),
		rawEvents: make(chan refresh.Event, 64),
		events:    make(chan Event, 64),
	}
	e.importer = importer.New(store, fetcher, cfg.Fetch.Workers)
	e.refresher = refresh.New(store, fetcher,
		cfg.Fetch.Workers, cfg.Refresh.ForceThresholdMinutes, e.rawEvents)

	go e.pumpEvents()
	return e, nil
}

func (e *Engine) pumpEvents() {
	defer close(e.events)
	for ev := range e.rawEvents {
		select {
		case e.events <- Event(ev):
		default:
		}
	}
}

// Events delivers one event per feed attempted during refresh cycles.
// Events are dropped, not queued unboundedly, when nobody is draining.
func (e *Engine) Events() <-chan Event { return e.events }

// Close releases the engine's resources. Callers must not have a refresh in
// flight.
func (e *Engine) Close() error {
	close(e.rawEvents)
	return e.store.Close()
}

// AddFeed subscribes to a single feed url, validating it by fetching first.
// An unreachable or unparsable url fails with the fetcher's typed error; a
// url or site link already subscribed fails with ErrFeedExists.
func (e *Engine) AddFeed(ctx context.Context, url string, folderID *int64) (*Feed, error) {
	fetched, err := e.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	row := &storage.Feed{
		Title:       fetched.Title,
		Description: fetched.Description,
		Link:        fetched.Link,
		URL:         url,
		Icon:        fetched.Icon,
		LastFetch:   &now,
		FolderID:    folderID,
	}
	if !fetched.LastUpdated.IsZero() {
		row.LastUpdated = &fetched.LastUpdated
	}

	id, inserted, err := e.store.InsertFeed(row)
	if err != nil {
		return nil, fmt.Errorf("add feed: %w", err)
	}
	if !inserted {
		return nil, ErrFeedExists
	}

	for i := range fetched.Posts {
		if _, err := e.store.InsertPost(id, &fetched.Posts[i]); err != nil {
			continue // bad post, feed survives
		}
	}

	stored, err := e.store.GetFeed(id)
	if err != nil {
		return nil, err
	}
	f := feedFromInternal(*stored)
	return &f, nil
}

// Feeds returns all feeds with their computed has-unread flag.
func (e *Engine) Feeds() ([]Feed, error) {
	feeds, err := e.store.ListFeeds()
	if err != nil {
		return nil, err
	}
	return lo.Map(feeds, func(f storage.Feed, _ int) Feed {
		return feedFromInternal(f)
	}), nil
}

// DeleteFeed removes a feed and, via cascade, its posts and their contents.
func (e *Engine) DeleteFeed(id int64) error {
	return e.store.DeleteFeed(id)
}

// RenameFeed updates a feed's display title.
func (e *Engine) RenameFeed(id int64, title string) error {
	return e.store.UpdateFeed(id, storage.FeedUpdate{Title: &title})
}

// MoveFeedToFolder assigns a feed to a folder; nil clears the assignment.
func (e *Engine) MoveFeedToFolder(id int64, folderID *int64) error {
	if folderID == nil {
		return e.store.UpdateFeed(id, storage.FeedUpdate{ClearFolder: true})
	}
	return e.store.UpdateFeed(id, storage.FeedUpdate{FolderID: folderID})
}

// SetFetchFrequency sets a feed's refresh threshold in minutes.
func (e *Engine) SetFetchFrequency(id int64, minutes int) error {
	if minutes <= 0 {
		return fmt.Errorf("fetch frequency must be positive, got %d", minutes)
	}
	return e.store.UpdateFeed(id, storage.FeedUpdate{FetchFrequency: &minutes})
}

// SetFeedView switches a feed between article and media view.
func (e *Engine) SetFeedView(id int64, view int) error {
	if view != ViewArticle && view != ViewMedia {
		return fmt.Errorf("unknown view %d", view)
	}
	return e.store.UpdateFeed(id, storage.FeedUpdate{View: &view})
}

// CreateFolder creates a named folder; duplicates fail with ErrFolderExists.
func (e *Engine) CreateFolder(name string) (int64, error) {
	id, err := e.store.CreateFolder(name)
	if storage.IsConstraint(err) {
		return 0, ErrFolderExists
	}
	return id, err
}

// Folders returns all folders.
func (e *Engine) Folders() ([]Folder, error) {
	folders, err := e.store.ListFolders()
	if err != nil {
		return nil, err
	}
	return lo.Map(folders, func(f storage.Folder, _ int) Folder {
		return Folder{ID: f.ID, Name: f.Name}
	}), nil
}

// RenameFolder renames a folder; duplicates fail with ErrFolderExists.
func (e *Engine) RenameFolder(id int64, name string) error {
	err := e.store.RenameFolder(id, name)
	if storage.IsConstraint(err) {
		return ErrFolderExists
	}
	return err
}

// DeleteFolder removes a folder. Member feeds survive ungrouped.
func (e *Engine) DeleteFolder(id int64) error {
	return e.store.DeleteFolder(id)
}

// Posts lists post metadata matching the filter, newest first, with
// summaries HTML-stripped and truncated for display.
func (e *Engine) Posts(filter PostFilter) ([]Post, error) {
	posts, err := e.store.ListPosts(storage.PostFilter{
		FeedID:     filter.FeedID,
		FolderID:   filter.FolderID,
		UnreadOnly: filter.UnreadOnly,
		Limit:      filter.Limit,
		Offset:     filter.Offset,
	})
	if err != nil {
		return nil, err
	}
	return lo.Map(posts, func(p storage.Post, _ int) Post {
		return e.postFromInternal(p)
	}), nil
}

// PostContent lazy-loads the raw body of one post; "" when absent.
func (e *Engine) PostContent(postID int64) (string, error) {
	return e.store.GetPostContent(postID)
}

// MarkPostRead flips one post's read flag.
func (e *Engine) MarkPostRead(postID int64, read bool) error {
	return e.store.MarkPostRead(postID, read)
}

// MarkAllRead marks every post in the given scope as read. Passing both a
// feed and a folder scope fails with ErrScopeConflict.
func (e *Engine) MarkAllRead(feedID, folderID *int64) error {
	return e.store.MarkAllRead(feedID, folderID)
}

// ImportOPML parses an OPML document and imports every outline entry with
// bounded concurrency. Per-entry failures are aggregated, never fatal.
func (e *Engine) ImportOPML(ctx context.Context, r io.Reader) (*ImportResult, error) {
	entries, err := opml.Parse(r)
	if err != nil {
		return nil, err
	}
	report := e.importer.Import(ctx, entries)
	return &ImportResult{
		Success: report.Success,
		Skipped: report.Skipped,
		Failed:  report.Failed,
		Errors:  report.Errors,
	}, nil
}

// ExportOPML writes the current subscriptions as an OPML document, grouped
// by folder.
func (e *Engine) ExportOPML(w io.Writer) error {
	folders, err := e.store.ListFolders()
	if err != nil {
		return err
	}
	names := make(map[int64]string, len(folders))
	for _, f := range folders {
		names[f.ID] = f.Name
	}

	feeds, err := e.store.ListFeeds()
	if err != nil {
		return err
	}
	entries := lo.Map(feeds, func(f storage.Feed, _ int) opml.Entry {
		entry := opml.Entry{Title: f.Title, URL: f.URL, Link: f.Link}
		if f.FolderID != nil {
			entry.Folder = names[*f.FolderID]
		}
		return entry
	})
	return opml.Export(w, "quill subscriptions", entries)
}

// Refresh fetches every due feed once and reports after all of them have
// been attempted. When force is set, per-feed frequencies are bypassed in
// favor of the short force-check threshold.
func (e *Engine) Refresh(ctx context.Context, force bool) (*RefreshResult, error) {
	report, err := e.refresher.Refresh(ctx, !force)
	if err != nil {
		return nil, err
	}
	return &RefreshResult{
		Due:      report.Due,
		Failed:   report.Failed,
		NewPosts: report.NewPosts,
	}, nil
}

// StartRefreshLoop refreshes immediately, then once per interval, until stop
// is closed. A stop signal lets the in-flight cycle finish before the loop
// returns. Blocks; run it on its own goroutine if the caller has other work.
func (e *Engine) StartRefreshLoop(interval time.Duration, stop <-chan struct{}) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	for cycle := 1; ; cycle++ {
		start := time.Now()
		result, err := e.Refresh(context.Background(), false)
		if err != nil {
			log.WithField("cycle", cycle).Errorf("refresh failed: %v", err)
		} else {
			log.WithFields(log.Fields{
				"cycle":     cycle,
				"due":       result.Due,
				"failed":    result.Failed,
				"new_posts": result.NewPosts,
				"elapsed":   time.Since(start).Round(time.Millisecond).String(),
			}).Info("refresh cycle completed")
		}

		timer := time.NewTimer(interval)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// --- internal type conversion helpers ---

func feedFromInternal(f storage.Feed) Feed {
	return Feed{
		ID:             f.ID,
		Title:          f.Title,
		Description:    f.Description,
		Link:           f.Link,
		URL:            f.URL,
		Icon:           f.Icon,
		LastUpdated:    f.LastUpdated,
		LastFetch:      f.LastFetch,
		LastFetchError: f.LastFetchError,
		FolderID:       f.FolderID,
		FetchFrequency: f.FetchFrequency,
		View:           f.View,
		HasUnread:      f.HasUnread,
	}
}

func (e *Engine) postFromInternal(p storage.Post) Post {
	out := Post{
		ID:       p.ID,
		FeedID:   p.FeedID,
		Title:    p.Title,
		Link:     p.Link,
		Author:   p.Author,
		ImageURL: p.ImageURL,
		Summary:  e.stripSummary(p.Summary),
		IsRead:   p.IsRead,
	}
	if !p.PubDate.IsZero() {
		t := p.PubDate
		out.PubDate = &t
	}
	if p.Podcast != nil {
		out.Podcast = &Podcast{
			URL:      p.Podcast.URL,
			Type:     p.Podcast.Type,
			Length:   p.Podcast.Length,
			Duration: p.Podcast.Duration,
			Image:    p.Podcast.Image,
			Title:    p.Podcast.Title,
			Author:   p.Podcast.Author,
		}
	}
	return out
}

// stripSummary removes all markup and truncates to summaryLimit runes.
func (e *Engine) stripSummary(s string) string {
	stripped := strings.TrimSpace(html.UnescapeString(e.policy.Sanitize(s)))
	runes := []rune(stripped)
	if len(runes) <= summaryLimit {
		return stripped
	}
	return strings.TrimSpace(string(runes[:summaryLimit])) + "…"
}
