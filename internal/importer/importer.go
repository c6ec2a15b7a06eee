// Package importer drives bulk OPML subscription over the fetcher and the
// storage gateway with bounded concurrency and per-entry failure isolation.
package importer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"

	"github.com/tannerhall/quill/internal/feed"
	"github.com/tannerhall/quill/internal/opml"
	"github.com/tannerhall/quill/internal/pool"
	"github.com/tannerhall/quill/internal/storage"
)

// DefaultWorkers bounds concurrent in-flight fetches during an import.
const DefaultWorkers = 5

// Fetcher retrieves and normalizes one feed url.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*feed.Feed, error)
}

// Status is the terminal state of one imported entry.
type Status int

const (
	StatusInserted Status = iota
	StatusSkipped
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusInserted:
		return "inserted"
	case StatusSkipped:
		return "skipped"
	default:
		return "failed"
	}
}

// Item is the settled outcome of one outline entry.
type Item struct {
	Entry  opml.Entry
	Status Status
	Err    error
}

// Report aggregates an import run.
type Report struct {
	Success int
	Skipped int
	Failed  int
	Errors  []string
	Items   []Item
}

// Importer imports flattened OPML entries.
type Importer struct {
	store   *storage.Store
	fetcher Fetcher
	workers int

	// writeMu serializes the compound feed+posts write per entry so
	// near-simultaneous completions cannot interleave partial updates.
	writeMu sync.Mutex
}

// New creates an importer. workers <= 0 means DefaultWorkers.
func New(store *storage.Store, fetcher Fetcher, workers int) *Importer {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Importer{store: store, fetcher: fetcher, workers: workers}
}

// Import processes every entry independently: one entry's network, parse, or
// storage failure never aborts its siblings. Entries whose url already has a
// subscription are skipped without a network call; a fetch failure still
// inserts the feed with the error recorded, so the user sees a failed
// subscription instead of silent loss.
func (imp *Importer) Import(ctx context.Context, entries []opml.Entry) *Report {
	items := make([]Item, len(entries))
	pool.ForEach(ctx, imp.workers, len(entries), func(ctx context.Context, i int) error {
		items[i] = imp.importOne(ctx, entries[i])
		return nil
	})

	counts := lo.CountValuesBy(items, func(it Item) Status { return it.Status })
	return &Report{
		Success: counts[StatusInserted],
		Skipped: counts[StatusSkipped],
		Failed:  counts[StatusFailed],
		Errors: lo.FilterMap(items, func(it Item, _ int) (string, bool) {
			if it.Err == nil {
				return "", false
			}
			return fmt.Sprintf("%s: %v", it.Entry.Title, it.Err), true
		}),
		Items: items,
	}
}

func (imp *Importer) importOne(ctx context.Context, e opml.Entry) Item {
	existing, err := imp.store.GetFeedByURL(e.URL)
	if err != nil {
		return Item{Entry: e, Status: StatusFailed, Err: err}
	}
	if existing != nil {
		return Item{Entry: e, Status: StatusSkipped}
	}

	// The existence check above is advisory: duplicate entries inside one
	// batch settle through the constraint-backed insert below.
	var folderID *int64
	if e.Folder != "" {
		id, err := imp.store.EnsureFolder(e.Folder)
		if err != nil {
			log.WithFields(log.Fields{"folder": e.Folder, "url": e.URL}).
				Warnf("folder resolution failed: %v", err)
		} else {
			folderID = &id
		}
	}

	fetched, fetchErr := imp.fetcher.Fetch(ctx, e.URL)
	now := time.Now().UTC()

	imp.writeMu.Lock()
	defer imp.writeMu.Unlock()

	if fetchErr != nil {
		msg := fetchErr.Error()
		_, inserted, err := imp.store.InsertFeed(&storage.Feed{
			Title:          firstNonEmpty(e.Title, e.URL),
			Link:           firstNonEmpty(e.Link, e.URL),
			URL:            e.URL,
			LastFetch:      &now,
			LastFetchError: &msg,
			FolderID:       folderID,
		})
		if err != nil {
			return Item{Entry: e, Status: StatusFailed, Err: err}
		}
		if !inserted {
			return Item{Entry: e, Status: StatusSkipped}
		}
		return Item{Entry: e, Status: StatusFailed, Err: fetchErr}
	}

	row := &storage.Feed{
		Title:       firstNonEmpty(fetched.Title, e.Title, e.URL),
		Description: fetched.Description,
		Link:        firstNonEmpty(fetched.Link, e.Link, e.URL),
		URL:         e.URL,
		Icon:        fetched.Icon,
		LastFetch:   &now,
		FolderID:    folderID,
	}
	if !fetched.LastUpdated.IsZero() {
		row.LastUpdated = &fetched.LastUpdated
	}

	feedID, inserted, err := imp.store.InsertFeed(row)
	if err != nil {
		return Item{Entry: e, Status: StatusFailed, Err: err}
	}
	if !inserted {
		return Item{Entry: e, Status: StatusSkipped}
	}

	for i := range fetched.Posts {
		// A bad post must not fail the feed import.
		if _, err := imp.store.InsertPost(feedID, &fetched.Posts[i]); err != nil {
			log.WithFields(log.Fields{"feed_id": feedID, "link": fetched.Posts[i].Link}).
				Warnf("post insert failed: %v", err)
		}
	}
	return Item{Entry: e, Status: StatusInserted}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
