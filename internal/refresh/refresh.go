// Package refresh selects due feeds and fans out fetch+upsert work with
// bounded concurrency and per-feed failure isolation.
package refresh

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/tannerhall/quill/internal/feed"
	"github.com/tannerhall/quill/internal/pool"
	"github.com/tannerhall/quill/internal/storage"
)

// DefaultWorkers bounds concurrent in-flight fetches during a refresh cycle.
const DefaultWorkers = 5

// DefaultForceThreshold is the minutes threshold used when per-feed
// frequencies are bypassed ("force check" mode).
const DefaultForceThreshold = 5

// Fetcher retrieves and normalizes one feed url.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*feed.Feed, error)
}

// Event describes one completed feed attempt. Consumers receive it over a
// plain channel; there is no ambient listener registry.
type Event struct {
	FeedID   int64
	Title    string
	NewPosts int
	Err      error
}

// Report summarizes one refresh cycle. It is returned only after every due
// feed has been attempted.
type Report struct {
	Due      int
	Failed   int
	NewPosts int
}

// Refresher refreshes due feeds.
type Refresher struct {
	store          *storage.Store
	fetcher        Fetcher
	workers        int
	forceThreshold int
	events         chan<- Event

	// writeMu serializes each feed's compound write (metadata + posts);
	// fetch fan-out stays concurrent.
	writeMu sync.Mutex
	mu      sync.Mutex // guards the report counters
}

// New creates a refresher. workers/forceThreshold <= 0 pick the defaults;
// events may be nil. Sends to a full events channel are dropped rather than
// blocking the cycle.
func New(store *storage.Store, fetcher Fetcher, workers, forceThreshold int, events chan<- Event) *Refresher {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if forceThreshold <= 0 {
		forceThreshold = DefaultForceThreshold
	}
	return &Refresher{
		store:          store,
		fetcher:        fetcher,
		workers:        workers,
		forceThreshold: forceThreshold,
		events:         events,
	}
}

// Refresh fetches every due feed once. A feed is due when its elapsed
// minutes since last_fetch exceed its own fetch_frequency, or the force
// threshold when respectFrequency is false. One feed's failure never aborts
// the batch; it is recorded on the feed row and counted.
func (r *Refresher) Refresh(ctx context.Context, respectFrequency bool) (*Report, error) {
	due, err := r.store.DueFeeds(time.Now(), respectFrequency, r.forceThreshold)
	if err != nil {
		return nil, err
	}

	report := &Report{Due: len(due)}
	if len(due) == 0 {
		return report, nil
	}
	log.WithField("due", len(due)).Info("refreshing feeds")

	pool.ForEach(ctx, r.workers, len(due), func(ctx context.Context, i int) error {
		newPosts, err := r.refreshOne(ctx, &due[i])

		r.mu.Lock()
		if err != nil {
			report.Failed++
		}
		report.NewPosts += newPosts
		r.mu.Unlock()

		r.emit(Event{FeedID: due[i].ID, Title: due[i].Title, NewPosts: newPosts, Err: err})
		return err
	})
	return report, nil
}

// refreshOne fetches one feed and applies the result. On success the feed's
// metadata and last_fetch are updated, last_fetch_error is cleared, and
// every returned post is upserted idempotently. On failure only last_fetch
// and last_fetch_error change.
func (r *Refresher) refreshOne(ctx context.Context, row *storage.Feed) (int, error) {
	fetched, fetchErr := r.fetcher.Fetch(ctx, row.URL)
	now := time.Now().UTC()

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if fetchErr != nil {
		msg := fetchErr.Error()
		if err := r.store.UpdateFeed(row.ID, storage.FeedUpdate{
			LastFetch:      &now,
			LastFetchError: &msg,
		}); err != nil {
			log.WithField("feed_id", row.ID).Warnf("recording fetch error failed: %v", err)
		}
		return 0, fetchErr
	}

	update := storage.FeedUpdate{
		Description:     &fetched.Description,
		Icon:            &fetched.Icon,
		LastFetch:       &now,
		ClearFetchError: true,
	}
	if fetched.Link != "" {
		update.Link = &fetched.Link
	}
	if !fetched.LastUpdated.IsZero() {
		update.LastUpdated = &fetched.LastUpdated
	}
	if err := r.store.UpdateFeed(row.ID, update); err != nil {
		// A link collision with another feed must not lose the fetch
		// bookkeeping; retry without the conflicting column.
		if storage.IsConstraint(err) {
			update.Link = nil
			err = r.store.UpdateFeed(row.ID, update)
		}
		if err != nil {
			return 0, err
		}
	}

	newPosts := 0
	for i := range fetched.Posts {
		inserted, err := r.store.InsertPost(row.ID, &fetched.Posts[i])
		if err != nil {
			log.WithFields(log.Fields{"feed_id": row.ID, "link": fetched.Posts[i].Link}).
				Warnf("post insert failed: %v", err)
			continue
		}
		if inserted {
			newPosts++
		}
	}
	return newPosts, nil
}

func (r *Refresher) emit(ev Event) {
	if r.events == nil {
		return
	}
	select {
	case r.events <- ev:
	default:
		log.WithField("feed_id", ev.FeedID).Debug("event channel full, dropping")
	}
}
