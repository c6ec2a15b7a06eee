// Package storage is the sole owner of the embedded database. All mutations
// go through constraint-backed idempotent upserts and per-operation
// transactions; no other component touches rows directly.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	sqlbuilder "github.com/huandu/go-sqlbuilder"
	"modernc.org/sqlite" // also registers the "sqlite" database/sql driver
)

// Feed view modes.
const (
	ViewArticle = 1
	ViewMedia   = 2
)

// DefaultFetchFrequency is the per-feed refresh threshold in minutes.
const DefaultFetchFrequency = 60

type Store struct {
	db *sql.DB
}

// Feed is a subscribed source row.
type Feed struct {
	ID             int64
	Title          string
	Description    string
	Link           string
	URL            string
	LastUpdated    *time.Time
	Icon           string
	LastFetch      *time.Time
	LastFetchError *string
	FolderID       *int64
	FetchFrequency int
	View           int
	HasUnread      bool
}

// Folder is a named grouping of feeds.
type Folder struct {
	ID   int64
	Name string
}

// NewStore opens (or creates) the database at path and initializes the schema.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_time_format=sqlite")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// IsConstraint reports whether err is a uniqueness/constraint violation, as
// opposed to an I/O or logic failure. Callers treat constraint violations as
// "already exists" and skip, never as batch failures.
func IsConstraint(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code()&0xff == 19 // SQLITE_CONSTRAINT
	}
	return false
}

// InsertFeed inserts a new feed. On a url or link uniqueness conflict it does
// nothing and returns inserted=false with no id; the caller must skip
// dependent work in that case.
func (s *Store) InsertFeed(f *Feed) (int64, bool, error) {
	freq := f.FetchFrequency
	if freq <= 0 {
		freq = DefaultFetchFrequency
	}
	view := f.View
	if view == 0 {
		view = ViewArticle
	}
	res, err := s.db.Exec(
		`INSERT INTO feeds (title, description, link, url, last_updated, icon,
		                    last_fetch, last_fetch_error, folder_id, fetch_frequency, view)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT DO NOTHING`,
		f.Title, nullString(f.Description), f.Link, f.URL,
		nullTime(f.LastUpdated), nullString(f.Icon),
		nullTime(f.LastFetch), f.LastFetchError, f.FolderID, freq, view,
	)
	if err != nil {
		return 0, false, fmt.Errorf("insert feed: %w", err)
	}
	// LastInsertId is stale under ON CONFLICT DO NOTHING; RowsAffected
	// decides whether a row actually landed.
	n, err := res.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("insert feed: %w", err)
	}
	if n == 0 {
		return 0, false, nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("insert feed: %w", err)
	}
	return id, true, nil
}

// FeedUpdate is a partial field-level feed update. Nil pointers leave the
// column untouched; the Clear flags set their column to NULL.
type FeedUpdate struct {
	Title           *string
	Description     *string
	Link            *string
	Icon            *string
	LastUpdated     *time.Time
	LastFetch       *time.Time
	LastFetchError  *string
	ClearFetchError bool
	FolderID        *int64
	ClearFolder     bool
	FetchFrequency  *int
	View            *int
}

// UpdateFeed applies a partial update to one feed row. The SET clause is
// built from (column, bound value) pairs, never interpolated.
func (s *Store) UpdateFeed(id int64, u FeedUpdate) error {
	ub := sqlbuilder.NewUpdateBuilder()
	ub.Update("feeds")

	var sets []string
	if u.Title != nil {
		sets = append(sets, ub.Assign("title", *u.Title))
	}
	if u.Description != nil {
		sets = append(sets, ub.Assign("description", *u.Description))
	}
	if u.Link != nil {
		sets = append(sets, ub.Assign("link", *u.Link))
	}
	if u.Icon != nil {
		sets = append(sets, ub.Assign("icon", *u.Icon))
	}
	if u.LastUpdated != nil {
		sets = append(sets, ub.Assign("last_updated", *u.LastUpdated))
	}
	if u.LastFetch != nil {
		sets = append(sets, ub.Assign("last_fetch", *u.LastFetch))
	}
	if u.LastFetchError != nil {
		sets = append(sets, ub.Assign("last_fetch_error", *u.LastFetchError))
	} else if u.ClearFetchError {
		sets = append(sets, ub.Assign("last_fetch_error", nil))
	}
	if u.FolderID != nil {
		sets = append(sets, ub.Assign("folder_id", *u.FolderID))
	} else if u.ClearFolder {
		sets = append(sets, ub.Assign("folder_id", nil))
	}
	if u.FetchFrequency != nil {
		sets = append(sets, ub.Assign("fetch_frequency", *u.FetchFrequency))
	}
	if u.View != nil {
		sets = append(sets, ub.Assign("view", *u.View))
	}
	if len(sets) == 0 {
		return nil
	}
	ub.Set(sets...)
	ub.Where(ub.Equal("id", id))

	query, args := ub.Build()
	if _, err := s.db.Exec(query, args...); err != nil {
		return fmt.Errorf("update feed %d: %w", id, err)
	}
	return nil
}

const feedColumns = `f.id, f.title, f.description, f.link, f.url, f.last_updated,
	f.icon, f.last_fetch, f.last_fetch_error, f.folder_id, f.fetch_frequency, f.view`

func scanFeed(row interface{ Scan(...any) error }, withUnread bool) (*Feed, error) {
	var f Feed
	var desc, icon, link sql.NullString
	dest := []any{
		&f.ID, &f.Title, &desc, &link, &f.URL, &f.LastUpdated,
		&icon, &f.LastFetch, &f.LastFetchError, &f.FolderID,
		&f.FetchFrequency, &f.View,
	}
	if withUnread {
		dest = append(dest, &f.HasUnread)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	f.Description = desc.String
	f.Icon = icon.String
	f.Link = link.String
	return &f, nil
}

// GetFeed returns one feed by id, or nil when it does not exist.
func (s *Store) GetFeed(id int64) (*Feed, error) {
	row := s.db.QueryRow("SELECT "+feedColumns+" FROM feeds f WHERE f.id = ?", id)
	f, err := scanFeed(row, false)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get feed %d: %w", id, err)
	}
	return f, nil
}

// GetFeedByURL is the point lookup the importer uses to short-circuit
// entries whose url already has a subscription. Returns nil when absent.
func (s *Store) GetFeedByURL(url string) (*Feed, error) {
	row := s.db.QueryRow("SELECT "+feedColumns+" FROM feeds f WHERE f.url = ?", url)
	f, err := scanFeed(row, false)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get feed by url: %w", err)
	}
	return f, nil
}

// ListFeeds returns all feeds with their computed has-unread flag.
func (s *Store) ListFeeds() ([]Feed, error) {
	rows, err := s.db.Query(`SELECT ` + feedColumns + `,
		EXISTS (SELECT 1 FROM posts p WHERE p.feed_id = f.id AND p.is_read = 0)
		FROM feeds f ORDER BY f.title`)
	if err != nil {
		return nil, fmt.Errorf("list feeds: %w", err)
	}
	defer rows.Close()

	var feeds []Feed
	for rows.Next() {
		f, err := scanFeed(rows, true)
		if err != nil {
			return nil, fmt.Errorf("scan feed: %w", err)
		}
		feeds = append(feeds, *f)
	}
	return feeds, rows.Err()
}

// DueFeeds returns feeds whose elapsed minutes since last_fetch exceed their
// refresh threshold at the given instant. When respectFrequency is set the
// threshold is each feed's own fetch_frequency, otherwise forceThreshold.
// A feed never fetched is always due.
func (s *Store) DueFeeds(now time.Time, respectFrequency bool, forceThreshold int) ([]Feed, error) {
	rows, err := s.db.Query(`SELECT `+feedColumns+` FROM feeds f
		WHERE f.last_fetch IS NULL
		   OR (julianday(?) - julianday(f.last_fetch)) * 1440.0 >
		      (CASE WHEN ? THEN f.fetch_frequency ELSE ? END)`,
		now.UTC(), respectFrequency, forceThreshold,
	)
	if err != nil {
		return nil, fmt.Errorf("select due feeds: %w", err)
	}
	defer rows.Close()

	var feeds []Feed
	for rows.Next() {
		f, err := scanFeed(rows, false)
		if err != nil {
			return nil, fmt.Errorf("scan feed: %w", err)
		}
		feeds = append(feeds, *f)
	}
	return feeds, rows.Err()
}

// DeleteFeed removes a feed; its posts and their contents cascade.
func (s *Store) DeleteFeed(id int64) error {
	if _, err := s.db.Exec("DELETE FROM feeds WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete feed %d: %w", id, err)
	}
	return nil
}

// CreateFolder inserts a named folder. A duplicate name surfaces as a
// constraint error (check with IsConstraint).
func (s *Store) CreateFolder(name string) (int64, error) {
	res, err := s.db.Exec("INSERT INTO folders (name) VALUES (?)", name)
	if err != nil {
		return 0, fmt.Errorf("create folder: %w", err)
	}
	return res.LastInsertId()
}

// EnsureFolder resolves a folder id by name, creating the folder if needed.
// Creation races resolve by re-querying on conflict rather than failing.
func (s *Store) EnsureFolder(name string) (int64, error) {
	if _, err := s.db.Exec(
		"INSERT INTO folders (name) VALUES (?) ON CONFLICT(name) DO NOTHING", name,
	); err != nil {
		return 0, fmt.Errorf("ensure folder: %w", err)
	}
	var id int64
	if err := s.db.QueryRow("SELECT id FROM folders WHERE name = ?", name).Scan(&id); err != nil {
		return 0, fmt.Errorf("ensure folder: %w", err)
	}
	return id, nil
}

// ListFolders returns all folders ordered by name.
func (s *Store) ListFolders() ([]Folder, error) {
	rows, err := s.db.Query("SELECT id, name FROM folders ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	defer rows.Close()

	var folders []Folder
	for rows.Next() {
		var f Folder
		if err := rows.Scan(&f.ID, &f.Name); err != nil {
			return nil, fmt.Errorf("scan folder: %w", err)
		}
		folders = append(folders, f)
	}
	return folders, rows.Err()
}

// RenameFolder updates a folder's name. Duplicate names surface as
// constraint errors.
func (s *Store) RenameFolder(id int64, name string) error {
	if _, err := s.db.Exec("UPDATE folders SET name = ? WHERE id = ?", name, id); err != nil {
		return fmt.Errorf("rename folder %d: %w", id, err)
	}
	return nil
}

// DeleteFolder removes a folder; member feeds survive with folder_id NULL.
func (s *Store) DeleteFolder(id int64) error {
	if _, err := s.db.Exec("DELETE FROM folders WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete folder %d: %w", id, err)
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC()
}
