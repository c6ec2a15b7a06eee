package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sqlbuilder "github.com/huandu/go-sqlbuilder"
	log "github.com/sirupsen/logrus"

	"github.com/tannerhall/quill/internal/feed"
)

// ErrScopeConflict is returned when a bulk operation is given both a feed
// scope and a folder scope. This is a caller contract violation, not a
// transient condition.
var ErrScopeConflict = errors.New("feed and folder scope are mutually exclusive")

// Post is one stored article/episode. Podcast holds the serialized enclosure
// metadata as written; Content lives in post_contents and is lazy-loaded.
type Post struct {
	ID       int64
	FeedID   int64
	Title    string
	Link     string
	Author   string
	ImageURL string
	Summary  string
	Podcast  *feed.Podcast
	PubDate  time.Time
	IsRead   bool
}

// InsertPost inserts a post and, when body content is present, upserts its
// content row — both inside one transaction. A link uniqueness conflict is a
// silent no-op; content still attaches to the existing post, covering
// partial prior imports where a post landed without its body. Posts missing
// a title or link are rejected locally and never reach the database.
// Returns whether a new post row was inserted.
func (s *Store) InsertPost(feedID int64, p *feed.Post) (bool, error) {
	if p.Title == "" || p.Link == "" {
		log.WithFields(log.Fields{"feed_id": feedID, "link": p.Link}).
			Warn("skipping post with missing title or link")
		return false, nil
	}

	var podcast any
	if p.Podcast != nil {
		raw, err := json.Marshal(p.Podcast)
		if err != nil {
			return false, fmt.Errorf("serialize podcast metadata: %w", err)
		}
		podcast = string(raw)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("insert post: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO posts (feed_id, title, link, author, image_url, summary, podcast, pub_date)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(link) DO NOTHING`,
		feedID, p.Title, p.Link, nullString(p.Author), nullString(p.ImageURL),
		nullString(p.Summary), podcast, nullTimeValue(p.PubDate),
	)
	if err != nil {
		return false, fmt.Errorf("insert post: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert post: %w", err)
	}
	inserted := n > 0

	if p.Content != "" {
		var postID int64
		if inserted {
			if postID, err = res.LastInsertId(); err != nil {
				return false, fmt.Errorf("insert post: %w", err)
			}
		} else {
			err = tx.QueryRow("SELECT id FROM posts WHERE link = ?", p.Link).Scan(&postID)
			if err == sql.ErrNoRows {
				postID = 0
			} else if err != nil {
				return false, fmt.Errorf("resolve post id: %w", err)
			}
		}
		if postID != 0 {
			if _, err := tx.Exec(
				`INSERT INTO post_contents (post_id, content) VALUES (?, ?)
				 ON CONFLICT(post_id) DO UPDATE SET content = excluded.content`,
				postID, p.Content,
			); err != nil {
				return false, fmt.Errorf("upsert post content: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("insert post: %w", err)
	}
	return inserted, nil
}

// PostFilter selects posts for listing. Nil scope pointers mean "all".
type PostFilter struct {
	FeedID     *int64
	FolderID   *int64
	UnreadOnly bool
	Limit      int
	Offset     int
}

// ListPosts returns post metadata (no bodies) matching the filter, newest
// first. The WHERE clause is assembled from bound predicates only.
func (s *Store) ListPosts(filter PostFilter) ([]Post, error) {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select("p.id", "p.feed_id", "p.title", "p.link", "p.author",
		"p.image_url", "p.summary", "p.podcast", "p.pub_date", "p.is_read")
	sb.From("posts p")

	if filter.FeedID != nil {
		sb.Where(sb.Equal("p.feed_id", *filter.FeedID))
	}
	if filter.FolderID != nil {
		sb.Where(sb.In("p.feed_id",
			sqlbuilder.Buildf("SELECT id FROM feeds WHERE folder_id = %v", *filter.FolderID)))
	}
	if filter.UnreadOnly {
		sb.Where(sb.Equal("p.is_read", 0))
	}
	sb.OrderBy("p.pub_date").Desc()
	if filter.Limit > 0 {
		sb.Limit(filter.Limit).Offset(filter.Offset)
	}

	query, args := sb.Build()
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	defer rows.Close()

	var posts []Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		posts = append(posts, *p)
	}
	return posts, rows.Err()
}

func scanPost(rows *sql.Rows) (*Post, error) {
	var p Post
	var author, imageURL, summary, podcast sql.NullString
	var pubDate sql.NullTime
	if err := rows.Scan(&p.ID, &p.FeedID, &p.Title, &p.Link, &author,
		&imageURL, &summary, &podcast, &pubDate, &p.IsRead); err != nil {
		return nil, err
	}
	p.Author = author.String
	p.ImageURL = imageURL.String
	p.Summary = summary.String
	p.PubDate = pubDate.Time
	if podcast.Valid && podcast.String != "" {
		var meta feed.Podcast
		if err := json.Unmarshal([]byte(podcast.String), &meta); err == nil {
			p.Podcast = &meta
		}
	}
	return &p, nil
}

// GetPostContent lazy-loads the full body for one post. Missing content is
// not an error; it returns "".
func (s *Store) GetPostContent(postID int64) (string, error) {
	var content sql.NullString
	err := s.db.QueryRow(
		"SELECT content FROM post_contents WHERE post_id = ?", postID,
	).Scan(&content)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get post content %d: %w", postID, err)
	}
	return content.String, nil
}

// MarkPostRead flips the read flag on one post.
func (s *Store) MarkPostRead(postID int64, read bool) error {
	if _, err := s.db.Exec("UPDATE posts SET is_read = ? WHERE id = ?", read, postID); err != nil {
		return fmt.Errorf("mark post %d read: %w", postID, err)
	}
	return nil
}

// MarkAllRead marks every post in the given scope as read. At most one of
// feedID and folderID may be set; passing both returns ErrScopeConflict
// immediately. Nil scopes mean all posts.
func (s *Store) MarkAllRead(feedID, folderID *int64) error {
	if feedID != nil && folderID != nil {
		return ErrScopeConflict
	}

	ub := sqlbuilder.NewUpdateBuilder()
	ub.Update("posts")
	ub.Set(ub.Assign("is_read", 1))
	switch {
	case feedID != nil:
		ub.Where(ub.Equal("feed_id", *feedID))
	case folderID != nil:
		ub.Where(ub.In("feed_id",
			sqlbuilder.Buildf("SELECT id FROM feeds WHERE folder_id = %v", *folderID)))
	}

	query, args := ub.Build()
	if _, err := s.db.Exec(query, args...); err != nil {
		return fmt.Errorf("mark all read: %w", err)
	}
	return nil
}

func nullTimeValue(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
