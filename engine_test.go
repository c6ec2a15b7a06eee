package quill

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tannerhall/quill/internal/feed"
	"github.com/tannerhall/quill/internal/storage"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "quill.db")
	cfg.Fetch.ProbeFavicons = false

	engine, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	t.Cleanup(func() { engine.Close() })
	return engine
}

func rssDoc(title, link string, items ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<?xml version="1.0"?><rss version="2.0"><channel><title>%s</title><link>%s</link>`, title, link)
	for _, item := range items {
		b.WriteString(item)
	}
	b.WriteString("</channel></rss>")
	return b.String()
}

func rssItem(title, link, description string) string {
	return fmt.Sprintf(`<item><title>%s</title><link>%s</link><description><![CDATA[%s]]></description><pubDate>Mon, 02 Jan 2006 15:04:05 GMT</pubDate></item>`,
		title, link, description)
}

func serveRSS(t *testing.T, doc *string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(*doc))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAddFeed(t *testing.T) {
	engine := testEngine(t)
	doc := rssDoc("My Blog", "https://blog.example",
		rssItem("Hello", "https://blog.example/hello", "first post"))
	srv := serveRSS(t, &doc)

	f, err := engine.AddFeed(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("AddFeed failed: %v", err)
	}
	if f.Title != "My Blog" {
		t.Errorf("title = %q", f.Title)
	}
	if !f.HasUnread {
		t.Error("new feed with posts should have unread")
	}

	posts, err := engine.Posts(PostFilter{FeedID: &f.ID})
	if err != nil {
		t.Fatalf("Posts failed: %v", err)
	}
	if len(posts) != 1 {
		t.Fatalf("expected 1 post, got %d", len(posts))
	}

	// Same url again is an explicit duplicate.
	if _, err := engine.AddFeed(context.Background(), srv.URL, nil); err != ErrFeedExists {
		t.Fatalf("duplicate AddFeed: err = %v, want ErrFeedExists", err)
	}
}

func TestAddFeedUnreachable(t *testing.T) {
	engine := testEngine(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := engine.AddFeed(context.Background(), url, nil)
	var fetchErr *feed.FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("err = %v, want *feed.FetchError", err)
	}

	// A failed explicit add must not leave a subscription behind.
	feeds, err := engine.Feeds()
	if err != nil {
		t.Fatalf("Feeds failed: %v", err)
	}
	if len(feeds) != 0 {
		t.Fatalf("expected no feeds, got %d", len(feeds))
	}
}

func TestPostsSummaryStripped(t *testing.T) {
	engine := testEngine(t)
	doc := rssDoc("My Blog", "https://blog.example",
		rssItem("Styled", "https://blog.example/styled",
			`<p>Hello <b>world</b> &amp; <a href="https://evil.example">friends</a></p>`))
	srv := serveRSS(t, &doc)

	f, err := engine.AddFeed(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("AddFeed failed: %v", err)
	}

	posts, err := engine.Posts(PostFilter{FeedID: &f.ID})
	if err != nil {
		t.Fatalf("Posts failed: %v", err)
	}
	got := posts[0].Summary
	if strings.ContainsAny(got, "<>") {
		t.Errorf("summary still contains markup: %q", got)
	}
	if !strings.Contains(got, "Hello world & friends") {
		t.Errorf("summary text mangled: %q", got)
	}

	// The stored body keeps its markup; only the listing summary is stripped.
	content, err := engine.PostContent(posts[0].ID)
	if err != nil {
		t.Fatalf("PostContent failed: %v", err)
	}
	if !strings.Contains(content, "<b>world</b>") {
		t.Errorf("content lost markup: %q", content)
	}
}

func TestMarkAllReadScopeConflict(t *testing.T) {
	engine := testEngine(t)
	feedID, folderID := int64(1), int64(2)
	if err := engine.MarkAllRead(&feedID, &folderID); err != ErrScopeConflict {
		t.Fatalf("err = %v, want ErrScopeConflict", err)
	}
}

func TestFolderLifecycle(t *testing.T) {
	engine := testEngine(t)

	id, err := engine.CreateFolder("Tech")
	if err != nil {
		t.Fatalf("CreateFolder failed: %v", err)
	}
	if _, err := engine.CreateFolder("Tech"); err != ErrFolderExists {
		t.Fatalf("duplicate folder: err = %v, want ErrFolderExists", err)
	}

	if _, err := engine.CreateFolder("News"); err != nil {
		t.Fatalf("CreateFolder failed: %v", err)
	}
	if err := engine.RenameFolder(id, "News"); err != ErrFolderExists {
		t.Fatalf("rename onto taken name: err = %v, want ErrFolderExists", err)
	}

	if err := engine.DeleteFolder(id); err != nil {
		t.Fatalf("DeleteFolder failed: %v", err)
	}
	folders, err := engine.Folders()
	if err != nil {
		t.Fatalf("Folders failed: %v", err)
	}
	if len(folders) != 1 || folders[0].Name != "News" {
		t.Errorf("folders = %+v", folders)
	}
}

func TestImportAndExportOPML(t *testing.T) {
	engine := testEngine(t)

	docA := rssDoc("Go Blog", "https://go.example",
		rssItem("Release", "https://go.example/release", "notes"))
	srvA := serveRSS(t, &docA)
	docB := rssDoc("Lobsters", "https://lobsters.example",
		rssItem("Thread", "https://lobsters.example/t1", "discussion"))
	srvB := serveRSS(t, &docB)

	opmlDoc := fmt.Sprintf(`<?xml version="1.0"?>
<opml version="2.0"><body>
  <outline text="Tech">
    <outline text="Go Blog" type="rss" xmlUrl="%s"/>
    <outline text="Lobsters" type="rss" xmlUrl="%s"/>
  </outline>
  <outline text="Broken" type="rss" xmlUrl="http://127.0.0.1:1/feed"/>
</body></opml>`, srvA.URL, srvB.URL)

	result, err := engine.ImportOPML(context.Background(), strings.NewReader(opmlDoc))
	if err != nil {
		t.Fatalf("ImportOPML failed: %v", err)
	}
	if result.Success != 2 || result.Failed != 1 {
		t.Fatalf("result = %+v", result)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("expected 1 aggregated error, got %v", result.Errors)
	}

	// All three urls are subscribed, the broken one carrying its error.
	feeds, err := engine.Feeds()
	if err != nil {
		t.Fatalf("Feeds failed: %v", err)
	}
	if len(feeds) != 3 {
		t.Fatalf("expected 3 feeds, got %d", len(feeds))
	}
	for _, f := range feeds {
		if f.Title == "Broken" && f.LastFetchError == nil {
			t.Error("broken feed has no recorded fetch error")
		}
	}

	// Importing the same document again changes nothing.
	again, err := engine.ImportOPML(context.Background(), strings.NewReader(opmlDoc))
	if err != nil {
		t.Fatalf("ImportOPML failed: %v", err)
	}
	if again.Success != 0 || again.Skipped != 3 {
		t.Fatalf("re-import result = %+v", again)
	}

	var buf strings.Builder
	if err := engine.ExportOPML(&buf); err != nil {
		t.Fatalf("ExportOPML failed: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `text="Tech"`) {
		t.Error("export lost the folder grouping")
	}
	if !strings.Contains(out, srvA.URL) || !strings.Contains(out, srvB.URL) {
		t.Error("export missing feed urls")
	}
}

func TestRefreshPicksUpNewPosts(t *testing.T) {
	engine := testEngine(t)
	doc := rssDoc("My Blog", "https://blog.example",
		rssItem("First", "https://blog.example/1", "one"))
	srv := serveRSS(t, &doc)

	f, err := engine.AddFeed(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("AddFeed failed: %v", err)
	}

	// Freshly added: nothing due even when forced.
	result, err := engine.Refresh(context.Background(), true)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if result.Due != 0 {
		t.Fatalf("fresh feed reported due: %+v", result)
	}

	// The source publishes a new item and enough time passes.
	doc = rssDoc("My Blog", "https://blog.example",
		rssItem("Second", "https://blog.example/2", "two"),
		rssItem("First", "https://blog.example/1", "one"))
	past := time.Now().UTC().Add(-10 * time.Minute)
	if err := engine.store.UpdateFeed(f.ID, storage.FeedUpdate{LastFetch: &past}); err != nil {
		t.Fatalf("backdating last_fetch failed: %v", err)
	}

	result, err = engine.Refresh(context.Background(), true)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if result.Due != 1 || result.Failed != 0 {
		t.Fatalf("result = %+v", result)
	}
	if result.NewPosts != 1 {
		t.Fatalf("new posts = %d, want 1", result.NewPosts)
	}

	posts, err := engine.Posts(PostFilter{FeedID: &f.ID})
	if err != nil {
		t.Fatalf("Posts failed: %v", err)
	}
	if len(posts) != 2 {
		t.Fatalf("expected 2 posts, got %d", len(posts))
	}
}

func TestEvents(t *testing.T) {
	engine := testEngine(t)
	doc := rssDoc("My Blog", "https://blog.example",
		rssItem("First", "https://blog.example/1", "one"))
	srv := serveRSS(t, &doc)

	f, err := engine.AddFeed(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("AddFeed failed: %v", err)
	}
	past := time.Now().UTC().Add(-10 * time.Minute)
	if err := engine.store.UpdateFeed(f.ID, storage.FeedUpdate{LastFetch: &past}); err != nil {
		t.Fatalf("backdating last_fetch failed: %v", err)
	}

	if _, err := engine.Refresh(context.Background(), true); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	select {
	case ev := <-engine.Events():
		if ev.FeedID != f.ID {
			t.Errorf("event feed id = %d, want %d", ev.FeedID, f.ID)
		}
		if ev.Err != nil {
			t.Errorf("event error: %v", ev.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered after refresh")
	}
}

func TestStartRefreshLoopStops(t *testing.T) {
	engine := testEngine(t)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		engine.StartRefreshLoop(time.Hour, stop)
		close(done)
	}()

	close(stop)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop")
	}
}

func TestSetFetchFrequencyValidation(t *testing.T) {
	engine := testEngine(t)
	if err := engine.SetFetchFrequency(1, 0); err == nil {
		t.Fatal("zero frequency accepted")
	}
	if err := engine.SetFeedView(1, 7); err == nil {
		t.Fatal("unknown view accepted")
	}
}
