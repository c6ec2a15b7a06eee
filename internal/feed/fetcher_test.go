package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("User-Agent"); got != userAgent {
			t.Errorf("User-Agent = %q, want %q", got, userAgent)
		}
		w.Write([]byte(rssBasic))
	}))
	defer srv.Close()

	f := NewFetcher(0, false)
	feed, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if feed.Title != "Example Blog" {
		t.Errorf("title = %q", feed.Title)
	}
	if len(feed.Posts) != 2 {
		t.Errorf("posts = %d, want 2", len(feed.Posts))
	}
}

func TestFetchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := NewFetcher(0, false)
	_, err := f.Fetch(context.Background(), srv.URL)
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("err = %v, want *FetchError", err)
	}
	if fetchErr.URL != srv.URL {
		t.Errorf("error url = %q, want %q", fetchErr.URL, srv.URL)
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("error does not name the status: %v", err)
	}
}

func TestFetchTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	f := NewFetcher(50*time.Millisecond, false)
	start := time.Now()
	_, err := f.Fetch(context.Background(), srv.URL)
	elapsed := time.Since(start)

	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("err = %v, want *TimeoutError", err)
	}
	if timeoutErr.URL != srv.URL {
		t.Errorf("error url = %q, want %q", timeoutErr.URL, srv.URL)
	}
	if elapsed > 5*time.Second {
		t.Errorf("fetch hung for %s despite 50ms timeout", elapsed)
	}
}

func TestFetchParseError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body>definitely not a feed</body></html>"))
	}))
	defer srv.Close()

	f := NewFetcher(0, false)
	_, err := f.Fetch(context.Background(), srv.URL)
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("err = %v, want *ParseError", err)
	}
}

func TestFetchConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close() // nothing listening anymore

	f := NewFetcher(0, false)
	_, err := f.Fetch(context.Background(), url)
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("err = %v, want *FetchError", err)
	}
}

func TestValidateIconClearsMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := NewFetcher(0, true)
	feed := &Feed{Icon: srv.URL + "/favicon.ico", IconGuessed: true}
	f.validateIcon(context.Background(), feed)

	if feed.Icon != "" || feed.IconGuessed {
		t.Errorf("missing icon not cleared: icon=%q guessed=%v", feed.Icon, feed.IconGuessed)
	}
}

func TestValidateIconKeepsPresent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("icon bytes"))
	}))
	defer srv.Close()

	f := NewFetcher(0, true)
	icon := srv.URL + "/favicon.ico"
	feed := &Feed{Icon: icon, IconGuessed: true}
	f.validateIcon(context.Background(), feed)

	if feed.Icon != icon {
		t.Errorf("present icon was cleared")
	}
}
