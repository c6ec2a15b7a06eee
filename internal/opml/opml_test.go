package opml

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleOPML = `<?xml version="1.0" encoding="UTF-8"?>
<opml version="2.0">
  <head><title>Subscriptions</title></head>
  <body>
    <outline text="Tech">
      <outline text="Go Blog" type="rss" xmlUrl="https://go.dev/blog/feed.atom" htmlUrl="https://go.dev/blog"/>
      <outline text="Lobsters" type="rss" xmlUrl="https://lobste.rs/rss"/>
    </outline>
    <outline text="Weekly News" type="rss" xmlUrl="https://news.example/rss" htmlUrl="https://news.example"/>
    <outline text="Empty Section"/>
  </body>
</opml>`

func TestParse(t *testing.T) {
	entries, err := Parse(strings.NewReader(sampleOPML))
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, Entry{
		Title:  "Go Blog",
		URL:    "https://go.dev/blog/feed.atom",
		Link:   "https://go.dev/blog",
		Folder: "Tech",
	}, entries[0])
	assert.Equal(t, "Tech", entries[1].Folder)
	assert.Equal(t, "https://lobste.rs/rss", entries[1].URL)

	// Top-level feed carries no folder; the url-less outline is dropped.
	assert.Equal(t, "", entries[2].Folder)
	assert.Equal(t, "https://news.example/rss", entries[2].URL)
}

func TestParseNestedFolders(t *testing.T) {
	raw := `<?xml version="1.0"?>
<opml version="2.0">
  <body>
    <outline text="Outer">
      <outline text="Inner">
        <outline text="Deep Feed" type="rss" xmlUrl="https://deep.example/rss"/>
      </outline>
    </outline>
  </body>
</opml>`
	entries, err := Parse(strings.NewReader(raw))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	// The nearest enclosing outline names the folder.
	assert.Equal(t, "Inner", entries[0].Folder)
}

func TestParseTitleFallback(t *testing.T) {
	raw := `<?xml version="1.0"?>
<opml version="2.0">
  <body>
    <outline xmlUrl="https://untitled.example/rss"/>
  </body>
</opml>`
	entries, err := Parse(strings.NewReader(raw))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "https://untitled.example/rss", entries[0].Title)
}

func TestParseInvalid(t *testing.T) {
	_, err := Parse(strings.NewReader("not xml at all"))
	assert.Error(t, err)
}

func TestExportRoundTrip(t *testing.T) {
	in := []Entry{
		{Title: "Go Blog", URL: "https://go.dev/blog/feed.atom", Link: "https://go.dev/blog", Folder: "Tech"},
		{Title: "Weekly News", URL: "https://news.example/rss", Link: "https://news.example"},
		{Title: "Lobsters", URL: "https://lobste.rs/rss", Folder: "Tech"},
	}

	var buf bytes.Buffer
	require.NoError(t, Export(&buf, "Subscriptions", in))
	assert.Contains(t, buf.String(), `version="2.0"`)
	assert.Contains(t, buf.String(), "<title>Subscriptions</title>")

	out, err := Parse(&buf)
	require.NoError(t, err)
	require.Len(t, out, 3)

	byURL := make(map[string]Entry, len(out))
	for _, e := range out {
		byURL[e.URL] = e
	}
	// Entries sharing a folder name end up grouped under one folder outline.
	assert.Equal(t, "Tech", byURL["https://go.dev/blog/feed.atom"].Folder)
	assert.Equal(t, "Tech", byURL["https://lobste.rs/rss"].Folder)
	assert.Equal(t, "", byURL["https://news.example/rss"].Folder)
	assert.Equal(t, "https://go.dev/blog", byURL["https://go.dev/blog/feed.atom"].Link)
}
