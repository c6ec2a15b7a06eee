// Package opml parses and generates OPML subscription documents.
package opml

import (
	"encoding/xml"
	"fmt"
	"io"
	"time"
)

type document struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr"`
	Head    head     `xml:"head"`
	Body    body     `xml:"body"`
}

type head struct {
	Title       string `xml:"title,omitempty"`
	DateCreated string `xml:"dateCreated,omitempty"`
}

type body struct {
	Outlines []outline `xml:"outline"`
}

type outline struct {
	Text     string    `xml:"text,attr"`
	Title    string    `xml:"title,attr,omitempty"`
	Type     string    `xml:"type,attr,omitempty"`
	XMLURL   string    `xml:"xmlUrl,attr,omitempty"`
	HTMLURL  string    `xml:"htmlUrl,attr,omitempty"`
	Outlines []outline `xml:"outline,omitempty"`
}

// Entry is one flattened feed candidate. Folder is the name of the nearest
// enclosing outline node, or "" for top-level feeds.
type Entry struct {
	Title  string
	URL    string
	Link   string
	Folder string
}

// Parse decodes an OPML document into a flat entry list. An outline with
// children acts as a folder whose name propagates to descendant feeds;
// outlines without a feed url are dropped silently.
func Parse(r io.Reader) ([]Entry, error) {
	var doc document
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode opml: %w", err)
	}

	var entries []Entry
	var walk func(outlines []outline, folder string)
	walk = func(outlines []outline, folder string) {
		for _, o := range outlines {
			if o.XMLURL != "" {
				title := o.Title
				if title == "" {
					title = o.Text
				}
				if title == "" {
					title = o.XMLURL
				}
				entries = append(entries, Entry{
					Title:  title,
					URL:    o.XMLURL,
					Link:   o.HTMLURL,
					Folder: folder,
				})
				continue
			}
			if len(o.Outlines) > 0 {
				name := o.Text
				if name == "" {
					name = o.Title
				}
				walk(o.Outlines, name)
			}
		}
	}
	walk(doc.Body.Outlines, "")
	return entries, nil
}

// Export writes a version-2.0 OPML document. Entries sharing a folder name
// are wrapped in one folder outline; entries without a folder sit at the top
// level, in input order.
func Export(w io.Writer, title string, entries []Entry) error {
	doc := document{
		Version: "2.0",
		Head: head{
			Title:       title,
			DateCreated: time.Now().Format(time.RFC1123Z),
		},
	}

	folderIndex := make(map[string]int)
	for _, e := range entries {
		feedOutline := outline{
			Text:    e.Title,
			Title:   e.Title,
			Type:    "rss",
			XMLURL:  e.URL,
			HTMLURL: e.Link,
		}
		if e.Folder == "" {
			doc.Body.Outlines = append(doc.Body.Outlines, feedOutline)
			continue
		}
		i, ok := folderIndex[e.Folder]
		if !ok {
			doc.Body.Outlines = append(doc.Body.Outlines, outline{
				Text:  e.Folder,
				Title: e.Folder,
			})
			i = len(doc.Body.Outlines) - 1
			folderIndex[e.Folder] = i
		}
		doc.Body.Outlines[i].Outlines = append(doc.Body.Outlines[i].Outlines, feedOutline)
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode opml: %w", err)
	}
	if _, err := w.Write([]byte(xml.Header)); err != nil {
		return err
	}
	if _, err := w.Write(out); err != nil {
		return err
	}
	return nil
}
