package bspace

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"bmirror/internal/cas"
	"bmirror/internal/lazy"
)

// Item is a child of a resource folder: *Folder or *File.
type Item interface {
	Title() string
	URL() string
}

// Folder is a remote directory listing. Its items are fetched once, on the
// first call to Items, and never change afterwards.
type Folder struct {
	c     *Client
	url   string
	title string
	depth int
	// seen is shared by every folder of one tree and holds listing
	// addresses already turned into folders.
	seen  map[string]bool
	items lazy.Value[[]Item]
}

// NewFolder returns the root of a resource tree at rawURL.
func NewFolder(c *Client, rawURL, title string) *Folder {
	return &Folder{c: c, url: rawURL, title: title, seen: map[string]bool{rawURL: true}}
}

func (f *Folder) Title() string { return f.title }
func (f *Folder) URL() string   { return f.url }
func (f *Folder) Depth() int    { return f.depth }

// Items fetches and parses the folder listing once and returns its folders
// and files in listing order.
func (f *Folder) Items(ctx context.Context) ([]Item, error) {
	return f.items.Get(func() ([]Item, error) {
		resp, err := f.c.req.Get(ctx, f.url, nil)
		if err != nil {
			return nil, err
		}
		if err := cas.ExpectOK(resp); err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		return f.parse(resp.Body)
	})
}

func (f *Folder) child(href, title string) *Folder {
	return &Folder{c: f.c, url: JoinURL(f.url, href), title: title, depth: f.depth + 1, seen: f.seen}
}

// File is a downloadable leaf of a resource folder.
type File struct {
	url      string
	title    string
	filename string
}

// NewFile builds a file entry found under parent with the given href.
// The destination filename is the last path segment of href.
func NewFile(parent, href, title string) *File {
	return &File{url: JoinURL(parent, href), title: title, filename: hrefFilename(href, title)}
}

func (f *File) Title() string    { return f.title }
func (f *File) URL() string      { return f.url }
func (f *File) Filename() string { return f.filename }

// JoinURL appends href to base with exactly one slash between them. Listing
// hrefs are relative to the folder address, never resolved against the host.
func JoinURL(base, href string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(href, "/")
}

func hrefFilename(href, title string) string {
	p := href
	if u, err := url.Parse(href); err == nil {
		p = u.Path
	}
	name := path.Base(strings.TrimRight(p, "/"))
	if dec, err := url.PathUnescape(name); err == nil {
		name = dec
	}
	if name == "" || name == "." || name == "/" {
		return title
	}
	return name
}

// Listing row classes.
const (
	classFolder   = "folder"
	classUpFolder = "upfolder"
	classFile     = "file"
)

func (f *Folder) parse(r io.Reader) ([]Item, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("%w: listing %s: %v", cas.ErrProtocol, f.url, err)
	}
	var items []Item
	for _, li := range findAll(doc, atom.Li) {
		classes := strings.Fields(attr(li, "class"))
		if len(classes) == 0 {
			continue
		}
		kind := rowKind(classes)
		log := f.c.log.With(slog.String("folder", f.url), slog.String("class", strings.Join(classes, " ")))
		switch kind {
		case "":
			log.Warn("skipping listing entry with unknown class")
			continue
		case classUpFolder:
			continue
		}
		a := first(li, atom.A)
		href := ""
		if a != nil {
			href = strings.TrimSpace(attr(a, "href"))
		}
		if href == "" {
			log.Warn("skipping listing entry without link")
			continue
		}
		title := text(a)
		if title == "" {
			title = hrefFilename(href, href)
		}

		switch kind {
		case classFolder:
			child := f.child(href, title)
			if f.seen[child.url] {
				log.Warn("skipping folder already in tree", slog.String("url", child.url))
				continue
			}
			if child.depth > f.c.maxDepth {
				log.Warn("skipping folder beyond depth limit", slog.String("url", child.url), slog.Int("depth", child.depth))
				continue
			}
			f.seen[child.url] = true
			items = append(items, child)
		case classFile:
			if isLinkResource(a) {
				// URL-type resources are not supported.
				continue
			}
			items = append(items, NewFile(f.url, href, title))
		}
	}
	return items, nil
}

func rowKind(classes []string) string {
	for _, c := range classes {
		switch c {
		case classFolder, classUpFolder, classFile:
			return c
		}
	}
	return ""
}

func isLinkResource(a *html.Node) bool {
	for _, c := range strings.Fields(attr(a, "class")) {
		if c == "url" || c == "link" {
			return true
		}
	}
	return false
}

func findAll(n *html.Node, a atom.Atom) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == a {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

func first(n *html.Node, a atom.Atom) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == a {
			return c
		}
		if found := first(c, a); found != nil {
			return found
		}
	}
	return nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func text(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}
