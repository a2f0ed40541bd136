// Package bspace models the content tree of a Sakai installation: sites and
// their pages, assignments and resource folders. Every remote-derived child
// is fetched on first access and cached on its owner for the lifetime of the
// process.
package bspace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"bmirror/internal/cas"
	"bmirror/internal/lazy"
	"bmirror/internal/transport"
)

const defaultMaxDepth = 32

var (
	// ErrData means an expected key is missing from a remote JSON record.
	ErrData = errors.New("bspace: missing data")

	// ErrNoSite is returned by Select when nothing matches.
	ErrNoSite = errors.New("bspace: no such site")
)

// Requester is the authenticated request surface the tree fetches through.
// *cas.Session implements it.
type Requester interface {
	Get(ctx context.Context, rawURL string, params url.Values) (*transport.Response, error)
}

// Endpoints locate the remote listings. The per-site entries are format
// strings taking the (path-escaped) site id.
type Endpoints struct {
	SiteList        string
	SitePages       string
	SiteAssignments string
	SiteContent     string
}

// DefaultEndpoints returns the Sakai direct/access endpoints under base.
func DefaultEndpoints(base string) Endpoints {
	base = strings.TrimRight(base, "/")
	return Endpoints{
		SiteList:        base + "/direct/site.json",
		SitePages:       base + "/direct/site/%s/pages.json",
		SiteAssignments: base + "/direct/assignment/site/%s.json",
		SiteContent:     base + "/access/content/group/%s/",
	}
}

func siteURL(format, id string) string {
	return fmt.Sprintf(format, url.PathEscape(id))
}

type Option func(*Client)

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithMaxDepth bounds how deep resource folders are followed below a site's
// root folder.
func WithMaxDepth(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxDepth = n
		}
	}
}

// Client is the root of the tree. It is not safe for concurrent use.
type Client struct {
	req      Requester
	eps      Endpoints
	log      *slog.Logger
	maxDepth int
	cache    lazy.Cache
}

func New(req Requester, eps Endpoints, opts ...Option) *Client {
	c := &Client{req: req, eps: eps, log: slog.Default(), maxDepth: defaultMaxDepth}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Requester returns the request surface the tree was built with.
func (c *Client) Requester() Requester {
	return c.req
}

// Sites fetches the site directory once and returns the sites in listing order.
func (c *Client) Sites(ctx context.Context) ([]*Site, error) {
	return lazy.Resolve(&c.cache, "sites", func() ([]*Site, error) {
		var doc struct {
			Sites *[]map[string]any `json:"site_collection"`
		}
		if err := c.getJSON(ctx, c.eps.SiteList, &doc); err != nil {
			return nil, err
		}
		if doc.Sites == nil {
			return nil, fmt.Errorf("%w: site list has no site_collection", ErrData)
		}
		sites := make([]*Site, 0, len(*doc.Sites))
		for _, raw := range *doc.Sites {
			sites = append(sites, &Site{c: c, data: raw})
		}
		return sites, nil
	})
}

// Select picks a site by list index, id or exact title, in that order.
func Select(sites []*Site, sel string) (*Site, error) {
	if i, err := strconv.Atoi(sel); err == nil && i >= 0 && i < len(sites) {
		return sites[i], nil
	}
	for _, s := range sites {
		if id, err := s.ID(); err == nil && id == sel {
			return s, nil
		}
	}
	for _, s := range sites {
		if t, err := s.Title(); err == nil && t == sel {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrNoSite, sel)
}

func (c *Client) getJSON(ctx context.Context, rawURL string, v any) error {
	resp, err := c.req.Get(ctx, rawURL, nil)
	if err != nil {
		return err
	}
	if err := cas.ExpectOK(resp); err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: decode %s: %v", cas.ErrProtocol, rawURL, err)
	}
	return nil
}

// record is a raw remote attribute map with typed accessors.
type record map[string]any

func (r record) attr(key string) (any, error) {
	v, ok := r[key]
	if !ok || v == nil {
		return nil, fmt.Errorf("%w: key %q", ErrData, key)
	}
	return v, nil
}

func (r record) str(key string) (string, error) {
	v, err := r.attr(key)
	if err != nil {
		return "", err
	}
	switch t := v.(type) {
	case string:
		return t, nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	default:
		return "", fmt.Errorf("%w: key %q is %T, not a string", ErrData, key, v)
	}
}
