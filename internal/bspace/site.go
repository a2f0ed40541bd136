package bspace

import (
	"context"
	"fmt"

	"bmirror/internal/lazy"
)

// Site is one remote workspace. Its attributes come straight from the site
// listing and are only checked when read.
type Site struct {
	c     *Client
	data  record
	cache lazy.Cache
}

// ID returns the site identifier ("id").
func (s *Site) ID() (string, error) {
	return s.data.str("id")
}

// Title returns the display title ("entityTitle").
func (s *Site) Title() (string, error) {
	return s.data.str("entityTitle")
}

// Attr returns any raw attribute of the site listing entry.
func (s *Site) Attr(key string) (any, error) {
	return s.data.attr(key)
}

func (s *Site) String() string {
	if t, err := s.Title(); err == nil {
		return t
	}
	if id, err := s.ID(); err == nil {
		return id
	}
	return "(untitled site)"
}

// Pages fetches the site's pages once.
func (s *Site) Pages(ctx context.Context) ([]*Page, error) {
	return lazy.Resolve(&s.cache, "pages", func() ([]*Page, error) {
		id, err := s.ID()
		if err != nil {
			return nil, err
		}
		var raw []map[string]any
		if err := s.c.getJSON(ctx, siteURL(s.c.eps.SitePages, id), &raw); err != nil {
			return nil, err
		}
		pages := make([]*Page, 0, len(raw))
		for _, p := range raw {
			pages = append(pages, &Page{data: p})
		}
		return pages, nil
	})
}

// Assignments fetches the site's assignments once.
func (s *Site) Assignments(ctx context.Context) ([]*Assignment, error) {
	return lazy.Resolve(&s.cache, "assignments", func() ([]*Assignment, error) {
		id, err := s.ID()
		if err != nil {
			return nil, err
		}
		var doc assignmentList
		if err := s.c.getJSON(ctx, siteURL(s.c.eps.SiteAssignments, id), &doc); err != nil {
			return nil, err
		}
		return doc.assignments()
	})
}

// Resources returns the site's root resource folder. Its items are fetched
// on the first call to Items.
func (s *Site) Resources(ctx context.Context) (*Folder, error) {
	return lazy.Resolve(&s.cache, "resources", func() (*Folder, error) {
		id, err := s.ID()
		if err != nil {
			return nil, err
		}
		title, err := s.Title()
		if err != nil {
			return nil, err
		}
		return NewFolder(s.c, siteURL(s.c.eps.SiteContent, id), title), nil
	})
}

// Page is a site page. Pages are listed but their content is not fetched.
type Page struct {
	data record
}

func (p *Page) Title() (string, error) {
	return p.data.str("title")
}

func (p *Page) Attr(key string) (any, error) {
	return p.data.attr(key)
}

// Attachment is one downloadable file of an assignment.
type Attachment struct {
	URL  string
	Name string
}

type Assignment struct {
	Title       string
	Attachments []Attachment
}

type assignmentList struct {
	Collection *[]struct {
		Title       *string `json:"title"`
		Attachments []struct {
			URL  *string `json:"url"`
			Name *string `json:"name"`
		} `json:"attachments"`
	} `json:"assignment_collection"`
}

func (l assignmentList) assignments() ([]*Assignment, error) {
	if l.Collection == nil {
		return nil, fmt.Errorf("%w: assignment list has no assignment_collection", ErrData)
	}
	out := make([]*Assignment, 0, len(*l.Collection))
	for i, a := range *l.Collection {
		if a.Title == nil {
			return nil, fmt.Errorf("%w: assignment %d has no title", ErrData, i)
		}
		as := &Assignment{Title: *a.Title}
		for j, att := range a.Attachments {
			if att.URL == nil || att.Name == nil {
				return nil, fmt.Errorf("%w: assignment %q attachment %d needs url and name", ErrData, *a.Title, j)
			}
			as.Attachments = append(as.Attachments, Attachment{URL: *att.URL, Name: *att.Name})
		}
		out = append(out, as)
	}
	return out, nil
}
