// Package mirror downloads a content tree to local disk. The driver tracks
// its position in an explicit directory stack below the output root and
// never changes the process working directory.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"bmirror/internal/bspace"
	"bmirror/internal/cas"
	"bmirror/internal/fsutil"
	"bmirror/internal/transport"
)

// AssignmentsDir is the per-site directory holding assignment attachments.
const AssignmentsDir = "assignments"

// FSError reports a failed local filesystem operation.
type FSError struct {
	Op   string
	Path string
	Err  error
}

func (e *FSError) Error() string {
	return fmt.Sprintf("mirror: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FSError) Unwrap() error { return e.Err }

// Progress is reported after each file is written.
type Progress struct {
	Path string // relative to the output root, slash-separated
	URL  string
	Size int64
}

type Option func(*Driver)

func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) {
		if l != nil {
			d.log = l
		}
	}
}

// WithManifest records every written file in m.
func WithManifest(m *Manifest) Option {
	return func(d *Driver) { d.manifest = m }
}

// WithProgress calls fn after every written file.
func WithProgress(fn func(Progress)) Option {
	return func(d *Driver) { d.progress = fn }
}

// Driver writes sites, folders, files and assignments below root. It is not
// safe for concurrent use.
type Driver struct {
	req      bspace.Requester
	root     string
	stack    []string
	log      *slog.Logger
	manifest *Manifest
	progress func(Progress)
	now      func() time.Time
}

func New(req bspace.Requester, root string, opts ...Option) *Driver {
	d := &Driver{req: req, root: filepath.Clean(root), log: slog.Default(), now: time.Now}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dir returns the current directory.
func (d *Driver) Dir() string {
	return filepath.Join(append([]string{d.root}, d.stack...)...)
}

// enter creates name under the current directory and makes it current. The
// returned func restores the previous directory.
func (d *Driver) enter(name string) (func(), error) {
	depth := len(d.stack)
	dir := filepath.Join(d.Dir(), fsutil.SafeName(name))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &FSError{Op: "mkdir", Path: dir, Err: err}
	}
	d.stack = append(d.stack, fsutil.SafeName(name))
	return func() { d.stack = d.stack[:depth] }, nil
}

// Site writes the site's assignments under "<title>/assignments" and its
// resource tree under "<title>/resources - <title>".
func (d *Driver) Site(ctx context.Context, s *bspace.Site) error {
	title, err := s.Title()
	if err != nil {
		return err
	}
	leave, err := d.enter(title)
	if err != nil {
		return err
	}
	defer leave()
	d.log.Info("downloading site", slog.String("site", title))

	if err := d.assignments(ctx, s); err != nil {
		return err
	}
	root, err := s.Resources(ctx)
	if err != nil {
		return err
	}
	return d.Folder(ctx, root, "resources - "+title)
}

func (d *Driver) assignments(ctx context.Context, s *bspace.Site) error {
	list, err := s.Assignments(ctx)
	if err != nil {
		return err
	}
	leave, err := d.enter(AssignmentsDir)
	if err != nil {
		return err
	}
	defer leave()
	for _, a := range list {
		if err := d.Assignment(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

// Folder writes f's items, in listing order, into a directory called name
// (or the folder title when name is empty) below the current directory.
func (d *Driver) Folder(ctx context.Context, f *bspace.Folder, name string) error {
	if name == "" {
		name = f.Title()
	}
	leave, err := d.enter(name)
	if err != nil {
		return err
	}
	defer leave()

	items, err := f.Items(ctx)
	if err != nil {
		return err
	}
	for _, it := range items {
		switch it := it.(type) {
		case *bspace.Folder:
			err = d.Folder(ctx, it, "")
		case *bspace.File:
			err = d.File(ctx, it)
		default:
			err = fmt.Errorf("mirror: unsupported item %T", it)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// File writes f into the current directory, replacing any existing file.
func (d *Driver) File(ctx context.Context, f *bspace.File) error {
	return d.fetch(ctx, f.URL(), f.Filename())
}

// Assignment writes every attachment flat into the current directory. Two
// attachments with the same name overwrite each other.
func (d *Driver) Assignment(ctx context.Context, a *bspace.Assignment) error {
	for _, att := range a.Attachments {
		if err := d.fetch(ctx, att.URL, att.Name); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) fetch(ctx context.Context, rawURL, filename string) error {
	resp, err := d.req.Get(ctx, rawURL, nil)
	if err != nil {
		return err
	}
	if err := cas.ExpectOK(resp); err != nil {
		return err
	}
	defer resp.Body.Close()

	dst := filepath.Join(d.Dir(), fsutil.SafeName(filename))
	tmp := filepath.Join(d.Dir(), "."+fsutil.SafeName(filename)+".part")
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return &FSError{Op: "create", Path: tmp, Err: err}
	}
	sum, n, err := copyHashed(ctx, fsWriter{out, tmp}, netReader{resp.Body, rawURL})
	if cerr := out.Close(); err == nil && cerr != nil {
		err = &FSError{Op: "close", Path: tmp, Err: cerr}
	}
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return &FSError{Op: "rename", Path: dst, Err: err}
	}

	rel, _ := filepath.Rel(d.root, dst)
	rel = filepath.ToSlash(rel)
	d.log.Debug("wrote file", slog.String("path", rel), slog.Int64("bytes", n))
	if d.manifest != nil {
		d.manifest.Record(Entry{Path: rel, URL: rawURL, Size: n, BLAKE2b: sum, Fetched: d.now().UTC()})
	}
	if d.progress != nil {
		d.progress(Progress{Path: rel, URL: rawURL, Size: n})
	}
	return nil
}

// fsWriter reports write failures as *FSError.
type fsWriter struct {
	f    *os.File
	path string
}

func (w fsWriter) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	if err != nil {
		return n, &FSError{Op: "write", Path: w.path, Err: err}
	}
	return n, nil
}

// netReader reports body read failures as *transport.Error.
type netReader struct {
	r   io.Reader
	url string
}

func (r netReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, &transport.Error{Method: http.MethodGet, URL: r.url, Err: err}
	}
	return n, err
}
