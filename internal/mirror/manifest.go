package mirror

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/crypto/blake2b"

	"bmirror/internal/fsutil"
)

// ManifestName is the manifest file kept in the output root.
const ManifestName = ".bmirror.json"

// Entry describes one file written by the driver. Path is slash-separated
// and relative to the output root.
type Entry struct {
	Path    string    `json:"path"`
	URL     string    `json:"url"`
	Size    int64     `json:"size"`
	BLAKE2b string    `json:"blake2b"`
	Fetched time.Time `json:"fetched"`
}

// Manifest records every file of a mirror so it can be verified later.
type Manifest struct {
	root    string
	entries map[string]Entry
}

type manifestFile struct {
	Version int     `json:"version"`
	Files   []Entry `json:"files"`
}

// LoadManifest reads the manifest under root. A missing manifest yields an
// empty one.
func LoadManifest(root string) (*Manifest, error) {
	m := &Manifest{root: root, entries: map[string]Entry{}}
	p := filepath.Join(root, ManifestName)
	b, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return nil, &FSError{Op: "read", Path: p, Err: err}
	}
	var doc manifestFile
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", p, err)
	}
	for _, e := range doc.Files {
		m.entries[e.Path] = e
	}
	return m, nil
}

func (m *Manifest) Root() string { return m.root }
func (m *Manifest) Len() int     { return len(m.entries) }

// Record adds e, replacing any entry with the same path.
func (m *Manifest) Record(e Entry) {
	m.entries[e.Path] = e
}

func (m *Manifest) Lookup(rel string) (Entry, bool) {
	e, ok := m.entries[rel]
	return e, ok
}

// Entries returns all entries sorted by path.
func (m *Manifest) Entries() []Entry {
	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Save writes the manifest atomically.
func (m *Manifest) Save() error {
	b, err := json.MarshalIndent(manifestFile{Version: 1, Files: m.Entries()}, "", "  ")
	if err != nil {
		return err
	}
	p := filepath.Join(m.root, ManifestName)
	if err := fsutil.WriteFileAtomic(p, b, 0o644); err != nil {
		return &FSError{Op: "write", Path: p, Err: err}
	}
	return nil
}

type Status int

const (
	StatusOK Status = iota
	StatusMissing
	StatusModified
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusMissing:
		return "missing"
	case StatusModified:
		return "modified"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

type Result struct {
	Entry  Entry
	Status Status
}

// Verify re-hashes every recorded file and reports its status, in path order.
func (m *Manifest) Verify(ctx context.Context) ([]Result, error) {
	entries := m.Entries()
	out := make([]Result, 0, len(entries))
	for _, e := range entries {
		abs, err := fsutil.JoinWithinRoot(m.root, e.Path)
		if err != nil {
			return nil, &FSError{Op: "resolve", Path: e.Path, Err: err}
		}
		sum, size, err := hashFile(ctx, abs)
		switch {
		case errors.Is(err, os.ErrNotExist):
			out = append(out, Result{Entry: e, Status: StatusMissing})
		case err != nil:
			return nil, err
		case sum != e.BLAKE2b || size != e.Size:
			out = append(out, Result{Entry: e, Status: StatusModified})
		default:
			out = append(out, Result{Entry: e, Status: StatusOK})
		}
	}
	return out, nil
}

func hashFile(ctx context.Context, p string) (string, int64, error) {
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", 0, err
		}
		return "", 0, &FSError{Op: "open", Path: p, Err: err}
	}
	defer f.Close()
	return copyHashed(ctx, io.Discard, f)
}

// copyHashed copies src to dst in chunks, checking ctx between chunks, and
// returns the BLAKE2b-256 of the copied bytes.
func copyHashed(ctx context.Context, dst io.Writer, src io.Reader) (string, int64, error) {
	h, _ := blake2b.New256(nil)
	w := io.MultiWriter(dst, h)
	var n int64
	buf := make([]byte, 256*1024)
	for {
		if err := ctx.Err(); err != nil {
			return "", 0, err
		}
		rn, rerr := src.Read(buf)
		if rn > 0 {
			if _, err := w.Write(buf[:rn]); err != nil {
				return "", 0, err
			}
			n += int64(rn)
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return "", 0, rerr
		}
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
