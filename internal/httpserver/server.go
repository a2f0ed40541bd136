// Package httpserver serves a mirror output directory read-only over plain
// HTTP and WebDAV.
package httpserver

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/net/webdav"

	"bmirror/internal/auth"
	"bmirror/internal/config"
	"bmirror/internal/fsutil"
	"bmirror/internal/mirror"
)

type Options struct {
	// Root is the mirror output directory.
	Root string
	// Users enables BasicAuth when non-empty.
	Users  map[string]config.User
	Logger *slog.Logger
}

type Server struct {
	root  string
	users map[string]config.User
	log   *slog.Logger
}

func New(opts Options) (*Server, error) {
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, err
	}
	st, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Server{root: root, users: opts.Users, log: log}, nil
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "ok\n")
	})

	dav := &webdav.Handler{
		Prefix:     "/dav",
		FileSystem: davFS{webdav.Dir(s.root)},
		LockSystem: webdav.NewMemLS(),
		Logger: func(r *http.Request, err error) {
			if err != nil {
				s.log.Debug("webdav", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.Any("error", err))
			}
		},
	}
	mux.Handle("/dav/", readOnly(dav))

	mux.Handle("/f/", readOnly(http.HandlerFunc(s.handleFile)))
	mux.Handle("/api/list", readOnly(http.HandlerFunc(s.handleList)))
	mux.Handle("/api/manifest", readOnly(http.HandlerFunc(s.handleManifest)))
	mux.Handle("/api/zip", readOnly(http.HandlerFunc(s.handleZip)))

	return s.logRequests(withHeaders(auth.RequireAuth(s.users, mux)))
}

// readOnly rejects every method that could modify the tree.
func readOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions, "PROPFIND":
			next.ServeHTTP(w, r)
		default:
			w.Header().Set("Allow", "GET, HEAD, OPTIONS, PROPFIND")
			http.Error(w, "read-only mirror", http.StatusMethodNotAllowed)
		}
	})
}

func withHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.log.Info("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("remote_addr", r.RemoteAddr),
			slog.Int("status", sw.status),
			slog.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) resolve(rel string) (string, string, error) {
	rel = fsutil.CleanRelPath(rel)
	abs, err := fsutil.JoinWithinRoot(s.root, rel)
	return rel, abs, err
}

// hidden reports whether rel is mirror bookkeeping rather than content.
func hidden(rel string) bool {
	base := path.Base(rel)
	return base == mirror.ManifestName || (strings.HasPrefix(base, ".") && strings.HasSuffix(base, ".part"))
}

// --- handlers ---

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	rel, abs, err := s.resolve(strings.TrimPrefix(r.URL.Path, "/f/"))
	if err != nil {
		http.Error(w, "bad path", http.StatusBadRequest)
		return
	}
	if hidden(rel) {
		http.NotFound(w, r)
		return
	}
	st, err := os.Stat(abs)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	if st.IsDir() {
		http.Error(w, "is a directory", http.StatusBadRequest)
		return
	}
	f, err := os.Open(abs)
	if err != nil {
		http.Error(w, "open failed", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	if ct := contentTypeForName(st.Name()); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	if r.URL.Query().Get("dl") == "1" {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", st.Name()))
	}
	http.ServeContent(w, r, st.Name(), st.ModTime(), f)
}

type listItem struct {
	Name  string `json:"name"`
	Path  string `json:"path"` // rel
	IsDir bool   `json:"isDir"`
	Size  int64  `json:"size"`
	Mtime int64  `json:"mtime"`
	Mime  string `json:"mime,omitempty"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	rel, abs, err := s.resolve(r.URL.Query().Get("path"))
	if err != nil {
		http.Error(w, "bad path", http.StatusBadRequest)
		return
	}
	st, err := os.Stat(abs)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	if !st.IsDir() {
		http.Error(w, "not a directory", http.StatusBadRequest)
		return
	}
	ents, err := os.ReadDir(abs)
	if err != nil {
		http.Error(w, "read failed", http.StatusInternalServerError)
		return
	}
	items := make([]listItem, 0, len(ents))
	for _, e := range ents {
		childRel := joinRel(rel, e.Name())
		if hidden(childRel) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		it := listItem{
			Name:  e.Name(),
			Path:  childRel,
			IsDir: e.IsDir(),
			Size:  info.Size(),
			Mtime: info.ModTime().Unix(),
		}
		if !it.IsDir {
			it.Mime = contentTypeForName(it.Name)
		}
		items = append(items, it)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].IsDir != items[j].IsDir {
			return items[i].IsDir
		}
		return strings.ToLower(items[i].Name) < strings.ToLower(items[j].Name)
	})
	writeJSON(w, map[string]any{
		"path":  rel,
		"items": items,
	})
}

func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	m, err := mirror.LoadManifest(s.root)
	if err != nil {
		s.log.Error("load manifest", slog.Any("error", err))
		http.Error(w, "manifest unreadable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{
		"files": m.Entries(),
	})
}

// handleZip streams GET /api/zip?path=<rel> as a zip archive.
func (s *Server) handleZip(w http.ResponseWriter, r *http.Request) {
	rel, abs, err := s.resolve(r.URL.Query().Get("path"))
	if err != nil {
		http.Error(w, "bad path", http.StatusBadRequest)
		return
	}
	st, err := os.Stat(abs)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	name := "mirror"
	if rel != "" {
		name = sanitizeZipBaseName(path.Base(rel))
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+".zip"))
	zw := zip.NewWriter(w)
	defer zw.Close()

	ctx := r.Context()
	add := func(p, zipPath string, info fs.FileInfo) error {
		h := &zip.FileHeader{Name: zipPath, Method: zip.Deflate, Modified: info.ModTime()}
		wr, err := zw.CreateHeader(h)
		if err != nil {
			return err
		}
		f, err := os.Open(p)
		if err != nil {
			return nil
		}
		defer f.Close()
		_, err = io.Copy(wr, f)
		return err
	}

	if !st.IsDir() {
		if err := add(abs, st.Name(), st); err != nil {
			s.log.Warn("zip", slog.String("path", rel), slog.Any("error", err))
		}
		return
	}
	err = filepath.WalkDir(abs, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}
		relp, err := filepath.Rel(abs, p)
		if err != nil {
			return nil
		}
		zipPath := sanitizeZipPath(filepath.ToSlash(filepath.Join(name, relp)))
		if zipPath == "" || hidden(zipPath) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		return add(p, zipPath, info)
	})
	if err != nil {
		s.log.Warn("zip", slog.String("path", rel), slog.Any("error", err))
	}
}

// --- helpers ---

func joinRel(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func contentTypeForName(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return ""
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	// Fallbacks for systems with sparse mime tables.
	switch ext {
	case ".pdf":
		return "application/pdf"
	case ".doc":
		return "application/msword"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".ppt":
		return "application/vnd.ms-powerpoint"
	case ".pptx":
		return "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	case ".xls":
		return "application/vnd.ms-excel"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".txt", ".md", ".csv", ".py", ".java", ".c", ".h", ".scm", ".go":
		return "text/plain; charset=utf-8"
	case ".zip":
		return "application/zip"
	case ".mp4":
		return "video/mp4"
	case ".mp3":
		return "audio/mpeg"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return ""
	}
}

func sanitizeZipBaseName(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, ".zip")
	s = strings.ReplaceAll(s, "\x00", "")
	s = strings.ReplaceAll(s, "/", "-")
	s = strings.ReplaceAll(s, "\\", "-")
	s = strings.Trim(s, ". ")
	if s == "" {
		return "download"
	}
	if len(s) > 120 {
		s = s[:120]
	}
	return s
}

func sanitizeZipPath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean("/" + p)
	p = strings.TrimPrefix(p, "/")
	p = strings.ReplaceAll(p, "\x00", "")
	p = strings.Trim(p, "/")
	if p == "." || p == "" {
		return ""
	}
	if len(p) > 240 {
		p = p[:240]
	}
	return p
}
