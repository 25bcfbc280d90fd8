package mocks

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path"
	"slices"
	"strings"
	"sync"
	"testing"
)

// PreviewPrefix is prepended to file contents to form a preview payload
const PreviewPrefix = "preview:"

// RecordedRequest is what the [MediaServer] saw for one call
type RecordedRequest struct {
	Method      string
	Path        string
	Query       url.Values
	RawQuery    string
	ContentType string
	Body        []byte
}

// MediaServer is an in-memory media store speaking the /media, /file and /preview
// HTTP surface, for tests across packages.
type MediaServer struct {
	*httptest.Server

	mu         sync.Mutex
	dirs       map[string]bool   // "" is the root
	files      map[string][]byte // full slash separated path -> content
	requests   []RecordedRequest
	failStatus int
	failBody   string
	plainNames bool
}

// NewMediaServer starts a server with an empty root, closed on test cleanup
func NewMediaServer(t testing.TB) *MediaServer {
	t.Helper()
	s := &MediaServer{
		dirs:  map[string]bool{"": true},
		files: map[string][]byte{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /media", s.list)
	mux.HandleFunc("POST /media", s.mkdir)
	mux.HandleFunc("DELETE /media", s.remove)
	mux.HandleFunc("POST /file", s.upload)
	mux.HandleFunc("GET /file", s.download)
	mux.HandleFunc("GET /preview", s.preview)
	s.Server = httptest.NewServer(s.record(mux))
	t.Cleanup(s.Close)
	return s
}

// AddDir creates dir and any missing ancestors
func (s *MediaServer) AddDir(dir string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addDirLocked(strings.Trim(dir, "/"))
}

func (s *MediaServer) addDirLocked(dir string) {
	for dir != "" && dir != "." {
		s.dirs[dir] = true
		dir = parentOf(dir)
	}
}

// AddFile stores data at p, creating parent directories
func (s *MediaServer) AddFile(p string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p = strings.Trim(p, "/")
	s.addDirLocked(parentOf(p))
	s.files[p] = data
}

// File returns the stored content at p
func (s *MediaServer) File(p string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[strings.Trim(p, "/")]
	return data, ok
}

func (s *MediaServer) HasDir(p string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirs[strings.Trim(p, "/")]
}

// Delete removes a file or directory tree without going through HTTP
func (s *MediaServer) Delete(p string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(strings.Trim(p, "/"))
}

// FailWith makes every following call answer status with body. A status of 0 resets.
func (s *MediaServer) FailWith(status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failStatus = status
	s.failBody = body
}

// UsePlainNames switches listings to the minimal variant: an array of names
func (s *MediaServer) UsePlainNames(plain bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plainNames = plain
}

// Requests returns a copy of every request received so far
func (s *MediaServer) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.requests)
}

func (s *MediaServer) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(strings.NewReader(string(body)))

		s.mu.Lock()
		s.requests = append(s.requests, RecordedRequest{
			Method:      r.Method,
			Path:        r.URL.Path,
			Query:       r.URL.Query(),
			RawQuery:    r.URL.RawQuery,
			ContentType: r.Header.Get("Content-Type"),
			Body:        body,
		})
		status, failBody := s.failStatus, s.failBody
		s.mu.Unlock()

		if status != 0 {
			w.WriteHeader(status)
			_, _ = io.WriteString(w, failBody)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type listEntry struct {
	Name string `json:"name"`
	Size *int64 `json:"size,omitempty"`
}

func (s *MediaServer) list(w http.ResponseWriter, r *http.Request) {
	dir := strings.Trim(r.URL.Query().Get("path"), "/")

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirs[dir] {
		writeError(w, http.StatusNotFound, "no such directory")
		return
	}

	var entries []listEntry
	for d := range s.dirs {
		if d != "" && parentOf(d) == dir {
			entries = append(entries, listEntry{Name: path.Base(d)})
		}
	}
	for f, data := range s.files {
		if parentOf(f) == dir {
			size := int64(len(data))
			entries = append(entries, listEntry{Name: path.Base(f), Size: &size})
		}
	}
	slices.SortFunc(entries, func(a, b listEntry) int { return strings.Compare(a.Name, b.Name) })

	w.Header().Set("Content-Type", "application/json")
	if s.plainNames {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name)
		}
		_ = json.NewEncoder(w).Encode(names)
		return
	}
	if entries == nil {
		entries = []listEntry{}
	}
	_ = json.NewEncoder(w).Encode(entries)
}

func (s *MediaServer) mkdir(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	dir := strings.Trim(r.PostForm.Get("path"), "/")
	if dir == "" {
		writeError(w, http.StatusBadRequest, "missing path")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, isFile := s.files[dir]; isFile || s.dirs[dir] {
		writeError(w, http.StatusConflict, "already exists")
		return
	}
	if !s.dirs[parentOf(dir)] {
		writeError(w, http.StatusNotFound, "no such directory")
		return
	}
	s.dirs[dir] = true
	w.WriteHeader(http.StatusCreated)
}

func (s *MediaServer) remove(w http.ResponseWriter, r *http.Request) {
	p := strings.Trim(r.URL.Query().Get("path"), "/")

	s.mu.Lock()
	defer s.mu.Unlock()
	_, isFile := s.files[p]
	if p == "" || (!s.dirs[p] && !isFile) {
		writeError(w, http.StatusNotFound, "no such item")
		return
	}
	s.deleteLocked(p)
	w.WriteHeader(http.StatusNoContent)
}

func (s *MediaServer) deleteLocked(p string) {
	delete(s.files, p)
	delete(s.dirs, p)
	prefix := p + "/"
	for f := range s.files {
		if strings.HasPrefix(f, prefix) {
			delete(s.files, f)
		}
	}
	for d := range s.dirs {
		if strings.HasPrefix(d, prefix) {
			delete(s.dirs, d)
		}
	}
}

func (s *MediaServer) upload(w http.ResponseWriter, r *http.Request) {
	p, ok := contentPath(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing id")
		return
	}
	data, _ := io.ReadAll(r.Body)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirs[parentOf(p)] {
		writeError(w, http.StatusNotFound, "no such directory")
		return
	}
	s.files[p] = data
	w.WriteHeader(http.StatusCreated)
}

func (s *MediaServer) download(w http.ResponseWriter, r *http.Request) {
	s.serveContent(w, r, "")
}

func (s *MediaServer) preview(w http.ResponseWriter, r *http.Request) {
	s.serveContent(w, r, PreviewPrefix)
}

func (s *MediaServer) serveContent(w http.ResponseWriter, r *http.Request, prefix string) {
	p, ok := contentPath(r)
	if !ok {
		http.Error(w, "missing id", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	data, found := s.files[p]
	s.mu.Unlock()
	if !found {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = io.WriteString(w, prefix)
	_, _ = w.Write(data)
}

// contentPath joins the path and id query params
func contentPath(r *http.Request) (string, bool) {
	q := r.URL.Query()
	id := q.Get("id")
	if id == "" {
		return "", false
	}
	if dir := strings.Trim(q.Get("path"), "/"); dir != "" {
		return dir + "/" + id, true
	}
	return id, true
}

func parentOf(p string) string {
	i := strings.LastIndex(p, "/")
	if i < 0 {
		return ""
	}
	return p[:i]
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
