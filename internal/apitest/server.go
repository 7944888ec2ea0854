// Package apitest provides a fake MedForge API for tests. Routes are
// registered with gorilla/mux templates and responses use the real
// envelope and problem shapes.
package apitest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/medforge/portal/pkg/models"
)

// Server is an httptest server with per-route hit counters
type Server struct {
	*httptest.Server
	Router *mux.Router

	mu   sync.Mutex
	hits map[string]int
}

// New starts a fake API that is closed when the test ends
func New(t testing.TB) *Server {
	s := &Server{
		Router: mux.NewRouter(),
		hits:   make(map[string]int),
	}
	s.Server = httptest.NewServer(s.Router)
	t.Cleanup(s.Close)
	return s
}

// Handle registers h for method and a mux path template
func (s *Server) Handle(method, path string, h http.HandlerFunc) {
	key := method + " " + path
	s.Router.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[key]++
		s.mu.Unlock()
		h(w, r)
	}).Methods(method)
}

// Hits reports how many times the route registered as method+path was served
func (s *Server) Hits(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[method+" "+path]
}

// WriteData writes data wrapped in a success envelope
func WriteData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, "application/json", models.Envelope[any]{
		Data: data,
		Meta: models.Meta{
			RequestID:  uuid.NewString(),
			APIVersion: models.APIVersion,
			Timestamp:  time.Now().UTC(),
		},
	})
}

// WriteProblem writes a problem document
func WriteProblem(w http.ResponseWriter, r *http.Request, status int, code, detail string) {
	writeJSON(w, status, "application/problem+json", models.Problem{
		Type:      fmt.Sprintf("https://medforge.dev/problems/%s", code),
		Title:     http.StatusText(status),
		Status:    status,
		Detail:    detail,
		Instance:  r.URL.Path,
		Code:      code,
		RequestID: r.Header.Get("X-Request-ID"),
	})
}

// WriteRaw writes body verbatim
func WriteRaw(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func writeJSON(w http.ResponseWriter, status int, contentType string, payload any) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// Session builds a session fixture with the given status
func Session(id string, status models.SessionStatus) models.Session {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := models.Session{
		ID:           id,
		UserID:       "user-1",
		Exposure:     "external",
		PackID:       "pack-default",
		Status:       status,
		GPUID:        0,
		SSHPort:      10022,
		SSHHost:      "ssh.medforge.example.com",
		Slug:         "s-" + id,
		WorkspaceZFS: "tank/workspaces/" + id,
		CreatedAt:    created,
	}
	if status == models.StatusError {
		msg := "container exited"
		s.ErrorMessage = &msg
	}
	return s
}
