// Package stream pushes a browser tab's session and rankings state over a
// websocket. Each connection owns its own tracker and board for as long as
// it stays open.
package stream

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/medforge/portal/internal/apiclient"
	"github.com/medforge/portal/internal/ranking"
	"github.com/medforge/portal/internal/session"
)

const writeWait = 10 * time.Second

// Frame types sent to the client
const (
	FrameReady    = "ready"
	FrameSession  = "session"
	FrameRankings = "rankings"
	FrameError    = "error"
)

// Actions accepted from the client
const (
	ActionRefresh  = "refresh"
	ActionCreate   = "create"
	ActionStop     = "stop"
	ActionRankings = "rankings"
)

// Frame is one server to client message
type Frame struct {
	Type    string `json:"type"`
	State   any    `json:"state,omitempty"`
	Action  string `json:"action,omitempty"`
	Message string `json:"message,omitempty"`
}

// Command is one client to server message
type Command struct {
	Action    string `json:"action"`
	SessionID string `json:"session_id,omitempty"`
}

// Ready is the state of the first frame on every connection
type Ready struct {
	ConnectionID string `json:"connection_id"`
	Surface      string `json:"surface"`
}

// Server upgrades connections and runs one tracker and board per connection
type Server struct {
	clientFor   func(r *http.Request) *apiclient.Client
	trackerOpts []session.Option
	rankingOpts []ranking.AggregatorOption
	log         zerolog.Logger
	upgrader    websocket.Upgrader

	mu             sync.Mutex
	connections    map[string]*connection
	allowedOrigins map[string]struct{}
}

// NewServer creates a stream server. trackerOpts and rankingOpts are
// applied to every connection's tracker and aggregator.
func NewServer(clientFor func(r *http.Request) *apiclient.Client, log zerolog.Logger, trackerOpts []session.Option, rankingOpts []ranking.AggregatorOption) *Server {
	s := &Server{
		clientFor:      clientFor,
		trackerOpts:    trackerOpts,
		rankingOpts:    rankingOpts,
		log:            log,
		connections:    make(map[string]*connection),
		allowedOrigins: make(map[string]struct{}),
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	return s
}

// AllowOrigins lets pages served from these hosts open a stream in
// addition to pages on the stream's own host
func (s *Server) AllowOrigins(hosts ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range hosts {
		if h != "" {
			s.allowedOrigins[strings.ToLower(h)] = struct{}{}
		}
	}
}

// checkOrigin refuses browser pages from foreign sites. The stream acts with
// the caller's cookies, so a cross-site page must not be able to open it.
// Requests without an Origin header do not come from a browser page.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}

	host := strings.ToLower(u.Host)
	if host == strings.ToLower(r.Host) {
		return true
	}
	if fwd := r.Header.Get("X-Forwarded-Host"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if host == strings.ToLower(strings.TrimSpace(first)) {
			return true
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.allowedOrigins[host]
	return ok
}

// Connections returns the number of open streams
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.connections)
}

type connection struct {
	id      string
	conn    *websocket.Conn
	log     zerolog.Logger
	writeMu sync.Mutex
}

func (c *connection) send(f Frame) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(f); err != nil {
		c.log.Debug().Err(err).Str("frame", f.Type).Msg("failed to write frame")
	}
}

// ServeHTTP handles GET /v1/stream
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.checkOrigin(r) {
		s.log.Warn().Str("origin", r.Header.Get("Origin")).Str("host", r.Host).Msg("stream refused for foreign origin")
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	client := s.clientFor(r)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to upgrade connection")
		return
	}
	defer conn.Close()

	c := &connection{
		id:   uuid.NewString(),
		conn: conn,
	}
	c.log = s.log.With().Str("connection_id", c.id).Str("surface", string(client.Surface())).Logger()

	s.mu.Lock()
	s.connections[c.id] = c
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.connections, c.id)
		s.mu.Unlock()
	}()

	c.log.Info().Msg("stream connected")

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	trackerOpts := append([]session.Option{session.WithLogger(c.log)}, s.trackerOpts...)
	tracker := session.NewTracker(client, trackerOpts...)
	unsubscribe := tracker.Subscribe(func(st session.State) {
		c.send(Frame{Type: FrameSession, State: st})
	})

	rankingOpts := append([]ranking.AggregatorOption{ranking.WithLogger(c.log)}, s.rankingOpts...)
	board := ranking.NewBoard(ranking.NewAggregator(client, rankingOpts...), func(st ranking.BoardState) {
		c.send(Frame{Type: FrameRankings, State: st})
	})

	// Teardown order matters: nothing may be sent after the socket closes
	defer func() {
		unsubscribe()
		cancel()
		tracker.Close()
		board.Close()
		wg.Wait()
		c.log.Info().Msg("stream disconnected")
	}()

	c.send(Frame{Type: FrameReady, State: Ready{ConnectionID: c.id, Surface: string(client.Surface())}})

	tracker.Start()
	loadRankings := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			board.Load(ctx)
		}()
	}
	loadRankings()

	for {
		var cmd Command
		if err := conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("stream read failed")
			}
			return
		}

		switch cmd.Action {
		case ActionRefresh:
			tracker.Refresh()
		case ActionRankings:
			loadRankings()
		case ActionCreate:
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := tracker.Create(ctx); err != nil {
					c.send(Frame{Type: FrameError, Action: ActionCreate, Message: apiclient.Message(err, "Failed to create session.")})
				}
			}()
		case ActionStop:
			id := cmd.SessionID
			if id == "" {
				if current := tracker.Snapshot().Session; current != nil {
					id = current.ID
				}
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := tracker.Stop(ctx, id); err != nil {
					c.send(Frame{Type: FrameError, Action: ActionStop, Message: apiclient.Message(err, "Failed to stop session.")})
				}
			}()
		default:
			c.send(Frame{Type: FrameError, Action: cmd.Action, Message: "unknown action"})
		}
	}
}

// CloseAll closes every open stream. Each connection then disposes its
// tracker and board on its own goroutine.
func (s *Server) CloseAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.connections {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		_ = c.conn.Close()
	}
}
