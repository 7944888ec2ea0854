package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/medforge/portal/internal/apiclient"
	"github.com/medforge/portal/internal/ranking"
	"github.com/medforge/portal/internal/surface"
	"github.com/medforge/portal/pkg/models"
)

// ClientFunc returns an API client bound to the surface of r
type ClientFunc func(r *http.Request) *apiclient.Client

// Handler holds dependencies for HTTP handlers
type Handler struct {
	clientFor   ClientFunc
	maxInFlight int64
	log         zerolog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(clientFor ClientFunc, maxInFlight int64, log zerolog.Logger) *Handler {
	return &Handler{
		clientFor:   clientFor,
		maxInFlight: maxInFlight,
		log:         log,
	}
}

// SurfaceResponse is the payload of GET /v1/surface
type SurfaceResponse struct {
	Surface surface.Surface `json:"surface"`
	Host    string          `json:"host"`
}

// GetCurrentSession handles GET /v1/session
func (h *Handler) GetCurrentSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.clientFor(r).CurrentSession(r.Context())
	if err != nil {
		h.writeError(w, r, err, "Failed to fetch session.")
		return
	}

	writeData(w, r, http.StatusOK, models.SessionCurrentResponse{Session: sess})
}

// CreateSession handles POST /v1/session
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	client := h.clientFor(r)

	resp, err := client.CreateSession(r.Context())
	if err != nil {
		h.writeError(w, r, err, "Failed to create session.")
		return
	}

	h.log.Info().
		Str("surface", string(client.Surface())).
		Str("session_id", resp.Session.ID).
		Str("status", string(resp.Session.Status)).
		Msg("session created")

	writeData(w, r, http.StatusCreated, resp)
}

// StopSession handles POST /v1/session/{id}/stop
func (h *Handler) StopSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	client := h.clientFor(r)

	resp, err := client.StopSession(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err, "Failed to stop session.")
		return
	}

	h.log.Info().
		Str("surface", string(client.Surface())).
		Str("session_id", id).
		Msg("session stop requested")

	writeData(w, r, http.StatusOK, resp)
}

// GetMe handles GET /v1/me
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	me, err := h.clientFor(r).Me(r.Context())
	if err != nil {
		h.writeError(w, r, err, "Failed to load account.")
		return
	}

	writeData(w, r, http.StatusOK, me)
}

// GetRankings handles GET /v1/rankings
func (h *Handler) GetRankings(w http.ResponseWriter, r *http.Request) {
	client := h.clientFor(r)
	agg := ranking.NewAggregator(client,
		ranking.WithMaxInFlight(h.maxInFlight),
		ranking.WithLogger(h.log.With().Str("surface", string(client.Surface())).Logger()),
	)

	ranked, report, err := agg.RankWithReport(r.Context())
	if err != nil {
		h.writeError(w, r, err, "Could not load rankings.")
		return
	}

	if len(report.Skipped) > 0 {
		h.log.Warn().
			Int("competitions", report.Competitions).
			Strs("skipped", report.Skipped).
			Msg("rankings built from partial leaderboards")
	}

	writeData(w, r, http.StatusOK, ranked)
}

// GetSurface handles GET /v1/surface
func (h *Handler) GetSurface(w http.ResponseWriter, r *http.Request) {
	writeData(w, r, http.StatusOK, SurfaceResponse{
		Surface: surface.FromRequest(r),
		Host:    requestHost(r),
	})
}

// Healthz handles GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeData(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func requestHost(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-Host"); fwd != "" {
		return fwd
	}
	return r.Host
}
