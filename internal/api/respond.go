package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/medforge/portal/internal/apiclient"
	"github.com/medforge/portal/pkg/models"
)

const problemBase = "https://medforge.dev/problems/"

func writeJSON(w http.ResponseWriter, status int, contentType string, payload any) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeData writes data in the same envelope the upstream API uses
func writeData(w http.ResponseWriter, r *http.Request, status int, data any) {
	writeJSON(w, status, "application/json", models.Envelope[any]{
		Data: data,
		Meta: models.Meta{
			RequestID:  RequestIDFrom(r.Context()),
			APIVersion: models.APIVersion,
			Timestamp:  time.Now().UTC(),
		},
	})
}

func writeProblem(w http.ResponseWriter, r *http.Request, status int, code, detail string, errs []map[string]any) {
	writeJSON(w, status, "application/problem+json", models.Problem{
		Type:      problemBase + code,
		Title:     http.StatusText(status),
		Status:    status,
		Detail:    detail,
		Instance:  r.URL.Path,
		Code:      code,
		RequestID: RequestIDFrom(r.Context()),
		Errors:    errs,
	})
}

// writeError maps a client error onto a problem response. Upstream
// rejections keep their status and code.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	var (
		reqErr    *apiclient.RequestError
		contract  *apiclient.ContractError
		transport *apiclient.TransportError
		mismatch  *apiclient.SurfaceMismatchError
	)

	switch {
	case errors.As(err, &reqErr):
		status := reqErr.Status
		if status < 400 {
			status = http.StatusBadGateway
		}
		code := reqErr.Code
		if code == "" {
			code = "upstream_error"
		}
		h.log.Warn().Err(err).Int("status", status).Str("request_id", reqErr.RequestID).Msg("upstream rejected request")
		writeProblem(w, r, status, code, apiclient.Message(err, fallback), reqErr.Errors)
	case errors.As(err, &contract):
		h.log.Error().Err(err).Msg("upstream response did not match envelope")
		writeProblem(w, r, http.StatusBadGateway, "upstream_contract", contract.Error(), nil)
	case errors.As(err, &transport):
		if errors.Is(err, context.Canceled) {
			// caller went away; nobody reads the response
			return
		}
		status, code := http.StatusBadGateway, "upstream_unavailable"
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			status, code = http.StatusGatewayTimeout, "upstream_timeout"
		}
		h.log.Error().Err(err).Msg("upstream unreachable")
		writeProblem(w, r, status, code, fallback, nil)
	case errors.As(err, &mismatch):
		h.log.Error().Err(err).Msg("cross-surface request refused")
		writeProblem(w, r, http.StatusInternalServerError, "surface_mismatch", mismatch.Error(), nil)
	default:
		h.log.Error().Err(err).Msg("request failed")
		writeProblem(w, r, http.StatusInternalServerError, "internal_error", fallback, nil)
	}
}
