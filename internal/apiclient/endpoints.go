package apiclient

import (
	"context"
	"net/url"

	"github.com/medforge/portal/pkg/models"
)

// CurrentSession returns the caller's session on this surface, or nil
func (c *Client) CurrentSession(ctx context.Context) (*models.Session, error) {
	var resp models.SessionCurrentResponse
	if err := c.Get(ctx, c.Path("/sessions/current"), &resp); err != nil {
		return nil, err
	}
	return resp.Session, nil
}

// CreateSession asks the orchestrator for a new session
func (c *Client) CreateSession(ctx context.Context) (*models.SessionCreateResponse, error) {
	var resp models.SessionCreateResponse
	if err := c.Post(ctx, c.Path("/sessions"), struct{}{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StopSession requests termination of session id. Success only means the
// request was accepted.
func (c *Client) StopSession(ctx context.Context, id string) (*models.SessionActionResponse, error) {
	var resp models.SessionActionResponse
	if err := c.Post(ctx, c.Path("/sessions/"+url.PathEscape(id)+"/stop"), struct{}{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Session fetches one session by id
func (c *Client) Session(ctx context.Context, id string) (*models.Session, error) {
	var session models.Session
	if err := c.Get(ctx, c.Path("/sessions/"+url.PathEscape(id)), &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// ListSessions returns the caller's sessions on this surface
func (c *Client) ListSessions(ctx context.Context) ([]models.Session, error) {
	var sessions []models.Session
	if err := c.Get(ctx, c.Path("/sessions"), &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// Me describes the authenticated caller
func (c *Client) Me(ctx context.Context) (*models.MeResponse, error) {
	var me models.MeResponse
	if err := c.Get(ctx, c.Path("/me"), &me); err != nil {
		return nil, err
	}
	return &me, nil
}

// Competitions lists competitions visible on this surface
func (c *Client) Competitions(ctx context.Context) ([]models.CompetitionSummary, error) {
	var competitions []models.CompetitionSummary
	if err := c.Get(ctx, c.Path("/competitions"), &competitions); err != nil {
		return nil, err
	}
	return competitions, nil
}

// Leaderboard fetches the leaderboard of one competition
func (c *Client) Leaderboard(ctx context.Context, slug string) (*models.LeaderboardResponse, error) {
	var board models.LeaderboardResponse
	if err := c.Get(ctx, c.Path("/competitions/"+url.PathEscape(slug)+"/leaderboard"), &board); err != nil {
		return nil, err
	}
	return &board, nil
}
