package models

import "time"

// CompetitionSummary is one entry of GET /competitions
type CompetitionSummary struct {
	Slug                   string `json:"slug"`
	Title                  string `json:"title"`
	Exposure               string `json:"competition_exposure"`
	Metric                 string `json:"metric"`
	MetricVersion          string `json:"metric_version"`
	ScoringMode            string `json:"scoring_mode"`
	LeaderboardRule        string `json:"leaderboard_rule"`
	EvaluationPolicy       string `json:"evaluation_policy"`
	CompetitionSpecVersion string `json:"competition_spec_version"`
	IsPermanent            bool   `json:"is_permanent"`
	SubmissionCapPerDay    int    `json:"submission_cap_per_day"`
}

// LeaderboardEntry is one user's best scored result within one competition.
// A nil ScoredAt means the score is still pending.
type LeaderboardEntry struct {
	Rank                   int        `json:"rank"`
	UserID                 string     `json:"user_id"`
	BestSubmissionID       string     `json:"best_submission_id"`
	BestScoreID            string     `json:"best_score_id"`
	PrimaryScore           float64    `json:"primary_score"`
	MetricVersion          string     `json:"metric_version"`
	EvaluationSplitVersion string     `json:"evaluation_split_version"`
	ScoredAt               *time.Time `json:"scored_at"`
}

// LeaderboardResponse is the payload of GET /competitions/{slug}/leaderboard
type LeaderboardResponse struct {
	CompetitionSlug string             `json:"competition_slug"`
	Entries         []LeaderboardEntry `json:"entries"`
}

// RankedUser is a user's best result across every competition examined in
// one aggregation pass. Rank is positional within that pass.
type RankedUser struct {
	Rank             int        `json:"rank"`
	UserID           string     `json:"user_id"`
	BestScore        float64    `json:"best_score"`
	CompetitionSlug  string     `json:"competition_slug"`
	CompetitionTitle string     `json:"competition_title"`
	ScoredAt         *time.Time `json:"scored_at"`
}
