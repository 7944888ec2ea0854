package ranking

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/medforge/portal/pkg/models"
)

// RankingAPI is the part of the API client the aggregator needs. The client
// is already bound to a surface, so both calls stay inside it.
type RankingAPI interface {
	Competitions(ctx context.Context) ([]models.CompetitionSummary, error)
	Leaderboard(ctx context.Context, slug string) (*models.LeaderboardResponse, error)
}

// Report describes how a ranking was assembled
type Report struct {
	Competitions int
	Fetched      int
	Skipped      []string
}

// Aggregator merges every competition's leaderboard into one global ranking
type Aggregator struct {
	api         RankingAPI
	maxInFlight int64
	log         zerolog.Logger
}

// AggregatorOption configures an Aggregator
type AggregatorOption func(*Aggregator)

// WithMaxInFlight bounds concurrent leaderboard fetches; 0 means unbounded
func WithMaxInFlight(n int64) AggregatorOption {
	return func(a *Aggregator) {
		if n >= 0 {
			a.maxInFlight = n
		}
	}
}

// WithLogger sets the aggregator's logger
func WithLogger(log zerolog.Logger) AggregatorOption {
	return func(a *Aggregator) {
		a.log = log
	}
}

// NewAggregator creates an aggregator over api
func NewAggregator(api RankingAPI, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		api: api,
		log: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Rank builds the global ranking. Only a failure to list competitions is
// returned; unreachable leaderboards are left out.
func (a *Aggregator) Rank(ctx context.Context) ([]models.RankedUser, error) {
	ranked, _, err := a.RankWithReport(ctx)
	return ranked, err
}

// RankWithReport is Rank plus a description of which leaderboards were skipped
func (a *Aggregator) RankWithReport(ctx context.Context) ([]models.RankedUser, Report, error) {
	competitions, err := a.api.Competitions(ctx)
	if err != nil {
		return nil, Report{}, fmt.Errorf("failed to list competitions: %w", err)
	}

	report := Report{Competitions: len(competitions)}
	if len(competitions) == 0 {
		return []models.RankedUser{}, report, nil
	}

	outcomes := a.fetchAll(ctx, competitions)

	boards := make([]Standings, 0, len(outcomes))
	for i, out := range outcomes {
		if out.err != nil {
			report.Skipped = append(report.Skipped, competitions[i].Slug)
			a.log.Warn().Err(out.err).Str("competition", competitions[i].Slug).Msg("leaderboard skipped")
			continue
		}
		boards = append(boards, Standings{Competition: competitions[i], Entries: out.entries})
	}
	report.Fetched = len(boards)

	return Merge(boards...), report, nil
}

type outcome struct {
	entries []models.LeaderboardEntry
	err     error
}

// fetchAll starts every leaderboard fetch without waiting on the others and
// waits for all of them to settle. Each task records its own result and
// never returns an error, so one failure cannot cancel its siblings.
func (a *Aggregator) fetchAll(ctx context.Context, competitions []models.CompetitionSummary) []outcome {
	outcomes := make([]outcome, len(competitions))

	var sem *semaphore.Weighted
	if a.maxInFlight > 0 {
		sem = semaphore.NewWeighted(a.maxInFlight)
	}

	var g errgroup.Group
	for i, comp := range competitions {
		i, comp := i, comp
		g.Go(func() error {
			if sem != nil {
				if err := sem.Acquire(ctx, 1); err != nil {
					outcomes[i] = outcome{err: err}
					return nil
				}
				defer sem.Release(1)
			}

			resp, err := a.api.Leaderboard(ctx, comp.Slug)
			if err != nil {
				outcomes[i] = outcome{err: err}
				return nil
			}
			outcomes[i] = outcome{entries: resp.Entries}
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

// Standings is one competition together with its fetched leaderboard
type Standings struct {
	Competition models.CompetitionSummary
	Entries     []models.LeaderboardEntry
}

// Merge keeps each user's single best entry across boards and orders the
// result by score descending. A user's record is only ever replaced as a
// whole by a strictly higher score. Equal scores keep first-seen order
// (boards in order, then entries in order); no other tie-break is applied.
func Merge(boards ...Standings) []models.RankedUser {
	index := make(map[string]int)
	ranked := make([]models.RankedUser, 0)

	for _, b := range boards {
		for _, entry := range b.Entries {
			candidate := models.RankedUser{
				UserID:           entry.UserID,
				BestScore:        entry.PrimaryScore,
				CompetitionSlug:  b.Competition.Slug,
				CompetitionTitle: b.Competition.Title,
				ScoredAt:         entry.ScoredAt,
			}

			i, seen := index[entry.UserID]
			if !seen {
				index[entry.UserID] = len(ranked)
				ranked = append(ranked, candidate)
				continue
			}
			if entry.PrimaryScore > ranked[i].BestScore {
				ranked[i] = candidate
			}
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].BestScore > ranked[j].BestScore
	})
	for i := range ranked {
		ranked[i].Rank = i + 1
	}
	return ranked
}
