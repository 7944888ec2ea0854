package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/medforge/portal/internal/apiclient"
	"github.com/medforge/portal/internal/ranking"
	"github.com/medforge/portal/internal/surface"
)

func newRankingsCommand(opts *options) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "rankings",
		Short: "Show the global ranking across every competition",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.load(cmd)
			if err != nil {
				return err
			}

			agg := ranking.NewAggregator(e.client,
				ranking.WithMaxInFlight(e.cfg.RankingInFlight),
				ranking.WithLogger(e.log),
			)
			ranked, report, err := agg.RankWithReport(cmd.Context())
			if err != nil {
				return errors.New("could not load rankings: " + apiclient.Message(err, "request failed"))
			}

			out := cmd.OutOrStdout()
			if len(ranked) == 0 {
				fmt.Fprintln(out, "no ranked users yet")
			} else {
				tw := newTable(out)
				fmt.Fprintln(tw, "RANK\tUSER\tBEST SCORE\tCOMPETITION\tSCORED AT")
				for i, r := range ranked {
					if limit > 0 && i >= limit {
						break
					}
					fmt.Fprintf(tw, "%d\t%s\t%.4f\t%s\t%s\n", r.Rank, r.UserID, r.BestScore, r.CompetitionTitle, formatTime(r.ScoredAt))
				}
				_ = tw.Flush()
			}

			if len(report.Skipped) > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "%d of %d leaderboards unavailable\n", len(report.Skipped), report.Competitions)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "show at most this many users (0 shows all)")

	return cmd
}

func newSurfaceCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "surface <host>",
		Short: "Show which surface a host name belongs to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s := surface.FromHost(args[0])
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", s, surface.NamespacedPath(s, "/"))
			return nil
		},
	}
}
