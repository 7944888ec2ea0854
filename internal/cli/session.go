package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/medforge/portal/internal/apiclient"
	"github.com/medforge/portal/internal/session"
	"github.com/medforge/portal/pkg/models"
)

func newSessionCommand(opts *options) *cobra.Command {
	sessionCmd := &cobra.Command{
		Use:   "session",
		Short: "Show, create, stop or watch your session",
	}

	sessionCmd.AddCommand(&cobra.Command{
		Use:   "current",
		Short: "Show your current session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.load(cmd)
			if err != nil {
				return err
			}
			sess, err := e.client.CurrentSession(cmd.Context())
			if err != nil {
				return errors.New(apiclient.Message(err, "Failed to fetch session."))
			}
			printSession(cmd.OutOrStdout(), sess)
			return nil
		},
	})

	sessionCmd.AddCommand(&cobra.Command{
		Use:   "create",
		Short: "Request a new session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.load(cmd)
			if err != nil {
				return err
			}
			resp, err := e.client.CreateSession(cmd.Context())
			if err != nil {
				return errors.New(apiclient.Message(err, "Failed to create session."))
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
			printSession(cmd.OutOrStdout(), &resp.Session)
			return nil
		},
	})

	sessionCmd.AddCommand(&cobra.Command{
		Use:   "stop [id]",
		Short: "Stop a session, by default the current one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.load(cmd)
			if err != nil {
				return err
			}

			var id string
			if len(args) == 1 {
				id = args[0]
			} else {
				current, err := e.client.CurrentSession(cmd.Context())
				if err != nil {
					return errors.New(apiclient.Message(err, "Failed to fetch session."))
				}
				if current == nil {
					return errors.New("no current session to stop")
				}
				id = current.ID
			}

			resp, err := e.client.StopSession(cmd.Context(), id)
			if err != nil {
				return errors.New(apiclient.Message(err, "Failed to stop session."))
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
			return nil
		},
	})

	sessionCmd.AddCommand(&cobra.Command{
		Use:   "watch",
		Short: "Follow your session until it settles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.load(cmd)
			if err != nil {
				return err
			}
			return watch(cmd.Context(), cmd.OutOrStdout(), e)
		},
	})

	return sessionCmd
}

// watch prints every observed state until polling stops or ctx ends
func watch(ctx context.Context, out io.Writer, e *env) error {
	tracker := session.NewTracker(e.client,
		session.WithInterval(e.cfg.PollInterval),
		session.WithMaxFailures(e.cfg.PollMaxFailures),
		session.WithLogger(e.log),
	)
	defer tracker.Close()

	states := make(chan session.State, 16)
	unsubscribe := tracker.Subscribe(func(st session.State) {
		select {
		case states <- st:
		default:
		}
	})
	defer unsubscribe()

	tracker.Start()

	for {
		select {
		case <-ctx.Done():
			return nil
		case st := <-states:
			switch {
			case st.Err != "":
				fmt.Fprintf(out, "error: %s\n", st.Err)
			case st.Session == nil:
				fmt.Fprintln(out, "no active session")
			default:
				fmt.Fprintf(out, "%s  %s\n", st.Session.ID, st.Session.Status)
			}
			if !tracker.Polling() {
				if st.Err != "" {
					return errors.New(st.Err)
				}
				if st.Session != nil && st.Session.Status.IsTerminal() {
					fmt.Fprintf(out, "session %s ended: %s\n", st.Session.ID, st.Session.Status)
				}
				return nil
			}
		}
	}
}

func printSession(w io.Writer, s *models.Session) {
	if s == nil {
		fmt.Fprintln(w, "no active session")
		return
	}

	tw := newTable(w)
	fmt.Fprintf(tw, "ID\t%s\n", s.ID)
	fmt.Fprintf(tw, "STATUS\t%s\n", s.Status)
	fmt.Fprintf(tw, "EXPOSURE\t%s\n", s.Exposure)
	fmt.Fprintf(tw, "GPU\t%d\n", s.GPUID)
	fmt.Fprintf(tw, "SSH\t%s:%d\n", s.SSHHost, s.SSHPort)
	fmt.Fprintf(tw, "CREATED\t%s\n", formatTime(&s.CreatedAt))
	fmt.Fprintf(tw, "STARTED\t%s\n", formatTime(s.StartedAt))
	fmt.Fprintf(tw, "STOPPED\t%s\n", formatTime(s.StoppedAt))
	if s.ErrorMessage != nil {
		fmt.Fprintf(tw, "ERROR\t%s\n", *s.ErrorMessage)
	}
	_ = tw.Flush()
}
