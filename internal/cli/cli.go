// Package cli implements portalctl, an operator tool that talks to the
// MedForge API directly.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/medforge/portal/internal/apiclient"
	"github.com/medforge/portal/internal/config"
	"github.com/medforge/portal/internal/logger"
	"github.com/medforge/portal/internal/surface"
)

type options struct {
	apiURL  string
	surface string
	cookie  string
	token   string
	envFile string
}

// NewRootCommand builds the portalctl command tree
func NewRootCommand() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "portalctl",
		Short:         "Inspect and drive MedForge sessions and rankings",
		SilenceUsage:  true,
		SilenceErrors: true,
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.apiURL, "api-url", "", "API base URL (overrides PORTAL_API_URL)")
	flags.StringVar(&opts.surface, "surface", "", "surface to talk to: external or internal (overrides PORTAL_SURFACE)")
	flags.StringVar(&opts.cookie, "cookie", "", "session cookie forwarded to the API")
	flags.StringVar(&opts.token, "token", "", "bearer token forwarded to the API")
	flags.StringVar(&opts.envFile, "env-file", "", "load environment from this file first")

	rootCmd.AddCommand(newSessionCommand(opts))
	rootCmd.AddCommand(newRankingsCommand(opts))
	rootCmd.AddCommand(newSurfaceCommand())

	return rootCmd
}

// Execute runs portalctl and exits non-zero on failure
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// env bundles what every subcommand needs
type env struct {
	cfg    *config.Config
	client *apiclient.Client
	log    zerolog.Logger
}

func (o *options) load(cmd *cobra.Command) (*env, error) {
	var files []string
	if o.envFile != "" {
		files = append(files, o.envFile)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if o.apiURL != "" {
		cfg.APIURL = o.apiURL
	}
	if o.surface != "" {
		s, err := surface.Parse(o.surface)
		if err != nil {
			return nil, err
		}
		cfg.Surface = s
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := logger.NewWithWriters(cmd.ErrOrStderr(), cmd.ErrOrStderr(), cfg.LogLevel, logger.FormatConsole)

	clientOpts := []apiclient.Option{
		apiclient.WithTimeout(cfg.RequestTimeout),
		apiclient.WithLimiter(rate.NewLimiter(rate.Limit(cfg.UpstreamRPS), cfg.UpstreamBurst)),
		apiclient.WithLogger(log),
	}
	if o.cookie != "" {
		clientOpts = append(clientOpts, apiclient.WithHeader("Cookie", o.cookie))
	}
	if o.token != "" {
		clientOpts = append(clientOpts, apiclient.WithHeader("Authorization", "Bearer "+o.token))
	}

	return &env{
		cfg:    cfg,
		client: apiclient.New(cfg.APIURL, cfg.Surface, clientOpts...),
		log:    log,
	}, nil
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
