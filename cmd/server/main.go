package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/medforge/portal/internal/api"
	"github.com/medforge/portal/internal/apiclient"
	"github.com/medforge/portal/internal/config"
	"github.com/medforge/portal/internal/logger"
	"github.com/medforge/portal/internal/ranking"
	"github.com/medforge/portal/internal/ratelimit"
	"github.com/medforge/portal/internal/session"
	"github.com/medforge/portal/internal/stream"
	"github.com/medforge/portal/internal/surface"
)

const limiterIdle = time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		// no logger yet; config decides its shape
		l := logger.New("info", logger.FormatConsole)
		l.Fatal().Err(err).Msg("failed to load config")
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	log.Info().Str("api_url", cfg.APIURL).Msg("starting MedForge portal")

	// one budget for every call this process makes upstream
	upstreamLimiter := rate.NewLimiter(rate.Limit(cfg.UpstreamRPS), cfg.UpstreamBurst)

	clientFor := func(r *http.Request) *apiclient.Client {
		return apiclient.ForRequest(cfg.APIURL, r,
			apiclient.WithTimeout(cfg.RequestTimeout),
			apiclient.WithLimiter(upstreamLimiter),
			apiclient.WithLogger(log),
		)
	}

	// Initialize stream server
	streamServer := stream.NewServer(clientFor, log,
		[]session.Option{
			session.WithInterval(cfg.PollInterval),
			session.WithMaxFailures(cfg.PollMaxFailures),
		},
		[]ranking.AggregatorOption{
			ranking.WithMaxInFlight(cfg.RankingInFlight),
		},
	)

	if cfg.Domain != "" {
		streamServer.AllowOrigins(
			surface.Host(surface.External, cfg.Domain),
			surface.Host(surface.Internal, cfg.Domain),
		)
	}

	rateLimiter := ratelimit.NewLimiter(cfg.RatePerHour, cfg.RateBurst)
	log.Info().Int("per_hour", cfg.RatePerHour).Int("burst", cfg.RateBurst).Msg("rate limiter initialized")

	handler := api.NewHandler(clientFor, cfg.RankingInFlight, log)
	router := handler.SetupRoutes(streamServer, rateLimiter)

	srv := &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// rankings fan out to every leaderboard
		WriteTimeout: 2*cfg.RequestTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	srv.RegisterOnShutdown(streamServer.CloseAll)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	go func() {
		ticker := time.NewTicker(limiterIdle)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := rateLimiter.Sweep(limiterIdle); n > 0 {
					log.Debug().Int("dropped", n).Msg("rate limiter keys swept")
				}
			}
		}
	}()

	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server gracefully")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Int("open_streams", streamServer.Connections()).Msg("server stopped")
}
