package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"andstatus/internal/database"
	"andstatus/internal/handlers"
	"andstatus/internal/metrics"
	"andstatus/internal/models"
	"andstatus/internal/routing"
	"andstatus/internal/stream"
	"andstatus/internal/sync"
	"andstatus/internal/tracing"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	collectorInterval = 30 * time.Second
	shutdownTimeout   = 10 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the admin API and follow the streaming timeline",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("timeline", string(models.TimelineHome), "timeline streamed events are stored under")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	name, _ := cmd.Flags().GetString("timeline")
	timeline, err := models.ParseTimelineType(name)
	if err != nil {
		return err
	}
	if timeline == models.TimelineUnknown {
		timeline = models.TimelineHome
	}

	a, err := openAppFor(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.cfg.OTel.Enabled {
		tp, err := tracing.Init(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize tracing")
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				tp.Shutdown(shutdownCtx)
			}()
		}
	}

	var consumer *stream.Consumer
	if a.cfg.Stream.Enabled() {
		streamCfg := stream.DefaultConfig()
		streamCfg.Endpoints = a.cfg.Stream.Endpoints
		streamCfg.Compress = a.cfg.Stream.Compress
		streamCfg.Account = a.account.Name
		streamCfg.Timelines = []models.TimelineType{timeline}

		sink := sync.NewStreamSink(a.store, a.resolver, a.account, timeline)
		consumer, err = stream.NewConsumer(streamCfg, sink, a.state.CursorStore())
		if err != nil {
			return err
		}
	}

	accounts := a.state.AccountStore()
	hcfg := handlers.Config{DefaultAccount: a.account}
	src := metrics.StatsSource{
		MessageCount:         storeCount(ctx, a, func(st *database.Stats) int { return st.Messages }),
		UserCount:            storeCount(ctx, a, func(st *database.Stats) int { return st.Users }),
		PendingDownloadCount: storeCount(ctx, a, func(st *database.Stats) int { return st.PendingDownloads }),
		AccountCount:         accounts.Count,
	}
	if consumer != nil {
		hcfg.StreamConnected = consumer.IsConnected
		src.StreamConnected = consumer.IsConnected
	}

	h := handlers.NewHandler(a.store, accounts, hcfg)
	server := &http.Server{
		Addr:              a.cfg.Server.Address,
		Handler:           routing.SetupRouter(routing.Config{Handlers: h, Logger: log.Logger}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("address", server.Addr).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	metrics.StartCollector(gctx, src, collectorInterval)

	if consumer != nil {
		g.Go(func() error {
			err := consumer.Run(gctx)
			consumer.Stop()
			return err
		})
	}

	err = g.Wait()
	log.Info().Msg("Stopped")
	return err
}

// storeCount reads one count for the collector; -1 leaves the gauge alone.
func storeCount(ctx context.Context, a *app, pick func(*database.Stats) int) func() int {
	return func() int {
		st, err := a.store.Stats(ctx)
		if err != nil {
			log.Debug().Err(err).Msg("Failed to read stats")
			return -1
		}
		return pick(st)
	}
}
