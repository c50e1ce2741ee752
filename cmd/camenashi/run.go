package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/showgayaki/camenashi-kun/internal/api"
	"github.com/showgayaki/camenashi-kun/internal/config"
	"github.com/showgayaki/camenashi-kun/internal/connectivity"
	"github.com/showgayaki/camenashi-kun/internal/detect"
	"github.com/showgayaki/camenashi-kun/internal/flags"
	"github.com/showgayaki/camenashi-kun/internal/orchestrator"
	"github.com/showgayaki/camenashi-kun/internal/recording"
	"github.com/showgayaki/camenashi-kun/internal/source"
	"github.com/showgayaki/camenashi-kun/internal/watchdog"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Watch the camera until stopped or a fault occurs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAgent(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

// runAgent wires every component and runs the supervised loop next to the
// status API. A fault returns an error so the process exits non-zero and
// the service manager restarts it.
func runAgent(ctx context.Context) error {
	startTime := time.Now()

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	logger.Info("starting camenashi",
		"version", config.Version,
		"commit", config.GitCommit,
		"camera", cfg.Camera.Host,
		"labels", cfg.Detect.Labels,
	)

	if err := os.MkdirAll(cfg.VideosDir(), 0755); err != nil {
		return fmt.Errorf("failed to create videos dir: %w", err)
	}

	database, err := openDB(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()
	store := flags.NewSQLStore(database)

	var cl closer
	defer cl.run()

	notifier, err := buildNotifier(cfg, store, logger, &cl)
	if err != nil {
		return err
	}

	gate := connectivity.NewGate(
		connectivity.ICMPPinger{Timeout: cfg.PingTimeout(), Privileged: cfg.Ping.Privileged},
		notifier, store,
		connectivity.GateConfig{Attempts: cfg.Ping.Retries, Delay: cfg.PingDelay(), Logger: logger},
	)

	src := source.NewProcessSource(source.ProcessConfig{
		Command:   cfg.Detector.Command,
		Args:      cfg.Detector.Args,
		StreamURL: cfg.Camera.StreamURL(),
		Area:      cfg.Detector.Area,
		Logger:    logger,
	})

	encoder, err := recording.NewEncoder(cfg.Recording.Encoder, cfg.Recording.FFmpeg, logger)
	if err != nil {
		return err
	}
	recorder := recording.NewController(cfg.VideosDir(), encoder, logger)

	detector, err := detect.NewAccumulator(detect.Config{
		Labels:                cfg.Detect.Labels,
		ConfirmationThreshold: cfg.Detect.ConfirmationThreshold,
		NoDetectionThreshold:  cfg.NoDetectionThreshold(),
		Speed:                 float64(cfg.Detect.MovieSpeed),
	}, recorder, logger)
	if err != nil {
		return err
	}

	pipe, err := buildPipeline(ctx, cfg, notifier, logger)
	if err != nil {
		return err
	}

	publisher, err := buildEvents(cfg, logger, &cl)
	if err != nil {
		return err
	}

	loop, err := orchestrator.NewLoop(orchestrator.LoopConfig{
		Host:     cfg.Camera.Host,
		Gate:     gate,
		Source:   src,
		Detector: detector,
		Watchdog: watchdog.New(cfg.BlackScreenThreshold(), notifier, logger),
		Pipeline: pipe,
		Events:   publisher,
		History:  orchestrator.NewHistory(cfg.API.IncidentBuffer),
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	supervisor := orchestrator.NewSupervisor(notifier, cfg.Pause(), logger)

	loopRun := func(ctx context.Context) error { return supervisor.Run(ctx, loop.Run) }

	var serve func(ctx context.Context) error
	if cfg.API.Addr != "" {
		server := api.NewServer(api.ServerConfig{
			Addr:      cfg.API.Addr,
			Token:     cfg.API.Token,
			Status:    loop,
			Incidents: loop.History(),
			Flags:     store,
			Doctor:    newDoctor(cfg, logger),
			Logger:    logger,
			StartTime: startTime,
			Version:   config.Version,
		})
		serve = server.Run
	}

	err = runServices(ctx, loopRun, serve)
	logger.Info("camenashi stopped", "uptime", time.Since(startTime).Round(time.Second).String())
	return err
}

// runServices runs the supervised loop and, when serve is set, the status
// API. Whichever ends first stops the other. An API failure stops the
// loop as a shutdown and is returned, so the process exits non-zero and is
// restarted.
func runServices(ctx context.Context, loopRun, serve func(ctx context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	apiCtx, stopAPI := context.WithCancel(gctx)
	defer stopAPI()

	g.Go(func() error {
		defer stopAPI()
		return loopRun(gctx)
	})
	if serve != nil {
		g.Go(func() error {
			if err := serve(apiCtx); err != nil {
				return fmt.Errorf("status api: %w", err)
			}
			return nil
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}
