package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"
	_ "github.com/lib/pq"
	"github.com/peterbourgon/ff/v3"
	"golang.org/x/sync/errgroup"

	"github.com/streamplex/transcode-api/api"
	"github.com/streamplex/transcode-api/clients"
	"github.com/streamplex/transcode-api/config"
	"github.com/streamplex/transcode-api/heartbeat"
	"github.com/streamplex/transcode-api/locks"
	"github.com/streamplex/transcode-api/metrics"
	"github.com/streamplex/transcode-api/pipeline"
	"github.com/streamplex/transcode-api/pprof"
	"github.com/streamplex/transcode-api/scheduler"
	"github.com/streamplex/transcode-api/store"
	"github.com/streamplex/transcode-api/supervisor"
	"github.com/streamplex/transcode-api/transcode"
	"github.com/streamplex/transcode-api/video"
)

func main() {
	err := flag.Set("logtostderr", "true")
	if err != nil {
		glog.Fatal(err)
	}
	vFlag := flag.Lookup("v")
	fs := flag.NewFlagSet("transcode-api", flag.ExitOnError)
	cli := config.Cli{}

	version := fs.Bool("version", false, "print application version")

	// listen addresses
	fs.StringVar(&cli.HTTPAddress, "http-addr", "0.0.0.0:8989", "Address to bind for the player-facing HTTP API")
	fs.IntVar(&cli.MetricsPort, "metrics-port", 2112, "Port to expose Prometheus metrics on")
	fs.IntVar(&cli.PprofPort, "pprof-port", 6061, "Pprof listen port")

	// media layout
	fs.StringVar(&cli.MediaDir, "media-dir", "/data/media", "Directory holding uploaded sources and derived media")
	config.URLVarFlag(fs, &cli.SiteURL, "site-url", "", "Public base URL of this service, used to build absolute artwork URLs")

	// catalog metadata API
	config.URLVarFlag(fs, &cli.MetadataAPIURL, "metadata-api-url", "", "Base URL of the catalog metadata API used to enrich registered videos")
	fs.StringVar(&cli.MetadataAPIKey, "metadata-api-key", "", "Bearer token for the catalog metadata API")

	// database
	fs.StringVar(&cli.DatabaseURL, "database-url", "", "Postgres connection string. Empty runs with the in-memory catalog")

	// continuous encoder supervision
	fs.DurationVar(&cli.SupervisorPoll, "supervisor-poll", supervisor.DefaultPollInterval, "How often the supervisor compares encoder progress with player position")
	fs.IntVar(&cli.SuspendAhead, "suspend-ahead", supervisor.DefaultSuspendAhead, "Suspend the encoder once it is this many segments ahead of the player")
	fs.IntVar(&cli.ResumeAhead, "resume-ahead", supervisor.DefaultResumeAhead, "Resume the encoder once its lead shrinks below this many segments")
	fs.DurationVar(&cli.InactivityTimeout, "inactivity-timeout", supervisor.DefaultInactivityTimeout, "Kill the encoder when no player request arrives for this long")

	// request handling
	fs.DurationVar(&cli.SegmentTimeout, "segment-timeout", scheduler.DefaultSegmentTimeout, "How long a segment request waits for another encoder's output")
	fs.DurationVar(&cli.CompletionTimeout, "completion-timeout", scheduler.DefaultCompletionTimeout, "How long a playlist request waits for the continuous worker's first segment")
	fs.DurationVar(&cli.PlaylistCacheTTL, "playlist-cache-ttl", time.Hour, "How long synthesized playlists are served from memory")
	fs.Float64Var(&cli.DefaultSegmentSecs, "default-segment-secs", scheduler.DefaultSegmentSecs, "Fallback segment length when the playlist does not record one")
	fs.IntVar(&config.MaxInFlightEncodes, "max-inflight-encodes", config.MaxInFlightEncodes, "Maximum number of concurrent one-shot encodes before the API sheds requests")
	fs.IntVar(&config.MaxInFlightRequests, "max-inflight-requests", config.MaxInFlightRequests, "Maximum number of concurrent media requests before the API sheds requests")

	// special parameters
	verbosity := fs.String("v", "", "Log verbosity.  {4|5|6}")
	_ = fs.String("config", "", "config file (optional)")

	err = ff.Parse(fs, os.Args[1:],
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		ff.WithEnvVarPrefix("TRANSCODE_API"),
	)
	if err != nil {
		glog.Fatalf("error parsing cli: %s", err)
	}
	if len(fs.Args()) > 0 {
		glog.Fatalf("unexpected extra arguments on command line: %v", fs.Args())
	}
	err = flag.CommandLine.Parse(nil)
	if err != nil {
		glog.Fatal(err)
	}

	if *version {
		fmt.Printf("transcode-api version: %s\n", config.Version)
		return
	}

	if *verbosity != "" {
		err = vFlag.Value.Set(*verbosity)
		if err != nil {
			glog.Fatal(err)
		}
	}

	go func() {
		log.Println(pprof.ListenAndServe(cli.PprofPort))
	}()
	go func() {
		log.Println(metrics.ListenAndServe(cli.MetricsPort))
	}()

	var dataStore store.Store
	if cli.DatabaseURL != "" {
		db, err := sql.Open("postgres", cli.DatabaseURL)
		if err != nil {
			glog.Fatalf("Error creating postgres connection: %v", err)
		}

		// Without this, we've run into issues with exceeding our open connection limit
		db.SetMaxOpenConns(2)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(time.Hour)

		pg := store.NewPostgresStore(db)
		if err := pg.EnsureSchema(context.Background()); err != nil {
			glog.Fatalf("Error ensuring database schema: %v", err)
		}
		dataStore = pg
	} else {
		glog.Info("Database connection string was not set, running with the in-memory catalog.")
		dataStore = store.NewMemoryStore()
	}

	layout := transcode.Layout{MediaDir: cli.MediaDir}
	prober := video.Probe{}
	registry := locks.NewRegistry()
	heartbeats := heartbeat.NewStore()
	synthesizer := video.NewSynthesizer(prober, registry, cli.PlaylistCacheTTL)
	encoder := transcode.NewEncoder(registry)

	runner := supervisor.NewRunner(heartbeats)
	runner.PollInterval = cli.SupervisorPoll
	runner.SuspendAhead = cli.SuspendAhead
	runner.ResumeAhead = cli.ResumeAhead
	runner.InactivityTimeout = cli.InactivityTimeout

	sched := scheduler.NewScheduler(dataStore, prober, synthesizer, heartbeats, encoder, runner, layout)
	sched.SegmentTimeout = cli.SegmentTimeout
	sched.CompletionTimeout = cli.CompletionTimeout
	sched.SegmentSecs = cli.DefaultSegmentSecs

	var metadata clients.MetadataFetcher
	if cli.MetadataAPIURL != nil {
		metadata = clients.NewMetadataClient(cli.MetadataAPIURL, cli.MetadataAPIKey)
	} else {
		glog.Info("Metadata API URL was not set, catalog metadata enrichment is disabled.")
	}

	coordinator := pipeline.NewCoordinator(dataStore, prober, metadata, synthesizer, encoder, layout, cli.SiteURL)

	// Initialize root context; cancelling this prompts all components to shut down cleanly
	group, ctx := errgroup.WithContext(context.Background())

	group.Go(func() error {
		return handleSignals(ctx)
	})

	group.Go(func() error {
		return api.ListenAndServe(ctx, cli.HTTPAddress, dataStore, sched, coordinator, encoder, layout)
	})

	err = group.Wait()
	sched.Shutdown("shutdown")
	glog.Infof("Shutdown complete. Reason for shutdown: %s", err)
}

func handleSignals(ctx context.Context) error {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT)
	for {
		select {
		case s := <-c:
			glog.Errorf("caught signal=%v, attempting clean shutdown", s)
			return fmt.Errorf("caught signal=%v", s)
		case <-ctx.Done():
			return nil
		}
	}
}
