// Command server starts the camcast capture service: it accepts browser
// capture over WebSocket, feeds a per-session ffmpeg transcoder publishing to
// RTMP, and serves the session API, master playlists, and the bundled web
// client.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"camcast/internal/capture"
	"camcast/internal/config"
	"camcast/internal/events"
	"camcast/internal/journal"
	"camcast/internal/observability/logging"
	"camcast/internal/observability/metrics"
	"camcast/internal/relay"
	"camcast/internal/server"
	"camcast/internal/serverutil"
	"camcast/internal/session"
	"camcast/internal/transcode"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address (overrides CAMCAST_ADDR)")
	logLevel := flag.String("log-level", "", "log level (overrides CAMCAST_LOG_LEVEL)")
	envFile := flag.String("env-file", "", "path to an env file loaded before resolving configuration")
	flag.Parse()

	if err := config.LoadEnvFile(*envFile); err != nil {
		logging.Init(logging.Config{}).Error("failed to load env file", "error", err)
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		logging.Init(logging.Config{}).Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	recorder := metrics.Default()

	store, err := journal.Open(journal.Config{
		Driver: cfg.JournalDriver,
		Path:   cfg.JournalPath,
		DSN:    cfg.JournalDSN,
	})
	if err != nil {
		logger.Error("failed to open session journal", "driver", cfg.JournalDriver, "error", err)
		os.Exit(1)
	}

	publisher, err := events.NewPublisher(events.Config{
		Driver: cfg.EventsDriver,
		Logger: logging.WithComponent(logger, "events"),
		Redis: events.RedisConfig{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
			Stream:   cfg.RedisStream,
		},
		Kafka: events.KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		},
	})
	if err != nil {
		logger.Error("failed to configure event publisher", "driver", cfg.EventsDriver, "error", err)
		os.Exit(1)
	}

	manager, err := session.NewManager(session.Config{
		Logger:        logging.WithComponent(logger, "sessions"),
		Metrics:       recorder,
		Journal:       store,
		Events:        publisher,
		Retention:     cfg.Retention,
		NewTranscoder: transcoderFactory(cfg, logging.WithComponent(logger, "transcode"), recorder),
	})
	if err != nil {
		logger.Error("failed to initialise session manager", "error", err)
		os.Exit(1)
	}

	var authorize capture.Authorizer
	if cfg.StreamKeyHash != "" {
		hash := cfg.StreamKeyHash
		authorize = func(stream, key string) bool {
			return server.VerifyStreamKey(hash, key) == nil
		}
	}
	gateway := capture.NewGateway(capture.GatewayConfig{
		Arena:             manager,
		Relay:             relay.New(logging.WithComponent(logger, "relay"), recorder),
		Logger:            logging.WithComponent(logger, "capture"),
		DefaultStream:     cfg.DefaultStream,
		Authorize:         authorize,
		HeartbeatInterval: cfg.HeartbeatInterval,
	})

	srv, err := server.New(server.Config{
		Addr:       cfg.Addr,
		Logger:     logger,
		Metrics:    recorder,
		Security:   server.SecurityConfig{MediaOrigin: mediaOrigin(cfg.HLSBaseURL)},
		Sessions:   manager,
		Journal:    store,
		Ingest:     gateway.HandleIngest,
		Ladder:     cfg.Ladder,
		HLSBaseURL: cfg.HLSBaseURL,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("camcast listening", "addr", cfg.Addr, "publish_addr", cfg.PublishAddr, "hls_base_url", cfg.HLSBaseURL)
	err = serverutil.Run(ctx, serverutil.Config{
		Server: srv.HTTPServer(),
		Tasks: []serverutil.Task{
			func(taskCtx context.Context) error {
				stop := manager.StartReaper(taskCtx, cfg.ReapInterval)
				defer stop()
				<-taskCtx.Done()
				return nil
			},
		},
	})
	if err != nil {
		logger.Error("server error", "error", err)
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Close(closeCtx); err != nil {
		logger.Warn("failed to close journal", "error", err)
	}
	if err := publisher.Close(); err != nil {
		logger.Warn("failed to close event publisher", "error", err)
	}
	logger.Info("server stopped")
	if err != nil {
		os.Exit(1)
	}
}

// transcoderFactory builds one supervisor per session, publishing the session
// stream to the configured RTMP endpoint.
func transcoderFactory(cfg config.Config, logger *slog.Logger, recorder *metrics.Recorder) session.Factory {
	return func(stream string, onExit func(code int, err error)) session.Transcoder {
		args, err := transcode.Args(transcode.EncodeConfig{
			PublishURL: transcode.PublishURL(cfg.PublishAddr, cfg.PublishApp, stream),
		})
		if err != nil {
			// PublishURL is always non-empty here; treat a failure as a
			// programming error surfaced at session start.
			logger.Error("failed to build transcoder args", "stream", stream, "error", err)
		}
		return transcode.New(transcode.Config{
			FFmpegPath:  cfg.FFmpegPath,
			Args:        args,
			QueueDepth:  cfg.QueueDepth,
			StopTimeout: cfg.StopTimeout,
			Logger:      logger.With("stream", stream),
			Metrics:     recorder,
			OnExit:      onExit,
		})
	}
}

// mediaOrigin reduces the HLS base URL to its origin for the content security
// policy. An unparseable URL yields an empty origin, which leaves the policy
// at its defaults.
func mediaOrigin(hlsBaseURL string) string {
	parsed, err := url.Parse(hlsBaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return ""
	}
	return parsed.Scheme + "://" + parsed.Host
}
