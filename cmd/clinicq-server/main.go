package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clinicq/clinicq/internal/config"
	"github.com/clinicq/clinicq/internal/domain/clinic"
	"github.com/clinicq/clinicq/internal/domain/display"
	"github.com/clinicq/clinicq/internal/domain/queue"
	"github.com/clinicq/clinicq/internal/domain/report"
	"github.com/clinicq/clinicq/internal/domain/setup"
	"github.com/clinicq/clinicq/internal/platform/blobstore"
	"github.com/clinicq/clinicq/internal/platform/bridge"
	"github.com/clinicq/clinicq/internal/platform/db"
	"github.com/clinicq/clinicq/internal/platform/middleware"
	"github.com/clinicq/clinicq/internal/platform/realtime"
	"github.com/clinicq/clinicq/internal/platform/session"
	"github.com/clinicq/clinicq/internal/platform/websocket"
)

const (
	apiPrefix    = "/api/v1"
	adminPrefix  = apiPrefix + "/admin"
	bannerPrefix = apiPrefix + "/display/banners/"
	displayPath  = apiPrefix + "/display"

	// uploadLimit leaves room for multipart framing around a 5 MB image.
	uploadLimit   = "6M"
	sweepInterval = time.Minute
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "clinicq-server",
		Short: "Clinic patient-queue display server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(connectionCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(exportCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the queue server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg != nil && cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// backendOpener builds realtime backends for the setup service and the
// CLI. The project id namespaces Redis keys.
func backendOpener(cfg *config.Config, logger zerolog.Logger) setup.Opener {
	return func(ctx context.Context, conn config.Connection) (realtime.Backend, error) {
		return realtime.Open(ctx, conn.DatabaseURL, realtime.OpenOptions{
			MaxConns:    cfg.DBMaxConns,
			MinConns:    cfg.DBMinConns,
			RedisPrefix: conn.ProjectID,
			Logger:      logger,
		})
	}
}

// signageSinks connects the configured signage bridges. A bridge that
// cannot be reached is logged and skipped.
func signageSinks(cfg *config.Config, logger zerolog.Logger) *bridge.Fanout {
	fanout := bridge.NewFanout(logger)
	if cfg.MQTTBroker != "" {
		sink, err := bridge.NewMQTTSink(bridge.MQTTConfig{
			Broker:   cfg.MQTTBroker,
			ClientID: cfg.MQTTClientID,
			Topic:    cfg.MQTTTopic,
		})
		if err != nil {
			logger.Error().Err(err).Str("broker", cfg.MQTTBroker).Msg("mqtt bridge disabled")
		} else {
			fanout.Add(sink)
		}
	}
	if cfg.NATSURL != "" {
		sink, err := bridge.NewNATSSink(cfg.NATSURL, cfg.NATSSubject, "clinicq-server")
		if err != nil {
			logger.Error().Err(err).Str("url", cfg.NATSURL).Msg("nats bridge disabled")
		} else {
			fanout.Add(sink)
		}
	}
	if cfg.WebhookURL != "" {
		fanout.Add(bridge.NewWebhookSink(cfg.WebhookURL, cfg.WebhookSecret))
	}
	return fanout
}

// topicAuthorizer admits anyone to public topics and a session's own token
// to its admin topic.
func topicAuthorizer(tokens *session.Issuer) websocket.Authorizer {
	return func(topic, token string) bool {
		if !strings.HasPrefix(topic, websocket.AdminTopicPrefix) {
			return true
		}
		sid, err := tokens.Parse(token)
		return err == nil && websocket.AdminTopic(sid) == topic
	}
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := newLogger(nil)
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Realtime store and queue
	client := realtime.NewClient(logger)
	patients := clinic.NewPatientRepo(client, "", logger)
	settings := clinic.NewSettingsRepo(client, "", logger)
	feed := queue.NewLiveFeed(patients, settings, logger)
	feed.SetDemoMode(cfg.DemoMode)
	svc := queue.NewService(patients, settings, feed, client, logger)

	client.OnStateChange(func(ready bool) {
		if !ready {
			feed.Stop()
			return
		}
		if err := feed.Start(ctx); err != nil {
			logger.Error().Err(err).Msg("failed to start live feed")
		}
	})

	// Boards, banners and push
	local, err := blobstore.NewLocalBlobStore(cfg.BannerDir(), bannerPrefix)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open banner directory")
	}
	boards := display.NewHandler(svc, local, cfg.ClinicName, logger)

	tokens := session.NewIssuer(cfg.SessionSecret, cfg.SessionTTL)
	hub := websocket.NewHub(logger)
	hub.SetAuthorizer(topicAuthorizer(tokens))

	sinks := signageSinks(cfg, logger)
	defer sinks.Close()
	var signage display.Signage
	if sinks.Len() > 0 {
		signage = sinks
	}
	broadcaster := display.NewBroadcaster(boards, hub, signage, logger)
	svc.SetNotifier(broadcaster)
	hub.OnSubscribe(func(c *websocket.Client, topic string) {
		if typ, data, ok := broadcaster.Snapshot(topic); ok {
			hub.SendTo(c, websocket.Event{Type: typ, Topic: topic, Timestamp: time.Now().UTC(), Data: data})
		}
	})

	// Connection
	setupSvc := setup.NewService(cfg, client, backendOpener(cfg, logger), boards, logger)
	if err := setupSvc.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to read connection")
	}

	go svc.RunSweeper(ctx, cfg.SessionTTL, sweepInterval)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "If-None-Match"},
	}))
	e.Use(middleware.SecurityHeaders(adminPrefix))
	e.Use(middleware.Sanitize(logger))
	e.Use(middleware.BodyLimit(cfg.BodyLimit, uploadLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout, "/ws"))

	cacheCfg := middleware.DefaultCacheConfig()
	cacheCfg.Paths = []string{displayPath}
	e.Use(middleware.ETag(cacheCfg))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status": "ok",
			"store":  client.Ready(),
		})
	})
	e.GET("/health/store", db.HealthHandler(client))

	apiV1 := e.Group(apiPrefix)
	admin := apiV1.Group("/admin",
		session.Middleware(tokens),
		middleware.RateLimit(middleware.DefaultRateLimitConfig()),
		middleware.Audit(logger, adminPrefix, nil),
	)

	queue.NewHandler(svc, tokens).RegisterRoutes(apiV1, admin)
	boards.RegisterRoutes(apiV1, admin)
	report.NewHandler(svc, time.Local).RegisterRoutes(admin)
	setup.NewHandler(setupSvc).RegisterRoutes(admin)
	websocket.NewHandler(hub).RegisterRoutes(e.Group(""))

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("clinic", cfg.ClinicName).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}

	cancel()
	svc.Close()
	feed.Stop()
	if err := client.Disconnect(); err != nil {
		logger.Warn().Err(err).Msg("failed to close realtime store")
	}
	logger.Info().Msg("server stopped")
	return nil
}
