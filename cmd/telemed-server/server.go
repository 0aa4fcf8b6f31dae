package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/telemed/telemed/internal/config"
	"github.com/telemed/telemed/internal/domain/appointment"
	"github.com/telemed/telemed/internal/domain/availability"
	"github.com/telemed/telemed/internal/domain/chat"
	"github.com/telemed/telemed/internal/domain/consultation"
	"github.com/telemed/telemed/internal/domain/documents"
	"github.com/telemed/telemed/internal/domain/facility"
	"github.com/telemed/telemed/internal/domain/history"
	"github.com/telemed/telemed/internal/domain/identity"
	"github.com/telemed/telemed/internal/platform/auth"
	"github.com/telemed/telemed/internal/platform/db"
	"github.com/telemed/telemed/internal/platform/middleware"
	"github.com/telemed/telemed/internal/platform/notification"
	"github.com/telemed/telemed/internal/platform/videoconf"
	"github.com/telemed/telemed/internal/platform/websocket"
)

const (
	version          = "0.1.0"
	roomSweepPeriod  = 30 * time.Second
	requestTimeout   = 30 * time.Second
	maxRequestBody   = "2M"
	shutdownDeadline = 10 * time.Second
)

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func newMailer(cfg *config.Config, logger zerolog.Logger) *notification.Dispatcher {
	var email notification.EmailSender = notification.NewLogEmailSender(logger)
	if cfg.MailEnabled {
		email = notification.NewSMTPSender(notification.SMTPConfig{
			Host:     cfg.MailServer,
			Port:     cfg.MailPort,
			Username: cfg.MailUsername,
			Password: cfg.MailPassword,
			From:     cfg.MailDefaultSender,
		})
	}
	var sms notification.SMSSender = notification.NewLogSMSSender(logger)
	if cfg.SMSEnabled() {
		sms = notification.NewTwilioSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber)
	}
	return notification.NewDispatcher(email, sms, notification.NewTemplateEngine(), logger)
}

// sweepRooms finishes live rooms that ran past their maximum duration.
func sweepRooms(ctx context.Context, rooms *videoconf.Manager, logger zerolog.Logger) {
	ticker := time.NewTicker(roomSweepPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, id := range rooms.Sweep(now.UTC()) {
				logger.Info().Str("room_id", id.String()).Msg("video room timed out")
			}
		}
	}
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Database
	pool, err := db.NewPool(ctx, poolOptions(cfg))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")
	tx := db.NewTransactor(pool)

	// Notifications
	dispatcher := newMailer(cfg, logger)
	dispatcher.Start(ctx)
	defer dispatcher.Close()

	// Live rooms
	hub := websocket.NewHub(logger)
	rooms := videoconf.NewManager(hub)
	if cfg.RedisURL != "" {
		client, err := websocket.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer client.Close()
		relay := websocket.NewRedisRelay(client, hub, logger)
		hub.SetRelay(relay)
		go func() {
			if err := relay.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error().Err(err).Msg("room relay stopped")
			}
		}()
		logger.Info().Msg("room events relayed through redis")
	}
	go sweepRooms(ctx, rooms, logger)

	// Domain services
	revoked := auth.NewTokenRevocationStore()
	defer revoked.Close()
	issuer := auth.NewTokenIssuer(cfg.SigningKey(), cfg.JWTIssuer, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)

	identitySvc := identity.NewService(
		identity.NewUserRepoPG(pool),
		identity.NewProfileRepoPG(pool),
		identity.NewRefreshTokenRepoPG(pool),
		tx,
		issuer,
	)
	identitySvc.SetRevocationStore(revoked)

	facilitySvc := facility.NewService(facility.NewRepoPG(pool))
	facilitySvc.SetAdminLookup(identitySvc)
	identitySvc.SetCenterLinker(facilitySvc)

	availabilitySvc := availability.NewService(availability.NewRepoPG(pool), facilitySvc)

	appointmentSvc := appointment.NewService(appointment.NewRepoPG(pool), tx, availabilitySvc, identitySvc, appointment.Options{
		MaxPerDoctorDay: cfg.MaxAppointmentsPerDoctorDay,
		RoomMinutes:     cfg.MaxRoomMinutes(),
		ICEServers:      cfg.ICEServers,
		SMSEnabled:      cfg.SMSEnabled(),
	})
	appointmentSvc.SetAdminLookup(identitySvc)
	appointmentSvc.SetNotifier(dispatcher)
	appointmentSvc.SetLiveRooms(rooms)
	appointmentSvc.SetLogger(logger)
	go appointmentSvc.RunReminders(ctx, cfg.ReminderInterval)

	chatSvc := chat.NewService(chat.NewRepoPG(pool), appointmentSvc)
	historySvc := history.NewService(history.NewRepoPG(pool), appointmentSvc)

	consultationSvc := consultation.NewService(consultation.NewRepoPG(pool), tx, appointmentSvc, historySvc)
	consultationSvc.SetLogger(logger)

	documentsSvc := documents.NewService(documents.NewRepoPG(pool), tx, consultationSvc, historySvc, documents.PDFOptions{
		AppName:    cfg.AppName,
		BaseURL:    cfg.PublicBaseURL,
		FooterText: cfg.PDFFooterText,
	})
	documentsSvc.SetAdminLookup(identitySvc)
	documentsSvc.SetNotifier(dispatcher)
	documentsSvc.SetLogger(logger)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.BodyLimit(maxRequestBody))
	e.Use(middleware.RequestTimeout(requestTimeout))
	e.Use(auth.JWTMiddleware(auth.JWTConfig{
		Issuer:     cfg.JWTIssuer,
		SigningKey: cfg.SigningKey(),
		Revoked:    revoked,
		Skipper:    auth.AuthSkipper,
	}))
	e.Use(middleware.Audit(logger))

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	apiV1 := e.Group("/api/v1", middleware.RateLimit(rateLimitCfg))
	identity.NewHandler(identitySvc).RegisterRoutes(apiV1)
	facility.NewHandler(facilitySvc).RegisterRoutes(apiV1)
	availability.NewHandler(availabilitySvc).RegisterRoutes(apiV1)
	appointment.NewHandler(appointmentSvc).RegisterRoutes(apiV1)
	chat.NewHandler(chatSvc).RegisterRoutes(apiV1)
	history.NewHandler(historySvc).RegisterRoutes(apiV1)
	consultation.NewHandler(consultationSvc).RegisterRoutes(apiV1)

	docHandler := documents.NewHandler(documentsSvc)
	docHandler.RegisterRoutes(apiV1)
	docHandler.RegisterPublicRoutes(e.Group("/verify", middleware.RateLimit(rateLimitCfg)))

	websocket.NewHandler(hub, rooms, appointmentSvc, chatSvc, appointmentSvc, cfg.CORSOrigins, logger).RegisterRoutes(e)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownDeadline)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	stop()
	logger.Info().Msg("server stopped")
	return nil
}
