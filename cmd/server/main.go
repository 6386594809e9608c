package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"restoran-fulfillment/internal/admin"
	"restoran-fulfillment/internal/apperr"
	"restoran-fulfillment/internal/audit"
	"restoran-fulfillment/internal/auth"
	"restoran-fulfillment/internal/broker"
	"restoran-fulfillment/internal/clock"
	"restoran-fulfillment/internal/config"
	"restoran-fulfillment/internal/database"
	"restoran-fulfillment/internal/events"
	"restoran-fulfillment/internal/fulfillment"
	"restoran-fulfillment/internal/lock"
	"restoran-fulfillment/internal/logger"
	"restoran-fulfillment/internal/notify"
	"restoran-fulfillment/internal/realtime/channel"
	"restoran-fulfillment/internal/realtime/hub"
	"restoran-fulfillment/internal/store"
	"restoran-fulfillment/internal/store/gormstore"
	"restoran-fulfillment/internal/store/memstore"
	"restoran-fulfillment/internal/tables"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/spf13/pflag"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

func main() {
	var (
		port       = pflag.StringP("port", "p", "", "HTTP port (overrides HTTP_PORT)")
		configFile = pflag.StringP("config", "c", "", "YAML config file (overrides CONFIG_FILE)")
		storeFlag  = pflag.String("store", "", "record store: postgres or memory (overrides STORE_DRIVER)")
	)
	pflag.Parse()

	if *storeFlag != "" {
		os.Setenv("STORE_DRIVER", *storeFlag)
	}
	cfg := config.Load(*configFile)
	if *port != "" {
		cfg.HTTPPort = *port
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("[FATAL] %v", err)
	}
	lg := logger.New(os.Stdout, "fulfillment", level)
	slog.SetDefault(lg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, lg); err != nil {
		lg.Error("server_failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, lg *slog.Logger) error {
	clk := clock.Real()

	var (
		st *store.Store
		db *gorm.DB
	)
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		st = memstore.New()
	default:
		var err error
		if db, err = database.Open(cfg.DatabaseDSN, lg); err != nil {
			return err
		}
		defer database.Close(db)
		st = gormstore.New(db)
	}

	h := hub.New(lg)
	src := events.NewSource(h, clk, lg)
	rec := audit.NewRecorder(st.AuditLogs, clk)
	locks := lock.NewKeyed()

	coordinator := tables.NewCoordinator(tables.Deps{
		Store:              st,
		Locks:              locks,
		Clock:              clk,
		Events:             src,
		Audit:              rec,
		AutoReleaseMinutes: cfg.AutoReleaseMinutes,
		SweepInterval:      cfg.SweepInterval,
		Logger:             lg,
	})
	svc := fulfillment.NewService(fulfillment.Deps{
		Store:   st,
		Locks:   locks,
		Clock:   clk,
		Events:  src,
		Audit:   rec,
		Tables:  coordinator,
		TaxRate: cfg.TaxRate,
		Logger:  lg,
	})

	var (
		sink notify.Sink = notify.LogSink{Logger: lg.With("component", "notify_sink")}
		mq   *broker.Client
	)
	if cfg.AMQPURL != "" {
		var err error
		if mq, err = broker.Dial(cfg.AMQPURL); err != nil {
			return err
		}
		defer mq.Close()
		if err := mq.DeclareTopic(notify.DefaultExchange, notify.DefaultQueue, "notify.*"); err != nil {
			return err
		}
		sink = notify.NewBrokerSink(mq, notify.DefaultExchange, clk)
		lg.Info("rabbitmq_connected", "exchange", notify.DefaultExchange)
	}
	dispatcher := notify.NewDispatcher(notify.Deps{
		Store:         st,
		Sink:          sink,
		Clock:         clk,
		MaxAttempts:   cfg.NotifyMaxAttempts,
		RetryInterval: cfg.NotifyRetryInterval,
		Logger:        lg,
	})
	dispatcher.Subscribe(src)

	validator := auth.NewJWTValidator(cfg.JWTSecret)
	wsHandler := channel.NewHandler(channel.Config{
		HeartbeatInterval: cfg.HeartbeatInterval,
		PongGrace:         cfg.PongGrace,
		WriteTimeout:      cfg.WriteTimeout,
		QueueSize:         cfg.SendQueueSize,
	}, h, validator, clk, lg)

	app := fiber.New(fiber.Config{
		ErrorHandler:          apperr.FiberErrorHandler(lg),
		DisableStartupMessage: true,
	})
	app.Use(recover.New())

	corsOrigins := strings.Split(cfg.CORSOrigins, ",")
	for i := range corsOrigins {
		corsOrigins[i] = strings.TrimSpace(corsOrigins[i])
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(corsOrigins, ","),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET,POST,PUT,PATCH,DELETE,OPTIONS",
	}))

	app.Get("/healthz", func(c *fiber.Ctx) error {
		checks := fiber.Map{"sessions": h.Len()}
		healthy := true
		if db != nil {
			if err := pingDB(c.UserContext(), db); err != nil {
				checks["database"] = err.Error()
				healthy = false
			} else {
				checks["database"] = "ok"
			}
		}
		if mq != nil {
			if err := mq.Ping(); err != nil {
				checks["rabbitmq"] = err.Error()
				healthy = false
			} else {
				checks["rabbitmq"] = "ok"
			}
		}
		if !healthy {
			return c.Status(fiber.StatusServiceUnavailable).JSON(checks)
		}
		return c.JSON(checks)
	})

	// GET /ws?token=<jwt>&station=<s>&attempt=<n>
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(func(c *websocket.Conn) {
		err := wsHandler.Serve(ctx, c, channel.ParamsFrom(c.Query))
		if err != nil && !errors.Is(err, auth.ErrInvalidToken) && !errors.Is(err, hub.ErrClosed) {
			lg.Error("ws_session_failed", "error", err)
		}
	}))

	api := app.Group("/api", auth.JWTMiddleware(validator))
	fulfillment.Register(api, svc)
	tables.Register(api, coordinator)
	admin.Register(api, admin.NewUsers(st, clk, rec), rec, h)

	go src.Run(ctx)
	go coordinator.Run(ctx)
	go dispatcher.Run(ctx)

	serveErr := make(chan error, 1)
	go func() {
		lg.Info("server_started", "port", cfg.HTTPPort, "store", cfg.StoreDriver)
		serveErr <- app.Listen(":" + cfg.HTTPPort)
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	lg.Info("server_stopping")
	h.Close()
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		lg.Error("shutdown_failed", "error", err)
	}
	lg.Info("server_stopped")
	return nil
}

func pingDB(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return sqlDB.PingContext(ctx)
}
