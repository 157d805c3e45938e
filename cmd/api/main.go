package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"backend-runconnect/internal/config"
	"backend-runconnect/internal/db"
	"backend-runconnect/internal/logger"
	"backend-runconnect/internal/server"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var mainDepsProvider = defaultDeps
var mainRunner = realMain

func main() {
	mainRunner(mainDepsProvider())
}

type mainDeps struct {
	loadConfig      func() config.Config
	newLogger       func(level string) (*zap.Logger, error)
	connectPostgres func(config.Config) (*pgxpool.Pool, error)
	connectRedis    func(config.Config) *redis.Client
	notify          func(chan<- os.Signal, ...os.Signal)
	run             func(context.Context, config.Config, *pgxpool.Pool, *redis.Client, *zap.Logger, <-chan os.Signal, ListenFunc) error
	exit            func(int)
}

func defaultDeps() mainDeps {
	return mainDeps{
		loadConfig:      config.Load,
		newLogger:       logger.New,
		connectPostgres: db.ConnectPostgres,
		connectRedis:    db.ConnectRedis,
		notify:          signal.Notify,
		run:             Run,
		exit:            os.Exit,
	}
}

func realMain(deps mainDeps) {
	cfg := deps.loadConfig()

	log, err := deps.newLogger(cfg.LogLevel)
	if err != nil {
		log = zap.NewNop()
	}
	defer func() { _ = log.Sync() }()

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", zap.Error(err))
		deps.exit(1)
		return
	}
	if cfg.GoogleMapsAPIKey == "" {
		log.Warn("GOOGLE_MAPS_API_KEY not set, path snapping will fall back to straight lines")
	}

	pg, err := deps.connectPostgres(cfg)
	if err != nil {
		log.Warn("postgres connection failed, route persistence disabled", zap.Error(err))
		pg = nil
	} else if err := db.EnsureSchema(context.Background(), pg); err != nil {
		log.Warn("schema setup failed", zap.Error(err))
	}

	rdb := deps.connectRedis(cfg)
	if err := db.PingRedis(context.Background(), rdb); err != nil {
		log.Warn("redis unavailable, stream fan-out stays local", zap.Error(err))
		_ = rdb.Close()
		rdb = nil
	}

	signals := make(chan os.Signal, 1)
	deps.notify(signals, syscall.SIGINT, syscall.SIGTERM)

	if err := deps.run(context.Background(), cfg, pg, rdb, log, signals, nil); err != nil {
		log.Error("server exited with error", zap.Error(err))
	}
}

type ListenFunc func(app *fiber.App, addr string) error

var defaultListen ListenFunc = func(app *fiber.App, addr string) error {
	return app.Listen(addr)
}

var shutdownFn = func(app *fiber.App, ctx context.Context) error {
	return app.ShutdownWithContext(ctx)
}

// Run starts the HTTP server and the idle-session sweep, and waits for
// termination signals.
func Run(ctx context.Context, cfg config.Config, pg *pgxpool.Pool, rdb *redis.Client, log *zap.Logger, signals <-chan os.Signal, listen ListenFunc) error {
	if log == nil {
		log = zap.NewNop()
	}
	srv := server.NewServer(cfg, pg, rdb, log)

	if listen == nil {
		listen = defaultListen
	}

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go srv.Sessions.Run(sweepCtx)

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", cfg.ServerPort))
		errCh <- listen(srv.App, cfg.ServerPort)
	}()

	select {
	case <-signals:
		log.Info("shutdown signal received")
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			srv.Close()
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := shutdownFn(srv.App, shutdownCtx); err != nil {
		return err
	}
	srv.Close()
	if pg != nil {
		pg.Close()
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	return nil
}
