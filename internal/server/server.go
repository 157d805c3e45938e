package server

import (
	"net/http"
	"time"

	"backend-runconnect/internal/auth"
	"backend-runconnect/internal/config"
	"backend-runconnect/internal/directions"
	"backend-runconnect/internal/elevation"
	"backend-runconnect/internal/metrics"
	"backend-runconnect/internal/resolver"
	"backend-runconnect/internal/route"
	"backend-runconnect/internal/session"
	"backend-runconnect/internal/snap"
	"backend-runconnect/internal/stream"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const directionsTimeout = 15 * time.Second

type Server struct {
	App      *fiber.App
	Cfg      config.Config
	DB       *pgxpool.Pool
	Redis    *redis.Client
	Log      *zap.Logger
	Stream   *stream.Hub
	Sessions *session.Manager
	Snap     *snap.Service
	Routes   *route.Service
}

func NewServer(cfg config.Config, db *pgxpool.Pool, redisClient *redis.Client, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	app := fiber.New(fiber.Config{
		AppName:     "runconnect-api",
		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,
	})
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(metrics.Middleware())

	s := &Server{
		App:    app,
		Cfg:    cfg,
		DB:     db,
		Redis:  redisClient,
		Log:    log,
		Stream: stream.NewHub(redisClient, log.Named("stream")),
	}

	dirs := directions.NewClient(directions.Options{
		BaseURL:    cfg.DirectionsURL,
		APIKey:     cfg.GoogleMapsAPIKey,
		Mode:       cfg.DirectionsMode,
		RatePerSec: cfg.DirectionsRatePerSec,
		HTTPClient: &http.Client{Timeout: directionsTimeout},
		Logger:     log.Named("directions"),
	})
	s.Snap = snap.NewService(dirs, log.Named("snap"))

	var snapper resolver.Snapper = s.Snap
	if cfg.SnapEndpointURL != "" {
		snapper = snap.NewClient(cfg.SnapEndpointURL, nil)
	}

	var store session.RouteStore
	if db != nil {
		s.Routes = route.NewService(db)
		store = s.Routes
	}

	s.Sessions = session.NewManager(session.Options{
		Store: store,
		Hub:   s.Stream,
		Resolver: resolver.Options{
			Snapper:   snapper,
			Elevation: elevation.NewClient(cfg.ElevationURL, nil, log.Named("elevation")),
			Debounce:  cfg.SnapDebounce,
		},
		IdleTTL: cfg.SessionIdleTTL,
		Logger:  log.Named("session"),
	})

	registerRoutes(s)
	return s
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":   "ok",
			"sessions": s.Sessions.Len(),
			"database": s.DB != nil,
		})
	})
	s.App.Get("/metrics", metrics.Handler())

	jwtMiddleware := auth.JWTMiddleware(s.Cfg.JWTSecret)

	routes := s.App.Group("/routes")
	snap.RegisterRoutes(routes, s.Snap)
	if s.Routes != nil {
		route.RegisterRoutes(routes, s.Routes, jwtMiddleware)
	}
	session.RegisterRoutes(s.App.Group("/sessions"), s.Sessions, jwtMiddleware)
	stream.RegisterRoutes(s.App.Group("/stream"), s.Stream, s.Sessions.InitialMessage,
		auth.JWTQueryMiddleware(s.Cfg.JWTSecret), session.OwnerGuard(s.Sessions))
}

// Close ends every drafting session and stops the stream relay.
func (s *Server) Close() {
	s.Sessions.Shutdown()
	s.Stream.Close()
}
