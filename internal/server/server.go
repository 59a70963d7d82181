package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/petaverse/peta_wallet/internal/config"
	"github.com/petaverse/peta_wallet/internal/jobs"
	"github.com/petaverse/peta_wallet/internal/routes"
)

// Server wraps the Fiber application, shared dependencies and the background
// job runner.
type Server struct {
	app   *fiber.App
	cfg   config.Config
	db    *pgxpool.Pool
	cache *redis.Client
	jobs  *jobs.Runner
}

// New instantiates the HTTP server and delegates route wiring to routes.Setup.
func New(cfg config.Config, db *pgxpool.Pool, cache *redis.Client, logger *slog.Logger) (*Server, error) {
	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	runner, err := routes.Setup(app, routes.Deps{Cfg: cfg, DB: db, Cache: cache, Logger: logger})
	if err != nil {
		return nil, err
	}

	return &Server{app: app, cfg: cfg, db: db, cache: cache, jobs: runner}, nil
}

// Listen starts the background jobs and the HTTP server.
func (s *Server) Listen() error {
	s.jobs.Start()
	return s.app.Listen(s.cfg.Address())
}

// Shutdown stops the background jobs, then gracefully drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.jobs.Stop()
	return s.app.ShutdownWithContext(ctx)
}
