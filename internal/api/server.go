package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/suspectuso/drop-minter/internal/reconcile"
)

// Server exposes read-only status and service metrics over HTTP
type Server struct {
	app *fiber.App
	ops *reconcile.Operations
	log *slog.Logger
}

// NewServer creates a new status server
func NewServer(ops *reconcile.Operations, gatherer prometheus.Gatherer, log *slog.Logger) *Server {
	s := &Server{
		ops: ops,
		log: log,
	}

	s.app = fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler:          s.handleError,
	})
	s.app.Use(recover.New())

	s.app.Get("/health", s.handleHealth)
	s.app.Get("/stats", s.handleStats)
	s.app.Get("/status/:address", s.handleStatus)
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	return s
}

// Start serves on port until ctx is done
func (s *Server) Start(ctx context.Context, port int) error {
	s.log.Info("starting status server", "port", port)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.app.ShutdownWithContext(shutdownCtx); err != nil {
			s.log.Warn("status server shutdown", "error", err)
		}
	}()

	return s.app.Listen(fmt.Sprintf(":%d", port))
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	if _, err := s.ops.Stats(c.UserContext()); err != nil {
		s.log.Error("health check", "error", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable"})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) handleStats(c *fiber.Ctx) error {
	st, err := s.ops.Stats(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(st)
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	st, err := s.ops.Status(c.UserContext(), c.Params("address"))
	if errors.Is(err, reconcile.ErrNoIdentity) {
		return fiber.NewError(fiber.StatusBadRequest, "address has no stake credential")
	}
	if err != nil {
		return err
	}
	return c.JSON(st)
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := "internal error"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		msg = fe.Message
	} else {
		s.log.Error("request failed", "path", c.Path(), "error", err)
	}

	return c.Status(code).JSON(fiber.Map{"error": msg})
}
