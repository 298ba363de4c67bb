package httpapi

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/dmitrijs2005/accountsrv/internal/common"
	"github.com/dmitrijs2005/accountsrv/internal/logging"
)

// Server wraps a fiber application serving the account protocols.
type Server struct {
	address string
	app     *fiber.App
	logger  logging.Logger
}

// NewServer builds the fiber application and registers all routes.
func NewServer(address string, handler *Handler, logger logging.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
	})

	log := logger.With("module", "http_server")

	app.Use(func(c *fiber.Ctx) error {
		requestID := uuid.NewString()
		c.Set("X-Request-Id", requestID)

		start := time.Now()
		err := c.Next()
		log.Debug(c.UserContext(), "request handled",
			"request_id", requestID,
			"method", c.Method(),
			"path", c.Path(),
			"status", c.Response().StatusCode(),
			"duration", time.Since(start).String(),
		)
		return err
	})

	handler.Register(app)

	return &Server{address: address, app: app, logger: log}
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.app.ShutdownWithContext(shutdownCtx); err != nil {
			s.logger.Error(ctx, "shutdown failed", "error", err.Error())
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", s.address)

	if err := s.app.Listen(s.address); err != nil {
		return err
	}
	return nil
}

// respondError maps service errors onto HTTP statuses. Internal details
// never reach the wire; only the sentinel text does.
func respondError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	message := "internal error"

	switch {
	case errors.Is(err, common.ErrorValidation):
		status, message = fiber.StatusBadRequest, err.Error()
	case errors.Is(err, common.ErrTokenInvalid),
		errors.Is(err, common.ErrBadSignature),
		errors.Is(err, common.ErrorUnauthorized):
		// one indistinguishable body for every authentication failure, so
		// the response never reveals whether a captured credential was
		// still live or the signature was the problem
		status, message = fiber.StatusUnauthorized, "authentication failed"
	case errors.Is(err, common.ErrorNotFound):
		status, message = fiber.StatusNotFound, common.ErrorNotFound.Error()
	}

	return c.Status(status).JSON(fiber.Map{"error": message})
}
