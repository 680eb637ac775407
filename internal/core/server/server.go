package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"delivery-tracker/internal/core/config"
	"delivery-tracker/internal/core/logger"

	"github.com/gofiber/contrib/fiberzap/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/gofiber/swagger"
	"go.uber.org/zap"

	_ "delivery-tracker/docs/swagger"
)

// RayIDHeader is the request id header set on every response.
const RayIDHeader = "X-Ray-ID"

// Server holds the Fiber application and configuration.
type Server struct {
	// App is the main Fiber application instance.
	App *fiber.App
	// cfg holds the application configuration.
	cfg *config.AppConfig
}

// New creates a new Server instance with configured middleware.
func New(cfg *config.AppConfig) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		AppName:               "delivery-tracker",
		ErrorHandler:          errorHandler,
	})

	app.Use(requestid.New(requestid.Config{
		Header: RayIDHeader,
	}))

	app.Use(fiberzap.New(fiberzap.Config{
		Logger: logger.Get(),
	}))

	app.Get("/swagger/*", swagger.HandlerDefault)

	return &Server{
		App: app,
		cfg: cfg,
	}
}

// errorHandler renders errors that escape handlers (unknown routes, failed
// upgrades) in the same shape as handler errors.
func errorHandler(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	message := "Internal server error"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		status = fe.Code
		message = fe.Message
	} else {
		logger.Get().Error("Unhandled request error", zap.String("path", c.Path()), zap.Error(err))
	}

	return c.Status(status).JSON(fiber.Map{
		"message": message,
		"code":    strings.ReplaceAll(strings.ToLower(utils.StatusMessage(status)), " ", "_"),
		"ray_id":  c.GetRespHeader(RayIDHeader),
	})
}

// Run starts the HTTP server.
func (s *Server) Run() error {
	addr := fmt.Sprintf(":%d", s.cfg.ServerPort)
	logger.Get().Info("Starting server", zap.String("address", addr))
	return s.App.Listen(addr)
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(timeout time.Duration) error {
	logger.Get().Info("Shutting down server")
	return s.App.ShutdownWithTimeout(timeout)
}
