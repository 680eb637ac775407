package handler

import (
	"context"

	"delivery-tracker/internal/core/logger"
	"delivery-tracker/internal/features/realtime/session"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// RealtimeHandler upgrades viewer connections into subscription sessions.
type RealtimeHandler struct {
	ctx      context.Context
	registry session.Registry
	reader   session.SnapshotReader
	cfg      session.Config
}

// NewRealtimeHandler creates a new RealtimeHandler. Sessions end when ctx is cancelled.
func NewRealtimeHandler(ctx context.Context, registry session.Registry, reader session.SnapshotReader, cfg session.Config) *RealtimeHandler {
	return &RealtimeHandler{
		ctx:      ctx,
		registry: registry,
		reader:   reader,
		cfg:      cfg,
	}
}

// RequireUpgrade rejects plain HTTP requests on the realtime route.
func (h *RealtimeHandler) RequireUpgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	return c.Next()
}

// Subscribe handles GET /ws/delivery/:id.
// @Summary Watch a delivery in realtime
// @Description Websocket endpoint. Send {"type":"subscribe_delivery"} to receive a delivery_info snapshot followed by delivery_update pushes.
// @Tags Realtime
// @Param id path string true "Delivery ID"
// @Success 101
// @Failure 426 {object} map[string]string
// @Router /ws/delivery/{id} [get]
func (h *RealtimeHandler) Subscribe() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		deliveryID := conn.Params("id")
		s := session.New(deliveryID, conn, h.registry, h.reader, h.cfg)

		l := logger.Named("realtime")
		l.Info("Realtime viewer connected", zap.String("delivery_id", deliveryID), zap.String("session_id", s.ID()))
		s.Run(h.ctx)
		l.Info("Realtime viewer disconnected", zap.String("delivery_id", deliveryID), zap.String("session_id", s.ID()))
	})
}
