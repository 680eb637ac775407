package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"delivery-tracker/internal/core/auth"
	"delivery-tracker/internal/features/deliveries/domain"
	"delivery-tracker/internal/features/deliveries/ports"

	"github.com/gofiber/fiber/v2"
)

// DeliveryHandler handles HTTP requests for deliveries.
type DeliveryHandler struct {
	service ports.DeliveryService
}

// NewDeliveryHandler creates a new DeliveryHandler.
func NewDeliveryHandler(service ports.DeliveryService) *DeliveryHandler {
	return &DeliveryHandler{
		service: service,
	}
}

// decode reads a JSON body into dst, rejecting unknown fields and malformed input
// as missing fields.
func decode(c *fiber.Ctx, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(c.Body()))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &domain.ValidationError{Kind: domain.ErrMissingFields, Fields: []string{"body"}, Rule: decodeRule(err)}
	}
	return nil
}

// decodeRule reduces a decoder error to a stable client-facing rule.
func decodeRule(err error) string {
	if errors.Is(err, io.EOF) {
		return "empty body"
	}
	// encoding/json has no typed error for unknown fields.
	if field, ok := strings.CutPrefix(err.Error(), "json: unknown field "); ok {
		return "unknown field " + strings.Trim(field, `"`)
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return "wrong type for " + typeErr.Field
	}
	return "malformed JSON body"
}

// requireAdmin applies the admin policy. Mutating handlers call it before the
// body is decoded.
func requireAdmin(c *fiber.Ctx) error {
	return auth.RequireAdmin(auth.PrincipalFrom(c))
}

// CreateDelivery handles POST /deliveries.
// @Summary Create a delivery
// @Description Creates a delivery seeded with its first status history entry. Admin only.
// @Tags Deliveries
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param delivery body ports.CreateInput true "Delivery details"
// @Success 201 {object} domain.Delivery
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /deliveries [post]
func (h *DeliveryHandler) CreateDelivery(c *fiber.Ctx) error {
	if err := requireAdmin(c); err != nil {
		return writeError(c, err)
	}

	var req ports.CreateInput
	if err := decode(c, &req); err != nil {
		return writeError(c, err)
	}

	d, err := h.service.Create(c.Context(), auth.PrincipalFrom(c), req)
	if err != nil {
		return writeError(c, err)
	}

	return c.Status(http.StatusCreated).JSON(d)
}

// GetDelivery handles GET /deliveries/:id.
// @Summary Get a delivery
// @Description Returns one delivery with its status history.
// @Tags Deliveries
// @Produce json
// @Param id path string true "Delivery ID"
// @Success 200 {object} domain.Delivery
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /deliveries/{id} [get]
func (h *DeliveryHandler) GetDelivery(c *fiber.Ctx) error {
	d, err := h.service.Get(c.Context(), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}

	return c.Status(http.StatusOK).JSON(d)
}

// GetHistory handles GET /deliveries/:id/history.
// @Summary Get a delivery's status history
// @Tags Deliveries
// @Produce json
// @Param id path string true "Delivery ID"
// @Success 200 {array} domain.StatusHistoryEntry
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /deliveries/{id}/history [get]
func (h *DeliveryHandler) GetHistory(c *fiber.Ctx) error {
	history, err := h.service.History(c.Context(), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}

	return c.Status(http.StatusOK).JSON(history)
}

// ListDeliveries handles GET /deliveries.
// @Summary List all deliveries
// @Description Admin only. Ordered by creation time.
// @Tags Deliveries
// @Produce json
// @Security BearerAuth
// @Success 200 {array} domain.Delivery
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /deliveries [get]
func (h *DeliveryHandler) ListDeliveries(c *fiber.Ctx) error {
	deliveries, err := h.service.List(c.Context(), auth.PrincipalFrom(c))
	if err != nil {
		return writeError(c, err)
	}

	return c.Status(http.StatusOK).JSON(deliveries)
}

// ListMyDeliveries handles GET /deliveries/my.
// @Summary List the caller's deliveries
// @Description Deliveries whose customer_id equals the authenticated caller.
// @Tags Deliveries
// @Produce json
// @Security BearerAuth
// @Success 200 {array} domain.Delivery
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /deliveries/my [get]
func (h *DeliveryHandler) ListMyDeliveries(c *fiber.Ctx) error {
	deliveries, err := h.service.ListMine(c.Context(), auth.PrincipalFrom(c))
	if err != nil {
		return writeError(c, err)
	}

	return c.Status(http.StatusOK).JSON(deliveries)
}

// UpdateLocation handles PUT /deliveries/:id/location.
// @Summary Update a delivery's current location
// @Description Moves the delivery without adding a history entry. Admin only.
// @Tags Deliveries
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Delivery ID"
// @Param location body ports.UpdateLocationInput true "New location"
// @Success 200 {object} domain.Delivery
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /deliveries/{id}/location [put]
func (h *DeliveryHandler) UpdateLocation(c *fiber.Ctx) error {
	if err := requireAdmin(c); err != nil {
		return writeError(c, err)
	}

	var req ports.UpdateLocationInput
	if err := decode(c, &req); err != nil {
		return writeError(c, err)
	}

	d, err := h.service.UpdateLocation(c.Context(), auth.PrincipalFrom(c), c.Params("id"), req)
	if err != nil {
		return writeError(c, err)
	}

	return c.Status(http.StatusOK).JSON(d)
}

// UpdateStatus handles PUT /deliveries/:id/status.
// @Summary Update a delivery's status
// @Description Sets status and location and appends a history entry. Admin only.
// @Tags Deliveries
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Delivery ID"
// @Param status body ports.UpdateStatusInput true "New status and location"
// @Success 200 {object} domain.Delivery
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /deliveries/{id}/status [put]
func (h *DeliveryHandler) UpdateStatus(c *fiber.Ctx) error {
	if err := requireAdmin(c); err != nil {
		return writeError(c, err)
	}

	var req ports.UpdateStatusInput
	if err := decode(c, &req); err != nil {
		return writeError(c, err)
	}

	d, err := h.service.UpdateStatus(c.Context(), auth.PrincipalFrom(c), c.Params("id"), req)
	if err != nil {
		return writeError(c, err)
	}

	return c.Status(http.StatusOK).JSON(d)
}

// DeleteDelivery handles DELETE /deliveries/:id.
// @Summary Delete a delivery
// @Tags Deliveries
// @Security BearerAuth
// @Param id path string true "Delivery ID"
// @Success 204
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /deliveries/{id} [delete]
func (h *DeliveryHandler) DeleteDelivery(c *fiber.Ctx) error {
	if err := h.service.Delete(c.Context(), auth.PrincipalFrom(c), c.Params("id")); err != nil {
		return writeError(c, err)
	}

	return c.SendStatus(http.StatusNoContent)
}

// Register mounts the delivery routes. /deliveries/my is registered before
// /deliveries/:id so it is not captured as an id.
func (h *DeliveryHandler) Register(router fiber.Router) {
	router.Post("/deliveries", h.CreateDelivery)
	router.Get("/deliveries", h.ListDeliveries)
	router.Get("/deliveries/my", h.ListMyDeliveries)
	router.Get("/deliveries/:id", h.GetDelivery)
	router.Get("/deliveries/:id/history", h.GetHistory)
	router.Put("/deliveries/:id/location", h.UpdateLocation)
	router.Put("/deliveries/:id/status", h.UpdateStatus)
	router.Delete("/deliveries/:id", h.DeleteDelivery)
}
