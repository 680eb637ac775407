package handler

import (
	"errors"
	"net/http"

	"delivery-tracker/internal/core/auth"
	"delivery-tracker/internal/core/logger"
	"delivery-tracker/internal/features/deliveries/domain"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// RayIDHeader carries the request id assigned by the server middleware.
const RayIDHeader = "X-Ray-ID"

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Message string   `json:"message"`
	Code    string   `json:"code"`
	Fields  []string `json:"fields,omitempty"`
	RayID   string   `json:"ray_id,omitempty"`
}

var errorCodes = []struct {
	err    error
	status int
	code   string
}{
	{auth.ErrUnauthenticated, http.StatusUnauthorized, "unauthenticated"},
	{auth.ErrForbidden, http.StatusForbidden, "forbidden"},
	{domain.ErrNotFound, http.StatusNotFound, "not_found"},
	{domain.ErrMissingFields, http.StatusBadRequest, "missing_fields"},
	{domain.ErrInvalidField, http.StatusBadRequest, "invalid_field"},
	{domain.ErrInvalidLocation, http.StatusBadRequest, "invalid_location"},
	{domain.ErrInvalidStatus, http.StatusBadRequest, "invalid_status"},
	{domain.ErrDuplicateIdentifier, http.StatusBadRequest, "duplicate_identifier"},
}

// writeError maps a service error onto the HTTP taxonomy. Anything unrecognised
// is logged and reported as a bare 500.
func writeError(c *fiber.Ctx, err error) error {
	resp := ErrorResponse{RayID: c.GetRespHeader(RayIDHeader)}

	// A rejected credential explains a policy failure better than the bare sentinel.
	if errors.Is(err, auth.ErrUnauthenticated) {
		if rejection := auth.RejectionFrom(c); rejection != nil {
			err = rejection
		}
	}

	for _, e := range errorCodes {
		if !errors.Is(err, e.err) {
			continue
		}
		resp.Code = e.code
		resp.Message = clientMessage(err, e.err)

		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			resp.Fields = verr.Fields
		}
		return c.Status(e.status).JSON(resp)
	}

	logger.Get().Error("Request failed",
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
		zap.String("ray_id", resp.RayID),
		zap.Error(err),
	)
	resp.Code = "internal_error"
	resp.Message = "Internal server error"
	if errors.Is(err, domain.ErrIdentifierExhausted) {
		resp.Code = "identifier_exhausted"
	}
	return c.Status(http.StatusInternalServerError).JSON(resp)
}

// clientMessage strips the service wrapping so internal context never reaches callers.
func clientMessage(err, kind error) string {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		return verr.Error()
	}
	var lerr *domain.LocationError
	if errors.As(err, &lerr) {
		return lerr.Error()
	}
	for _, sentinel := range []error{auth.ErrMalformedHeader, auth.ErrInvalidToken, auth.ErrExpiredToken, auth.ErrTokenRevoked} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return kind.Error()
}
