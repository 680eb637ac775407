package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"delivery-tracker/internal/core/auth"
	"delivery-tracker/internal/core/cache"
	"delivery-tracker/internal/features/deliveries/domain"
	"delivery-tracker/internal/features/deliveries/ports"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockDeliveryService is a mock implementation of ports.DeliveryService
type MockDeliveryService struct {
	mock.Mock
}

func (m *MockDeliveryService) Create(ctx context.Context, p *auth.Principal, in ports.CreateInput) (*domain.Delivery, error) {
	args := m.Called(ctx, p, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Delivery), args.Error(1)
}

func (m *MockDeliveryService) Get(ctx context.Context, id string) (*domain.Delivery, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Delivery), args.Error(1)
}

func (m *MockDeliveryService) History(ctx context.Context, id string) ([]domain.StatusHistoryEntry, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.StatusHistoryEntry), args.Error(1)
}

func (m *MockDeliveryService) List(ctx context.Context, p *auth.Principal) ([]*domain.Delivery, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Delivery), args.Error(1)
}

func (m *MockDeliveryService) ListMine(ctx context.Context, p *auth.Principal) ([]*domain.Delivery, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Delivery), args.Error(1)
}

func (m *MockDeliveryService) UpdateLocation(ctx context.Context, p *auth.Principal, id string, in ports.UpdateLocationInput) (*domain.Delivery, error) {
	args := m.Called(ctx, p, id, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Delivery), args.Error(1)
}

func (m *MockDeliveryService) UpdateStatus(ctx context.Context, p *auth.Principal, id string, in ports.UpdateStatusInput) (*domain.Delivery, error) {
	args := m.Called(ctx, p, id, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Delivery), args.Error(1)
}

func (m *MockDeliveryService) Delete(ctx context.Context, p *auth.Principal, id string) error {
	args := m.Called(ctx, p, id)
	return args.Error(0)
}

var admin = &auth.Principal{ID: "admin", IsAdmin: true}

func setupApp(service *MockDeliveryService, principal *auth.Principal) *fiber.App {
	app := fiber.New()
	app.Use(requestid.New(requestid.Config{Header: RayIDHeader}))
	app.Use(func(c *fiber.Ctx) error {
		auth.WithPrincipal(c, principal)
		return c.Next()
	})
	NewDeliveryHandler(service).Register(app)
	return app
}

func sampleDelivery() *domain.Delivery {
	return domain.NewDelivery("DLV1", "X", domain.StatusPending, nil, "Y", domain.Point{Lon: -73.9, Lat: 40.7}, "Z",
		time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
}

func doRequest(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func decodeError(t *testing.T, data []byte) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(data, &resp))
	return resp
}

func TestDeliveryHandler_CreateDelivery(t *testing.T) {
	body := `{"title":"X","status":"pending","recipientName":"Y","current_location":{"type":"Point","coordinates":[-73.9,40.7]},"destination":"Z"}`

	t.Run("Success", func(t *testing.T) {
		mockService := new(MockDeliveryService)
		app := setupApp(mockService, admin)

		mockService.On("Create", mock.Anything, admin, mock.MatchedBy(func(in ports.CreateInput) bool {
			return in.Title == "X" && in.Status == "pending" && in.RecipientName == "Y" && in.Destination == "Z" && in.Location != nil
		})).Return(sampleDelivery(), nil).Once()

		resp, data := doRequest(t, app, http.MethodPost, "/deliveries", body)
		assert.Equal(t, http.StatusCreated, resp.StatusCode)

		var got map[string]any
		require.NoError(t, json.Unmarshal(data, &got))
		assert.Equal(t, "DLV1", got["delivery_id"])
		assert.Len(t, got["status_history"], 1)
		assert.Equal(t, map[string]any{"type": "Point", "coordinates": []any{-73.9, 40.7}}, got["current_location"])
		mockService.AssertExpectations(t)
	})

	t.Run("MissingFields", func(t *testing.T) {
		mockService := new(MockDeliveryService)
		app := setupApp(mockService, admin)

		mockService.On("Create", mock.Anything, admin, mock.Anything).
			Return(nil, &domain.ValidationError{Kind: domain.ErrMissingFields, Fields: []string{"title"}}).Once()

		resp, data := doRequest(t, app, http.MethodPost, "/deliveries", `{"status":"pending"}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		errResp := decodeError(t, data)
		assert.Equal(t, "missing_fields", errResp.Code)
		assert.Equal(t, []string{"title"}, errResp.Fields)
		assert.NotEmpty(t, errResp.RayID)
		assert.Equal(t, resp.Header.Get(RayIDHeader), errResp.RayID)
	})

	t.Run("MalformedBody", func(t *testing.T) {
		mockService := new(MockDeliveryService)
		app := setupApp(mockService, admin)

		cases := map[string]string{
			"":                                "empty body",
			"{not json":                       "malformed JSON body",
			`{"title":"X","unexpected":true}`: "unknown field unexpected",
			`{"title":42}`:                    "wrong type for title",
		}
		for payload, rule := range cases {
			resp, data := doRequest(t, app, http.MethodPost, "/deliveries", payload)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode, payload)

			errResp := decodeError(t, data)
			assert.Equal(t, "missing_fields", errResp.Code, payload)
			assert.Equal(t, []string{"body"}, errResp.Fields, payload)
			assert.Contains(t, errResp.Message, rule, payload)
			assert.NotContains(t, errResp.Message, "json:", payload)
		}
		mockService.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("InvalidLocation", func(t *testing.T) {
		mockService := new(MockDeliveryService)
		app := setupApp(mockService, admin)

		mockService.On("Create", mock.Anything, admin, mock.Anything).
			Return(nil, &domain.LocationError{Reason: "latitude must be between -90 and 90"}).Once()

		resp, data := doRequest(t, app, http.MethodPost, "/deliveries", body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		errResp := decodeError(t, data)
		assert.Equal(t, "invalid_location", errResp.Code)
		assert.Contains(t, errResp.Message, "latitude must be between -90 and 90")
	})

	t.Run("IdentifierExhausted", func(t *testing.T) {
		mockService := new(MockDeliveryService)
		app := setupApp(mockService, admin)

		mockService.On("Create", mock.Anything, admin, mock.Anything).
			Return(nil, domain.ErrIdentifierExhausted).Once()

		resp, data := doRequest(t, app, http.MethodPost, "/deliveries", body)
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		assert.Equal(t, "identifier_exhausted", decodeError(t, data).Code)
	})
}

func TestDeliveryHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"Unauthenticated", auth.ErrUnauthenticated, http.StatusUnauthorized, "unauthenticated"},
		{"ExpiredToken", auth.ErrExpiredToken, http.StatusUnauthorized, "unauthenticated"},
		{"Forbidden", auth.ErrForbidden, http.StatusForbidden, "forbidden"},
		{"NotFound", fmt.Errorf("service: failed to update status: %w", domain.ErrNotFound), http.StatusNotFound, "not_found"},
		{"InvalidStatus", domain.ErrInvalidStatus, http.StatusBadRequest, "invalid_status"},
		{"Duplicate", domain.ErrDuplicateIdentifier, http.StatusBadRequest, "duplicate_identifier"},
		{"Persistence", errors.New("redis: connection refused"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockDeliveryService)
			app := setupApp(mockService, admin)

			mockService.On("UpdateStatus", mock.Anything, admin, "DLV1", mock.Anything).Return(nil, tt.err).Once()

			resp, data := doRequest(t, app, http.MethodPut, "/deliveries/DLV1/status",
				`{"status":"in transit","location":{"type":"Point","coordinates":[1,2]}}`)
			assert.Equal(t, tt.status, resp.StatusCode)

			errResp := decodeError(t, data)
			assert.Equal(t, tt.code, errResp.Code)
			assert.NotContains(t, errResp.Message, "service:")
			assert.NotContains(t, errResp.Message, "redis")
		})
	}
}

func TestDeliveryHandler_GetDelivery(t *testing.T) {
	mockService := new(MockDeliveryService)
	app := setupApp(mockService, nil)

	mockService.On("Get", mock.Anything, "DLV1").Return(sampleDelivery(), nil).Once()
	mockService.On("Get", mock.Anything, "MISSING").Return(nil, domain.ErrNotFound).Once()

	resp, data := doRequest(t, app, http.MethodGet, "/deliveries/DLV1", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var got domain.Delivery
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "DLV1", got.ID)

	resp, data = doRequest(t, app, http.MethodGet, "/deliveries/MISSING", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", decodeError(t, data).Code)

	mockService.AssertExpectations(t)
}

func TestDeliveryHandler_GetHistory(t *testing.T) {
	mockService := new(MockDeliveryService)
	app := setupApp(mockService, nil)

	mockService.On("History", mock.Anything, "DLV1").Return(sampleDelivery().StatusHistory, nil).Once()

	resp, data := doRequest(t, app, http.MethodGet, "/deliveries/DLV1/history", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var history []domain.StatusHistoryEntry
	require.NoError(t, json.Unmarshal(data, &history))
	require.Len(t, history, 1)
	assert.Equal(t, domain.StatusPending, history[0].Status)
}

func TestDeliveryHandler_ListMyDeliveries(t *testing.T) {
	customer := &auth.Principal{ID: "testuser"}

	t.Run("NotCapturedAsIdentifier", func(t *testing.T) {
		mockService := new(MockDeliveryService)
		app := setupApp(mockService, customer)

		mockService.On("ListMine", mock.Anything, customer).Return([]*domain.Delivery{}, nil).Once()

		resp, data := doRequest(t, app, http.MethodGet, "/deliveries/my", "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.JSONEq(t, `[]`, string(data))
		mockService.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
	})

	t.Run("Anonymous", func(t *testing.T) {
		mockService := new(MockDeliveryService)
		app := setupApp(mockService, nil)

		mockService.On("ListMine", mock.Anything, (*auth.Principal)(nil)).Return(nil, auth.ErrUnauthenticated).Once()

		resp, _ := doRequest(t, app, http.MethodGet, "/deliveries/my", "")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestDeliveryHandler_ListDeliveries(t *testing.T) {
	mockService := new(MockDeliveryService)
	app := setupApp(mockService, admin)

	mockService.On("List", mock.Anything, admin).Return([]*domain.Delivery{sampleDelivery()}, nil).Once()

	resp, data := doRequest(t, app, http.MethodGet, "/deliveries", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var got []domain.Delivery
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Len(t, got, 1)
}

func TestDeliveryHandler_UpdateLocation(t *testing.T) {
	mockService := new(MockDeliveryService)
	app := setupApp(mockService, admin)

	moved := sampleDelivery()
	moved.MoveTo(domain.Point{Lon: 1, Lat: 2}, time.Now())
	mockService.On("UpdateLocation", mock.Anything, admin, "DLV1", mock.MatchedBy(func(in ports.UpdateLocationInput) bool {
		return in.Location != nil
	})).Return(moved, nil).Once()

	resp, data := doRequest(t, app, http.MethodPut, "/deliveries/DLV1/location", `{"location":{"type":"Point","coordinates":[1,2]}}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var got domain.Delivery
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, domain.Point{Lon: 1, Lat: 2}, got.CurrentLocation)
	mockService.AssertExpectations(t)
}

func TestDeliveryHandler_DeleteDelivery(t *testing.T) {
	mockService := new(MockDeliveryService)
	app := setupApp(mockService, admin)

	mockService.On("Delete", mock.Anything, admin, "DLV1").Return(nil).Once()
	mockService.On("Delete", mock.Anything, admin, "MISSING").Return(domain.ErrNotFound).Once()

	resp, data := doRequest(t, app, http.MethodDelete, "/deliveries/DLV1", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, data)

	resp, _ = doRequest(t, app, http.MethodDelete, "/deliveries/MISSING", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	mockService.AssertExpectations(t)
}

func TestDeliveryHandler_AuthorizationBeforeBody(t *testing.T) {
	customer := &auth.Principal{ID: "testuser"}

	requests := []struct {
		method string
		path   string
		body   string
	}{
		{http.MethodPost, "/deliveries", ""},
		{http.MethodPost, "/deliveries", `{"title":"X","extra":1}`},
		{http.MethodPut, "/deliveries/DLV1/status", "{not json"},
		{http.MethodPut, "/deliveries/DLV1/location", ""},
	}

	callers := []struct {
		name      string
		principal *auth.Principal
		status    int
		code      string
	}{
		{"Anonymous", nil, http.StatusUnauthorized, "unauthenticated"},
		{"NonAdmin", customer, http.StatusForbidden, "forbidden"},
	}

	for _, caller := range callers {
		t.Run(caller.name, func(t *testing.T) {
			mockService := new(MockDeliveryService)
			app := setupApp(mockService, caller.principal)

			for _, r := range requests {
				resp, data := doRequest(t, app, r.method, r.path, r.body)
				assert.Equal(t, caller.status, resp.StatusCode, r.path)
				assert.Equal(t, caller.code, decodeError(t, data).Code, r.path)
			}
			assert.Empty(t, mockService.Calls)
		})
	}
}

func TestDeliveryHandler_RejectedCredential(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := cache.NewRedisAdapter("redis://" + mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	tokens := auth.NewTokenManager(auth.Config{Secret: "test-secret", TTL: time.Hour}, store)
	revoked, _, err := tokens.Issue(context.Background(), auth.Principal{ID: "admin", IsAdmin: true})
	require.NoError(t, err)
	require.NoError(t, tokens.Revoke(context.Background(), revoked))

	mockService := new(MockDeliveryService)
	app := fiber.New()
	app.Use(requestid.New(requestid.Config{Header: RayIDHeader}))
	app.Use(tokens.Middleware())
	NewDeliveryHandler(mockService).Register(app)

	tests := []struct {
		name    string
		header  string
		message string
	}{
		{"Revoked", "Bearer " + revoked, auth.ErrTokenRevoked.Error()},
		{"Garbage", "Bearer nope", auth.ErrInvalidToken.Error()},
		{"Malformed", "Basic YWRtaW46YWRtaW4=", auth.ErrMalformedHeader.Error()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/deliveries", bytes.NewReader([]byte("{not json")))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Authorization", tt.header)

			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

			data, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			errResp := decodeError(t, data)
			assert.Equal(t, "unauthenticated", errResp.Code)
			assert.Equal(t, tt.message, errResp.Message)
		})
	}
	assert.Empty(t, mockService.Calls)
}
