package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eaglebank/orderflow/shared/cqrs"
	"github.com/eaglebank/orderflow/shared/events"
	"github.com/eaglebank/orderflow/shared/models"
)

// ---- mock implementations ----

type mockOrderCommander struct {
	createFn func(cqrs.CreateOrderCommand) (*models.Order, bool, error)
}

func (m *mockOrderCommander) CreateOrder(_ context.Context, cmd cqrs.CreateOrderCommand) (*models.Order, bool, error) {
	if m.createFn != nil {
		return m.createFn(cmd)
	}
	return nil, false, fmt.Errorf("not configured")
}

type mockOrderQuerier struct {
	ordersFn    func() ([]models.Order, error)
	processedFn func() ([]models.ProcessedEventRecord, error)
}

func (m *mockOrderQuerier) ListOrders(context.Context, cqrs.ListOrdersQuery) ([]models.Order, error) {
	if m.ordersFn != nil {
		return m.ordersFn()
	}
	return nil, fmt.Errorf("not configured")
}

func (m *mockOrderQuerier) ListProcessedUserEvents(context.Context, cqrs.ListProcessedUserEventsQuery) ([]models.ProcessedEventRecord, error) {
	if m.processedFn != nil {
		return m.processedFn()
	}
	return nil, fmt.Errorf("not configured")
}

// ---- helpers ----

func newOrderTestRouter(cmds OrderCommander, qrys OrderQuerier) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewOrderHandler(cmds, qrys).Register(r)
	return r
}

func orderDoRequest(router *gin.Engine, method, url string, body any) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, url, nil)
	if body != nil {
		b, _ := json.Marshal(body)
		req, _ = http.NewRequest(method, url, strings.NewReader(string(b)))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

// ---- test data ----

var oTestOrder = &models.Order{
	ID: 5001, UserID: 42, ProductName: "Widget", Quantity: 2, Price: 10,
	TotalAmount: 20, Status: models.OrderStatusPending, CreatedAt: "2024-01-01T00:00:00.000Z",
}

var validOrderBody = map[string]any{"userId": 42, "productName": "Widget", "quantity": 2, "price": 10}

// ---- tests ----

func TestCreateOrder(t *testing.T) {
	tests := []struct {
		name          string
		body          any
		createFn      func(cqrs.CreateOrderCommand) (*models.Order, bool, error)
		wantStatus    int
		wantPublished any
		wantError     string
	}{
		{
			name: "created and published",
			body: validOrderBody,
			createFn: func(cqrs.CreateOrderCommand) (*models.Order, bool, error) {
				return oTestOrder, true, nil
			},
			wantStatus:    http.StatusCreated,
			wantPublished: true,
		},
		{
			name: "created while broker is down",
			body: validOrderBody,
			createFn: func(cqrs.CreateOrderCommand) (*models.Order, bool, error) {
				return oTestOrder, false, nil
			},
			wantStatus:    http.StatusCreated,
			wantPublished: false,
		},
		{
			name:       "missing product name",
			body:       map[string]any{"userId": 42, "quantity": 2, "price": 10},
			wantStatus: http.StatusBadRequest,
			wantError:  "Missing required fields",
		},
		{
			name:       "zero quantity",
			body:       map[string]any{"userId": 42, "productName": "Widget", "quantity": 0, "price": 10},
			wantStatus: http.StatusBadRequest,
			wantError:  "Missing required fields",
		},
		{
			name:       "malformed json",
			body:       "not an object",
			wantStatus: http.StatusBadRequest,
			wantError:  "Invalid request body",
		},
		{
			name: "service error",
			body: validOrderBody,
			createFn: func(cqrs.CreateOrderCommand) (*models.Order, bool, error) {
				return nil, false, fmt.Errorf("store order: disk full")
			},
			wantStatus: http.StatusInternalServerError,
			wantError:  "Internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newOrderTestRouter(&mockOrderCommander{createFn: tt.createFn}, &mockOrderQuerier{})
			w := orderDoRequest(router, http.MethodPost, "/api/orders/create", tt.body)

			assert.Equal(t, tt.wantStatus, w.Code)
			body := decodeBody(t, w)
			assert.NotEmpty(t, body["timestamp"])
			if tt.wantError != "" {
				assert.Equal(t, false, body["success"])
				assert.Equal(t, tt.wantError, body["error"])
				return
			}
			assert.Equal(t, true, body["success"])
			assert.Equal(t, "Order created successfully", body["message"])
			assert.Equal(t, tt.wantPublished, body["messagePublished"])
			data := body["data"].(map[string]any)
			assert.Equal(t, float64(20), data["totalAmount"])
		})
	}
}

func TestCreateOrderValidationMessage(t *testing.T) {
	router := newOrderTestRouter(&mockOrderCommander{}, &mockOrderQuerier{})

	w := orderDoRequest(router, http.MethodPost, "/api/orders/create", map[string]any{"productName": "Widget"})

	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "userId, productName, quantity, and price are required", body["message"])
}

func TestListOrders(t *testing.T) {
	router := newOrderTestRouter(&mockOrderCommander{}, &mockOrderQuerier{ordersFn: func() ([]models.Order, error) {
		return []models.Order{*oTestOrder}, nil
	}})

	w := orderDoRequest(router, http.MethodGet, "/api/orders", nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, float64(1), body["count"])
}

func TestListProcessedUserEvents(t *testing.T) {
	userID := 42
	router := newOrderTestRouter(&mockOrderCommander{}, &mockOrderQuerier{processedFn: func() ([]models.ProcessedEventRecord, error) {
		return []models.ProcessedEventRecord{{
			UserCreatedEvent: events.UserCreatedEvent{
				Type: events.UserCreated, UserID: &userID, UserEmail: "a@b.com",
				UserData: json.RawMessage(`{"id":42}`), Timestamp: "2024-01-01T00:00:00.000Z",
			},
			ProcessedAt:   "2024-01-01T00:00:01.000Z",
			DerivedStatus: models.DerivedStatusWelcomeOrder,
		}}, nil
	}})

	w := orderDoRequest(router, http.MethodGet, "/api/orders/processed-users", nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Processed user events retrieved successfully", body["message"])
	assert.Equal(t, float64(1), body["count"])
	rec := body["data"].([]any)[0].(map[string]any)
	assert.Equal(t, float64(42), rec["userId"])
	assert.Equal(t, "welcome_order_created", rec["derivedStatus"])
	assert.Equal(t, "2024-01-01T00:00:01.000Z", rec["processedAt"])
}

func TestListProcessedUserEventsEmpty(t *testing.T) {
	router := newOrderTestRouter(&mockOrderCommander{}, &mockOrderQuerier{processedFn: func() ([]models.ProcessedEventRecord, error) {
		return []models.ProcessedEventRecord{}, nil
	}})

	w := orderDoRequest(router, http.MethodGet, "/api/orders/processed-users", nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, float64(0), body["count"])
	assert.Equal(t, []any{}, body["data"])
}

func TestListProcessedUserEventsError(t *testing.T) {
	router := newOrderTestRouter(&mockOrderCommander{}, &mockOrderQuerier{})

	w := orderDoRequest(router, http.MethodGet, "/api/orders/processed-users", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
