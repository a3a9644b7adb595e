package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	d "github.com/BassamT/bazar-com/domain"
	"github.com/BassamT/bazar-com/internal/catalog"
	r "github.com/BassamT/bazar-com/internal/repository"
)

// mockOrderService scripts the coordinator's responses.
type mockOrderService struct {
	placeOrderFn func(ctx context.Context, request *d.PlaceOrderRequest) (*d.Order, error)
	getOrderFn   func(ctx context.Context, orderID string) (*d.Order, error)
	listOrdersFn func(ctx context.Context) ([]*d.Order, error)
}

func (m *mockOrderService) PlaceOrder(ctx context.Context, request *d.PlaceOrderRequest) (*d.Order, error) {
	return m.placeOrderFn(ctx, request)
}

func (m *mockOrderService) GetOrder(ctx context.Context, orderID string) (*d.Order, error) {
	return m.getOrderFn(ctx, orderID)
}

func (m *mockOrderService) ListOrders(ctx context.Context) ([]*d.Order, error) {
	return m.listOrdersFn(ctx)
}

func newTestRouter(svc *mockOrderService) *chi.Mux {
	handler := NewOrdersHandler(svc, 5*time.Second)
	router := chi.NewRouter()
	router.Post("/orders", handler.PlaceOrder)
	router.Get("/orders", handler.ListOrders)
	router.Get("/orders/{order_id}", handler.GetOrder)
	return router
}

func confirmedOrder(id string) *d.Order {
	return &d.Order{
		ID:     id,
		Status: d.OrderStatusConfirmed,
		Items: []d.LineItem{
			{ItemID: 1, Title: "RPC for Dummies", Price: 30, Quantity: 2},
		},
		CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestPlaceOrder_Confirmed(t *testing.T) {
	svc := &mockOrderService{
		placeOrderFn: func(_ context.Context, request *d.PlaceOrderRequest) (*d.Order, error) {
			require.Len(t, request.Items, 1)
			assert.Equal(t, int64(1), request.Items[0].ItemID)
			assert.Equal(t, int32(2), request.Items[0].Quantity)
			return confirmedOrder("order-1"), nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/orders",
		strings.NewReader(`{"items":[{"item_id":1,"quantity":2}]}`))
	rec := httptest.NewRecorder()
	newTestRouter(svc).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp OrderResponseDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "order-1", resp.OrderID)
	assert.Equal(t, "CONFIRMED", resp.Status)
	assert.Empty(t, resp.FailureReason)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "RPC for Dummies", resp.Items[0].Title)
}

func TestPlaceOrder_PassesIdempotencyKeyHeader(t *testing.T) {
	var gotKey string
	svc := &mockOrderService{
		placeOrderFn: func(_ context.Context, request *d.PlaceOrderRequest) (*d.Order, error) {
			gotKey = request.IdempotencyKey
			return confirmedOrder("order-1"), nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/orders",
		strings.NewReader(`{"items":[{"item_id":1,"quantity":1}]}`))
	req.Header.Set("Idempotency-Key", "client-key-9")
	rec := httptest.NewRecorder()
	newTestRouter(svc).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "client-key-9", gotKey)
}

func TestPlaceOrder_CancelledForStockIsConflict(t *testing.T) {
	svc := &mockOrderService{
		placeOrderFn: func(context.Context, *d.PlaceOrderRequest) (*d.Order, error) {
			return &d.Order{
				ID:            "order-2",
				Status:        d.OrderStatusCancelled,
				FailureReason: "insufficient stock for item 2",
			}, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/orders",
		strings.NewReader(`{"items":[{"item_id":2,"quantity":1}]}`))
	rec := httptest.NewRecorder()
	newTestRouter(svc).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)

	var resp OrderResponseDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "CANCELLED", resp.Status)
	assert.Equal(t, "insufficient stock for item 2", resp.FailureReason)
}

func TestPlaceOrder_CancelledForOutageIsServiceUnavailable(t *testing.T) {
	svc := &mockOrderService{
		placeOrderFn: func(context.Context, *d.PlaceOrderRequest) (*d.Order, error) {
			return &d.Order{
				ID:            "order-3",
				Status:        d.OrderStatusCancelled,
				FailureReason: "catalog unavailable, try again later",
			}, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/orders",
		strings.NewReader(`{"items":[{"item_id":1,"quantity":1}]}`))
	rec := httptest.NewRecorder()
	newTestRouter(svc).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestPlaceOrder_ReplayOfInFlightOrderIsAccepted(t *testing.T) {
	svc := &mockOrderService{
		placeOrderFn: func(context.Context, *d.PlaceOrderRequest) (*d.Order, error) {
			return &d.Order{ID: "order-4", Status: d.OrderStatusReserving}, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/orders",
		strings.NewReader(`{"items":[{"item_id":1,"quantity":1}]}`))
	rec := httptest.NewRecorder()
	newTestRouter(svc).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestPlaceOrder_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"invalid order", d.ErrInvalidOrder, http.StatusBadRequest, "invalid_order"},
		{"item not found", catalog.ErrItemNotFound, http.StatusNotFound, "item_not_found"},
		{"catalog unavailable", catalog.ErrCatalogUnavailable, http.StatusServiceUnavailable, "catalog_unavailable"},
		{"internal", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockOrderService{
				placeOrderFn: func(context.Context, *d.PlaceOrderRequest) (*d.Order, error) {
					return nil, tt.err
				},
			}

			req := httptest.NewRequest(http.MethodPost, "/orders",
				strings.NewReader(`{"items":[{"item_id":1,"quantity":1}]}`))
			rec := httptest.NewRecorder()
			newTestRouter(svc).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantCode, resp.Code)
		})
	}
}

func TestPlaceOrder_MalformedBody(t *testing.T) {
	svc := &mockOrderService{
		placeOrderFn: func(context.Context, *d.PlaceOrderRequest) (*d.Order, error) {
			t.Fatal("service must not be called for malformed JSON")
			return nil, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{not json`))
	rec := httptest.NewRecorder()
	newTestRouter(svc).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetOrder_Found(t *testing.T) {
	svc := &mockOrderService{
		getOrderFn: func(_ context.Context, orderID string) (*d.Order, error) {
			assert.Equal(t, "order-1", orderID)
			return confirmedOrder("order-1"), nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/orders/order-1", nil)
	rec := httptest.NewRecorder()
	newTestRouter(svc).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp OrderResponseDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "order-1", resp.OrderID)
	assert.Equal(t, "2024-05-01T12:00:00Z", resp.CreatedAt)
}

func TestGetOrder_NotFound(t *testing.T) {
	svc := &mockOrderService{
		getOrderFn: func(context.Context, string) (*d.Order, error) {
			return nil, r.ErrOrderNotFound
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/orders/missing", nil)
	rec := httptest.NewRecorder()
	newTestRouter(svc).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "order_not_found", resp.Code)
}

func TestListOrders(t *testing.T) {
	svc := &mockOrderService{
		listOrdersFn: func(context.Context) ([]*d.Order, error) {
			return []*d.Order{confirmedOrder("order-1"), confirmedOrder("order-2")}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	rec := httptest.NewRecorder()
	newTestRouter(svc).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp []OrderResponseDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 2)
	assert.Equal(t, "order-1", resp[0].OrderID)
	assert.Equal(t, "order-2", resp[1].OrderID)
}

func TestListOrders_Empty(t *testing.T) {
	svc := &mockOrderService{
		listOrdersFn: func(context.Context) ([]*d.Order, error) {
			return nil, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	rec := httptest.NewRecorder()
	newTestRouter(svc).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestRequestIDMiddleware_GeneratesWhenAbsent(t *testing.T) {
	var got string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = getRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.NotEmpty(t, got)
}

func TestRequestIDMiddleware_PropagatesHeader(t *testing.T) {
	var got string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = getRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "abc-123", got)
}
