package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	d "github.com/BassamT/bazar-com/domain"
	"github.com/BassamT/bazar-com/internal/catalog"
	r "github.com/BassamT/bazar-com/internal/repository"
	s "github.com/BassamT/bazar-com/internal/service"
	"github.com/go-chi/chi/v5"
)

type OrdersHandler struct {
	orders  s.OrderService
	timeout time.Duration
}

func NewOrdersHandler(orders s.OrderService, timeout time.Duration) *OrdersHandler {
	return &OrdersHandler{
		orders:  orders,
		timeout: timeout,
	}
}

type PlaceOrderItemDTO struct {
	ItemID   int64 `json:"item_id"`
	Quantity int32 `json:"quantity"`
}

type PlaceOrderRequestDTO struct {
	Items []PlaceOrderItemDTO `json:"items"`
}

type LineItemDTO struct {
	ItemID   int64   `json:"item_id"`
	Title    string  `json:"title,omitempty"`
	Price    float64 `json:"price,omitempty"`
	Quantity int32   `json:"quantity"`
}

type OrderResponseDTO struct {
	OrderID       string        `json:"order_id"`
	Status        string        `json:"status"`
	FailureReason string        `json:"failure_reason,omitempty"`
	Items         []LineItemDTO `json:"items"`
	CreatedAt     string        `json:"created_at"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// POST /orders
func (h *OrdersHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req PlaceOrderRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	items := make([]d.PlaceOrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, d.PlaceOrderItem{ItemID: item.ItemID, Quantity: item.Quantity})
	}

	order, err := h.orders.PlaceOrder(ctx, &d.PlaceOrderRequest{
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
		Items:          items,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, placeOrderStatus(order), convertOrder(order))
}

// GET /orders/{order_id}
func (h *OrdersHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	orderID := chi.URLParam(r, "order_id")
	if orderID == "" {
		respondError(w, http.StatusBadRequest, "missing_order_id", "order_id is required")
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, convertOrder(order))
}

// GET /orders
func (h *OrdersHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	orders, err := h.orders.ListOrders(ctx)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	dtos := make([]OrderResponseDTO, 0, len(orders))
	for _, order := range orders {
		dtos = append(dtos, convertOrder(order))
	}
	respondJSON(w, http.StatusOK, dtos)
}

// placeOrderStatus maps a terminal order to its HTTP status. A cancelled
// order is a completed request with a negative business outcome, so the
// reason decides between conflict and unavailability.
func placeOrderStatus(order *d.Order) int {
	switch order.Status {
	case d.OrderStatusConfirmed:
		return http.StatusOK
	case d.OrderStatusCancelled:
		if strings.Contains(order.FailureReason, "catalog unavailable") {
			return http.StatusServiceUnavailable
		}
		return http.StatusConflict
	default:
		// non-terminal: an idempotent replay caught the order mid-flight;
		// the client polls GET /orders/{id} until the reconciler resolves it
		return http.StatusAccepted
	}
}

func convertOrder(order *d.Order) OrderResponseDTO {
	items := make([]LineItemDTO, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, LineItemDTO{
			ItemID:   item.ItemID,
			Title:    item.Title,
			Price:    item.Price,
			Quantity: item.Quantity,
		})
	}
	return OrderResponseDTO{
		OrderID:       order.ID,
		Status:        order.Status.String(),
		FailureReason: order.FailureReason,
		Items:         items,
		CreatedAt:     order.CreatedAt.Format(time.RFC3339),
	}
}

func handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, d.ErrInvalidOrder):
		respondError(w, http.StatusBadRequest, "invalid_order", err.Error())
	case errors.Is(err, catalog.ErrItemNotFound):
		respondError(w, http.StatusNotFound, "item_not_found", err.Error())
	case errors.Is(err, catalog.ErrCatalogUnavailable):
		respondError(w, http.StatusServiceUnavailable, "catalog_unavailable", "catalog unavailable, try again later")
	case errors.Is(err, r.ErrOrderNotFound):
		respondError(w, http.StatusNotFound, "order_not_found", err.Error())
	default:
		log.Printf("internal error: %v", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
