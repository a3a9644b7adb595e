package service

import (
	"context"
	"sync"
	"time"

	d "github.com/BassamT/bazar-com/domain"
	"github.com/BassamT/bazar-com/internal/catalog"
	"github.com/BassamT/bazar-com/internal/cache"
	r "github.com/BassamT/bazar-com/internal/repository"
)

// mockRepository is an in-memory stand-in for the postgres repository.
type mockRepository struct {
	mu     sync.Mutex
	orders map[string]*d.Order
	ledger []*d.Reservation

	createOrderErr error
	appendErr      error
}

func newMockRepository() *mockRepository {
	return &mockRepository{orders: map[string]*d.Order{}}
}

func (m *mockRepository) Close() error { return nil }
func (m *mockRepository) RunMigrations(*r.Credentials) error { return nil }

func (m *mockRepository) CreateOrder(_ context.Context, order *d.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createOrderErr != nil {
		return m.createOrderErr
	}
	if order.IdempotencyKey != "" {
		for _, existing := range m.orders {
			if existing.IdempotencyKey == order.IdempotencyKey {
				return r.ErrDuplicateIdempotencyKey
			}
		}
	}
	stored := *order
	m.orders[order.ID] = &stored
	return nil
}

func (m *mockRepository) GetOrderByID(_ context.Context, id string) (*d.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		return nil, r.ErrOrderNotFound
	}
	copied := *order
	return &copied, nil
}

func (m *mockRepository) GetOrderByIdempotencyKey(_ context.Context, key string) (*d.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, order := range m.orders {
		if order.IdempotencyKey == key {
			copied := *order
			return &copied, nil
		}
	}
	return nil, r.ErrIdempotencyKeyNotFound
}

func (m *mockRepository) ListOrders(_ context.Context) ([]*d.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*d.Order, 0, len(m.orders))
	for _, order := range m.orders {
		copied := *order
		out = append(out, &copied)
	}
	return out, nil
}

func (m *mockRepository) setStatus(orderID string, status d.OrderStatus, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[orderID]
	if !ok {
		return r.ErrOrderNotFound
	}
	if !d.CanTransitionTo(order.Status, status) {
		return r.ErrIllegalTransition
	}
	order.Status = status
	order.FailureReason = reason
	return nil
}

func (m *mockRepository) BeginReservation(_ context.Context, orderID string) error {
	return m.setStatus(orderID, d.OrderStatusReserving, "")
}

func (m *mockRepository) ConfirmOrder(_ context.Context, orderID string) error {
	return m.setStatus(orderID, d.OrderStatusConfirmed, "")
}

func (m *mockRepository) CancelOrder(_ context.Context, orderID string, reason string) error {
	return m.setStatus(orderID, d.OrderStatusCancelled, reason)
}

func (m *mockRepository) AppendReservation(_ context.Context, res *d.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	for _, entry := range m.ledger {
		if entry.OrderID == res.OrderID && entry.ItemID == res.ItemID && entry.Outcome == d.ReservationPending {
			return r.ErrDuplicatePending
		}
	}
	stored := *res
	stored.Outcome = d.ReservationPending
	stored.Attempts = 1
	m.ledger = append(m.ledger, &stored)
	return nil
}

func (m *mockRepository) MarkReservationOutcome(_ context.Context, orderID string, itemID int64, outcome d.ReservationOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.ledger) - 1; i >= 0; i-- {
		entry := m.ledger[i]
		if entry.OrderID == orderID && entry.ItemID == itemID {
			entry.Outcome = outcome
			return nil
		}
	}
	return r.ErrReservationNotFound
}

func (m *mockRepository) TouchReservationAttempt(_ context.Context, orderID string, itemID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, entry := range m.ledger {
		if entry.OrderID == orderID && entry.ItemID == itemID && entry.Outcome == d.ReservationPending {
			entry.Attempts++
		}
	}
	return nil
}

func (m *mockRepository) ListReservationsByOrder(_ context.Context, orderID string) ([]*d.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*d.Reservation
	for _, entry := range m.ledger {
		if entry.OrderID == orderID {
			copied := *entry
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *mockRepository) ListStalePending(context.Context, time.Time) ([]*d.Reservation, error) {
	return nil, nil
}

func (m *mockRepository) ListOrphanedEntries(context.Context, time.Time) ([]*d.Reservation, error) {
	return nil, nil
}

func (m *mockRepository) MarkReservationReleasedByToken(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, entry := range m.ledger {
		if entry.Token == token {
			entry.Outcome = d.ReservationReleased
			return nil
		}
	}
	return r.ErrReservationNotFound
}

func (m *mockRepository) ListStaleReservingOrders(context.Context, time.Time) ([]*d.Order, error) {
	return nil, nil
}

func (m *mockRepository) ListStaleCreatedOrders(context.Context, time.Time) ([]*d.Order, error) {
	return nil, nil
}

func (m *mockRepository) GetUnprocessedEvents(context.Context, int) ([]*r.OutboxEvent, error) {
	return nil, nil
}

func (m *mockRepository) MarkEventAsProcessed(context.Context, int64) error { return nil }

// ledgerEntry returns the most recent ledger row for (orderID, itemID).
func (m *mockRepository) ledgerEntry(orderID string, itemID int64) *d.Reservation {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.ledger) - 1; i >= 0; i-- {
		if m.ledger[i].OrderID == orderID && m.ledger[i].ItemID == itemID {
			copied := *m.ledger[i]
			return &copied
		}
	}
	return nil
}

type releaseCall struct {
	ItemID   int64
	Quantity int32
	Token    string
}

// mockCatalog simulates the catalog service with fixed per-item stock.
type mockCatalog struct {
	mu       sync.Mutex
	info     map[int64]*catalog.ItemInfo
	stock    map[int64]int32
	reserves map[string]int64 // token -> item, for idempotent replays

	reserveErr map[int64]error // forced reserve outcome per item
	releaseErr error

	infoCalls    int
	releaseCalls []releaseCall
}

func newMockCatalog() *mockCatalog {
	return &mockCatalog{
		info:       map[int64]*catalog.ItemInfo{},
		stock:      map[int64]int32{},
		reserves:   map[string]int64{},
		reserveErr: map[int64]error{},
	}
}

func (m *mockCatalog) addItem(itemID int64, title string, price float64, stock int32) {
	m.info[itemID] = &catalog.ItemInfo{Title: title, Price: price, Quantity: stock}
	m.stock[itemID] = stock
}

func (m *mockCatalog) Info(_ context.Context, itemID int64) (*catalog.ItemInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infoCalls++
	info, ok := m.info[itemID]
	if !ok {
		return nil, catalog.ErrItemNotFound
	}
	copied := *info
	return &copied, nil
}

func (m *mockCatalog) Stock(_ context.Context, itemID int64) (int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stock, ok := m.stock[itemID]
	if !ok {
		return 0, catalog.ErrItemNotFound
	}
	return stock, nil
}

func (m *mockCatalog) Reserve(_ context.Context, itemID int64, quantity int32, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.reserveErr[itemID]; ok {
		return err
	}
	if _, replay := m.reserves[token]; replay {
		return nil
	}
	stock, ok := m.stock[itemID]
	if !ok {
		return catalog.ErrItemNotFound
	}
	if stock < quantity {
		return catalog.ErrInsufficientStock
	}
	m.stock[itemID] = stock - quantity
	m.reserves[token] = itemID
	return nil
}

func (m *mockCatalog) Release(_ context.Context, itemID int64, quantity int32, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseCalls = append(m.releaseCalls, releaseCall{ItemID: itemID, Quantity: quantity, Token: token})
	if m.releaseErr != nil {
		return m.releaseErr
	}
	if _, reserved := m.reserves[token]; reserved {
		delete(m.reserves, token)
		m.stock[itemID] += quantity
	}
	return nil
}

// mockCache is a map-backed ItemCache.
type mockCache struct {
	mu    sync.Mutex
	items map[int64]*catalog.ItemInfo

	getCalls int
	setCalls int
}

func newMockCache() *mockCache {
	return &mockCache{items: map[int64]*catalog.ItemInfo{}}
}

func (m *mockCache) Get(_ context.Context, itemID int64) (*catalog.ItemInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	info, ok := m.items[itemID]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	copied := *info
	return &copied, nil
}

func (m *mockCache) Set(_ context.Context, itemID int64, info *catalog.ItemInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setCalls++
	copied := *info
	m.items[itemID] = &copied
	return nil
}

func (m *mockCache) Delete(_ context.Context, itemID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, itemID)
	return nil
}
