package service

import (
	"context"

	d "github.com/BassamT/bazar-com/domain"
)

func (s *OrderServiceImpl) GetOrder(ctx context.Context, orderID string) (*d.Order, error) {
	return s.repo.GetOrderByID(ctx, orderID)
}

func (s *OrderServiceImpl) ListOrders(ctx context.Context) ([]*d.Order, error) {
	return s.repo.ListOrders(ctx)
}
