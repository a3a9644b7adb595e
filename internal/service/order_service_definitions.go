package service

import (
	"context"

	d "github.com/BassamT/bazar-com/domain"
	"github.com/BassamT/bazar-com/internal/cache"
	"github.com/BassamT/bazar-com/internal/catalog"
	r "github.com/BassamT/bazar-com/internal/repository"
	"golang.org/x/sync/singleflight"
)

// OrderService coordinates the reservation saga: it is the only writer of
// order state on the request path.
type OrderService interface {
	PlaceOrder(ctx context.Context, request *d.PlaceOrderRequest) (*d.Order, error)
	GetOrder(ctx context.Context, orderID string) (*d.Order, error)
	ListOrders(ctx context.Context) ([]*d.Order, error)
}

type OrderServiceImpl struct {
	repo    r.RepoInterface
	catalog catalog.API
	cache   cache.ItemCache
	sfg     singleflight.Group // collapses concurrent metadata lookups per item
}

func NewOrderService(repo r.RepoInterface, catalogClient catalog.API, itemCache cache.ItemCache) *OrderServiceImpl {
	return &OrderServiceImpl{
		repo:    repo,
		catalog: catalogClient,
		cache:   itemCache,
	}
}
