package service

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	d "github.com/BassamT/bazar-com/domain"
	"github.com/BassamT/bazar-com/internal/cache"
	"github.com/BassamT/bazar-com/internal/catalog"
)

// enrichItems validates the requested line items and copies title and price
// from the catalog onto each one. Structural validation happens first, so an
// invalid order never reaches the catalog at all.
func (s *OrderServiceImpl) enrichItems(ctx context.Context, requested []d.PlaceOrderItem) ([]d.LineItem, error) {
	if len(requested) == 0 {
		return nil, d.ErrInvalidOrder
	}
	for _, item := range requested {
		if item.ItemID <= 0 || item.Quantity <= 0 {
			return nil, d.ErrInvalidOrder
		}
	}

	items := make([]d.LineItem, 0, len(requested))
	for _, item := range requested {
		info, err := s.lookupItem(ctx, item.ItemID)
		if err != nil {
			return nil, err
		}
		items = append(items, d.LineItem{
			ItemID:   item.ItemID,
			Title:    info.Title,
			Price:    info.Price,
			Quantity: item.Quantity,
		})
	}
	return items, nil
}

// lookupItem reads item metadata through the cache. Singleflight collapses
// concurrent misses for the same item into one catalog call.
func (s *OrderServiceImpl) lookupItem(ctx context.Context, itemID int64) (*catalog.ItemInfo, error) {
	v, err, _ := s.sfg.Do(strconv.FormatInt(itemID, 10), func() (interface{}, error) {
		info, err := s.cache.Get(ctx, itemID)
		if err == nil {
			return info, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			log.Printf("cache get error: %v", err) // log cache error but continue
		}

		info, errInfo := s.catalog.Info(ctx, itemID)
		if errInfo != nil {
			return nil, errInfo
		}

		go func() {
			setCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if errSet := s.cache.Set(setCtx, itemID, info); errSet != nil {
				log.Printf("cache set error: %v", errSet)
			}
		}()

		return info, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*catalog.ItemInfo), nil
}
