package cache

import (
	"context"
	"errors"

	"github.com/BassamT/bazar-com/internal/catalog"
)

// ItemCache stores catalog item metadata (title, price). Stock counts are
// authoritative in the catalog and are never served from here.
type ItemCache interface {
	Get(ctx context.Context, itemID int64) (*catalog.ItemInfo, error)
	Set(ctx context.Context, itemID int64, info *catalog.ItemInfo) error
	Delete(ctx context.Context, itemID int64) error
}

var ErrCacheMiss = errors.New("cache miss")
