package metacache

import (
	"context"

	"fluxhook/internal/miniflux"
)

// Upstream is the subset of the Miniflux client used for enrichment.
type Upstream interface {
	Feed(ctx context.Context, id int64) (*miniflux.Feed, error)
	Icon(ctx context.Context, id int64) (*miniflux.Icon, error)
}

// Metadata caches feeds by feed id and icons by icon id.
// One instance is shared by every request for the lifetime of the process.
type Metadata struct {
	feeds *Cache[int64, *miniflux.Feed]
	icons *Cache[int64, *miniflux.Icon]
}

func NewMetadata(up Upstream) *Metadata {
	return &Metadata{
		feeds: New("feed", up.Feed),
		icons: New("icon", up.Icon),
	}
}

func (m *Metadata) Feed(ctx context.Context, id int64) (*miniflux.Feed, error) {
	return m.feeds.Get(ctx, id)
}

func (m *Metadata) Icon(ctx context.Context, id int64) (*miniflux.Icon, error) {
	return m.icons.Get(ctx, id)
}

// Sizes reports the number of cached feeds and icons.
func (m *Metadata) Sizes() (feeds, icons int) {
	return m.feeds.Len(), m.icons.Len()
}
