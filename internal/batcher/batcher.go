// Package batcher turns webhook entries into ordered, size-bounded batches
// of enriched notification records.
//
// Groups are built one after another in entry order. Inside a group every
// entry is enriched concurrently (feed lookup, then icon lookup when the feed
// declares one); the shared upstream gate bounds the actual fan-out.
//
// Failure discipline: a feed or icon lookup error fails the whole batch it
// belongs to. Other batches of the same event are still built.
package batcher

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"fluxhook/internal/icon"
	"fluxhook/internal/metrics"
	"fluxhook/internal/miniflux"
	"fluxhook/internal/notification"
	logx "fluxhook/pkg/logx"
)

// Link modes select the URL a record points to.
const (
	LinkUnread   = "unread"
	LinkFeed     = "feed"
	LinkOriginal = "original"
)

// DefaultColor is the embed accent color.
const DefaultColor = 0x33A2E9

// Resolver provides cached feed and icon metadata.
type Resolver interface {
	Feed(ctx context.Context, id int64) (*miniflux.Feed, error)
	Icon(ctx context.Context, id int64) (*miniflux.Icon, error)
}

type Config struct {
	GroupSize int
	LinkMode  string
	// PublicURL is the Miniflux web UI base used for unread/feed links.
	PublicURL  string
	Color      int
	ConvertICO bool
}

// Result is one built batch, or the error that failed it.
type Result struct {
	Index int
	Batch notification.Batch
	Err   error
}

// BatchError reports the entry whose enrichment failed a batch.
type BatchError struct {
	Index   int
	EntryID int64
	Err     error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch %d: entry %d: %v", e.Index, e.EntryID, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

type Batcher struct {
	cfg      Config
	resolver Resolver
	log      logx.Logger
}

func New(cfg Config, resolver Resolver, log logx.Logger) *Batcher {
	if cfg.GroupSize <= 0 || cfg.GroupSize > notification.MaxRecords {
		cfg.GroupSize = notification.MaxRecords
	}
	switch cfg.LinkMode {
	case LinkUnread, LinkFeed, LinkOriginal:
	default:
		cfg.LinkMode = LinkUnread
	}
	if cfg.Color == 0 {
		cfg.Color = DefaultColor
	}
	cfg.PublicURL = strings.TrimRight(strings.TrimSpace(cfg.PublicURL), "/")
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Batcher{cfg: cfg, resolver: resolver, log: log}
}

// Partition splits entries into contiguous groups of at most size, keeping
// their order. Only the last group may be smaller.
func Partition(entries []miniflux.Entry, size int) [][]miniflux.Entry {
	if size <= 0 {
		size = notification.MaxRecords
	}
	groups := make([][]miniflux.Entry, 0, (len(entries)+size-1)/size)
	for start := 0; start < len(entries); start += size {
		end := min(start+size, len(entries))
		groups = append(groups, entries[start:end])
	}
	return groups
}

// Build builds every batch in order and hands each to emit as soon as it is
// ready, so delivery of early batches can start while later ones are still
// being enriched.
func (b *Batcher) Build(ctx context.Context, entries []miniflux.Entry, emit func(Result)) {
	for i, group := range Partition(entries, b.cfg.GroupSize) {
		batch, err := b.BuildBatch(ctx, i, group)
		if err != nil {
			metrics.RecordBatch("error", len(group))
			b.log.Warn("batch enrichment failed", logx.Int("batch", i), logx.Int("entries", len(group)), logx.Err(err))
		} else {
			metrics.RecordBatch("ok", len(batch.Records))
		}
		emit(Result{Index: i, Batch: batch, Err: err})
	}
}

// BuildBatches returns all batches of entries in order.
func (b *Batcher) BuildBatches(ctx context.Context, entries []miniflux.Entry) []Result {
	var out []Result
	b.Build(ctx, entries, func(r Result) { out = append(out, r) })
	return out
}

// BuildBatch enriches one group into a batch.
func (b *Batcher) BuildBatch(ctx context.Context, index int, group []miniflux.Entry) (notification.Batch, error) {
	records := make([]notification.Record, len(group))
	g, gctx := errgroup.WithContext(ctx)
	for i := range group {
		i := i
		g.Go(func() error {
			rec, err := b.record(gctx, group[i])
			if err != nil {
				return &BatchError{Index: index, EntryID: group[i].ID, Err: err}
			}
			records[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		var be *BatchError
		if !errors.As(err, &be) {
			err = &BatchError{Index: index, Err: err}
		}
		return notification.Batch{}, err
	}
	return notification.Batch{Seq: index, Records: records}, nil
}

func (b *Batcher) record(ctx context.Context, e miniflux.Entry) (notification.Record, error) {
	feed, err := b.resolver.Feed(ctx, e.FeedID)
	if err != nil {
		return notification.Record{}, err
	}

	rec := notification.Record{
		EntryID:     e.ID,
		FeedID:      e.FeedID,
		Title:       e.Title,
		URL:         b.link(e),
		Author:      feed.Title,
		AuthorURL:   feed.SiteURL,
		Timestamp:   e.Timestamp(),
		Color:       b.cfg.Color,
		Thumbnail:   Thumbnail(e.Enclosures),
		ReadingTime: e.ReadingTime,
		Tags:        e.Tags,
	}
	if strings.TrimSpace(rec.Title) == "" {
		rec.Title = e.URL
	}

	if feed.HasIcon() {
		ic, err := b.resolver.Icon(ctx, feed.Icon.IconID)
		if err != nil {
			return notification.Record{}, err
		}
		att, err := icon.Attachment(ic, b.cfg.ConvertICO)
		if err != nil {
			// Undecodable icon data is not an upstream failure; send without it.
			b.log.Warn("icon skipped", logx.Int64("icon_id", feed.Icon.IconID), logx.Err(err))
		} else {
			rec.Icon = att
		}
	}
	return rec, nil
}

func (b *Batcher) link(e miniflux.Entry) string {
	if b.cfg.PublicURL == "" || b.cfg.LinkMode == LinkOriginal {
		return e.URL
	}
	if b.cfg.LinkMode == LinkFeed {
		return fmt.Sprintf("%s/feed/%d/entry/%d", b.cfg.PublicURL, e.FeedID, e.ID)
	}
	return fmt.Sprintf("%s/unread/entry/%d", b.cfg.PublicURL, e.ID)
}

// thumbnailTypes are the enclosure types that render inline.
var thumbnailTypes = map[string]struct{}{
	"image/png":  {},
	"image/jpeg": {},
	"image/jpg":  {},
	"image/webp": {},
	"image/avif": {},
}

// Thumbnail returns the URL of the first enclosure with a displayable image
// type, in enclosure order.
func Thumbnail(enclosures []miniflux.Enclosure) string {
	for _, enc := range enclosures {
		mime := strings.ToLower(strings.TrimSpace(enc.MimeType))
		if _, ok := thumbnailTypes[mime]; ok && enc.URL != "" {
			return enc.URL
		}
	}
	return ""
}
