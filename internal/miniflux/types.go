package miniflux

import "time"

// Event types sent by Miniflux webhooks.
const (
	EventNewEntries = "new_entries"
	EventSaveEntry  = "save_entry"
)

// EventEnvelope carries only the discriminator so the body can be routed
// before it is decoded into a concrete event.
type EventEnvelope struct {
	EventType string `json:"event_type"`
}

// NewEntriesEvent is the payload of a "new_entries" webhook.
type NewEntriesEvent struct {
	EventType string      `json:"event_type" validate:"required,eq=new_entries"`
	Feed      FeedSummary `json:"feed"`
	Entries   []Entry     `json:"entries" validate:"required,dive"`
}

// FeedSummary is the reduced feed object embedded in webhook payloads.
type FeedSummary struct {
	ID        int64     `json:"id" validate:"required"`
	UserID    int64     `json:"user_id"`
	FeedURL   string    `json:"feed_url"`
	SiteURL   string    `json:"site_url"`
	Title     string    `json:"title"`
	CheckedAt time.Time `json:"checked_at"`
}

// Entry is one article delivered by a webhook.
type Entry struct {
	ID          int64       `json:"id" validate:"required"`
	UserID      int64       `json:"user_id"`
	FeedID      int64       `json:"feed_id" validate:"required"`
	Status      string      `json:"status"`
	Hash        string      `json:"hash"`
	Title       string      `json:"title"`
	URL         string      `json:"url"`
	CommentsURL string      `json:"comments_url"`
	PublishedAt time.Time   `json:"published_at"`
	CreatedAt   time.Time   `json:"created_at"`
	ChangedAt   time.Time   `json:"changed_at"`
	Content     string      `json:"content"`
	Author      string      `json:"author"`
	ShareCode   string      `json:"share_code"`
	Starred     bool        `json:"starred"`
	ReadingTime int         `json:"reading_time"`
	Enclosures  []Enclosure `json:"enclosures" validate:"dive"`
	Tags        []string    `json:"tags"`
}

// Timestamp is the publication time, or the creation time when Miniflux
// has none.
func (e Entry) Timestamp() time.Time {
	if !e.PublishedAt.IsZero() {
		return e.PublishedAt
	}
	return e.CreatedAt
}

type Enclosure struct {
	ID               int64  `json:"id"`
	UserID           int64  `json:"user_id"`
	EntryID          int64  `json:"entry_id"`
	URL              string `json:"url"`
	MimeType         string `json:"mime_type"`
	Size             int64  `json:"size"`
	MediaProgression int64  `json:"media_progression"`
}

// Feed is the API representation returned by GET /v1/feeds/{id}.
type Feed struct {
	ID       int64     `json:"id"`
	UserID   int64     `json:"user_id"`
	Title    string    `json:"title"`
	SiteURL  string    `json:"site_url"`
	FeedURL  string    `json:"feed_url"`
	Disabled bool      `json:"disabled"`
	Category *Category `json:"category,omitempty"`
	Icon     *FeedIcon `json:"icon"`
}

type Category struct {
	ID     int64  `json:"id"`
	UserID int64  `json:"user_id"`
	Title  string `json:"title"`
}

// FeedIcon links a feed to its icon.
type FeedIcon struct {
	FeedID int64 `json:"feed_id"`
	IconID int64 `json:"icon_id"`
}

// Icon is returned by GET /v1/icons/{id}. Data is "mime;base64,payload".
type Icon struct {
	ID       int64  `json:"id"`
	Data     string `json:"data"`
	MimeType string `json:"mime_type"`
}

// HasIcon reports whether the feed declares an icon.
func (f *Feed) HasIcon() bool {
	return f != nil && f.Icon != nil && f.Icon.IconID > 0
}
