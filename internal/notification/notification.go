// Package notification holds the display-ready view of webhook entries.
package notification

import "time"

// MaxRecords is the outbound per-message embed limit.
const MaxRecords = 10

// Attachment is a binary file sent alongside a message and referenced from
// records by name.
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

// Ref returns the URL records use to point at the attachment.
func (a *Attachment) Ref() string {
	if a == nil {
		return ""
	}
	return "attachment://" + a.Name
}

// Record is one enriched entry. It is built per delivery and never cached.
type Record struct {
	EntryID     int64
	FeedID      int64
	Title       string
	URL         string
	Author      string
	AuthorURL   string
	Timestamp   time.Time
	Color       int
	Thumbnail   string
	Icon        *Attachment
	ReadingTime int
	Tags        []string
}

// Batch is an ordered group of at most MaxRecords records, delivered as one
// message.
type Batch struct {
	// Seq orders batches of the same inbound event; it is informational.
	Seq     int
	Records []Record
}

// Attachments returns the distinct attachments of the batch in record order.
func (b Batch) Attachments() []*Attachment {
	var out []*Attachment
	seen := make(map[string]struct{}, len(b.Records))
	for _, r := range b.Records {
		if r.Icon == nil {
			continue
		}
		if _, ok := seen[r.Icon.Name]; ok {
			continue
		}
		seen[r.Icon.Name] = struct{}{}
		out = append(out, r.Icon)
	}
	return out
}

// EntryIDs lists the entries carried by the batch, for logging.
func (b Batch) EntryIDs() []int64 {
	ids := make([]int64, len(b.Records))
	for i, r := range b.Records {
		ids[i] = r.EntryID
	}
	return ids
}
