// Package discord posts notification batches to a Discord webhook.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"fluxhook/internal/notification"
	logx "fluxhook/pkg/logx"
)

// Discord field limits.
const (
	maxTitle      = 256
	maxAuthorName = 256
	maxFooter     = 2048
	maxUsername   = 80
	// maxEmbedTotal caps the combined text of all embeds in one message.
	maxEmbedTotal = 6000
)

const maxErrorBody = 4 << 10

var ErrDeliveryFailed = errors.New("discord: delivery failed")

// DeliveryError is returned for a non-2xx webhook response.
type DeliveryError struct {
	Status int
	// RetryAfter is set on 429 responses. Nothing retries automatically.
	RetryAfter time.Duration
	Body       string
}

func (e *DeliveryError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("discord: status %d (retry after %s)", e.Status, e.RetryAfter)
	}
	return fmt.Sprintf("discord: status %d", e.Status)
}

func (e *DeliveryError) Is(target error) bool { return target == ErrDeliveryFailed }

type Config struct {
	URL       string
	Username  string
	AvatarURL string
	Timeout   time.Duration
}

type Webhook struct {
	url       string
	username  string
	avatarURL string
	http      *http.Client
	log       logx.Logger
}

func NewWebhook(cfg Config, hc *http.Client, log logx.Logger) (*Webhook, error) {
	u, err := url.Parse(strings.TrimSpace(cfg.URL))
	if err != nil {
		return nil, fmt.Errorf("discord: webhook url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.New("discord: webhook url must be absolute")
	}
	q := u.Query()
	q.Set("wait", "true")
	u.RawQuery = q.Encode()

	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Webhook{
		url:       u.String(),
		username:  truncate(cfg.Username, maxUsername),
		avatarURL: cfg.AvatarURL,
		http:      hc,
		log:       log,
	}, nil
}

type payload struct {
	Username    string       `json:"username,omitempty"`
	AvatarURL   string       `json:"avatar_url,omitempty"`
	Embeds      []embed      `json:"embeds"`
	Attachments []attachment `json:"attachments,omitempty"`
}

type embed struct {
	Title     string       `json:"title,omitempty"`
	URL       string       `json:"url,omitempty"`
	Color     int          `json:"color,omitempty"`
	Timestamp string       `json:"timestamp,omitempty"`
	Author    *embedAuthor `json:"author,omitempty"`
	Thumbnail *embedImage  `json:"thumbnail,omitempty"`
	Footer    *embedFooter `json:"footer,omitempty"`
}

type embedAuthor struct {
	Name    string `json:"name"`
	URL     string `json:"url,omitempty"`
	IconURL string `json:"icon_url,omitempty"`
}

type embedImage struct {
	URL string `json:"url"`
}

type embedFooter struct {
	Text string `json:"text"`
}

type attachment struct {
	ID       int    `json:"id"`
	Filename string `json:"filename"`
}

func (w *Webhook) buildPayload(b notification.Batch) payload {
	p := payload{
		Username:  w.username,
		AvatarURL: w.avatarURL,
		Embeds:    make([]embed, 0, len(b.Records)),
	}
	for _, r := range b.Records {
		p.Embeds = append(p.Embeds, toEmbed(r))
	}
	fitTotal(p.Embeds, maxEmbedTotal)
	for i, a := range b.Attachments() {
		p.Attachments = append(p.Attachments, attachment{ID: i, Filename: a.Name})
	}
	return p
}

func toEmbed(r notification.Record) embed {
	e := embed{
		Title: truncate(r.Title, maxTitle),
		URL:   r.URL,
		Color: r.Color,
	}
	if !r.Timestamp.IsZero() {
		e.Timestamp = r.Timestamp.UTC().Format(time.RFC3339)
	}
	if r.Author != "" {
		e.Author = &embedAuthor{
			Name:    truncate(r.Author, maxAuthorName),
			URL:     r.AuthorURL,
			IconURL: r.Icon.Ref(),
		}
	}
	if r.Thumbnail != "" {
		e.Thumbnail = &embedImage{URL: r.Thumbnail}
	}
	if text := footer(r); text != "" {
		e.Footer = &embedFooter{Text: truncate(text, maxFooter)}
	}
	return e
}

func embedChars(e embed) (title, author, foot int) {
	title = utf8.RuneCountInString(e.Title)
	if e.Author != nil {
		author = utf8.RuneCountInString(e.Author.Name)
	}
	if e.Footer != nil {
		foot = utf8.RuneCountInString(e.Footer.Text)
	}
	return title, author, foot
}

func totalChars(embeds []embed) int {
	n := 0
	for _, e := range embeds {
		t, a, f := embedChars(e)
		n += t + a + f
	}
	return n
}

// fitTotal shortens footers, then titles, until the counted text of all
// embeds is at most limit. Each shortened field gets an equal share of what
// is left.
func fitTotal(embeds []embed, limit int) {
	if totalChars(embeds) <= limit {
		return
	}
	var titles, authors, footers, withFooter int
	for _, e := range embeds {
		t, a, f := embedChars(e)
		titles, authors, footers = titles+t, authors+a, footers+f
		if f > 0 {
			withFooter++
		}
	}

	if budget := limit - titles - authors; budget >= withFooter && withFooter > 0 {
		share := budget / withFooter
		for i := range embeds {
			if embeds[i].Footer != nil {
				embeds[i].Footer.Text = shorten(embeds[i].Footer.Text, share)
			}
		}
		return
	}
	for i := range embeds {
		embeds[i].Footer = nil
	}
	if titles+authors <= limit || len(embeds) == 0 {
		return
	}
	share := (limit - authors) / len(embeds)
	for i := range embeds {
		embeds[i].Title = shorten(embeds[i].Title, share)
	}
}

func shorten(s string, n int) string {
	if n <= 0 {
		return ""
	}
	return truncate(s, n)
}

func footer(r notification.Record) string {
	var parts []string
	if r.ReadingTime > 0 {
		parts = append(parts, fmt.Sprintf("%d min read", r.ReadingTime))
	}
	if len(r.Tags) > 0 {
		parts = append(parts, strings.Join(r.Tags, ", "))
	}
	return strings.Join(parts, " · ")
}

// Send posts the batch as a single message. Icons are uploaded as files and
// referenced from the embeds.
func (w *Webhook) Send(ctx context.Context, b notification.Batch) error {
	body, contentType, err := w.encode(b)
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrDeliveryFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := w.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		w.log.Debug("message posted", logx.Int("batch", b.Seq), logx.Int("embeds", len(b.Records)))
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	derr := &DeliveryError{Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	if resp.StatusCode == http.StatusTooManyRequests {
		derr.RetryAfter = retryAfter(resp.Header.Get("Retry-After"))
	}
	return derr
}

func (w *Webhook) encode(b notification.Batch) (*bytes.Buffer, string, error) {
	raw, err := json.Marshal(w.buildPayload(b))
	if err != nil {
		return nil, "", err
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="payload_json"`)
	h.Set("Content-Type", "application/json")
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(raw); err != nil {
		return nil, "", err
	}

	for i, a := range b.Attachments() {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files[%d]"; filename=%q`, i, a.Name))
		ct := a.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)
		fw, err := mw.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := fw.Write(a.Data); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

// retryAfter parses Discord's Retry-After header (seconds, possibly
// fractional).
func retryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v + "s")
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// truncate shortens s to at most n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
