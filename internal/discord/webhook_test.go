package discord

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fluxhook/internal/notification"
	logx "fluxhook/pkg/logx"
)

type captured struct {
	query   string
	payload payload
	files   map[string][]byte
	names   map[string]string
}

func capture(t *testing.T, r *http.Request) captured {
	t.Helper()
	mt, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	require.NoError(t, err)
	require.Equal(t, "multipart/form-data", mt)

	c := captured{query: r.URL.RawQuery, files: map[string][]byte{}, names: map[string]string{}}
	mr := multipart.NewReader(r.Body, params["boundary"])
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		data, err := io.ReadAll(part)
		require.NoError(t, err)
		if part.FormName() == "payload_json" {
			require.NoError(t, json.Unmarshal(data, &c.payload))
			continue
		}
		c.files[part.FormName()] = data
		c.names[part.FormName()] = part.FileName()
	}
	return c
}

func newTestWebhook(t *testing.T, h http.HandlerFunc) *Webhook {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	w, err := NewWebhook(Config{URL: srv.URL + "/api/webhooks/1/token", Username: "fluxhook"}, srv.Client(), logx.Nop())
	require.NoError(t, err)
	return w
}

func TestSendMultipartPayload(t *testing.T) {
	got := make(chan captured, 1)
	w := newTestWebhook(t, func(rw http.ResponseWriter, r *http.Request) {
		got <- capture(t, r)
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte(`{"id":"1"}`))
	})

	icon := &notification.Attachment{Name: "icon-3.png", ContentType: "image/png", Data: []byte("png-bytes")}
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	batch := notification.Batch{Records: []notification.Record{
		{EntryID: 1, Title: strings.Repeat("x", 300), URL: "https://a/1", Author: "Feed", AuthorURL: "https://a", Timestamp: ts, Color: 42, Thumbnail: "https://a/t.png", Icon: icon, ReadingTime: 3},
		{EntryID: 2, Title: "second", URL: "https://a/2", Author: "Feed", Icon: icon},
		{EntryID: 3, Title: "third"},
	}}

	require.NoError(t, w.Send(context.Background(), batch))
	c := <-got

	assert.Equal(t, "wait=true", c.query)
	assert.Equal(t, "fluxhook", c.payload.Username)
	require.Len(t, c.payload.Embeds, 3)

	first := c.payload.Embeds[0]
	assert.Equal(t, 256, len([]rune(first.Title)))
	assert.True(t, strings.HasSuffix(first.Title, "…"))
	assert.Equal(t, "https://a/1", first.URL)
	assert.Equal(t, 42, first.Color)
	assert.Equal(t, "2024-01-02T03:04:05Z", first.Timestamp)
	require.NotNil(t, first.Author)
	assert.Equal(t, "attachment://icon-3.png", first.Author.IconURL)
	require.NotNil(t, first.Thumbnail)
	assert.Equal(t, "https://a/t.png", first.Thumbnail.URL)
	require.NotNil(t, first.Footer)
	assert.Equal(t, "3 min read", first.Footer.Text)

	assert.Nil(t, c.payload.Embeds[2].Author)
	assert.Empty(t, c.payload.Embeds[2].Timestamp)

	require.Len(t, c.payload.Attachments, 1)
	assert.Equal(t, attachment{ID: 0, Filename: "icon-3.png"}, c.payload.Attachments[0])
	assert.Equal(t, []byte("png-bytes"), c.files["files[0]"])
	assert.Equal(t, "icon-3.png", c.names["files[0]"])
}

func TestSendNon2xx(t *testing.T) {
	w := newTestWebhook(t, func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Retry-After", "1.5")
		rw.WriteHeader(http.StatusTooManyRequests)
		_, _ = rw.Write([]byte(`{"message":"You are being rate limited."}`))
	})

	err := w.Send(context.Background(), notification.Batch{Records: []notification.Record{{Title: "t"}}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDeliveryFailed)

	var derr *DeliveryError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, http.StatusTooManyRequests, derr.Status)
	assert.Equal(t, 1500*time.Millisecond, derr.RetryAfter)
	assert.Contains(t, derr.Body, "rate limited")
}

func TestSendTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	w, err := NewWebhook(Config{URL: url}, nil, logx.Nop())
	require.NoError(t, err)
	err = w.Send(context.Background(), notification.Batch{})
	assert.ErrorIs(t, err, ErrDeliveryFailed)
}

func TestNewWebhookRejectsRelativeURL(t *testing.T) {
	_, err := NewWebhook(Config{URL: "/api/webhooks/1/x"}, nil, logx.Nop())
	assert.Error(t, err)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 3))
	assert.Equal(t, "ab…", truncate("abcd", 3))
	assert.Equal(t, "日本…", truncate("日本語です", 3))
}

func TestSendKeepsMessageWithinEmbedTotal(t *testing.T) {
	got := make(chan captured, 1)
	w := newTestWebhook(t, func(rw http.ResponseWriter, r *http.Request) {
		got <- capture(t, r)
		rw.WriteHeader(http.StatusOK)
	})

	var tags []string
	for i := 0; i < 40; i++ {
		tags = append(tags, fmt.Sprintf("%s-%02d", strings.Repeat("t", 17), i))
	}
	var recs []notification.Record
	for i := 0; i < 10; i++ {
		recs = append(recs, notification.Record{
			EntryID:     int64(i + 1),
			Title:       strings.Repeat("x", 200),
			Author:      "Feed",
			ReadingTime: 5,
			Tags:        tags,
		})
	}
	var raw []embed
	for _, r := range recs {
		raw = append(raw, toEmbed(r))
	}
	require.Greater(t, totalChars(raw), maxEmbedTotal)

	require.NoError(t, w.Send(context.Background(), notification.Batch{Records: recs}))
	c := <-got

	require.Len(t, c.payload.Embeds, 10)
	assert.LessOrEqual(t, totalChars(c.payload.Embeds), maxEmbedTotal)
	for _, e := range c.payload.Embeds {
		assert.Equal(t, 200, utf8.RuneCountInString(e.Title))
		require.NotNil(t, e.Footer)
		assert.True(t, strings.HasPrefix(e.Footer.Text, "5 min read · "))
		assert.True(t, strings.HasSuffix(e.Footer.Text, "…"))
	}
}

func TestFitTotalShortensTitlesAfterFooters(t *testing.T) {
	embeds := []embed{
		{Title: strings.Repeat("a", 80), Author: &embedAuthor{Name: strings.Repeat("n", 10)}, Footer: &embedFooter{Text: strings.Repeat("f", 50)}},
		{Title: strings.Repeat("b", 80), Author: &embedAuthor{Name: strings.Repeat("n", 10)}, Footer: &embedFooter{Text: strings.Repeat("f", 50)}},
	}
	fitTotal(embeds, 100)

	assert.LessOrEqual(t, totalChars(embeds), 100)
	for _, e := range embeds {
		assert.Nil(t, e.Footer)
		assert.Equal(t, 40, utf8.RuneCountInString(e.Title))
	}

	small := []embed{{Title: "ok", Footer: &embedFooter{Text: "fine"}}}
	fitTotal(small, 100)
	assert.Equal(t, "ok", small[0].Title)
	assert.Equal(t, "fine", small[0].Footer.Text)
}
