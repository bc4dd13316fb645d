package miniflux

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "fluxhook/pkg/logx"
)

func newTestClient(t *testing.T, h http.Handler, concurrency int) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{BaseURL: srv.URL, APIKey: "key", Concurrency: concurrency}, srv.Client(), logx.Nop())
	require.NoError(t, err)
	return c
}

func TestClientFeedAndIcon(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/feeds/42", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get(AuthHeader))
		fmt.Fprint(w, `{"id":42,"title":"Go Blog","site_url":"https://go.dev/blog","icon":{"feed_id":42,"icon_id":7}}`)
	})
	mux.HandleFunc("GET /v1/icons/7", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get(AuthHeader))
		fmt.Fprint(w, `{"id":7,"data":"image/png;base64,AAAA","mime_type":"image/png"}`)
	})
	c := newTestClient(t, mux, 0)

	feed, err := c.Feed(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "Go Blog", feed.Title)
	require.True(t, feed.HasIcon())
	assert.EqualValues(t, 7, feed.Icon.IconID)

	icon, err := c.Icon(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "image/png", icon.MimeType)
}

func TestClientBaseURLWithPath(t *testing.T) {
	var gotPath string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		fmt.Fprint(w, `{"id":1}`)
	}), 0)
	c.base = c.base.JoinPath("miniflux")

	_, err := c.Feed(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "/miniflux/v1/feeds/1", gotPath)
}

func TestClientErrors(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantStatus int
	}{
		{
			name:       "not found",
			handler:    func(w http.ResponseWriter, r *http.Request) { http.Error(w, `{"error_message":"nope"}`, http.StatusNotFound) },
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "server error",
			handler:    func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) },
			wantStatus: http.StatusBadGateway,
		},
		{
			name:       "malformed body",
			handler:    func(w http.ResponseWriter, r *http.Request) { fmt.Fprint(w, `{"id":`) },
			wantStatus: http.StatusOK,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.handler, 0)
			_, err := c.Feed(context.Background(), 9)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrUpstreamFetchFailed)

			var fe *FetchError
			require.True(t, errors.As(err, &fe))
			assert.Equal(t, "feed", fe.Kind)
			assert.EqualValues(t, 9, fe.ID)
			assert.Equal(t, tt.wantStatus, fe.Status)
		})
	}
}

func TestClientConcurrencyGate(t *testing.T) {
	var inFlight, peak atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		fmt.Fprint(w, `{"id":1}`)
	}), 4)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, _ = c.Feed(context.Background(), int64(i))
			} else {
				_, _ = c.Icon(context.Background(), int64(i))
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(4))
	assert.GreaterOrEqual(t, peak.Load(), int32(1))
}

func TestNewClientRejectsRelativeURL(t *testing.T) {
	_, err := NewClient(Config{BaseURL: "/v1"}, nil, logx.Nop())
	require.Error(t, err)
}
