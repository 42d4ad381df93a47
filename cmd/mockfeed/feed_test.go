package main

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hacknation/odnalezione-zguby/findit-ingest/internal/client"
	"github.com/hacknation/odnalezione-zguby/findit-ingest/internal/models"
	"github.com/hacknation/odnalezione-zguby/findit-ingest/internal/normalizer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedToday() time.Time {
	return time.Date(2024, 5, 8, 12, 0, 0, 0, time.UTC)
}

func newMockClient(t *testing.T, responseType, key string) *client.FeedClient {
	t.Helper()
	srv := httptest.NewServer(newRouter(40, "secret", fixedToday))
	t.Cleanup(srv.Close)
	return client.NewFeedClient(client.Options{
		Enabled:      true,
		BaseURL:      srv.URL,
		ServiceKey:   key,
		LostPath:     defaultLostPath,
		FoundPath:    defaultFoundPath,
		MaxAttempts:  1,
		ResponseType: responseType,
		HTTPClient:   srv.Client(),
	})
}

func TestMockFeed_ServesBothFormats(t *testing.T) {
	for _, responseType := range []string{"xml", "json"} {
		t.Run(responseType, func(t *testing.T) {
			c := newMockClient(t, responseType, "secret")

			page, err := c.FetchPage(context.Background(), models.KindFound, 2, 15, nil, nil)

			require.NoError(t, err)
			assert.True(t, page.Success(), page.Detail)
			assert.Equal(t, 40, page.TotalCount)
			require.Len(t, page.Items, 15)
			assert.Equal(t, "F2024000016", page.Items[0].AtcID)
			assert.Equal(t, "Central Station", page.Items[0].Place)
			assert.NotEmpty(t, page.Items[0].Date)
		})
	}
}

func TestMockFeed_LastPageIsShort(t *testing.T) {
	c := newMockClient(t, "xml", "secret")

	page, err := c.FetchPage(context.Background(), models.KindLost, 3, 15, nil, nil)
	require.NoError(t, err)
	assert.Len(t, page.Items, 10)

	page, err = c.FetchPage(context.Background(), models.KindLost, 4, 15, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, page.Items)
}

func TestMockFeed_RejectsWrongKey(t *testing.T) {
	c := newMockClient(t, "xml", "wrong")

	page, err := c.FetchPage(context.Background(), models.KindLost, 1, 10, nil, nil)

	require.NoError(t, err)
	assert.Equal(t, "30", page.ResultCode)
	assert.Empty(t, page.Items)
}

func TestMockFeed_MalformedRecordsAreRejected(t *testing.T) {
	c := newMockClient(t, "json", "secret")
	n := normalizer.New(normalizer.WithClock(fixedToday))

	page, err := c.FetchPage(context.Background(), models.KindLost, 1, 40, nil, nil)
	require.NoError(t, err)

	valid := 0
	for _, raw := range page.Items {
		if _, ok := n.Normalize(models.KindLost, raw); ok {
			valid++
		}
	}
	// records 17 and 34 lack a place, 29 has an unreadable date; 23 is repaired and 31 falls back to its serial
	assert.Equal(t, 37, valid)
}
