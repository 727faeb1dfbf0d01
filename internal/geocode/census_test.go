package geocode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serveroute/serveroute/internal/model"
	"github.com/serveroute/serveroute/internal/resilience"
)

const matchBody = `{"result":{"addressMatches":[{"coordinates":{"x":-83.0458,"y":42.3314}}]}}`

func testClient(url string) *Census {
	return NewCensus(
		WithBaseURL(url),
		WithRateLimit(1000),
		WithRetry(resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}),
	)
}

func TestLocate_Match(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2 Woodward Ave, Detroit, MI", r.URL.Query().Get("address"))
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		_, _ = w.Write([]byte(matchBody))
	}))
	defer srv.Close()

	lat, lng, ok, err := testClient(srv.URL).Locate(context.Background(), &model.Address{Street: "2 Woodward Ave", City: "Detroit", State: "MI"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.InDelta(t, 42.3314, lat, 1e-9)
	assert.InDelta(t, -83.0458, lng, 1e-9)
}

func TestLocate_NoMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"result":{"addressMatches":[]}}`))
	}))
	defer srv.Close()

	_, _, ok, err := testClient(srv.URL).Locate(context.Background(), &model.Address{Street: "1 Nowhere"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocate_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(matchBody))
	}))
	defer srv.Close()

	_, _, ok, err := testClient(srv.URL).Locate(context.Background(), &model.Address{Street: "2 Woodward Ave"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int32(3), calls.Load())
}

func TestLocate_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, _, _, err := testClient(srv.URL).Locate(context.Background(), &model.Address{Street: "2 Woodward Ave"})
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestBackfill(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Query().Get("address") == "9 Lost Ln" {
			_, _ = w.Write([]byte(`{"result":{"addressMatches":[]}}`))
			return
		}
		_, _ = w.Write([]byte(matchBody))
	}))
	defer srv.Close()

	lat, lng := 43.0, -83.7
	addrs := []model.Address{
		{Street: "2 Woodward Ave", City: "Detroit"},
		{Street: "5 Elm St", Latitude: &lat, Longitude: &lng},
		{Street: "9 Lost Ln"},
	}

	n, err := testClient(srv.URL).Backfill(context.Background(), addrs)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int32(2), calls.Load())
	require.NotNil(t, addrs[0].Latitude)
	assert.InDelta(t, 42.3314, *addrs[0].Latitude, 1e-9)
	assert.InDelta(t, 43.0, *addrs[1].Latitude, 1e-9)
	assert.Nil(t, addrs[2].Latitude)
}
