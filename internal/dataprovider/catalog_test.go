package dataprovider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListBoundaries_BareArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/boundaries", r.URL.Path)
		_, _ = w.Write([]byte(`[{"id":"province","name":"Province"},{"id":"","name":"dropped"},{"id":"division"}]`))
	}))
	defer srv.Close()

	got := New(discardLogger(), srv.Client(), srv.URL).ListBoundaries(context.Background())

	require.Len(t, got, 2)
	assert.Equal(t, "province", got[0].ID)
	assert.Equal(t, "division", got[1].Name)
}

func TestListIndicators_WrappedObject(t *testing.T) {
	srv := serveJSON(t, http.StatusOK, `{"indicators":[{"id":"heat_vulnerability","name":"Heat","unit":"index","description":"Extreme heat"}]}`)

	got := New(discardLogger(), srv.Client(), srv.URL).ListIndicators(context.Background())

	require.Len(t, got, 1)
	assert.Equal(t, "index", got[0].Unit)
	assert.Equal(t, "Extreme heat", got[0].Description)
}

func TestCatalogs_FailSoft(t *testing.T) {
	cases := map[string]*httptest.Server{
		"status":  serveJSON(t, http.StatusBadGateway, `bad gateway`),
		"shape":   serveJSON(t, http.StatusOK, `{"items":[]}`),
		"empty":   serveJSON(t, http.StatusOK, `[]`),
		"garbage": serveJSON(t, http.StatusOK, `<html>`),
	}
	for name, srv := range cases {
		t.Run(name, func(t *testing.T) {
			p := New(discardLogger(), srv.Client(), srv.URL)
			assert.Equal(t, DefaultBoundaries(), p.ListBoundaries(context.Background()))
			assert.Equal(t, DefaultIndicators(), p.ListIndicators(context.Background()))
		})
	}

	p := New(discardLogger(), &http.Client{Transport: &failingTransport{}}, "http://data.invalid")
	assert.Equal(t, DefaultBoundaries(), p.ListBoundaries(context.Background()))
}

func TestCatalogCache_StoresOnlyUpstreamSuccess(t *testing.T) {
	var calls atomic.Int32
	var fail atomic.Bool
	fail.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		if fail.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`[{"id":"district","name":"Districts (live)"}]`))
	}))
	defer srv.Close()

	p := New(discardLogger(), srv.Client(), srv.URL, WithCatalogCache(4, time.Minute))
	ctx := context.Background()

	// fallback is not cached
	assert.Equal(t, DefaultBoundaries(), p.ListBoundaries(ctx))
	fail.Store(false)
	got := p.ListBoundaries(ctx)
	require.Len(t, got, 1)
	assert.Equal(t, "Districts (live)", got[0].Name)
	assert.Equal(t, int32(2), calls.Load())

	// served from cache, even if upstream starts failing again
	fail.Store(true)
	got[0].Name = "mutated by caller"
	again := p.ListBoundaries(ctx)
	assert.Equal(t, "Districts (live)", again[0].Name)
	assert.Equal(t, int32(2), calls.Load())
}
