package dataprovider

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammed-shakir/vulnerability-map/internal/core/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type failingTransport struct{ calls atomic.Int32 }

func (f *failingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	f.calls.Add(1)
	return nil, errors.New("connection refused")
}

func serveJSON(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func fixedRandom(v float64) func() float64 { return func() float64 { return v } }

func TestFetchRegionData_UppercaseFieldsAndPercentScore(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		assert.Equal(t, "/api/vulnerability-data", r.URL.Path)
		_, _ = w.Write([]byte(`{"type":"FeatureCollection","features":[{"properties":{"ID":"r1","NAME":"Test Region","SCORE":75},"geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,1],[0,0]]]}}]}`))
	}))
	defer srv.Close()

	p := New(discardLogger(), srv.Client(), srv.URL+"/api/")
	coll := p.FetchRegionData(context.Background(), "district", "climate_vulnerability")

	assert.Equal(t, "boundary=district&indicator=climate_vulnerability", gotQuery)
	require.Len(t, coll.Features, 1)
	assert.False(t, coll.Fallback)
	f := coll.Features[0]
	assert.Equal(t, "r1", f.ID)
	assert.Equal(t, "Test Region", f.Name)
	assert.InDelta(t, 0.75, f.VulnerabilityScore, 1e-12)
	assert.False(t, f.ScoreEstimated)
	assert.Equal(t, "Test Region", f.Properties["NAME"])
	_, isPoly := f.Geometry.(orb.Polygon)
	assert.True(t, isPoly)
}

func TestFetchRegionData_FieldPriority(t *testing.T) {
	srv := serveJSON(t, http.StatusOK, `{"type":"FeatureCollection","features":[
		{"id":"top","properties":{"id":"lower","NAME":"Upper","name":"Lower","VULNERABILITY_SCORE":0.9,"vulnerability_score":0.2,"POPULATION":"1200","population":null,"AREA":12.5,"extra":"kept"},
		 "geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]}}]}`)

	coll := New(discardLogger(), srv.Client(), srv.URL).FetchRegionData(context.Background(), "district", "exposure")

	require.Len(t, coll.Features, 1)
	f := coll.Features[0]
	assert.Equal(t, "lower", f.ID)
	assert.Equal(t, "Lower", f.Name)
	assert.InDelta(t, 0.2, f.VulnerabilityScore, 1e-12)
	require.NotNil(t, f.Population)
	assert.Equal(t, int64(1200), *f.Population)
	require.NotNil(t, f.Area)
	assert.InDelta(t, 12.5, *f.Area, 1e-12)
	assert.Equal(t, "kept", f.Properties["extra"])
}

func TestFetchRegionData_DefaultsAndComponents(t *testing.T) {
	srv := serveJSON(t, http.StatusOK, `{"type":"FeatureCollection","features":[
		{"id":42,"properties":{"score":"not a number","exposure":80,"adaptive_capacity":0.4},
		 "geometry":{"type":"MultiPolygon","coordinates":[[[[0,0],[1,0],[1,1],[0,0]]]]}}]}`)

	p := New(discardLogger(), srv.Client(), srv.URL)
	coll := p.FetchRegionData(context.Background(), "tehsil", "exposure")

	require.Len(t, coll.Features, 1)
	f := coll.Features[0]
	assert.Equal(t, "42", f.ID)
	assert.Equal(t, "Unknown Area", f.Name)
	// "score" does not parse, so the exposure field is the first usable candidate
	assert.InDelta(t, 0.8, f.VulnerabilityScore, 1e-12)
	require.NotNil(t, f.Exposure)
	assert.InDelta(t, 0.8, *f.Exposure, 1e-12)
	require.NotNil(t, f.AdaptiveCapacity)
	assert.InDelta(t, 0.4, *f.AdaptiveCapacity, 1e-12)
	assert.Nil(t, f.Sensitivity)
	assert.Nil(t, f.Population)
}

func TestFetchRegionData_PlaceholderScoreAndID(t *testing.T) {
	srv := serveJSON(t, http.StatusOK, `{"type":"FeatureCollection","features":[
		{"properties":{"NAME":"No Score"},"geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]}},
		{"properties":{"NAME":"No Score Either"},"geometry":{"type":"Polygon","coordinates":[[[2,2],[3,2],[3,3],[2,2]]]}}]}`)

	p := New(discardLogger(), srv.Client(), srv.URL, WithRandom(fixedRandom(0.37)))
	coll := p.FetchRegionData(context.Background(), "district", "climate_vulnerability")

	require.Len(t, coll.Features, 2)
	for _, f := range coll.Features {
		assert.True(t, f.ScoreEstimated)
		assert.InDelta(t, 0.37, f.VulnerabilityScore, 1e-12)
		assert.Regexp(t, `^region-[0-9a-f-]{36}$`, f.ID)
	}
	assert.NotEqual(t, coll.Features[0].ID, coll.Features[1].ID)
}

func TestFetchRegionData_DropsNonPolygonGeometry(t *testing.T) {
	srv := serveJSON(t, http.StatusOK, `{"type":"FeatureCollection","features":[
		{"properties":{"id":"pt","score":0.5},"geometry":{"type":"Point","coordinates":[1,2]}},
		{"properties":{"id":"none","score":0.5},"geometry":null},
		{"properties":{"id":"weird","score":0.5},"geometry":{"type":"Circle","radius":3}},
		{"properties":{"id":"empty","score":0.5},"geometry":{"type":"Polygon","coordinates":[]}},
		"garbage",
		{"properties":{"id":"ok","score":0.5},"geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]}}]}`)

	coll := New(discardLogger(), srv.Client(), srv.URL).FetchRegionData(context.Background(), "district", "flood_vulnerability")

	require.Len(t, coll.Features, 1)
	assert.Equal(t, "ok", coll.Features[0].ID)
	assert.False(t, coll.Fallback)
}

func TestFetchRegionData_DuplicateIDLastWins(t *testing.T) {
	srv := serveJSON(t, http.StatusOK, `{"type":"FeatureCollection","features":[
		{"properties":{"id":"a","score":0.1},"geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]}},
		{"properties":{"id":"b","score":0.2},"geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]}},
		{"properties":{"id":"a","score":0.3},"geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]}}]}`)

	coll := New(discardLogger(), srv.Client(), srv.URL).FetchRegionData(context.Background(), "district", "climate_vulnerability")

	require.Len(t, coll.Features, 2)
	assert.Equal(t, "a", coll.Features[0].ID)
	assert.InDelta(t, 0.3, coll.Features[0].VulnerabilityScore, 1e-12)
}

func TestFetchRegionData_EmptyCollectionIsNotFallback(t *testing.T) {
	srv := serveJSON(t, http.StatusOK, `{"type":"FeatureCollection","features":[]}`)

	coll := New(discardLogger(), srv.Client(), srv.URL).FetchRegionData(context.Background(), "district", "climate_vulnerability")

	assert.False(t, coll.Fallback)
	assert.Empty(t, coll.Features)
}

func TestFetchRegionData_FailuresFallBack(t *testing.T) {
	cases := map[string]struct {
		status int
		body   string
	}{
		"server error":   {http.StatusInternalServerError, `{"error":"boom"}`},
		"not found":      {http.StatusNotFound, ``},
		"malformed json": {http.StatusOK, `{"type":"FeatureCollection","features":[`},
		"wrong type":     {http.StatusOK, `{"type":"Feature","features":[]}`},
		"no features":    {http.StatusOK, `{"type":"FeatureCollection"}`},
		"array body":     {http.StatusOK, `[1,2,3]`},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			srv := serveJSON(t, tc.status, tc.body)
			coll := New(discardLogger(), srv.Client(), srv.URL).FetchRegionData(context.Background(), "district", "climate_vulnerability")
			assert.True(t, coll.Fallback)
			assert.Len(t, coll.Features, 6)
		})
	}
}

func TestFetchRegionData_TransportErrorNeverRaises(t *testing.T) {
	rt := &failingTransport{}
	p := New(discardLogger(), &http.Client{Transport: rt}, "http://data.invalid/api")

	coll := p.FetchRegionData(context.Background(), "district", "climate_vulnerability")

	assert.Equal(t, int32(1), rt.calls.Load())
	assert.True(t, coll.Fallback)
	assert.Equal(t, model.RenderRequest{BoundaryID: "district", IndicatorID: "climate_vulnerability"}, coll.Request)
	require.Len(t, coll.Features, 6)

	names := make([]string, 0, 6)
	for _, f := range coll.Features {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"Punjab", "Sindh", "Khyber Pakhtunkhwa", "Balochistan", "Gilgit-Baltistan", "Azad Jammu and Kashmir"}, names)
}

func TestFetchRegionData_CanceledContextFallsBack(t *testing.T) {
	srv := serveJSON(t, http.StatusOK, `{"type":"FeatureCollection","features":[]}`)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	coll := New(discardLogger(), srv.Client(), srv.URL).FetchRegionData(ctx, "district", "climate_vulnerability")

	assert.True(t, coll.Fallback)
}

func TestFetchRegionData_HungUpstreamHonorsClientTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := &http.Client{Timeout: 20 * time.Millisecond}
	coll := New(discardLogger(), client, srv.URL).FetchRegionData(context.Background(), "district", "climate_vulnerability")

	assert.True(t, coll.Fallback)
}
