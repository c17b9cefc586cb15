package router

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/vulnerability-map/internal/choropleth"
	"github.com/mohammed-shakir/vulnerability-map/internal/core/model"
	"github.com/mohammed-shakir/vulnerability-map/internal/mapsurface"
)

type fakeCatalog struct{}

func (fakeCatalog) ListBoundaries(context.Context) []model.BoundaryOption {
	return []model.BoundaryOption{{ID: "district", Name: "District"}}
}

func (fakeCatalog) ListIndicators(context.Context) []model.IndicatorOption {
	return []model.IndicatorOption{{ID: "climate_vulnerability", Name: "Climate Vulnerability Index"}}
}

type staticSource struct{}

func (staticSource) FetchRegionData(_ context.Context, b, i string) model.RegionCollection {
	return model.RegionCollection{
		Request: model.RenderRequest{BoundaryID: b, IndicatorID: i},
		Features: []model.RegionFeature{{
			ID:                 "r1",
			Name:               "Test Region",
			VulnerabilityScore: 0.75,
			Geometry:           orb.Polygon{orb.Ring{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}},
		}},
	}
}

func newTestAPI(t *testing.T, initialize bool) (http.Handler, *choropleth.Renderer) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := choropleth.New(staticSource{})
	surface := mapsurface.NewMemory()
	if initialize {
		if err := m.Initialize(context.Background(), surface); err != nil {
			t.Fatalf("initialize: %v", err)
		}
		m.Wait()
	}
	r := chi.NewRouter()
	New(logger, fakeCatalog{}, m, surface).Mount(r)
	return r, m
}

func do(h http.Handler, method, target string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, target, nil))
	return rr
}

func TestCatalogRoutes(t *testing.T) {
	h, _ := newTestAPI(t, false)

	rr := do(h, http.MethodGet, "/api/boundaries")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	var got []model.BoundaryOption
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].ID != "district" {
		t.Fatalf("unexpected boundaries: %+v", got)
	}

	rr = do(h, http.MethodGet, "/api/indicators")
	if !strings.Contains(rr.Body.String(), "climate_vulnerability") {
		t.Fatalf("indicators body=%s", rr.Body.String())
	}
}

func TestLayer_NotFoundBeforeInitialize(t *testing.T) {
	h, _ := newTestAPI(t, false)
	if rr := do(h, http.MethodGet, "/api/layer"); rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d want 404", rr.Code)
	}
	if rr := do(h, http.MethodPost, "/api/layer/features/r1/hover"); rr.Code != http.StatusNotFound {
		t.Fatalf("hover status=%d want 404", rr.Code)
	}
}

func TestLayer_ServesStyledGeoJSON(t *testing.T) {
	h, m := newTestAPI(t, true)

	rr := do(h, http.MethodGet, "/api/layer")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/geo+json" {
		t.Fatalf("content-type=%q", ct)
	}
	if id := rr.Header().Get("X-Layer-ID"); id != m.Current().ID() {
		t.Fatalf("layer id=%q want %q", id, m.Current().ID())
	}
	body := rr.Body.String()
	for _, s := range []string{`"FeatureCollection"`, `"Test Region"`, `"fillColor":"#fc8d59"`} {
		if !strings.Contains(body, s) {
			t.Fatalf("expected %s in body:\n%s", s, body)
		}
	}
}

func TestHover_EnterAndLeave(t *testing.T) {
	h, m := newTestAPI(t, true)
	base, _ := m.Current().Feature("r1")

	rr := do(h, http.MethodPost, "/api/layer/features/r1/hover")
	if rr.Code != http.StatusOK {
		t.Fatalf("enter status=%d", rr.Code)
	}
	f, _ := m.Current().Feature("r1")
	if !f.PopupOpen || f.Current.Color != "#666" {
		t.Fatalf("expected emphasized style, got %+v", f.Current)
	}

	rr = do(h, http.MethodDelete, "/api/layer/features/r1/hover")
	if rr.Code != http.StatusOK {
		t.Fatalf("leave status=%d", rr.Code)
	}
	f, _ = m.Current().Feature("r1")
	if f.PopupOpen || f.Current != base.Base {
		t.Fatalf("expected base style restored, got %+v", f.Current)
	}

	if rr := do(h, http.MethodPost, "/api/layer/features/nope/hover"); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown region status=%d want 404", rr.Code)
	}
}

func TestSelection_ChangesRequest(t *testing.T) {
	h, m := newTestAPI(t, true)

	rr := do(h, http.MethodPost, "/api/selection?boundary=tehsil")
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status=%d want 202", rr.Code)
	}
	m.Wait()
	want := model.RenderRequest{BoundaryID: "tehsil", IndicatorID: "climate_vulnerability"}
	if got := m.Current().Request(); got != want {
		t.Fatalf("request=%+v want %+v", got, want)
	}

	do(h, http.MethodPost, "/api/selection?boundary=district&indicator=flood_vulnerability")
	m.Wait()
	if got := m.Current().Request().IndicatorID; got != "flood_vulnerability" {
		t.Fatalf("indicator=%q", got)
	}

	rr = do(h, http.MethodGet, "/api/status")
	if !strings.Contains(rr.Body.String(), `"indicator":"flood_vulnerability"`) {
		t.Fatalf("status body=%s", rr.Body.String())
	}
}

func TestSelection_Validation(t *testing.T) {
	h, _ := newTestAPI(t, true)
	for _, target := range []string{
		"/api/selection",
		"/api/selection?boundary=" + strings.Repeat("x", 65),
		"/api/selection?indicator=drop%20table",
	} {
		if rr := do(h, http.MethodPost, target); rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: status=%d want 400", target, rr.Code)
		}
	}
}

func TestLegend_DefaultsToCurrentIndicator(t *testing.T) {
	h, _ := newTestAPI(t, true)

	rr := do(h, http.MethodGet, "/api/legend")
	var got struct {
		Indicator string                   `json:"indicator"`
		Entries   []choropleth.LegendEntry `json:"entries"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Indicator != "climate_vulnerability" || len(got.Entries) != 5 {
		t.Fatalf("unexpected legend: %+v", got)
	}

	rr = do(h, http.MethodGet, "/api/legend?indicator=adaptive_capacity")
	if !strings.Contains(rr.Body.String(), `"color":"#d73027"`) {
		t.Fatalf("legend body=%s", rr.Body.String())
	}
}

func TestParseSelection(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/selection?indicator=+heat_vulnerability+", nil)
	b, i, err := ParseSelection(req)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if b != "" || i != "heat_vulnerability" {
		t.Fatalf("got boundary=%q indicator=%q", b, i)
	}
}
