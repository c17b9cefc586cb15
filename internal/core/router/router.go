// Package router exposes the choropleth over HTTP.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/vulnerability-map/internal/choropleth"
	"github.com/mohammed-shakir/vulnerability-map/internal/core/model"
	"github.com/mohammed-shakir/vulnerability-map/internal/mapsurface"
)

// Catalog lists the selectable boundaries and indicators.
type Catalog interface {
	ListBoundaries(ctx context.Context) []model.BoundaryOption
	ListIndicators(ctx context.Context) []model.IndicatorOption
}

// Map is the renderer as seen by the API.
type Map interface {
	SetRenderRequest(ctx context.Context, req model.RenderRequest)
	OnBoundaryChange(ctx context.Context, boundaryID string)
	OnIndicatorChange(ctx context.Context, indicatorID string)
	Request() model.RenderRequest
	Current() *choropleth.Layer
	Status() choropleth.Status
	Styles() *choropleth.StyleTable
}

// Viewer exposes what the map surface currently shows.
type Viewer interface {
	Snapshot() mapsurface.Snapshot
}

type API struct {
	logger  *slog.Logger
	catalog Catalog
	m       Map
	viewer  Viewer
}

func New(logger *slog.Logger, catalog Catalog, m Map, viewer Viewer) *API {
	return &API{logger: logger, catalog: catalog, m: m, viewer: viewer}
}

// Mount registers the API routes on r.
func (a *API) Mount(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/boundaries", a.handleBoundaries)
		r.Get("/indicators", a.handleIndicators)
		r.Get("/legend", a.handleLegend)
		r.Post("/selection", a.handleSelection)
		r.Get("/status", a.handleStatus)
		r.Get("/layer", a.handleLayer)
		r.Post("/layer/features/{id}/hover", a.handleHover(true))
		r.Delete("/layer/features/{id}/hover", a.handleHover(false))
		if a.viewer != nil {
			r.Get("/map", a.handleMap)
		}
	})
}

func (a *API) handleBoundaries(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.catalog.ListBoundaries(r.Context()))
}

func (a *API) handleIndicators(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.catalog.ListIndicators(r.Context()))
}

func (a *API) handleLegend(w http.ResponseWriter, r *http.Request) {
	indicator := strings.TrimSpace(r.URL.Query().Get("indicator"))
	if indicator == "" {
		indicator = a.m.Request().IndicatorID
	} else if !validID(indicator) {
		http.Error(w, "invalid indicator id", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"indicator": indicator,
		"entries":   a.m.Styles().Legend(indicator),
	})
}

func (a *API) handleSelection(w http.ResponseWriter, r *http.Request) {
	boundary, indicator, err := ParseSelection(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	switch {
	case boundary != "" && indicator != "":
		a.m.SetRenderRequest(ctx, model.RenderRequest{BoundaryID: boundary, IndicatorID: indicator})
	case boundary != "":
		a.m.OnBoundaryChange(ctx, boundary)
	default:
		a.m.OnIndicatorChange(ctx, indicator)
	}
	req := a.m.Request()
	a.logger.InfoContext(ctx, "selection changed", "boundary", req.BoundaryID, "indicator", req.IndicatorID)
	writeJSON(w, http.StatusAccepted, requestJSON(req))
}

func (a *API) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st := a.m.Status()
	writeJSON(w, http.StatusOK, struct {
		choropleth.Status
		Selection map[string]string `json:"selection"`
	}{st, requestJSON(st.Request)})
}

func (a *API) handleLayer(w http.ResponseWriter, _ *http.Request) {
	l := a.m.Current()
	if l == nil {
		http.Error(w, "no data layer installed", http.StatusNotFound)
		return
	}
	b, err := l.FeatureCollection().MarshalJSON()
	if err != nil {
		http.Error(w, "encode layer", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.Header().Set("X-Layer-ID", l.ID())
	_, _ = w.Write(b)
}

func (a *API) handleHover(enter bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		l := a.m.Current()
		if l == nil {
			http.Error(w, "no data layer installed", http.StatusNotFound)
			return
		}
		id := chi.URLParam(r, "id")
		var ok bool
		if enter {
			ok = l.PointerEnter(id)
		} else {
			ok = l.PointerLeave(id)
		}
		if !ok {
			http.Error(w, fmt.Sprintf("unknown region %q", id), http.StatusNotFound)
			return
		}
		f, _ := l.Feature(id)
		writeJSON(w, http.StatusOK, map[string]any{
			"id":        id,
			"style":     f.Current,
			"popupOpen": f.PopupOpen,
			"popup":     f.Popup,
		})
	}
}

func (a *API) handleMap(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.viewer.Snapshot())
}

// ParseSelection reads the boundary and indicator query parameters. At least
// one is required; an absent one keeps the current selection.
func ParseSelection(r *http.Request) (boundary, indicator string, err error) {
	q := r.URL.Query()
	boundary = strings.TrimSpace(q.Get("boundary"))
	indicator = strings.TrimSpace(q.Get("indicator"))
	if boundary == "" && indicator == "" {
		return "", "", errors.New("missing parameter: boundary or indicator")
	}
	if boundary != "" && !validID(boundary) {
		return "", "", fmt.Errorf("invalid boundary id %q", boundary)
	}
	if indicator != "" && !validID(indicator) {
		return "", "", fmt.Errorf("invalid indicator id %q", indicator)
	}
	return boundary, indicator, nil
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_\-]{1,64}$`)

func validID(s string) bool { return idPattern.MatchString(s) }

func requestJSON(req model.RenderRequest) map[string]string {
	return map[string]string{"boundary": req.BoundaryID, "indicator": req.IndicatorID}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
