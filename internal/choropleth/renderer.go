// Package choropleth owns the map surface and its single data layer. Each
// render request fetches fresh regions, styles them for the selected indicator
// and swaps the previous layer out. Only the most recently issued request may
// install its layer.
package choropleth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/vulnerability-map/internal/core/model"
	"github.com/mohammed-shakir/vulnerability-map/internal/core/observability"
	"github.com/mohammed-shakir/vulnerability-map/internal/logger"
)

// DataSource supplies region data. Implementations are expected to be
// fail-soft; the renderer still guards against panics.
type DataSource interface {
	FetchRegionData(ctx context.Context, boundaryID, indicatorID string) model.RegionCollection
}

type TileLayer struct {
	URLTemplate string `json:"url"`
	Attribution string `json:"attribution"`
}

// Surface is the map drawing capability the renderer draws on.
type Surface interface {
	SetView(center orb.Point, zoom int)
	AddTileLayer(t TileLayer)
	// ReplaceDataLayer atomically swaps the data layer; nil removes it.
	ReplaceDataLayer(l *Layer)
	FitBounds(b orb.Bound, padding int)
	Close() error
}

type Viewport struct {
	Center     orb.Point
	Zoom       int
	FitPadding int
	Tiles      TileLayer
}

var ErrNilSurface = errors.New("choropleth: nil surface")

type Status struct {
	Loading  bool                `json:"isLoading"`
	Error    string              `json:"error,omitempty"`
	Request  model.RenderRequest `json:"-"`
	LayerID  string              `json:"layerId,omitempty"`
	Features int                 `json:"features"`
	Fallback bool                `json:"fallback"`
	LoadedAt time.Time           `json:"loadedAt,omitzero"`
}

type Renderer struct {
	src        DataSource
	styles     *StyleTable
	logger     *slog.Logger
	clock      clockwork.Clock
	view       Viewport
	defaultReq model.RenderRequest
	onData     func(model.RegionCollection)

	// latest issued generation; bumped once per cycle start
	gen atomic.Uint64
	wg  sync.WaitGroup

	// data-loaded callbacks run in installation order: an installing cycle
	// takes a ticket under mu and waits for delivered to reach it
	cbMu      sync.Mutex
	cbCond    *sync.Cond
	delivered uint64

	mu         sync.Mutex
	surface    Surface
	layer      *Layer
	request    model.RenderRequest
	loading    bool
	errMsg     string
	loadedAt   time.Time
	installSeq uint64
}

type Option func(*Renderer)

func WithLogger(l *slog.Logger) Option {
	return func(r *Renderer) {
		if l != nil {
			r.logger = l
		}
	}
}

func WithStyles(t *StyleTable) Option {
	return func(r *Renderer) {
		if t != nil {
			r.styles = t
		}
	}
}

func WithClock(c clockwork.Clock) Option {
	return func(r *Renderer) {
		if c != nil {
			r.clock = c
		}
	}
}

func WithViewport(v Viewport) Option {
	return func(r *Renderer) { r.view = v }
}

func WithDefaultRequest(req model.RenderRequest) Option {
	return func(r *Renderer) { r.defaultReq = req }
}

// WithDataLoaded sets the callback invoked with the collection of every installed layer.
func WithDataLoaded(fn func(model.RegionCollection)) Option {
	return func(r *Renderer) { r.onData = fn }
}

func New(src DataSource, opts ...Option) *Renderer {
	r := &Renderer{
		src:    src,
		styles: DefaultStyleTable(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		clock:  clockwork.NewRealClock(),
		view: Viewport{
			Center:     orb.Point{69.3451, 30.3753},
			Zoom:       5,
			FitPadding: 20,
		},
		defaultReq: model.RenderRequest{
			BoundaryID:  model.BoundaryDistrict,
			IndicatorID: model.IndicatorVulnerability,
		},
	}
	r.cbCond = sync.NewCond(&r.cbMu)
	for _, o := range opts {
		o(r)
	}
	return r
}

// Initialize prepares s with the default view and base tiles, then starts the
// initial load. Calling it again before Teardown does nothing.
func (r *Renderer) Initialize(ctx context.Context, s Surface) error {
	if s == nil {
		return ErrNilSurface
	}
	r.mu.Lock()
	if r.surface != nil {
		r.mu.Unlock()
		return nil
	}
	s.SetView(r.view.Center, r.view.Zoom)
	if r.view.Tiles.URLTemplate != "" {
		s.AddTileLayer(r.view.Tiles)
	}
	r.surface = s
	r.request = r.defaultReq
	r.mu.Unlock()

	r.logger.InfoContext(ctx, "map surface initialized",
		"boundary", r.defaultReq.BoundaryID, "indicator", r.defaultReq.IndicatorID)
	r.start(ctx, func(*model.RenderRequest) {})
	return nil
}

// Teardown removes the data layer and closes the surface. Cycles still in
// flight finish without installing anything.
func (r *Renderer) Teardown() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.surface == nil {
		return nil
	}
	s := r.surface
	r.surface = nil
	r.layer = nil
	r.loading = false
	s.ReplaceDataLayer(nil)
	observability.SetLayerFeatures(0)
	if err := s.Close(); err != nil {
		return fmt.Errorf("close surface: %w", err)
	}
	return nil
}

// SetRenderRequest starts a load cycle for req and returns immediately.
func (r *Renderer) SetRenderRequest(ctx context.Context, req model.RenderRequest) {
	r.start(ctx, func(cur *model.RenderRequest) { *cur = req })
}

func (r *Renderer) OnBoundaryChange(ctx context.Context, boundaryID string) {
	r.start(ctx, func(cur *model.RenderRequest) { cur.BoundaryID = boundaryID })
}

func (r *Renderer) OnIndicatorChange(ctx context.Context, indicatorID string) {
	r.start(ctx, func(cur *model.RenderRequest) { cur.IndicatorID = indicatorID })
}

// Wait blocks until every started load cycle has returned.
func (r *Renderer) Wait() { r.wg.Wait() }

func (r *Renderer) start(ctx context.Context, update func(*model.RenderRequest)) {
	r.mu.Lock()
	if r.surface == nil {
		r.mu.Unlock()
		r.logger.WarnContext(ctx, "render request ignored: map surface not initialized")
		return
	}
	update(&r.request)
	req := r.request
	gen := r.gen.Add(1)
	r.loading = true
	r.errMsg = ""
	r.wg.Add(1)
	r.mu.Unlock()

	// the cycle outlives the caller, e.g. an HTTP handler
	cycleCtx := logger.WithRenderRequest(context.WithoutCancel(ctx), req.String(), gen)
	go r.load(cycleCtx, gen, req)
}

func (r *Renderer) load(ctx context.Context, gen uint64, req model.RenderRequest) {
	defer r.wg.Done()
	start := r.clock.Now()

	layer, coll, err := r.fetchAndBuild(ctx, gen, req)

	r.mu.Lock()
	if gen != r.gen.Load() || r.surface == nil {
		r.mu.Unlock()
		r.logger.DebugContext(ctx, "discarding superseded render result")
		observability.ObserveRenderCycle("superseded", r.clock.Since(start).Seconds())
		return
	}
	if err != nil {
		r.errMsg = err.Error()
		r.loading = false
		r.mu.Unlock()
		r.logger.ErrorContext(ctx, "render cycle failed; keeping previous layer", "err", err)
		observability.ObserveRenderCycle("failed", r.clock.Since(start).Seconds())
		return
	}

	r.surface.ReplaceDataLayer(layer)
	if b, ok := layer.Bound(); ok {
		r.surface.FitBounds(b, r.view.FitPadding)
	}
	r.layer = layer
	r.loading = false
	r.loadedAt = r.clock.Now()
	ticket := r.installSeq
	r.installSeq++
	r.mu.Unlock()

	observability.SetLayerFeatures(layer.Len())
	observability.ObserveRenderCycle("installed", r.clock.Since(start).Seconds())
	r.logger.InfoContext(ctx, "data layer installed",
		"layer_id", layer.ID(), "features", layer.Len(), "fallback", coll.Fallback)

	r.deliver(ticket, coll)
}

// deliver runs the data-loaded callback once every earlier ticket has been
// delivered. No renderer lock is held while the callback runs, so it may call
// back into the renderer.
func (r *Renderer) deliver(ticket uint64, coll model.RegionCollection) {
	r.cbMu.Lock()
	for r.delivered != ticket {
		r.cbCond.Wait()
	}
	r.cbMu.Unlock()

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("data-loaded callback panicked", "err", rec, "request", coll.Request.String())
		}
		r.cbMu.Lock()
		r.delivered++
		r.cbCond.Broadcast()
		r.cbMu.Unlock()
	}()
	if r.onData != nil {
		r.onData(coll)
	}
}

func (r *Renderer) fetchAndBuild(ctx context.Context, gen uint64, req model.RenderRequest) (layer *Layer, coll model.RegionCollection, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("render %s: panic: %v", req, rec)
		}
	}()

	coll = r.src.FetchRegionData(ctx, req.BoundaryID, req.IndicatorID)
	coll.Request = req
	layer, err = buildLayer(layerID(gen, req), coll, r.styles)
	if err != nil {
		return nil, coll, fmt.Errorf("render %s: %w", req, err)
	}
	return layer, coll, nil
}

func (r *Renderer) Loading() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loading
}

// Error is the message of the last failed cycle, empty when none.
func (r *Renderer) Error() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errMsg
}

// Current returns the installed layer, or nil.
func (r *Renderer) Current() *Layer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.layer
}

// Request is the most recently issued request.
func (r *Renderer) Request() model.RenderRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.request
}

func (r *Renderer) Styles() *StyleTable { return r.styles }

func (r *Renderer) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := Status{
		Loading:  r.loading,
		Error:    r.errMsg,
		Request:  r.request,
		LoadedAt: r.loadedAt,
	}
	if r.layer != nil {
		st.LayerID = r.layer.ID()
		st.Features = r.layer.Len()
		st.Fallback = r.layer.Fallback()
	}
	return st
}

// Ready reports whether a data layer is on the map.
func (r *Renderer) Ready() (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case r.surface == nil:
		return false, "map surface not initialized"
	case r.layer == nil && r.errMsg != "":
		return false, r.errMsg
	case r.layer == nil:
		return false, "initial load in progress"
	}
	return true, ""
}
