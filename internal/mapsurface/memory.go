// Package mapsurface holds map surfaces the renderer can draw on.
package mapsurface

import (
	"errors"
	"sync"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/vulnerability-map/internal/choropleth"
)

var ErrClosed = errors.New("mapsurface: closed")

// Memory is a headless surface. It keeps the state a browser map would show
// so the HTTP API can serve it.
type Memory struct {
	mu           sync.RWMutex
	center       orb.Point
	zoom         int
	tiles        []choropleth.TileLayer
	layer        *choropleth.Layer
	fit          orb.Bound
	fitPadding   int
	fitted       bool
	replacements int
	closed       bool
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) SetView(center orb.Point, zoom int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.center, m.zoom = center, zoom
}

func (m *Memory) AddTileLayer(t choropleth.TileLayer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tiles = append(m.tiles, t)
}

func (m *Memory) ReplaceDataLayer(l *choropleth.Layer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.layer = l
	m.replacements++
}

// FitBounds stores b as the visible extent. Fitting does not change zoom or
// center bookkeeping; a real map would derive both from b and padding.
func (m *Memory) FitBounds(b orb.Bound, padding int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fit, m.fitPadding, m.fitted = b, padding, true
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.closed = true
	m.layer = nil
	return nil
}

// Layer returns the drawn data layer, nil when none.
func (m *Memory) Layer() *choropleth.Layer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.layer
}

type Snapshot struct {
	Center       [2]float64             `json:"center"`
	Zoom         int                    `json:"zoom"`
	Tiles        []choropleth.TileLayer `json:"tiles"`
	LayerID      string                 `json:"layerId,omitempty"`
	Bounds       *[4]float64            `json:"bounds,omitempty"`
	FitPadding   int                    `json:"fitPadding"`
	Replacements int                    `json:"replacements"`
	Closed       bool                   `json:"closed"`
}

func (m *Memory) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Snapshot{
		Center:       [2]float64{m.center.Lon(), m.center.Lat()},
		Zoom:         m.zoom,
		Tiles:        append([]choropleth.TileLayer(nil), m.tiles...),
		FitPadding:   m.fitPadding,
		Replacements: m.replacements,
		Closed:       m.closed,
	}
	if m.layer != nil {
		s.LayerID = m.layer.ID()
	}
	if m.fitted {
		s.Bounds = &[4]float64{m.fit.Min.Lon(), m.fit.Min.Lat(), m.fit.Max.Lon(), m.fit.Max.Lat()}
	}
	return s
}
