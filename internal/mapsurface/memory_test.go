package mapsurface

import (
	"context"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammed-shakir/vulnerability-map/internal/choropleth"
	"github.com/mohammed-shakir/vulnerability-map/internal/core/model"
)

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

func TestMemory_DrivenByRenderer(t *testing.T) {
	m := NewMemory()
	r := choropleth.New(staticSource{}, choropleth.WithViewport(choropleth.Viewport{
		Center:     orb.Point{69.3451, 30.3753},
		Zoom:       5,
		FitPadding: 20,
		Tiles:      choropleth.TileLayer{URLTemplate: "https://tiles/{z}/{x}/{y}.png", Attribution: "osm"},
	}))
	require.NoError(t, r.Initialize(context.Background(), m))
	r.Wait()

	snap := m.Snapshot()
	assert.Equal(t, [2]float64{69.3451, 30.3753}, snap.Center)
	assert.Equal(t, 5, snap.Zoom)
	require.Len(t, snap.Tiles, 1)
	assert.Equal(t, "osm", snap.Tiles[0].Attribution)
	assert.Equal(t, r.Current().ID(), snap.LayerID)
	require.NotNil(t, snap.Bounds)
	assert.Equal(t, [4]float64{0, 0, 1, 1}, *snap.Bounds)
	assert.Equal(t, 20, snap.FitPadding)
	assert.Equal(t, 1, snap.Replacements)

	require.True(t, m.Layer().PointerEnter("r1"))

	require.NoError(t, r.Teardown())
	snap = m.Snapshot()
	assert.True(t, snap.Closed)
	assert.Empty(t, snap.LayerID)
	assert.Nil(t, m.Layer())
}

func TestMemory_CloseTwice(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Close())
	assert.ErrorIs(t, m.Close(), ErrClosed)
}
