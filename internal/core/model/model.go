// Package model defines core domain types shared across the service.
package model

import (
	"fmt"

	"github.com/paulmach/orb"
)

// RegionFeature is one shaded region of the choropleth.
type RegionFeature struct {
	ID                 string
	Name               string
	VulnerabilityScore float64 // always in [0,1]
	Population         *int64
	Area               *float64

	Exposure         *float64
	Sensitivity      *float64
	AdaptiveCapacity *float64

	// server supplied properties under their original keys
	Properties map[string]any

	// orb.Polygon or orb.MultiPolygon, never empty
	Geometry orb.Geometry

	// true when no score field parsed and a placeholder was assigned
	ScoreEstimated bool
}

type RegionCollection struct {
	Request  RenderRequest
	Features []RegionFeature
	Fallback bool
}

func (c RegionCollection) Len() int { return len(c.Features) }

// Bound returns the union of all feature bounds. ok is false for an empty collection.
func (c RegionCollection) Bound() (orb.Bound, bool) {
	var b orb.Bound
	ok := false
	for _, f := range c.Features {
		if f.Geometry == nil {
			continue
		}
		fb := f.Geometry.Bound()
		if !ok {
			b, ok = fb, true
			continue
		}
		b = b.Union(fb)
	}
	return b, ok
}

// Add appends f, replacing an earlier feature with the same id in place.
func (c *RegionCollection) Add(f RegionFeature) {
	for i := range c.Features {
		if c.Features[i].ID == f.ID {
			c.Features[i] = f
			return
		}
	}
	c.Features = append(c.Features, f)
}

type BoundaryOption struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type IndicatorOption struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Unit        string `json:"unit,omitempty"`
}

// RenderRequest parameterizes one fetch and render cycle.
type RenderRequest struct {
	BoundaryID  string
	IndicatorID string
}

func (r RenderRequest) String() string {
	return fmt.Sprintf("%s/%s", r.BoundaryID, r.IndicatorID)
}

// indicator ids understood by the styling layer
const (
	IndicatorVulnerability    = "climate_vulnerability"
	IndicatorExposure         = "exposure"
	IndicatorSensitivity      = "sensitivity"
	IndicatorAdaptiveCapacity = "adaptive_capacity"
	IndicatorHeat             = "heat_vulnerability"
	IndicatorDrought          = "drought_vulnerability"
	IndicatorFlood            = "flood_vulnerability"
)

const (
	BoundaryDistrict     = "district"
	BoundaryTehsil       = "tehsil"
	BoundaryUnionCouncil = "union_council"
)
