package dataprovider

import (
	"math"
	"slices"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/vulnerability-map/internal/core/model"
)

var defaultBoundaries = []model.BoundaryOption{
	{ID: model.BoundaryDistrict, Name: "District", Description: "Second-order administrative divisions"},
	{ID: model.BoundaryTehsil, Name: "Tehsil", Description: "Sub-district administrative units"},
	{ID: model.BoundaryUnionCouncil, Name: "Union Council", Description: "Local government units"},
}

var defaultIndicators = []model.IndicatorOption{
	{ID: model.IndicatorVulnerability, Name: "Climate Vulnerability Index", Description: "Composite of exposure, sensitivity and adaptive capacity", Unit: "index"},
	{ID: model.IndicatorExposure, Name: "Exposure", Description: "Degree of exposure to climate hazards", Unit: "index"},
	{ID: model.IndicatorSensitivity, Name: "Sensitivity", Description: "Susceptibility of people and systems to harm", Unit: "index"},
	{ID: model.IndicatorAdaptiveCapacity, Name: "Adaptive Capacity", Description: "Ability to cope with and adjust to climate impacts", Unit: "index"},
	{ID: model.IndicatorHeat, Name: "Heat Vulnerability", Description: "Vulnerability to extreme heat", Unit: "index"},
	{ID: model.IndicatorDrought, Name: "Drought Vulnerability", Description: "Vulnerability to drought", Unit: "index"},
	{ID: model.IndicatorFlood, Name: "Flood Vulnerability", Description: "Vulnerability to riverine and flash floods", Unit: "index"},
}

// DefaultBoundaries returns the built-in boundary catalog.
func DefaultBoundaries() []model.BoundaryOption { return slices.Clone(defaultBoundaries) }

// DefaultIndicators returns the built-in indicator catalog.
func DefaultIndicators() []model.IndicatorOption { return slices.Clone(defaultIndicators) }

// FixtureHalfWidth is the half side, in degrees, of every fixture square.
const FixtureHalfWidth = 1.0

type fixtureRegion struct {
	id, name         string
	lon, lat         float64
	score            float64
	exposure         float64
	sensitivity      float64
	adaptiveCapacity float64
}

// first-order divisions of Pakistan
var fixtureRegions = []fixtureRegion{
	{"punjab", "Punjab", 72.7097, 31.1704, 0.65, 0.72, 0.61, 0.48},
	{"sindh", "Sindh", 68.5247, 25.8943, 0.78, 0.84, 0.75, 0.32},
	{"khyber-pakhtunkhwa", "Khyber Pakhtunkhwa", 72.3311, 34.9526, 0.58, 0.66, 0.55, 0.50},
	{"balochistan", "Balochistan", 65.0958, 28.4907, 0.82, 0.79, 0.86, 0.22},
	{"gilgit-baltistan", "Gilgit-Baltistan", 74.9832, 35.8026, 0.45, 0.52, 0.44, 0.58},
	{"azad-kashmir", "Azad Jammu and Kashmir", 73.7810, 33.9259, 0.52, 0.57, 0.50, 0.53},
}

// FallbackCollection builds the synthetic dataset served when the data service
// is unavailable. Names, scores and geometry are fixed; population and area
// are drawn from rnd on every call.
func FallbackCollection(req model.RenderRequest, rnd func() float64) model.RegionCollection {
	out := model.RegionCollection{
		Request:  req,
		Features: make([]model.RegionFeature, 0, len(fixtureRegions)),
		Fallback: true,
	}
	for _, r := range fixtureRegions {
		pop := int64(1_000_000 + rnd()*49_000_000)
		area := math.Round((5_000+rnd()*145_000)*10) / 10

		f := model.RegionFeature{
			ID:                 r.id,
			Name:               r.name,
			VulnerabilityScore: r.score,
			Population:         &pop,
			Area:               &area,
			Properties:         map[string]any{"source": "fallback"},
			Geometry:           squareAround(r.lon, r.lat, FixtureHalfWidth),
		}
		if req.IndicatorID == model.IndicatorVulnerability {
			e, s, a := r.exposure, r.sensitivity, r.adaptiveCapacity
			f.Exposure, f.Sensitivity, f.AdaptiveCapacity = &e, &s, &a
		}
		out.Features = append(out.Features, f)
	}
	return out
}

func squareAround(lon, lat, h float64) orb.Polygon {
	return orb.Polygon{orb.Ring{
		{lon - h, lat - h},
		{lon + h, lat - h},
		{lon + h, lat + h},
		{lon - h, lat + h},
		{lon - h, lat - h},
	}}
}
