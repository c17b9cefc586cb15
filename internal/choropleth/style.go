package choropleth

import (
	"fmt"

	"github.com/mohammed-shakir/vulnerability-map/internal/core/model"
)

// Style is the vector style of one region as the map surface draws it.
type Style struct {
	FillColor   string  `json:"fillColor"`
	Color       string  `json:"color"`
	Weight      float64 `json:"weight"`
	Opacity     float64 `json:"opacity"`
	FillOpacity float64 `json:"fillOpacity"`
	DashArray   string  `json:"dashArray,omitempty"`
}

func baseStyle(fill string) Style {
	return Style{
		FillColor:   fill,
		Color:       "white",
		Weight:      2,
		Opacity:     1,
		FillOpacity: 0.7,
		DashArray:   "3",
	}
}

// emphasized keeps the fill of s and strengthens the outline.
func emphasized(s Style) Style {
	s.Color = "#666"
	s.Weight = 3
	s.DashArray = ""
	s.FillOpacity = 0.9
	return s
}

// Scale is a step color scale. A value v falls into the first bucket whose
// upper break is greater than v, so a value equal to a break belongs to the
// bucket above it.
type Scale struct {
	Breaks []float64
	Colors []string
	Labels []string
}

func (s Scale) Bucket(v float64) int {
	i := 0
	for i < len(s.Breaks) && v >= s.Breaks[i] {
		i++
	}
	return i
}

func (s Scale) Color(v float64) string {
	return s.Colors[s.Bucket(v)]
}

type LegendEntry struct {
	Label string  `json:"label"`
	Color string  `json:"color"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

func (s Scale) Legend() []LegendEntry {
	out := make([]LegendEntry, len(s.Colors))
	for i := range s.Colors {
		lo, hi := 0.0, 1.0
		if i > 0 {
			lo = s.Breaks[i-1]
		}
		if i < len(s.Breaks) {
			hi = s.Breaks[i]
		}
		out[i] = LegendEntry{
			Label: fmt.Sprintf("%s (%.1f-%.1f)", s.Labels[i], lo, hi),
			Color: s.Colors[i],
			Min:   lo,
			Max:   hi,
		}
	}
	return out
}

// IndicatorStyle binds an indicator to the scalar it shades by and its scale.
type IndicatorStyle struct {
	Scale Scale
	Value func(model.RegionFeature) float64
}

var (
	quintileBreaks = []float64{0.2, 0.4, 0.6, 0.8}
	quintileLabels = []string{"Very Low", "Low", "Moderate", "High", "Very High"}

	greenToRed = []string{"#1a9850", "#91cf60", "#fee08b", "#fc8d59", "#d73027"}
	redToGreen = []string{"#d73027", "#fc8d59", "#fee08b", "#91cf60", "#1a9850"}
	oranges    = []string{"#feedde", "#fdbe85", "#fd8d3c", "#e6550d", "#a63603"}
	purples    = []string{"#f2f0f7", "#cbc9e2", "#9e9ac8", "#756bb1", "#54278f"}
)

func quintiles(colors []string) Scale {
	return Scale{Breaks: quintileBreaks, Colors: colors, Labels: quintileLabels}
}

func overallScore(f model.RegionFeature) float64 { return f.VulnerabilityScore }

func componentOr(get func(model.RegionFeature) *float64, fallback func(model.RegionFeature) float64) func(model.RegionFeature) float64 {
	return func(f model.RegionFeature) float64 {
		if v := get(f); v != nil {
			return *v
		}
		return fallback(f)
	}
}

// StyleTable maps indicator ids to their style; unknown ids use the aggregate style.
type StyleTable struct {
	entries map[string]IndicatorStyle
	def     IndicatorStyle
}

func DefaultStyleTable() *StyleTable {
	aggregate := IndicatorStyle{Scale: quintiles(greenToRed), Value: overallScore}
	return &StyleTable{
		def: aggregate,
		entries: map[string]IndicatorStyle{
			model.IndicatorVulnerability: aggregate,
			model.IndicatorHeat:          aggregate,
			model.IndicatorDrought:       aggregate,
			model.IndicatorFlood:         aggregate,
			model.IndicatorExposure: {
				Scale: quintiles(oranges),
				Value: componentOr(func(f model.RegionFeature) *float64 { return f.Exposure }, overallScore),
			},
			model.IndicatorSensitivity: {
				Scale: quintiles(purples),
				Value: componentOr(func(f model.RegionFeature) *float64 { return f.Sensitivity }, overallScore),
			},
			// higher capacity is better, so the ramp runs the other way
			model.IndicatorAdaptiveCapacity: {
				Scale: quintiles(redToGreen),
				Value: componentOr(
					func(f model.RegionFeature) *float64 { return f.AdaptiveCapacity },
					func(f model.RegionFeature) float64 { return 1 - f.VulnerabilityScore },
				),
			},
		},
	}
}

// Set registers or replaces the style of an indicator.
func (t *StyleTable) Set(indicator string, s IndicatorStyle) {
	t.entries[indicator] = s
}

func (t *StyleTable) Lookup(indicator string) IndicatorStyle {
	if s, ok := t.entries[indicator]; ok {
		return s
	}
	return t.def
}

// IndicatorValue is the scalar a feature is shaded by for indicator.
func (t *StyleTable) IndicatorValue(indicator string, f model.RegionFeature) float64 {
	return t.Lookup(indicator).Value(f)
}

func (t *StyleTable) Legend(indicator string) []LegendEntry {
	return t.Lookup(indicator).Scale.Legend()
}
