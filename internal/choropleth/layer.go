package choropleth

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/vulnerability-map/internal/core/model"
)

var errNoGeometry = errors.New("missing geometry")

// StyledFeature is a region together with everything computed for the current indicator.
type StyledFeature struct {
	Region    model.RegionFeature
	Value     float64
	Bucket    int
	Base      Style
	Current   Style
	Popup     string
	PopupOpen bool
}

// Layer is one installed data layer: the regions of a RegionCollection styled
// for a single indicator. The renderer replaces it wholesale on every request.
type Layer struct {
	id       string
	request  model.RenderRequest
	fallback bool
	bound    orb.Bound
	hasBound bool

	mu       sync.Mutex
	features []*StyledFeature
	index    map[string]*StyledFeature
}

func layerID(gen uint64, req model.RenderRequest) string {
	sum := xxhash.Sum64String(fmt.Sprintf("%d|%s|%s", gen, req.BoundaryID, req.IndicatorID))
	return fmt.Sprintf("%s:%s:%016x", req.BoundaryID, req.IndicatorID, sum)
}

// buildLayer styles every feature of coll for req.IndicatorID.
func buildLayer(id string, coll model.RegionCollection, styles *StyleTable) (*Layer, error) {
	req := coll.Request
	is := styles.Lookup(req.IndicatorID)
	if len(is.Scale.Colors) != len(is.Scale.Breaks)+1 {
		return nil, fmt.Errorf("indicator %q: %d colors for %d breaks", req.IndicatorID, len(is.Scale.Colors), len(is.Scale.Breaks))
	}

	l := &Layer{
		id:       id,
		request:  req,
		fallback: coll.Fallback,
		features: make([]*StyledFeature, 0, len(coll.Features)),
		index:    make(map[string]*StyledFeature, len(coll.Features)),
	}
	for _, f := range coll.Features {
		if f.Geometry == nil {
			return nil, fmt.Errorf("region %q: %w", f.ID, errNoGeometry)
		}
		v := is.Value(f)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("region %q: indicator %q value is not finite", f.ID, req.IndicatorID)
		}
		b := is.Scale.Bucket(v)
		base := baseStyle(is.Scale.Colors[b])
		sf := &StyledFeature{
			Region:  f,
			Value:   v,
			Bucket:  b,
			Base:    base,
			Current: base,
			Popup:   popupHTML(f),
		}
		if prev, ok := l.index[f.ID]; ok {
			*prev = *sf
			continue
		}
		l.features = append(l.features, sf)
		l.index[f.ID] = sf
	}

	if b, ok := coll.Bound(); ok {
		l.bound, l.hasBound = b, true
	}
	return l, nil
}

func (l *Layer) ID() string                   { return l.id }
func (l *Layer) Request() model.RenderRequest { return l.request }
func (l *Layer) Fallback() bool               { return l.fallback }

func (l *Layer) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.features)
}

// Bound is the combined geometry bound; ok is false for an empty layer.
func (l *Layer) Bound() (orb.Bound, bool) { return l.bound, l.hasBound }

// Feature returns a copy of the styled feature with the given region id.
func (l *Layer) Feature(id string) (StyledFeature, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sf, ok := l.index[id]
	if !ok {
		return StyledFeature{}, false
	}
	return *sf, true
}

// Features returns copies of all styled features in collection order.
func (l *Layer) Features() []StyledFeature {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]StyledFeature, len(l.features))
	for i, sf := range l.features {
		out[i] = *sf
	}
	return out
}

// PointerEnter emphasizes the outline of the region and opens its popup.
func (l *Layer) PointerEnter(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	sf, ok := l.index[id]
	if !ok {
		return false
	}
	sf.Current = emphasized(sf.Base)
	sf.PopupOpen = true
	return true
}

// PointerLeave restores the computed base style of the region and closes its popup.
func (l *Layer) PointerLeave(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	sf, ok := l.index[id]
	if !ok {
		return false
	}
	sf.Current = sf.Base
	sf.PopupOpen = false
	return true
}

// FeatureCollection exports the layer as GeoJSON with style and popup properties.
func (l *Layer) FeatureCollection() *geojson.FeatureCollection {
	l.mu.Lock()
	defer l.mu.Unlock()

	fc := geojson.NewFeatureCollection()
	for _, sf := range l.features {
		gf := geojson.NewFeature(sf.Region.Geometry)
		gf.ID = sf.Region.ID
		props := maps.Clone(sf.Region.Properties)
		if props == nil {
			props = geojson.Properties{}
		}
		props["id"] = sf.Region.ID
		props["name"] = sf.Region.Name
		props["vulnerability_score"] = sf.Region.VulnerabilityScore
		props["indicator_value"] = sf.Value
		props["bucket"] = sf.Bucket
		props["score_estimated"] = sf.Region.ScoreEstimated
		props["style"] = sf.Current
		props["popup"] = sf.Popup
		props["popup_open"] = sf.PopupOpen
		gf.Properties = props
		fc.Append(gf)
	}
	return fc
}
