package dataprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/vulnerability-map/internal/core/model"
	"github.com/mohammed-shakir/vulnerability-map/internal/core/observability"
)

// Candidate property keys per logical field, highest priority first.
var (
	idKeys = []string{"id", "ID", "Id", "fid", "FID", "OBJECTID", "objectid", "code", "CODE"}

	nameKeys = []string{
		"name", "NAME", "Name",
		"DISTRICT", "district",
		"TEHSIL", "tehsil",
		"UNION_COUNCIL", "union_council",
		"PROVINCE", "province",
		"region", "REGION",
	}

	scoreKeys = []string{
		"vulnerability_score", "VULNERABILITY_SCORE",
		"score", "SCORE",
		"vulnerability", "VULNERABILITY",
		"climate_vulnerability", "CLIMATE_VULNERABILITY",
		"value", "VALUE",
		"exposure", "EXPOSURE",
		"sensitivity", "SENSITIVITY",
		"adaptive_capacity", "ADAPTIVE_CAPACITY",
	}

	populationKeys = []string{"population", "POPULATION", "Population", "pop", "POP"}
	areaKeys       = []string{"area", "AREA", "Area", "area_km2", "AREA_KM2"}

	exposureKeys    = []string{"exposure", "EXPOSURE"}
	sensitivityKeys = []string{"sensitivity", "SENSITIVITY"}
	adaptiveKeys    = []string{"adaptive_capacity", "ADAPTIVE_CAPACITY", "adaptiveCapacity"}
)

const unknownAreaName = "Unknown Area"

// reasons a raw feature is dropped; also used as metric labels
const (
	dropMalformed   = "malformed"
	dropNoGeometry  = "missing_geometry"
	dropUnsupported = "unsupported_geometry"
	dropEmpty       = "empty_geometry"
)

var (
	// ErrUpstreamStatus marks a non-2xx answer from the data service.
	ErrUpstreamStatus = errors.New("upstream status")
	// ErrUnexpectedShape marks a body that decoded but is not the expected document.
	ErrUnexpectedShape = errors.New("unexpected response shape")
)

type rawCollection struct {
	Type     string            `json:"type"`
	Features []json.RawMessage `json:"features"`
}

type rawFeature struct {
	ID         any             `json:"id"`
	Properties map[string]any  `json:"properties"`
	Geometry   json.RawMessage `json:"geometry"`
}

// firstPresent returns the value of the first key that is present, non-null and
// accepted by parse.
func firstPresent[T any](props map[string]any, keys []string, parse func(any) (T, bool)) (T, bool) {
	var zero T
	for _, k := range keys {
		v, ok := props[k]
		if !ok || v == nil {
			continue
		}
		if out, ok := parse(v); ok {
			return out, true
		}
	}
	return zero, false
}

func parseString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		return s, s != ""
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	default:
		return "", false
	}
}

func parseNumber(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = n
	case float64:
		f = t
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		f = n
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func parseNonNegative(v any) (float64, bool) {
	f, ok := parseNumber(v)
	if !ok || f < 0 {
		return 0, false
	}
	return f, true
}

// NormalizeScore maps a raw score into [0,1]. Values above 1 are percentages.
func NormalizeScore(s float64) float64 {
	if s > 1 {
		s /= 100
	}
	return math.Min(1, math.Max(0, s))
}

func optionalScore(props map[string]any, keys []string) *float64 {
	v, ok := firstPresent(props, keys, parseNumber)
	if !ok {
		return nil
	}
	s := NormalizeScore(v)
	return &s
}

// decodeCollection turns a feature-collection body into normalized regions.
// Shape errors fail the whole document, per-feature problems drop only that feature.
func (p *Provider) decodeCollection(ctx context.Context, body []byte, req model.RenderRequest) (model.RegionCollection, error) {
	var rc rawCollection
	if err := json.Unmarshal(body, &rc); err != nil {
		return model.RegionCollection{}, fmt.Errorf("decode collection: %w", err)
	}
	if rc.Type != "FeatureCollection" || rc.Features == nil {
		return model.RegionCollection{}, fmt.Errorf("%w: type=%q", ErrUnexpectedShape, rc.Type)
	}

	out := model.RegionCollection{Request: req, Features: make([]model.RegionFeature, 0, len(rc.Features))}
	for i, raw := range rc.Features {
		f, reason, ok := p.normalizeFeature(ctx, raw)
		if !ok {
			p.logger.DebugContext(ctx, "dropping feature", "index", i, "reason", reason)
			observability.IncDroppedFeature(reason)
			continue
		}
		out.Add(f)
	}
	return out, nil
}

func (p *Provider) normalizeFeature(ctx context.Context, raw json.RawMessage) (model.RegionFeature, string, bool) {
	var rf rawFeature
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&rf); err != nil {
		return model.RegionFeature{}, dropMalformed, false
	}

	geom, reason, ok := decodeGeometry(rf.Geometry)
	if !ok {
		return model.RegionFeature{}, reason, false
	}

	props := rf.Properties
	if props == nil {
		props = map[string]any{}
	}

	f := model.RegionFeature{
		Properties: maps.Clone(props),
		Geometry:   geom,
	}

	if id, ok := firstPresent(props, idKeys, parseString); ok {
		f.ID = id
	} else if id, ok := parseString(rf.ID); ok {
		f.ID = id
	} else {
		f.ID = p.newID()
	}

	f.Name = unknownAreaName
	if name, ok := firstPresent(props, nameKeys, parseString); ok {
		f.Name = name
	}

	if s, ok := firstPresent(props, scoreKeys, parseNumber); ok {
		f.VulnerabilityScore = NormalizeScore(s)
	} else {
		f.VulnerabilityScore = p.rnd()
		f.ScoreEstimated = true
		observability.IncPlaceholderScore()
		p.logger.WarnContext(ctx, "no score field present; assigning placeholder score",
			"region_id", f.ID, "score", f.VulnerabilityScore)
	}

	if pop, ok := firstPresent(props, populationKeys, parseNonNegative); ok {
		n := int64(math.Round(pop))
		f.Population = &n
	}
	if area, ok := firstPresent(props, areaKeys, parseNonNegative); ok {
		f.Area = &area
	}

	f.Exposure = optionalScore(props, exposureKeys)
	f.Sensitivity = optionalScore(props, sensitivityKeys)
	f.AdaptiveCapacity = optionalScore(props, adaptiveKeys)

	return f, "", true
}

// decodeGeometry accepts non-empty Polygon and MultiPolygon geometries only.
func decodeGeometry(raw json.RawMessage) (orb.Geometry, string, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, dropNoGeometry, false
	}
	g, err := geojson.UnmarshalGeometry(trimmed)
	if err != nil || g == nil {
		return nil, dropUnsupported, false
	}
	switch geom := g.Geometry().(type) {
	case orb.Polygon:
		if len(geom) == 0 || len(geom[0]) == 0 {
			return nil, dropEmpty, false
		}
		return geom, "", true
	case orb.MultiPolygon:
		for _, poly := range geom {
			if len(poly) > 0 && len(poly[0]) > 0 {
				return geom, "", true
			}
		}
		return nil, dropEmpty, false
	default:
		return nil, dropUnsupported, false
	}
}
