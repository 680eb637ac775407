package domain

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// PointType is the GeoJSON kind marker every stored location carries.
const PointType = "Point"

// Point is a validated (longitude, latitude) pair.
type Point struct {
	Lon float64
	Lat float64
}

// Coordinates returns the pair in GeoJSON order.
func (p Point) Coordinates() [2]float64 {
	return [2]float64{p.Lon, p.Lat}
}

// Payload returns the point in the loosely typed shape accepted by ValidatePoint.
func (p Point) Payload() map[string]any {
	return map[string]any{
		"type":        PointType,
		"coordinates": []any{p.Lon, p.Lat},
	}
}

type geoJSONPoint struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"`
}

// MarshalJSON encodes the point as {"type":"Point","coordinates":[lon,lat]}.
func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal(geoJSONPoint{Type: PointType, Coordinates: p.Coordinates()})
}

// UnmarshalJSON decodes a GeoJSON point, applying the same rules as ValidatePoint.
func (p *Point) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return &LocationError{Reason: "location must be a JSON object"}
	}
	point, err := ValidatePoint(raw)
	if err != nil {
		return err
	}
	*p = point
	return nil
}

// ValidatePoint checks an arbitrary decoded payload and returns the canonical point.
// Rules are applied in order and the first violation is reported.
func ValidatePoint(payload any) (Point, error) {
	record, ok := payload.(map[string]any)
	if !ok {
		return Point{}, &LocationError{Reason: "location must be an object"}
	}

	if kind, _ := record["type"].(string); kind != PointType {
		return Point{}, &LocationError{Reason: "location type must be 'Point'"}
	}

	coords, ok := asPair(record["coordinates"])
	if !ok {
		return Point{}, &LocationError{Reason: "coordinates must be a list of [longitude, latitude]"}
	}

	lon, okLon := toFloat(coords[0])
	lat, okLat := toFloat(coords[1])
	if !okLon || !okLat {
		return Point{}, &LocationError{Reason: "coordinates must be numeric values"}
	}

	if !(lon >= -180 && lon <= 180) {
		return Point{}, &LocationError{Reason: "longitude must be between -180 and 180"}
	}
	if !(lat >= -90 && lat <= 90) {
		return Point{}, &LocationError{Reason: "latitude must be between -90 and 90"}
	}

	return Point{Lon: lon, Lat: lat}, nil
}

func asPair(v any) ([2]any, bool) {
	switch c := v.(type) {
	case []any:
		if len(c) == 2 {
			return [2]any{c[0], c[1]}, true
		}
	case []float64:
		if len(c) == 2 {
			return [2]any{c[0], c[1]}, true
		}
	case [2]float64:
		return [2]any{c[0], c[1]}, true
	}
	return [2]any{}, false
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
