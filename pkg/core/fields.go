package core

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Timestamp bookkeeping fields stamped on flat records as they travel.
const (
	FieldSent     = "ts_sent"
	FieldReceived = "ts_received"
	FieldStored   = "ts_stored"
)

// identityFields are tried in order to find an entity id in a flat record.
// Older datasets carry the upper case per-class names.
var identityFields = []string{"id", "MMSI", "ICAO", "VEHICLE_ID", "track_id"}

// timeFields are tried in order to find the recorded time.
var timeFields = []string{"timestamp", "TIMESTAMP", "tola_utc"}

// naiveLayouts are tried after RFC 3339; they carry no zone and are read as UTC.
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
}

// ParseTimestamp parses an ISO 8601 timestamp. Values without a zone are UTC.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), true
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// RecordIdentity returns the source type and entity id of a flat record.
// Source type falls back to "UNKNOWN".
func RecordIdentity(m map[string]any) (sourceType, id string) {
	sourceType = "UNKNOWN"
	if s, ok := m["source_type"].(string); ok && s != "" {
		sourceType = s
	}
	for _, f := range identityFields {
		if v, ok := m[f]; ok && v != nil {
			if s := fmt.Sprint(v); s != "" {
				return sourceType, s
			}
		}
	}
	return sourceType, ""
}

// RecordTime returns the recorded time of a flat record.
func RecordTime(m map[string]any) (time.Time, bool) {
	for _, f := range timeFields {
		if s, ok := m[f].(string); ok {
			if t, ok := ParseTimestamp(s); ok {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// StampedTime parses one of the ts_* bookkeeping fields.
func StampedTime(m map[string]any, field string) (time.Time, bool) {
	s, ok := m[field].(string)
	if !ok {
		return time.Time{}, false
	}
	return ParseTimestamp(s)
}

// RecordPosition returns latitude and longitude of a flat record.
func RecordPosition(m map[string]any) (Position, bool) {
	lat, okLat := Float(m["latitude"])
	lon, okLon := Float(m["longitude"])
	if !okLat || !okLon {
		return Position{}, false
	}
	return Position{Lat: lat, Lon: lon}, true
}

// Float converts a decoded JSON number to float64.
func Float(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}
