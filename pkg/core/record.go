// pkg/core/record.go
package core

import (
	"math"
	"time"
)

// TimestampLayout is the ISO-8601 layout used on every record: UTC,
// millisecond precision and a literal Z.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// EncodingErrorMarker replaces the raw message when encoding fails.
const EncodingErrorMarker = "ERROR_ENCODING"

// Record is the packet produced for one emission of one entity.
type Record struct {
	SourceType Class   `json:"source_type"`
	ID         string  `json:"id"`
	Timestamp  string  `json:"timestamp"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	Speed      float64 `json:"speed"`
	Heading    float64 `json:"heading"`
	Course     float64 `json:"course,omitempty"`
	AltitudeFt int     `json:"altitude_ft,omitempty"`
	Name       string  `json:"name,omitempty"`
	Callsign   string  `json:"callsign,omitempty"`
	TypeCode   int     `json:"type_code,omitempty"`
	RawMsg     string  `json:"raw_msg"`

	// Time is the parsed form of Timestamp, kept for ordering.
	Time time.Time `json:"-"`
}

// FormatTimestamp renders t with TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Round rounds v to the given number of decimal places.
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// Failed reports whether the record carries the encoding error marker.
func (r Record) Failed() bool {
	return r.RawMsg == EncodingErrorMarker
}
