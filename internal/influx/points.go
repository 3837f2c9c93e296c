package influx

import (
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
)

// LatencyPoint describes the transit of one record through the ingest
// server. Stages without a timestamp are left out.
func LatencyPoint(sourceType string, sent, received, stored time.Time) *influxdb2_write.Point {
	p := influxdb2_write.NewPointWithMeasurement("record_latency").
		AddTag("source_type", sourceType).
		SetTime(stored)
	if !sent.IsZero() && !received.IsZero() {
		p.AddField("network_ms", ms(received.Sub(sent)))
	}
	if !received.IsZero() {
		p.AddField("buffer_ms", ms(stored.Sub(received)))
	}
	if !sent.IsZero() {
		p.AddField("total_ms", ms(stored.Sub(sent)))
	}
	return p
}

// FlushPoint describes one flush of the ingest buffer.
func FlushPoint(at time.Time, count int, duration time.Duration, total int64) *influxdb2_write.Point {
	return influxdb2_write.NewPointWithMeasurement("flush").
		AddTag("bucket", BucketIngest).
		AddField("records", count).
		AddField("duration_ms", ms(duration)).
		AddField("total", total).
		SetTime(at)
}

// GenerationPoint summarises one generator run for a source type.
func GenerationPoint(at time.Time, sourceType, mode string, records, failures int, elapsed time.Duration) *influxdb2_write.Point {
	return influxdb2_write.NewPointWithMeasurement("generation").
		AddTag("source_type", sourceType).
		AddTag("mode", mode).
		AddField("records", records).
		AddField("encode_failures", failures).
		AddField("elapsed_ms", ms(elapsed)).
		SetTime(at)
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
