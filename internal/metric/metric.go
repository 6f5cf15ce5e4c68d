package metric

import (
	"context"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go"
)

type Tags map[string]string

type Fields map[string]interface{}

// Metric is anything that can render itself as a point.
type Metric interface {
	Point() *influxdb2.Point
}

// Client collects run metrics. Registered metrics are flushed by Ticker;
// one-off points (per-run cost) go through Send directly.
type Client interface {
	Add(metric Metric)
	Send(points ...*influxdb2.Point)
	Ticker(ctx context.Context, duration time.Duration)
}

// GaugeMetric samples a value at flush time, for states that change under the
// run's feet like the number of billing instances.
type GaugeMetric struct {
	Name   string
	Tags   Tags
	Sample func() interface{}
}

func (g *GaugeMetric) Point() *influxdb2.Point {
	return influxdb2.NewPoint(g.Name, g.Tags, Fields{"value": g.Sample()}, time.Now())
}

// RunPoint renders one finished run as a point, carrying the cost exposure of
// that run.
func RunPoint(gpuName, outcome string, pricePerHour float64, elapsed time.Duration, exitCode int) *influxdb2.Point {
	return influxdb2.NewPoint(
		"gpurent_run",
		Tags{"gpu": gpuName, "outcome": outcome},
		Fields{
			"cost":             pricePerHour * elapsed.Hours(),
			"duration_seconds": elapsed.Seconds(),
			"exit_code":        exitCode,
		},
		time.Now(),
	)
}
