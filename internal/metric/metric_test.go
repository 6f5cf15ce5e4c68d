package metric

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunPoint(t *testing.T) {
	point := RunPoint("RTX 4090", "succeeded", 0.40, 30*time.Minute, 0)

	require.Equal(t, "gpurent_run", point.Name())

	fields := fieldsMap(point.FieldList())
	require.InDelta(t, 0.20, fields["cost"].(float64), 0.0001)
	require.InDelta(t, 1800.0, fields["duration_seconds"].(float64), 0.0001)

	tags := tagsMap(point.TagList())
	require.Equal(t, "RTX 4090", tags["gpu"])
	require.Equal(t, "succeeded", tags["outcome"])
}

func TestGaugeSamplesAtFlush(t *testing.T) {
	value := 1

	gauge := &GaugeMetric{Name: "gpurent_active_instances", Sample: func() interface{} { return value }}

	value = 3
	fields := fieldsMap(gauge.Point().FieldList())

	require.EqualValues(t, 3, fields["value"])
}
