package hotelwatch

import (
	"hotelwatch-backend/lib/telemetry"

	"go.opentelemetry.io/otel/metric"
)

const service_name = "hotelwatch.services.hotelwatch"

var tracer = telemetry.Tracer(service_name)
var meter = telemetry.Meter(service_name)

var runCounter, _ = meter.Int64Counter(
	"hotelwatch.runs",
	metric.WithDescription("finished scrape runs by status"),
)
var snapshotCounter, _ = meter.Int64Counter(
	"hotelwatch.snapshots",
	metric.WithDescription("room snapshots written"),
)
var notificationCounter, _ = meter.Int64Counter(
	"hotelwatch.notifications",
	metric.WithDescription("availability notifications sent by result"),
)
