package passkey

import (
	"hotelwatch-backend/lib/restyutil"
	"hotelwatch-backend/lib/telemetry"

	"go.opentelemetry.io/otel/metric"
)

const library_name = "hotelwatch.lib.scrapers.passkey"

var tracer = telemetry.Tracer(library_name)
var meter = telemetry.Meter(library_name)

var throttleCounter, _ = meter.Int64Counter(
	"passkey.throttles",
	metric.WithDescription("429 responses received from the portal"),
)
var requestCounter, _ = meter.Int64Counter(
	"passkey.requests",
	metric.WithDescription("requests made to the portal by outcome"),
)

var restyInstrumentOutput restyutil.InstrumentOutput

// SetRestyInstrumentOutput makes every session created afterwards dump its
// http traffic into out.
func SetRestyInstrumentOutput(out restyutil.InstrumentOutput) {
	restyInstrumentOutput = out
}
