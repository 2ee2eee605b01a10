package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"hotelwatch-backend/lib/restyutil"
	"hotelwatch-backend/lib/scrapers/passkey"
	"hotelwatch-backend/lib/serviceutil"
	"hotelwatch-backend/lib/telemetry"
)

func InitTelemetry(ctx context.Context, verbose bool) {
	telemetry.InitSlog(verbose)

	err := telemetry.SetupFromEnv(ctx, "hotelwatch")
	if errors.Is(err, os.ErrNotExist) {
		slog.Warn("telemetry.json5 not found, only logging")
	} else if err != nil {
		serviceutil.Fatal("setup telemetry", err)
	}
	telemetry.InstrumentPerfStats(ctx)

	if !verbose {
		return
	}
	out, err := restyutil.NewFilesystemOutput(".dev/resty/passkey")
	if err != nil {
		serviceutil.Fatal("setup resty output", err)
	}
	passkey.SetRestyInstrumentOutput(out)
}
