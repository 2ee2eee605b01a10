package main

import (
	"context"
	"hotelwatch-backend/cmd/hotelwatch-cli/commands"
	"hotelwatch-backend/lib/telemetry"
)

func main() {
	telemetry.InitSlog(true)
	telemetry.SetupFromEnv(context.Background(), "hotelwatch-cli")
	defer telemetry.Shutdown(context.Background())
	commands.ExecuteContext(context.Background())
}
