package commands

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"hotelwatch-backend/lib/configutil"
	"hotelwatch-backend/lib/serviceutil"
	"hotelwatch-backend/services/hotelwatch/config"
	"hotelwatch-backend/services/hotelwatch/db"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var configPath *string

func init() {
	configPath = rootCmd.PersistentFlags().String("config", "config.json5", "Path to the config file.")
}

var rootCmd = &cobra.Command{
	Use:   "hotelwatch-cli",
	Short: "hotelwatch-cli scrapes the portal by hand and inspects the hotelwatch database.",
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func readConfig() config.Config {
	cfg, err := configutil.ReadConfigWithDefaults(*configPath, config.Default)
	if err != nil {
		serviceutil.Fatal("failed to read config", err)
	}
	return cfg
}

func openDB(cfg config.Config) (*sql.DB, *db.Queries) {
	database, err := cfg.Database.OpenDB(db.Schema)
	if err != nil {
		serviceutil.Fatal("failed to open db", err)
	}
	return database, db.New(database)
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	return t
}
