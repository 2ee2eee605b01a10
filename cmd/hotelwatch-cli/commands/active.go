package commands

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"
	"hotelwatch-backend/lib/serviceutil"
	"hotelwatch-backend/services/hotelwatch/db"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(activeCmd)
}

var activeCmd = &cobra.Command{
	Use:   "active [true|false]",
	Short: "Prints or sets whether the scheduled scraper runs.",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		database, qry := openDB(readConfig())
		defer database.Close()

		if len(args) == 1 {
			active, err := strconv.ParseBool(args[0])
			if err != nil {
				serviceutil.Fatal("expected true or false", err)
			}
			err = qry.SetConfig(cmd.Context(), db.SetConfigParams{
				Key:       "scraper_active",
				Value:     strconv.FormatBool(active),
				UpdatedAt: time.Now().UnixMilli(),
			})
			if err != nil {
				serviceutil.Fatal("failed to set scraper_active", err)
			}
		}

		value, err := qry.GetConfig(cmd.Context(), "scraper_active")
		if errors.Is(err, sql.ErrNoRows) {
			value = "true"
		} else if err != nil {
			serviceutil.Fatal("failed to read scraper_active", err)
		}
		fmt.Println("scraper_active:", value)
	},
}
