package commands

import (
	"strconv"
	"time"
	"hotelwatch-backend/lib/serviceutil"
	"hotelwatch-backend/services/hotelwatch"
	"hotelwatch-backend/services/hotelwatch/db"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	hotelsCmd.AddCommand(hotelsSkywalkCmd)
	hotelsCmd.AddCommand(hotelsSeedCmd)
	rootCmd.AddCommand(hotelsCmd)
}

var hotelsCmd = &cobra.Command{
	Use:   "hotels",
	Short: "Lists the hotels known for the configured year.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := readConfig()
		r, err := cfg.Stay.Range()
		if err != nil {
			serviceutil.Fatal("invalid stay", err)
		}
		database, qry := openDB(cfg)
		defer database.Close()

		hotels, err := qry.ListHotels(cmd.Context(), int64(r.Year()))
		if err != nil {
			serviceutil.Fatal("failed to list hotels", err)
		}

		t := newTable()
		t.AppendHeader(table.Row{"Id", "Portal id", "Name", "Distance", "Skywalk"})
		for _, hotel := range hotels {
			t.AppendRow(table.Row{
				hotel.ID,
				hotel.PortalID,
				hotel.Name,
				hotel.Distance,
				hotel.HasSkywalk == 1,
			})
		}
		t.Render()
	},
}

var hotelsSkywalkCmd = &cobra.Command{
	Use:   "skywalk <hotel id> <true|false>",
	Short: "Sets whether a hotel is connected by skywalk, scrapes never change this.",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		skywalk, err := strconv.ParseBool(args[1])
		if err != nil {
			serviceutil.Fatal("expected true or false", err)
		}
		var value int64
		if skywalk {
			value = 1
		}

		database, qry := openDB(readConfig())
		defer database.Close()
		err = qry.SetHotelSkywalk(cmd.Context(), db.SetHotelSkywalkParams{
			HasSkywalk: value,
			UpdatedAt:  time.Now().UnixMilli(),
			ID:         args[0],
		})
		if err != nil {
			serviceutil.Fatal("failed to update hotel", err)
		}
	},
}

var hotelsSeedCmd = &cobra.Command{
	Use:   "seed <name>...",
	Short: "Adds placeholder hotels which get matched to portal hotels by name.",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := readConfig()
		r, err := cfg.Stay.Range()
		if err != nil {
			serviceutil.Fatal("invalid stay", err)
		}
		database, qry := openDB(cfg)
		defer database.Close()

		created, err := hotelwatch.NewHotelResolver(qry).SeedPlaceholders(cmd.Context(), args, r.Year())
		if err != nil {
			serviceutil.Fatal("failed to seed hotels", err)
		}
		cmd.Printf("created %d placeholder hotels\n", created)
	},
}
