package commands

import (
	"fmt"
	"time"
	"hotelwatch-backend/lib/serviceutil"
	"hotelwatch-backend/services/hotelwatch"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var runsLimit *int64

func init() {
	runsLimit = runsCmd.Flags().Int64("limit", 20, "How many runs to list.")
	runsCmd.AddCommand(runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}

var runsCmd = &cobra.Command{
	Use:   "runs [--limit <n>]",
	Short: "Lists the most recent scrape runs.",
	Run: func(cmd *cobra.Command, args []string) {
		database, qry := openDB(readConfig())
		defer database.Close()

		runs, err := qry.ListScrapeRuns(cmd.Context(), *runsLimit)
		if err != nil {
			serviceutil.Fatal("failed to list runs", err)
		}

		t := newTable()
		t.AppendHeader(table.Row{"Id", "Started", "Mode", "Status", "Hotels", "Rooms", "Room nights", "Duration", "Note"})
		for _, run := range runs {
			view := hotelwatch.NewRunView(run)
			note := view.Error
			if view.NoChanges {
				note = "no changes"
			}
			t.AppendRow(table.Row{
				view.ID,
				view.StartedAt.Local().Format(time.DateTime),
				view.Mode,
				view.Status,
				view.HotelsFound,
				view.RoomsFound,
				view.RoomNights,
				(time.Duration(view.DurationMs) * time.Millisecond).String(),
				note,
			})
		}
		t.Render()
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run id>",
	Short: "Shows the room snapshots written by a run.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		database, qry := openDB(readConfig())
		defer database.Close()

		rows, err := qry.ListRoomSnapshotsForRun(cmd.Context(), args[0])
		if err != nil {
			serviceutil.Fatal("failed to list snapshots", err)
		}

		t := newTable()
		t.SetTitle(fmt.Sprintf("Run %s", args[0]))
		t.AppendHeader(table.Row{"Hotel", "Portal id", "Room", "Available", "Nights", "Avg rate", "Total", ""})
		for _, row := range rows {
			snapshot := row.RoomSnapshot
			tag := ""
			switch {
			case snapshot.SoldOut == 1:
				tag = "sold out"
			case snapshot.Partial == 1:
				tag = "partial"
			}
			t.AppendRow(table.Row{
				row.HotelName,
				row.HotelPortalID,
				snapshot.RoomType,
				snapshot.AvailableCount,
				fmt.Sprintf("%d/%d", snapshot.NightsAvailable, snapshot.TotalNights),
				fmt.Sprintf("$%.2f", snapshot.NightlyRate),
				fmt.Sprintf("$%.2f", snapshot.TotalPrice),
				tag,
			})
		}
		t.Render()
	},
}
