package commands

import (
	"fmt"
	"log/slog"
	"hotelwatch-backend/lib/availability"
	"hotelwatch-backend/lib/restyutil"
	"hotelwatch-backend/lib/scrapers/passkey"
	"hotelwatch-backend/lib/serviceutil"
	"hotelwatch-backend/lib/stay"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var scrapeMode *string
var scrapeCheckIn *string
var scrapeCheckOut *string
var scrapeDump *string

func init() {
	scrapeMode = scrapeCmd.Flags().String("mode", "", "Overrides the configured scrape mode (full_range or individual_nights).")
	scrapeCheckIn = scrapeCmd.Flags().String("check-in", "", "Overrides the configured check in date.")
	scrapeCheckOut = scrapeCmd.Flags().String("check-out", "", "Overrides the configured check out date.")
	scrapeDump = scrapeCmd.Flags().String("dump", "", "Directory to dump every http request and response into.")
	rootCmd.AddCommand(scrapeCmd)
}

var scrapeCmd = &cobra.Command{
	Use:   "scrape [--mode <mode>] [--check-in <date>] [--check-out <date>] [--dump <dir>]",
	Short: "Scrapes the portal once and prints availability without writing anything.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := readConfig()
		if *scrapeMode != "" {
			cfg.Mode = *scrapeMode
		}
		if *scrapeCheckIn != "" {
			cfg.Stay.CheckIn = *scrapeCheckIn
		}
		if *scrapeCheckOut != "" {
			cfg.Stay.CheckOut = *scrapeCheckOut
		}

		r, err := cfg.Stay.Range()
		if err != nil {
			serviceutil.Fatal("invalid stay", err)
		}
		mode, err := cfg.ScrapeMode()
		if err != nil {
			serviceutil.Fatal("invalid mode", err)
		}
		if *scrapeDump != "" {
			out, err := restyutil.NewFilesystemOutput(*scrapeDump)
			if err != nil {
				serviceutil.Fatal("failed to create dump dir", err)
			}
			passkey.SetRestyInstrumentOutput(out)
		}

		client, err := passkey.NewClient(cfg.Portal.Options())
		if err != nil {
			serviceutil.Fatal("failed to create portal client", err)
		}
		result, err := client.Scrape(cmd.Context(), mode, r)
		if err != nil {
			serviceutil.Fatal("scrape failed", err)
		}

		printAvailability(r, availability.Aggregate(result.Nights, r))
		slog.Info("scrape finished",
			"hotels", len(result.Hotels),
			"room_nights", availability.RoomNights(result.Nights, r),
			"fingerprint", availability.Fingerprint(result.Nights),
			"total", result.Timing.Total,
		)
	},
}

func printAvailability(r stay.Range, records []availability.Aggregated) {
	t := newTable()
	t.SetTitle(fmt.Sprintf("Availability %s (%d nights)", r, r.Nights()))
	t.AppendHeader(table.Row{"Hotel", "Room", "Available", "Nights", "Avg rate", "Total", ""})
	for _, record := range records {
		tag := ""
		switch {
		case record.SoldOut:
			tag = "sold out"
		case record.Partial:
			tag = "partial"
		}
		t.AppendRow(table.Row{
			record.HotelName,
			record.RoomType,
			record.Available,
			fmt.Sprintf("%d/%d", record.NightsAvailable, record.TotalNights),
			fmt.Sprintf("$%.2f", record.AvgRate),
			fmt.Sprintf("$%.2f", record.TotalPrice),
			tag,
		})
	}
	t.Render()
}
