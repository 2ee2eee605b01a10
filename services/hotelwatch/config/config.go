// Package config is the config.json5 shared by the hotelwatch binaries.
package config

import (
	"database/sql"
	"fmt"
	"time"
	"hotelwatch-backend/lib/scrapers/passkey"
	"hotelwatch-backend/lib/sqliteutil"
	"hotelwatch-backend/lib/stay"
	"hotelwatch-backend/services/hotelwatch"
)

type StayConfig struct {
	CheckIn  string `json:"check_in"`
	CheckOut string `json:"check_out"`
}

func (c StayConfig) Range() (stay.Range, error) {
	return stay.Parse(c.CheckIn, c.CheckOut)
}

type PortalConfig struct {
	TokenUrl            string  `json:"token_url"`
	BaseUrl             string  `json:"base_url"`
	EventId             string  `json:"event_id"`
	OwnerId             string  `json:"owner_id"`
	Guests              int     `json:"guests"`
	Rooms               int     `json:"rooms"`
	MaxRetries          int     `json:"max_retries"`
	RetryBackoffSeconds float64 `json:"retry_backoff_seconds"`
	MaxConcurrent       int     `json:"max_concurrent"`
	RequestsPerSecond   float64 `json:"requests_per_second"`
	TimeoutSeconds      int     `json:"timeout_seconds"`
	UserAgent           string  `json:"user_agent"`
}

func (c PortalConfig) Options() passkey.Options {
	return passkey.Options{
		TokenUrl:          c.TokenUrl,
		BaseUrl:           c.BaseUrl,
		EventId:           c.EventId,
		OwnerId:           c.OwnerId,
		Guests:            c.Guests,
		Rooms:             c.Rooms,
		MaxRetries:        c.MaxRetries,
		RetryBackoff:      time.Duration(c.RetryBackoffSeconds * float64(time.Second)),
		MaxConcurrent:     c.MaxConcurrent,
		RequestsPerSecond: c.RequestsPerSecond,
		Timeout:           time.Duration(c.TimeoutSeconds) * time.Second,
		UserAgent:         c.UserAgent,
	}
}

type DatabaseConfig struct {
	// a local file path, or a libsql:// / https:// url for a remote database
	Path      string `json:"path"`
	AuthToken string `json:"auth_token"`
}

func (c DatabaseConfig) OpenDB(schema string) (*sql.DB, error) {
	return sqliteutil.OpenDBWithToken(schema, c.Path, c.AuthToken)
}

type NotifyConfig struct {
	Concurrency int                       `json:"concurrency"`
	Webhook     *hotelwatch.WebhookConfig `json:"webhook"`
	Email       *hotelwatch.EmailConfig   `json:"email"`
}

func (c NotifyConfig) Notifier() hotelwatch.Notifier {
	var notifiers hotelwatch.MultiNotifier
	if c.Webhook != nil && c.Webhook.Url != "" {
		notifiers = append(notifiers, hotelwatch.NewWebhookNotifier(*c.Webhook))
	}
	if c.Email != nil && c.Email.Server != "" && len(c.Email.Recipients) > 0 {
		notifiers = append(notifiers, hotelwatch.NewEmailNotifier(*c.Email))
	}
	return notifiers
}

type Config struct {
	Port            int            `json:"port"`
	ApiKey          string         `json:"api_key"`
	IntervalSeconds int            `json:"interval_seconds"`
	Mode            string         `json:"mode"`
	Stay            StayConfig     `json:"stay"`
	Portal          PortalConfig   `json:"portal"`
	Database        DatabaseConfig `json:"database"`
	Notify          NotifyConfig   `json:"notify"`
	// hotels known before the portal lists them, seeded as placeholders
	PlaceholderHotels []string `json:"placeholder_hotels"`
}

var Default = Config{
	Port:            8000,
	IntervalSeconds: 60,
	Mode:            string(passkey.ModeFullRange),
	Database: DatabaseConfig{
		Path: "hotelwatch.db",
	},
	Notify: NotifyConfig{
		Concurrency: 5,
	},
}

func (c Config) ScrapeMode() (passkey.Mode, error) {
	mode := passkey.Mode(c.Mode)
	switch mode {
	case passkey.ModeFullRange, passkey.ModeIndividualNights:
		return mode, nil
	}
	return "", fmt.Errorf("unknown scrape mode %q", c.Mode)
}
