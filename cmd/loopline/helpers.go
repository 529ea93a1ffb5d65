package main

import (
	"fmt"
	"os"
	"time"

	loopline "github.com/loopline-social/loopline-go"
	"github.com/rs/zerolog"
)

// newLogger builds the CLI's console logger. Debug level with --verbose,
// warnings only otherwise so chat output stays readable.
func newLogger() zerolog.Logger {
	level := zerolog.WarnLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	w := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// getClient creates a Loopline client from the stored session. Exits with a
// hint when no token has been saved yet.
func getClient() *loopline.Client {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Auth.Token == "" {
		fmt.Fprintln(os.Stderr, "No session token. Run 'loopline login <token>' first.")
		os.Exit(1)
	}

	session := &loopline.Session{
		Token: cfg.Auth.Token,
		User: loopline.UserSummary{
			ID:          cfg.Auth.UserID,
			DisplayName: cfg.Auth.DisplayName,
		},
	}
	if session.User.DisplayName == "" {
		session.User.DisplayName = cfg.Auth.Username
	}

	opts := []loopline.ClientOption{loopline.WithLogger(newLogger())}
	if cfg.Default.BaseURL != "" {
		opts = append(opts, loopline.WithBaseURL(cfg.Default.BaseURL))
	}

	return loopline.NewClient(session, opts...)
}
