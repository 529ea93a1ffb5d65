package main

import (
	"context"
	"fmt"
	"time"

	loopline "github.com/loopline-social/loopline-go"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login <token>",
	Short: "Store a session token",
	Long:  "Save a bearer token obtained from the Loopline web app and fetch the matching identity.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token := args[0]

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg.Auth.Token = token

		// Resolve the identity behind the token so channels and unread
		// derivations know who "self" is.
		session := &loopline.Session{Token: token}
		opts := []loopline.ClientOption{loopline.WithLogger(newLogger())}
		if cfg.Default.BaseURL != "" {
			opts = append(opts, loopline.WithBaseURL(cfg.Default.BaseURL))
		}
		client := loopline.NewClient(session, opts...)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		me, err := client.Me(ctx)
		if err != nil {
			fmt.Printf("Warning: could not verify token: %v\n", err)
		} else {
			cfg.Auth.UserID = me.ID
			cfg.Auth.Username = me.DisplayName
			cfg.Auth.DisplayName = me.DisplayName
			fmt.Printf("Logged in as %s (%s)\n", me.DisplayName, me.ID)
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored session token",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg.Auth = ConfigAuth{}
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		fmt.Println("Logged out.")
		return nil
	},
}
