package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const requestsAPIBase = "/api/requests/v1"

var (
	serverURL string
	outputFmt string
	userName  string
	token     string
)

var rootCmd = &cobra.Command{
	Use:   "reqtrackctl",
	Short: "CLI for the requirement request server",
	Long: `reqtrackctl drives requirement requests through their approval lifecycle.

Requests are identified by their display id (RR-00042) or numeric id. The
caller is identified by --user (sent as X-Remote-User) or --token (sent as a
bearer token), depending on how the server authenticates.`,
	SilenceUsage: true,
	PersistentPreRunE: func(*cobra.Command, []string) error {
		switch currentFormat() {
		case formatTable, formatJSON, formatYAML:
			return nil
		}
		return fmt.Errorf("unknown output format %q", outputFmt)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("REQTRACK_SERVER", "http://localhost:8080"), "Server URL")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "Output format: table, json, yaml")
	rootCmd.PersistentFlags().StringVarP(&userName, "user", "u", os.Getenv("REQTRACK_USER"), "Caller email address")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("REQTRACK_TOKEN"), "Bearer token")

	rootCmd.AddCommand(requestsCmd)
	rootCmd.AddCommand(rolesCmd)
	rootCmd.AddCommand(healthCmd)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
