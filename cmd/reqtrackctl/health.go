package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Probe server liveness and readiness",
	Long: `Probe the server's /healthz and /readyz endpoints. A non-zero exit means
the server could not be reached or its database is unavailable, which makes
the command usable as a container probe.`,
	Args: cobra.NoArgs,
	RunE: runHealth,
}

type probeResult struct {
	Status string `json:"status"`
	Uptime string `json:"uptime,omitempty"`
	Error  string `json:"error,omitempty"`
}

type healthReport struct {
	Liveness  probeResult `json:"liveness"`
	Readiness probeResult `json:"readiness"`
}

func runHealth(_ *cobra.Command, _ []string) error {
	c := newClient()

	var report healthReport
	if err := c.getJSON("/healthz", &report.Liveness); err != nil {
		return fmt.Errorf("server unreachable: %w", err)
	}
	readyErr := c.getJSON("/readyz", &report.Readiness)
	if readyErr != nil {
		report.Readiness = probeResult{Status: "not ready", Error: readyErr.Error()}
	}

	if wantsStructured() {
		if err := encode(report); err != nil {
			return err
		}
	} else {
		rows := [][]string{
			{"liveness", report.Liveness.Status, report.Liveness.Uptime},
			{"readiness", report.Readiness.Status, report.Readiness.Error},
		}
		writeTable([]string{"Probe", "Status", "Detail"}, rows)
	}

	if readyErr != nil {
		return fmt.Errorf("server not ready: %w", readyErr)
	}
	return nil
}
