// smlcctl is an offline operations CLI for smlcd: it validates and dumps the
// cell location database file and scrapes a running daemon's metrics
// endpoint. It is explicitly not an interactive BSC-facing configuration
// frontend; every command here runs once and exits.
package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/osmocom-go/smlcd/internal/config/cellsfile"
	appversion "github.com/osmocom-go/smlcd/internal/version"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "smlcctl",
		Short:         "Offline operations CLI for smlcd",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(cellsCmd())
	cmd.AddCommand(metricsCmd())
	cmd.AddCommand(versionCmd())

	return cmd
}

// --- cells ---

func cellsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cells",
		Short: "Inspect the cell location database file",
	}
	cmd.AddCommand(cellsValidateCmd())
	cmd.AddCommand(cellsDumpCmd())
	return cmd
}

func cellsValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <path>",
		Short: "Validate a cells file, reporting the first syntax or range error",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			tbl, err := cellsfile.Load(args[0])
			if err != nil {
				return fmt.Errorf("validate %s: %w", args[0], err)
			}
			fmt.Printf("%s: OK, %d cell(s) configured\n", args[0], len(tbl.List()))
			return nil
		},
	}
}

func cellsDumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump <path>",
		Short: "Parse a cells file and print it back in normalized form",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			tbl, err := cellsfile.Load(args[0])
			if err != nil {
				return fmt.Errorf("load %s: %w", args[0], err)
			}
			if len(tbl.List()) == 0 {
				fmt.Println("% No cell locations are configured")
				return nil
			}
			return tbl.WriteConfig(os.Stdout)
		},
	}
}

// --- metrics ---

func metricsCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Scrape a running smlcd daemon's /metrics endpoint and print it",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return scrapeMetrics(addr, os.Stdout)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://localhost:9100/metrics", "metrics endpoint URL")
	return cmd
}

func scrapeMetrics(addr string, w io.Writer) error {
	client := &http.Client{Timeout: 10 * time.Second}

	resp, err := client.Get(addr)
	if err != nil {
		return fmt.Errorf("scrape %s: %w", addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("scrape %s: unexpected status %s", addr, resp.Status)
	}

	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("read metrics response: %w", err)
	}
	return nil
}

// --- version ---

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print smlcctl build information",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Println(appversion.Full("smlcctl"))
		},
	}
}
