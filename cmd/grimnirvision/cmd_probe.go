/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/friendsincode/grimnir_vision/internal/logging"
	"github.com/friendsincode/grimnir_vision/internal/manifest"
)

var probeCmd = &cobra.Command{
	Use:   "probe <manifest-url>",
	Short: "Fetch and parse a variant manifest",
	Long:  "Fetch a variant manifest over HTTP and print the parsed resolution ladder, without touching the database or opening a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
}

func runProbe(cmd *cobra.Command, args []string) error {
	// Probe needs no database, so skip config loading entirely.
	logger := logging.Setup("cli")

	url := args[0]
	fetcher := manifest.NewFetcher(nil, logger)

	variants, err := fetcher.FetchVariants(context.Background(), url)
	if err != nil {
		return fmt.Errorf("probe %s: %w", url, err)
	}

	if len(variants) == 0 {
		fmt.Println("No resolution variants found (single-rendition stream)")
		return nil
	}

	fmt.Printf("%d variants:\n", len(variants))
	for _, v := range variants {
		fmt.Printf("  %-6s %4dx%-4d %s\n", v.Label, v.Width, v.Height, v.URL)
	}
	return nil
}
