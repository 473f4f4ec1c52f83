/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/friendsincode/grimnir_vision/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the Grimnir Vision version",
	Run: func(cmd *cobra.Command, args []string) {
		if version.Commit != "" {
			fmt.Printf("grimnirvision %s (%s)\n", version.Version, version.Commit)
			return
		}
		fmt.Printf("grimnirvision %s\n", version.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
