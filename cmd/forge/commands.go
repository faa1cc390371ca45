// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianForge/services/forge/workspace"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	logLevelFlag  string
	logFormatFlag string

	rootCmd = &cobra.Command{
		Use:   "forge",
		Short: "Run tools against a workspace as its files change",
		Long: `Forge watches a workspace and an editor session, classifies every
change by risk, and runs the registered tools in dependency order once
the stream goes quiet.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	watchCmd = &cobra.Command{
		Use:   "watch [path]",
		Short: "Watch a workspace and log the merged change stream",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runWatch, // Defined in cmd_watch.go
	}

	rootPathCmd = &cobra.Command{
		Use:   "root [path]",
		Short: "Print the detected workspace root",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runRoot,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the forge version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "forge", version)
		},
	}
)

func init() {
	watchCmd.Flags().StringVar(&logLevelFlag, "log-level", "", "override the configured log level (debug, info, warn, error)")
	watchCmd.Flags().StringVar(&logFormatFlag, "log-format", "", "override the configured log format (auto, text, json)")

	rootCmd.AddCommand(watchCmd, rootPathCmd, versionCmd)
}

func startPath(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return ""
}

func runRoot(cmd *cobra.Command, args []string) error {
	root, err := workspace.DetectRoot(startPath(args))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), root)
	return nil
}
