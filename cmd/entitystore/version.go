// Copyright (c) 2024 Telar Social
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"runtime"

	"github.com/spf13/cobra"
)

// Build metadata, set with -ldflags "-X main.version=..."
var (
	version = "dev"
	commit  = "none"
)

// VersionInfo is the JSON payload of the version command
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	GoVersion string `json:"goVersion"`
}

// NewVersionCommand creates the version command.
func NewVersionCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := VersionInfo{Version: version, Commit: commit, GoVersion: runtime.Version()}
			return rootOpts.output(cmd).success(info, "entitystore "+info.Version+" ("+info.Commit+", "+info.GoVersion+")")
		},
	}
}
