// Copyright © 2020 Intel Corporation
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"fmt"
	"os"

	yumlog "github.com/clearlinux/yum-mirror-engine/log"
	"github.com/spf13/cobra"
)

var configFile string
var logFile string
var verbose bool

// RootCmd is the base command when yum-mirror is called with no subcommand.
var RootCmd = &cobra.Command{
	Use:   "yum-mirror",
	Short: "Mirror and version YUM/DNF repositories",
	Long: `yum-mirror syncs one or more upstream or local RPM repositories
into a versioned on-disk tree, rebuilding repomd metadata and maintaining
latest/stable/label symlinks as it goes.`,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			yumlog.SetLogLevel(yumlog.LevelVerbose)
		}
		if logFile != "" {
			if _, err := yumlog.SetOutputFilename(logFile); err != nil {
				return err
			}
		}
		return nil
	},

	Run: func(cmd *cobra.Command, args []string) {
		cmd.Print(cmd.UsageString())
	},
}

// Execute adds all child commands to RootCmd and runs it. Called once by
// main.main.
func Execute() {
	defer yumlog.CloseLogHandler()
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "repos.yaml", "repository config file to load")
	RootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "append engine logs to this file in addition to stdout")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "yum-mirror: %s\n", err)
	os.Exit(1)
}
