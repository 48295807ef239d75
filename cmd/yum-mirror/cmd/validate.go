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

	"github.com/clearlinux/yum-mirror-engine/config"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load and validate the repository config file without syncing",
	RunE: func(cmd *cobra.Command, args []string) error {
		specs, err := config.LoadSpecs(configFile)
		if err != nil {
			return err
		}
		for _, spec := range specs {
			fmt.Printf("%s: ok\n", spec.ID)
		}
		return nil
	},
}

func init() {
	RootCmd.AddCommand(validateCmd)
}
