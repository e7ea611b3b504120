/*
Copyright 2024 The Rivulet Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package commands

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "rivulet",
	Short: "rivulet is a windowing, triggering and grouping engine for keyed event streams",
}

func init() {
	viper.SetEnvPrefix("rivulet")
	viper.AutomaticEnv()

	rootCmd.AddCommand(NewDemoCommand())
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
