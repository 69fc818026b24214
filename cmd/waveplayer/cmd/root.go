// Package cmd wires the cobra command tree for the waveplayer binary.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configPath string

// RootCommand creates and returns the root command.
func RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "waveplayer",
		Short: "Real-time audio playback pipeline driver",
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a waveplayer config file (YAML)")
	if err := viper.BindPFlag("config", root.PersistentFlags().Lookup("config")); err != nil {
		fmt.Println("error binding config flag:", err)
	}

	root.AddCommand(playCommand())
	return root
}
