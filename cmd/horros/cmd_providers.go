package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yairfalse/horros/providers"
)

// providersCmd lists the registered cloud providers
var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List registered cloud providers",
	Run: func(cmd *cobra.Command, args []string) {
		for _, name := range providers.List() {
			fmt.Println(name)
		}
	},
}

func init() {
	rootCmd.AddCommand(providersCmd)
}
