package main

import (
	"fmt"
	"os"

	"github.com/ignatij/goscout/internal/cli"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "goscout",
	Short:        "Scout task orchestration: scouts, todos, agents and summaries",
	SilenceUsage: true,
}

func main() {
	cli.SetupCLI(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
