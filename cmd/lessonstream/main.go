package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yungbote/lessonstream/internal/app"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "lessonstream",
		Short:         "Stream interactive lessons generated from a prompt",
		Version:       app.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (yaml, json or toml)")

	load := func() (app.Config, error) { return app.LoadConfig(configPath) }
	root.AddCommand(
		newServeCommand(load),
		newGenerateCommand(load),
		newRepairCommand(),
	)
	return root
}
