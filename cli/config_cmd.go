package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/javanhut/Ivaldi-objects/internal/colors"
	"github.com/javanhut/Ivaldi-objects/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Get and set configuration options",
	Long: `Get and set ivaldi-objects configuration options.

Configuration is read from two files, the repository one winning:
- Global (~/.ivaldi-objects.yaml)
- Repository (config.yaml in the store directory)

Examples:
  ivaldi-objects config user.name "Your Name"
  ivaldi-objects config --global fetch.batchsize 128
  ivaldi-objects config --list
  ivaldi-objects config user.name`,
	Args: cobra.MaximumNArgs(2),
	RunE: runConfig,
}

var (
	configGlobal bool
	configList   bool
)

func init() {
	configCmd.Flags().BoolVar(&configGlobal, "global", false, "use the global config file")
	configCmd.Flags().BoolVar(&configList, "list", false, "list all configuration")
}

func runConfig(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	switch {
	case configList:
		for _, key := range config.Keys() {
			v, err := config.GetValue(cfg, key)
			if err != nil {
				return err
			}
			if v == "" {
				v = colors.Dim("(not set)")
			}
			fmt.Fprintf(out, "%s = %s\n", colors.Field(key), v)
		}
		return nil
	case len(args) == 1:
		v, err := config.GetValue(cfg, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(out, v)
		return nil
	case len(args) == 2:
		path := config.RepoPath(storeDir(cfg))
		if configGlobal {
			if globalPath == "" {
				return fmt.Errorf("no home directory for the global config")
			}
			path = globalPath
		}
		if err := config.SetValue(path, args[0], args[1]); err != nil {
			return err
		}
		fmt.Fprintf(out, "%s %s = %s\n", colors.SuccessText("Set"), colors.Field(args[0]), args[1])
		return nil
	}
	return fmt.Errorf("invalid usage. See: ivaldi-objects config --help")
}
