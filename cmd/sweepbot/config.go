package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

// configValidateCmd represents the config validate command
var configValidateCmd = &cobra.Command{
	Use:   "validate [config-file]",
	Short: "Validate configuration file",
	Long:  `Load the configuration file, expand environment references and check every setting.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if len(args) > 0 {
			path = args[0]
		}

		cfg, err := loadValidConfig(path)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Configuration %s is valid: %d channel(s), onedrive %s\n",
			path, len(cfg.Channels), enabledWord(cfg.OneDrive != nil))
		return nil
	},
}

// validationError lists every problem found in a config file.
type validationError struct {
	path string
	errs []error
}

func (e *validationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "configuration %s is invalid:", e.path)
	for _, err := range e.errs {
		b.WriteString("\n  - ")
		b.WriteString(err.Error())
	}
	return b.String()
}

func enabledWord(on bool) string {
	if on {
		return "enabled"
	}
	return "disabled"
}

func init() {
	configCmd.AddCommand(configValidateCmd)
}
