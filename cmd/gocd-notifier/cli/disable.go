package cli

import (
	"github.com/spf13/cobra"
)

var disableCmd = &cobra.Command{
	Use:   "disable <rule_name>",
	Short: "Disable rule by name in config.yaml",
	Args:  cobra.MatchAll(cobra.ExactArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setRuleEnabled(args[0], false)
	},
}

func init() {
	disableCmd.ValidArgsFunction = completeRuleNames

	rulesCmd.AddCommand(disableCmd)
}
