package cli

import (
	"fmt"
	"strings"

	"github.com/davarch/gocd-notifier/internal/infrastructure/config"
	"github.com/spf13/cobra"
)

var enableCmd = &cobra.Command{
	Use:   "enable <rule_name>",
	Short: "Enable rule by name in config.yaml",
	Args:  cobra.MatchAll(cobra.ExactArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setRuleEnabled(args[0], true)
	},
}

func init() {
	enableCmd.ValidArgsFunction = completeRuleNames

	rulesCmd.AddCommand(enableCmd)
}

// completeRuleNames runs outside the root pre-run, so it loads config itself.
func completeRuleNames(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	out := make([]string, 0, len(cfg.Rules))
	for _, r := range cfg.Rules {
		name := r.DisplayName()
		if name == "" {
			continue
		}

		if strings.HasPrefix(name, toComplete) {
			out = append(out, name)
		}
	}

	return out, cobra.ShellCompDirectiveNoFileComp
}

func setRuleEnabled(name string, enabled bool) error {
	changed, err := config.SetRuleEnabled(cfgPath, name, enabled)
	if err != nil {
		return err
	}

	state := "disabled"
	if enabled {
		state = "enabled"
	}

	if !changed {
		fmt.Printf("no change (rule %q already %s or not found)\n", name, state)
		return nil
	}

	fmt.Printf("%s: %s\n", state, name)
	return nil
}
