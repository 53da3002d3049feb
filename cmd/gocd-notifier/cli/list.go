package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/davarch/gocd-notifier/internal/infrastructure/config"
	"github.com/spf13/cobra"
)

var (
	listOnlyEnabled  bool
	listOnlyDisabled bool
	listJSON         bool
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect and toggle notification rules in config.yaml",
}

var listCmd = needsConfig(&cobra.Command{
	Use:   "list",
	Short: "List rules from config.yaml",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		items := make([]config.Rule, 0, len(appCfg.Rules))
		for _, r := range appCfg.Rules {
			if listOnlyEnabled && !r.IsEnabled() {
				continue
			}
			if listOnlyDisabled && r.IsEnabled() {
				continue
			}
			items = append(items, r)
		}

		if listJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(items)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "NAME\tPIPELINE\tSTAGE\tSTATUSES\tCHANNEL\tENABLED")
		for _, r := range items {
			name := r.DisplayName()
			if name == "" {
				name = "(unnamed)"
			}
			statuses := "*"
			if len(r.Statuses) > 0 {
				statuses = strings.Join(r.Statuses, ",")
			}
			ch := r.Channel
			if ch == "" {
				ch = "(default)"
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%t\n", name, r.Pipeline, r.Stage, statuses, ch, r.IsEnabled())
		}
		return w.Flush()
	},
})

func init() {
	listCmd.Flags().BoolVar(&listOnlyEnabled, "enabled", false, "show only enabled rules")
	listCmd.Flags().BoolVar(&listOnlyDisabled, "disabled", false, "show only disabled rules")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "print JSON")

	listCmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		if listOnlyEnabled && listOnlyDisabled {
			return fmt.Errorf("flags --enabled and --disabled are mutually exclusive")
		}
		return nil
	}

	rulesCmd.AddCommand(listCmd)
	rootCmd.AddCommand(rulesCmd)
}
