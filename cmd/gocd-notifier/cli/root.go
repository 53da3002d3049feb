package cli

import (
	"fmt"
	"os"

	"github.com/davarch/gocd-notifier/internal/infrastructure/config"
	"github.com/davarch/gocd-notifier/internal/infrastructure/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfgPath string
	version = "dev"

	// Set by the root pre-run for commands marked with needsConfig.
	appLog *zap.Logger
	appCfg config.Config
)

const configAnnotation = "gocd-notifier/config"

var rootCmd = &cobra.Command{
	Use:   "gocd-notifier",
	Short: "GoCD pipeline notifications for chat webhooks",
	Long: `gocd-notifier turns GoCD stage events into chat webhook messages.

Rules in config.yaml pick the channel, webhook and message parts per pipeline.
Secrets may come from GOCD_LOGIN, GOCD_PASSWORD, GOCD_API_TOKEN and WEBHOOK_URL,
and LOG_LEVEL sets the log level.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,

	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if cmd.Annotations[configAnnotation] == "" {
			return nil
		}

		appLog = logging.New()
		c, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("config %s: %w", cfgPath, err)
		}
		appCfg = c

		appLog.Debug("config loaded",
			zap.String("path", cfgPath),
			zap.Int("rules", len(c.Rules)),
			zap.String("gocd", c.GoCD.ServerHost),
		)
		return nil
	},

	PersistentPostRun: func(*cobra.Command, []string) {
		if appLog != nil {
			_ = appLog.Sync()
		}
	},
}

// needsConfig marks cmd so the root pre-run loads config and logger for it.
func needsConfig(cmd *cobra.Command) *cobra.Command {
	if cmd.Annotations == nil {
		cmd.Annotations = map[string]string{}
	}
	cmd.Annotations[configAnnotation] = "required"
	return cmd
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "gocd-notifier:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "path to config.yaml")
	rootCmd.SetVersionTemplate("gocd-notifier {{.Version}}\n")
}
