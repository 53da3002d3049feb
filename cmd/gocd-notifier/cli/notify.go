package cli

import (
	"fmt"

	"github.com/davarch/gocd-notifier/internal/domain"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	notifyPipeline string
	notifyCounter  int64
	notifyStage    string
	notifyGroup    string
	notifyStatus   string
)

var notifyCmd = needsConfig(&cobra.Command{
	Use:   "notify",
	Short: "Send one notification for a pipeline event",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := domain.ParseStatus(notifyStatus)
		if err != nil {
			return err
		}

		log := appLog
		a, err := build(appCfg, log)
		if err != nil {
			return err
		}

		ev := domain.PipelineEvent{
			Pipeline: notifyPipeline,
			Counter:  notifyCounter,
			Stage:    notifyStage,
			Group:    notifyGroup,
			Status:   status,
		}
		if err := a.dispatcher.Dispatch(cmd.Context(), ev); err != nil {
			log.Error("notify failed", zap.Error(err))
			return err
		}
		fmt.Printf("sent: %s/%d %s %s\n", ev.Pipeline, ev.Counter, ev.Stage, ev.Status)
		return nil
	},
})

func init() {
	notifyCmd.Flags().StringVar(&notifyPipeline, "pipeline", "", "pipeline name")
	notifyCmd.Flags().Int64Var(&notifyCounter, "counter", 0, "pipeline counter")
	notifyCmd.Flags().StringVar(&notifyStage, "stage", "", "stage name")
	notifyCmd.Flags().StringVar(&notifyGroup, "group", "", "pipeline group")
	notifyCmd.Flags().StringVar(&notifyStatus, "status", "", "building|passed|failed|broken|fixed|cancelled")
	_ = notifyCmd.MarkFlagRequired("pipeline")
	_ = notifyCmd.MarkFlagRequired("stage")
	_ = notifyCmd.MarkFlagRequired("status")

	_ = notifyCmd.RegisterFlagCompletionFunc("status", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		out := make([]string, 0, len(domain.Statuses))
		for _, s := range domain.Statuses {
			out = append(out, string(s))
		}
		return out, cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.AddCommand(notifyCmd)
}
