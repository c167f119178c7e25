package cli

import (
	"github.com/spf13/cobra"

	"github.com/slipway-sh/slipway/internal/session"
)

func newUpCmd(a *app) *cobra.Command {
	var (
		stageFlag string
		force     bool
	)

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Build and run the service detached",
		Long: `Builds the stage image if needed and converges the containers: production
runs the configured replicas with a fixed worker pool and an on-failure
restart policy, then the command returns once the service answers.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			stage, err := parseStageFlag(stageFlag)
			if err != nil {
				return err
			}
			opts, err := a.options(force)
			if err != nil {
				return err
			}
			return session.Deploy(cmd.Context(), opts, stage)
		},
	}

	cmd.Flags().StringVarP(&stageFlag, "stage", "s", "production", "development or production")
	cmd.Flags().BoolVar(&force, "force", false, "build even when an image for these inputs exists")
	return cmd
}
