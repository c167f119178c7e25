package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/slipway-sh/slipway/internal/session"
)

func newBuildCmd(a *app) *cobra.Command {
	var (
		stageFlag string
		force     bool
	)

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the image for a stage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			stage, err := parseStageFlag(stageFlag)
			if err != nil {
				return err
			}
			opts, err := a.options(force)
			if err != nil {
				return err
			}
			plan, err := session.BuildStage(cmd.Context(), opts, stage)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), plan.Ref)
			return nil
		},
	}

	cmd.Flags().StringVarP(&stageFlag, "stage", "s", "production", "development or production")
	cmd.Flags().BoolVar(&force, "force", false, "build even when an image for these inputs exists")
	return cmd
}
