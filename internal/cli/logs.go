package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/slipway-sh/slipway/internal/engine"
	"github.com/slipway-sh/slipway/internal/recipe"
	"github.com/slipway-sh/slipway/internal/session"
	"github.com/slipway-sh/slipway/internal/state"
)

func newLogsCmd(a *app) *cobra.Command {
	var (
		follow  bool
		replica int
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the service's output",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := a.loadRecipe()
			if err != nil {
				return err
			}
			eng, err := engine.New(a.logger)
			if err != nil {
				return err
			}

			name := session.ReplicaContainerName(r.Name, replica)
			app, err := state.NewStore(a.dir).Load()
			if err == nil && app.Stage == string(recipe.StageDevelopment) {
				name = session.DevContainerName(r.Name)
			}

			err = eng.StreamLogs(cmd.Context(), name, follow, cmd.OutOrStdout(), cmd.ErrOrStderr())
			if errors.Is(err, engine.ErrContainerNotFound) {
				// fall back to the dev container when nothing was deployed
				devName := session.DevContainerName(r.Name)
				if devName != name {
					return eng.StreamLogs(cmd.Context(), devName, follow, cmd.OutOrStdout(), cmd.ErrOrStderr())
				}
			}
			return err
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep streaming new output")
	cmd.Flags().IntVar(&replica, "replica", 1, "which production replica to read")
	return cmd
}
