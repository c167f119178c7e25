package cli

import (
	"github.com/spf13/cobra"

	"github.com/slipway-sh/slipway/internal/session"
)

func newDownCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Stop and remove the app's containers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := a.options(false)
			if err != nil {
				return err
			}
			return session.Teardown(cmd.Context(), opts)
		},
	}
}
