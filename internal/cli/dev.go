package cli

import (
	"github.com/spf13/cobra"

	"github.com/slipway-sh/slipway/internal/session"
)

func newDevCmd(a *app) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "dev",
		Short: "Run the development server with live reload",
		Long: `Builds the development image, starts it with the source tree mounted in,
streams its output and watches for changes. Code edits reload inside the
container; manifest or recipe changes rebuild the image and swap the
container. Runs until interrupted, then cleans up.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := a.options(force)
			if err != nil {
				return err
			}
			opts.Stdout = cmd.OutOrStdout()
			opts.Stderr = cmd.ErrOrStderr()
			return session.Dev(cmd.Context(), opts)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "rebuild the image before starting")
	return cmd
}
