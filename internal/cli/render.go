package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/slipway-sh/slipway/internal/dockerfile"
	"github.com/slipway-sh/slipway/internal/registry"
)

func newRenderCmd(a *app) *cobra.Command {
	var noPin bool

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Print the Dockerfile generated from the recipe",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := a.loadRecipe()
			if err != nil {
				return err
			}

			baseRef := r.Base.Image
			if !noPin {
				pinned, err := registry.NewPinner(a.logger).Pin(cmd.Context(), baseRef)
				if err != nil {
					a.logger.Warn("Base image digest unavailable, rendering with the tag",
						"image", baseRef, "error", err)
				} else {
					baseRef = pinned
				}
			}

			text, err := dockerfile.Render(r, baseRef)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), text)
			return nil
		},
	}

	cmd.Flags().BoolVar(&noPin, "no-pin", false, "keep the base image tag instead of resolving its digest")
	return cmd
}
