package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/slipway-sh/slipway/internal/engine"
	"github.com/slipway-sh/slipway/internal/state"
)

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show what slipway built and is running for this app",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := a.loadRecipe()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			app, err := state.NewStore(a.dir).Load()
			if errors.Is(err, state.ErrNoState) {
				fmt.Fprintf(out, "%s: nothing built or deployed yet\n", r.Name)
				return nil
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "App:         %s\n", app.Name)
			if app.Stage != "" {
				fmt.Fprintf(out, "Stage:       %s\n", app.Stage)
			}
			if app.PinnedBase != "" {
				fmt.Fprintf(out, "Base:        %s\n", app.PinnedBase)
			}
			for _, img := range app.Images {
				fmt.Fprintf(out, "Image:       %s (env %.12s, built %s)\n",
					img.Ref, img.EnvHash, img.BuiltAt.Local().Format(time.RFC3339))
			}
			fmt.Fprintf(out, "Updated:     %s\n", app.UpdatedAt.Local().Format(time.RFC3339))

			eng, err := engine.New(a.logger)
			if err != nil {
				return err
			}
			containers, err := eng.ListApp(cmd.Context(), r.Name)
			if err != nil {
				a.logger.Warn("Container engine unreachable, showing saved state only", "error", err)
				return nil
			}
			if len(containers) == 0 {
				fmt.Fprintln(out, "\nNo containers running.")
				return nil
			}

			fmt.Fprintln(out)
			tw := tabwriter.NewWriter(out, 2, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CONTAINER\tSTAGE\tSTATE\tSTATUS\tIMAGE")
			for _, cont := range containers {
				name := "-"
				if len(cont.Names) > 0 {
					name = cont.Names[0][1:]
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					name, cont.Labels[engine.LabelStage], cont.State, cont.Status, cont.Image)
			}
			return tw.Flush()
		},
	}
}
