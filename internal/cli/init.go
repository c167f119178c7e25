package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"

	"github.com/spf13/cobra"

	"github.com/slipway-sh/slipway/internal/recipe"
)

const recipeTemplate = `# Container recipe for a Python ASGI web service.
version: 1
name: {{ .Name }}

# Module and attribute of the ASGI application object.
entrypoint: {{ .Entrypoint }}
port: {{ .Port }}

base:
  image: {{ .BaseImage }}
  manifest: {{ .Manifest }}
  # OS packages installed before the Python dependencies:
  # packages: [libpq5]

production:
  workers: {{ .Workers }}
  replicas: 1
  # memory: 512m
  # cpus: "1.5"
`

var nameSanitizer = regexp.MustCompile(`[^a-z0-9-]+`)

func newInitCmd(a *app) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter slipway.yaml for the current directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if existing, err := recipe.Find(a.dir); err == nil {
				return fmt.Errorf("%s already exists", existing)
			}

			if name == "" {
				abs, err := filepath.Abs(a.dir)
				if err != nil {
					return err
				}
				name = sanitizeName(filepath.Base(abs))
			}

			data := struct {
				Name, Entrypoint, BaseImage, Manifest string
				Port, Workers                         int
			}{
				Name:       name,
				Entrypoint: detectEntrypoint(a.dir),
				BaseImage:  recipe.DefaultBaseImage,
				Manifest:   recipe.DefaultManifest,
				Port:       recipe.DefaultPort,
				Workers:    recipe.DefaultWorkers,
			}

			var out strings.Builder
			tmpl := template.Must(template.New("recipe").Parse(recipeTemplate))
			if err := tmpl.Execute(&out, data); err != nil {
				return err
			}

			// round-trip through the loader so init can never emit a recipe
			// the other commands reject
			if _, err := recipe.Decode(strings.NewReader(out.String())); err != nil {
				return fmt.Errorf("generated recipe is invalid: %w", err)
			}

			path := filepath.Join(a.dir, "slipway.yaml")
			if err := os.WriteFile(path, []byte(out.String()), 0o644); err != nil {
				return err
			}

			if _, err := os.Stat(filepath.Join(a.dir, recipe.DefaultManifest)); err != nil {
				a.logger.Warn("No dependency manifest found yet", "expected", recipe.DefaultManifest)
			}
			a.logger.Info("Recipe written", "path", path, "app", name)
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "application name (defaults to the directory name)")
	return cmd
}

// detectEntrypoint looks for the conventional application files and guesses
// module:attribute from them.
func detectEntrypoint(dir string) string {
	for _, candidate := range []string{"main.py", "app.py", "application.py"} {
		if _, err := os.Stat(filepath.Join(dir, candidate)); err == nil {
			return strings.TrimSuffix(candidate, ".py") + ":app"
		}
	}
	return recipe.DefaultEntrypoint
}

func sanitizeName(base string) string {
	name := nameSanitizer.ReplaceAllString(strings.ToLower(base), "-")
	name = strings.Trim(name, "-")
	if name == "" {
		name = "app"
	}
	return name
}
