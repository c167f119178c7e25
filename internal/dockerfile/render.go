// Package dockerfile renders the multi-stage container build for a recipe:
// a base stage installing OS packages and the dependency manifest, plus a
// development and a production stage differing only in the serve command.
package dockerfile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/slipway-sh/slipway/internal/recipe"
)

// FileName is the name of the rendered Dockerfile entry injected into the
// build context. Kept out of the way of a project's own Dockerfile.
const FileName = "Dockerfile.slipway"

const fileTemplate = `# syntax=docker/dockerfile:1
# Generated by slipway for {{ .Name }}. Do not edit; change slipway.yaml instead.

FROM {{ .BaseImage }} AS base
WORKDIR /app
{{- if .Packages }}
RUN apt-get update \
    && apt-get install -y --no-install-recommends {{ join .Packages " " }} \
    && rm -rf /var/lib/apt/lists/*
{{- end }}
COPY {{ .Manifest }} {{ .Manifest }}
RUN pip install --no-cache-dir -r {{ .Manifest }}
COPY . .
EXPOSE {{ .Port }}

FROM base AS development
CMD {{ exec .DevelopmentCommand }}

FROM base AS production
CMD {{ exec .ProductionCommand }}
`

var tmpl = template.Must(template.New("dockerfile").Funcs(template.FuncMap{
	"join": strings.Join,
	"exec": execForm,
}).Parse(fileTemplate))

// execForm renders a command in Docker's exec (JSON array) form.
func execForm(cmd []string) (string, error) {
	b, err := json.Marshal(cmd)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

type data struct {
	Name               string
	BaseImage          string
	Manifest           string
	Packages           []string
	Port               int
	DevelopmentCommand []string
	ProductionCommand  []string
}

// Render produces the Dockerfile text for r. When baseRef is non-empty it is
// used as the FROM reference instead of the recipe's mutable tag; callers
// pass the digest-pinned reference here for reproducible builds.
func Render(r *recipe.Recipe, baseRef string) (string, error) {
	if baseRef == "" {
		baseRef = r.Base.Image
	}

	d := data{
		Name:               r.Name,
		BaseImage:          baseRef,
		Manifest:           r.Base.Manifest,
		Packages:           r.Base.Packages,
		Port:               r.Port,
		DevelopmentCommand: r.ServeCommand(recipe.StageDevelopment),
		ProductionCommand:  r.ServeCommand(recipe.StageProduction),
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, d); err != nil {
		return "", fmt.Errorf("render dockerfile: %w", err)
	}
	return buf.String(), nil
}
