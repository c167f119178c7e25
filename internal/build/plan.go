package build

import (
	"github.com/slipway-sh/slipway/internal/recipe"
)

// Plan captures everything needed to produce one stage image: the rendered
// Dockerfile, the prepared context and the derived identifiers. Planning is
// pure; handing the plan to the engine is what actually builds.
type Plan struct {
	App           string
	Stage         recipe.Stage
	Dockerfile    string
	Ref           string
	ContextDigest string
	EnvHash       string
	Context       *Context
}

// NewPlan fingerprints the context and derives the image reference and
// environment hash for the given stage.
func NewPlan(app string, stage recipe.Stage, dockerfileText string, c *Context, manifest string) (*Plan, error) {
	digest, err := c.Digest()
	if err != nil {
		return nil, err
	}
	manifestBytes, err := c.ManifestBytes(manifest)
	if err != nil {
		return nil, err
	}
	return &Plan{
		App:           app,
		Stage:         stage,
		Dockerfile:    dockerfileText,
		Ref:           ImageRef(app, stage, dockerfileText, digest),
		ContextDigest: digest,
		EnvHash:       EnvironmentHash(dockerfileText, manifestBytes),
		Context:       c,
	}, nil
}
