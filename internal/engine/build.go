package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/pkg/jsonmessage"

	"github.com/slipway-sh/slipway/internal/build"
	"github.com/slipway-sh/slipway/internal/dockerfile"
)

// BuildImage executes a plan: streams the tar context with the rendered
// Dockerfile injected, builds the plan's target stage and tags the result
// with the plan's reference.
func (c *Client) BuildImage(ctx context.Context, plan *build.Plan) error {
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(plan.Context.WriteTar(pw, map[string][]byte{
			dockerfile.FileName: []byte(plan.Dockerfile),
		}))
	}()

	resp, err := c.api.ImageBuild(ctx, pr, types.ImageBuildOptions{
		Tags:       []string{plan.Ref},
		Dockerfile: dockerfile.FileName,
		Target:     string(plan.Stage),
		Remove:     true,
		Version:    types.BuilderV1,
		Labels: map[string]string{
			LabelManaged: "true",
			LabelApp:     plan.App,
			LabelStage:   string(plan.Stage),
		},
	})
	if err != nil {
		return fmt.Errorf("build %s: %w", plan.Ref, err)
	}
	defer resp.Body.Close()

	if err := c.drainBuildOutput(resp.Body); err != nil {
		return fmt.Errorf("build %s: %w", plan.Ref, err)
	}

	c.logger.Info("Image built", "ref", plan.Ref, "stage", plan.Stage)
	return nil
}

// drainBuildOutput consumes the engine's progress stream, forwarding step
// output to the debug log. A message with an error payload fails the build.
func (c *Client) drainBuildOutput(body io.Reader) error {
	dec := json.NewDecoder(body)
	for {
		var msg jsonmessage.JSONMessage
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("decode build output: %w", err)
		}
		if msg.Error != nil {
			return errors.New(msg.Error.Message)
		}
		if line := strings.TrimRight(msg.Stream, "\n"); line != "" {
			c.logger.Debug("Build output", "line", line)
		}
	}
}

// ImageExists reports whether a managed image with the given reference is
// already present, so unchanged plans can skip the build entirely.
func (c *Client) ImageExists(ctx context.Context, ref string) (bool, error) {
	summaries, err := c.api.ImageList(ctx, image.ListOptions{
		Filters: filters.NewArgs(
			filters.Arg("reference", ref),
			filters.Arg("label", LabelManaged),
		),
	})
	if err != nil {
		return false, fmt.Errorf("list images: %w", err)
	}
	return len(summaries) > 0, nil
}
