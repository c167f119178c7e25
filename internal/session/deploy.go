package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/docker/docker/api/types"

	"github.com/slipway-sh/slipway/internal/engine"
	"github.com/slipway-sh/slipway/internal/metrics"
	"github.com/slipway-sh/slipway/internal/recipe"
	"github.com/slipway-sh/slipway/internal/state"
)

// Deploy builds the stage image and converges the app's containers onto it:
// missing ones are created, outdated ones replaced, leftovers from previous
// shapes (say, replicas lowered from 3 to 2) removed.
func Deploy(ctx context.Context, opts Options, stage recipe.Stage) error {
	plan, err := BuildStage(ctx, opts, stage)
	if err != nil {
		return err
	}

	specs := runSpecs(opts.Recipe, stage, plan.Ref, nil)
	desired := make(map[string]bool, len(specs))
	for _, spec := range specs {
		desired[spec.Name] = true
	}

	existing, err := opts.Engine.ListApp(ctx, opts.Recipe.Name)
	if err != nil {
		return err
	}
	for _, cont := range existing {
		name := containerName(cont)
		if name == "" || desired[name] {
			continue
		}
		opts.Logger.Info("Removing stray container", "name", name)
		if err := opts.Engine.Remove(ctx, name); err != nil {
			return err
		}
	}

	for _, spec := range specs {
		created, err := opts.Engine.Upsert(ctx, spec)
		if err != nil {
			return err
		}
		if created {
			metrics.ContainersReplaced.Inc()
		}
	}

	if url := readyURL(opts.Recipe, stage); url != "" {
		opts.Logger.Info("Waiting for the service to answer", "url", url)
		if err := engine.WaitReady(ctx, opts.Logger, url, readyTimeout, readyInterval); err != nil {
			return err
		}
	}

	app := loadOrNewApp(opts)
	app.Stage = string(stage)
	app.Containers = nil
	for _, spec := range specs {
		app.Containers = append(app.Containers, state.Container{
			Name:    spec.Name,
			Image:   spec.Image,
			Replica: spec.Replica,
		})
	}
	saveApp(opts, app)

	opts.Logger.Info("Deployed", "app", opts.Recipe.Name, "stage", stage, "containers", len(specs))
	return nil
}

// Teardown stops and removes everything slipway runs for the app and drops
// the container records from state. Built images stay; rebuilding them is
// the expensive part.
func Teardown(ctx context.Context, opts Options) error {
	removed, err := opts.Engine.RemoveApp(ctx, opts.Recipe.Name)
	if err != nil {
		return err
	}
	if removed == 0 {
		opts.Logger.Info("Nothing running", "app", opts.Recipe.Name)
	} else {
		opts.Logger.Info("Stopped", "app", opts.Recipe.Name, "containers", removed)
	}

	app := loadOrNewApp(opts)
	app.Containers = nil
	saveApp(opts, app)
	return nil
}

// runSpecs expands a recipe into the containers one stage should run.
// Development is a single container; production fans out to the configured
// replica count, each replica running its own worker pool.
func runSpecs(r *recipe.Recipe, stage recipe.Stage, imageRef string, binds []string) []engine.RunSpec {
	if stage != recipe.StageProduction {
		return []engine.RunSpec{{
			Name:     DevContainerName(r.Name),
			Image:    imageRef,
			App:      r.Name,
			Stage:    stage,
			Port:     r.Port,
			HostPort: r.Port,
			Publish:  true,
			Binds:    binds,
		}}
	}

	publish := r.PublishPort()
	specs := make([]engine.RunSpec, 0, r.Production.Replicas)
	for i := 1; i <= r.Production.Replicas; i++ {
		spec := engine.RunSpec{
			Name:             ReplicaContainerName(r.Name, i),
			Image:            imageRef,
			App:              r.Name,
			Stage:            stage,
			Replica:          i,
			Port:             r.Port,
			Publish:          publish,
			Memory:           r.MemoryBytes(),
			NanoCPUs:         r.NanoCPUs(),
			RestartOnFailure: true,
		}
		if publish {
			spec.HostPort = r.Port
		}
		specs = append(specs, spec)
	}
	return specs
}

// readyURL is where the deployed service should answer from the host, empty
// when no host port is mapped.
func readyURL(r *recipe.Recipe, stage recipe.Stage) string {
	if stage == recipe.StageProduction && !r.PublishPort() {
		return ""
	}
	return fmt.Sprintf("http://127.0.0.1:%d/", r.Port)
}

// DevContainerName is the single container a development session runs.
func DevContainerName(app string) string {
	return fmt.Sprintf("slipway.%s.dev", app)
}

// ReplicaContainerName is a numbered production container.
func ReplicaContainerName(app string, replica int) string {
	return fmt.Sprintf("slipway.%s.%d", app, replica)
}

func containerName(cont types.Container) string {
	if len(cont.Names) == 0 {
		return ""
	}
	return strings.TrimPrefix(cont.Names[0], "/")
}
