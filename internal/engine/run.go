package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/go-connections/nat"

	"github.com/slipway-sh/slipway/internal/recipe"
)

// RunSpec describes one container slipway should keep running. The image's
// baked-in command is used as-is; the spec only decides wiring around it.
type RunSpec struct {
	Name    string
	Image   string
	App     string
	Stage   recipe.Stage
	Replica int

	// Port is the container port the service listens on. Publish maps it to
	// HostPort on all host interfaces; HostPort zero picks an ephemeral one.
	Port     int
	HostPort int
	Publish  bool

	Binds []string
	Env   []string

	Memory   int64
	NanoCPUs int64

	RestartOnFailure bool
}

// runSHA condenses a spec into a comparable fingerprint. The image reference
// is content-derived, so a matching sha means the running container was
// created from identical inputs and can be left alone.
func runSHA(spec RunSpec) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%+v", spec)))
	return hex.EncodeToString(sum[:])
}

func (spec RunSpec) labels() map[string]string {
	return map[string]string{
		LabelManaged: "true",
		LabelApp:     spec.App,
		LabelStage:   string(spec.Stage),
		LabelReplica: strconv.Itoa(spec.Replica),
		LabelRunSHA:  runSHA(spec),
	}
}

// Upsert ensures a container matching the spec is running. A running
// container created from an identical spec is kept; anything else under the
// same name is stopped, removed and replaced. Reports whether a new
// container was created.
func (c *Client) Upsert(ctx context.Context, spec RunSpec) (bool, error) {
	existing, err := c.findByName(ctx, spec.Name)
	switch {
	case err == nil:
		if existing.Labels[LabelRunSHA] == runSHA(spec) && existing.State == "running" {
			c.logger.Debug("Container up to date", "name", spec.Name)
			return false, nil
		}
		c.logger.Info("Replacing container", "name", spec.Name)
		if err := c.stopAndRemove(ctx, existing.ID); err != nil {
			return false, err
		}
	case errors.Is(err, ErrContainerNotFound):
	default:
		return false, err
	}

	if err := c.create(ctx, spec); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Client) create(ctx context.Context, spec RunSpec) error {
	config := &container.Config{
		Image:  spec.Image,
		Env:    spec.Env,
		Labels: spec.labels(),
	}
	hostConfig := &container.HostConfig{
		Binds: spec.Binds,
		Resources: container.Resources{
			Memory:   spec.Memory,
			NanoCPUs: spec.NanoCPUs,
		},
	}

	if spec.Port > 0 {
		port, err := nat.NewPort("tcp", strconv.Itoa(spec.Port))
		if err != nil {
			return fmt.Errorf("container port: %w", err)
		}
		config.ExposedPorts = nat.PortSet{port: struct{}{}}
		if spec.Publish {
			hostPort := ""
			if spec.HostPort > 0 {
				hostPort = strconv.Itoa(spec.HostPort)
			}
			hostConfig.PortBindings = nat.PortMap{
				port: []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: hostPort}},
			}
		}
	}

	if spec.RestartOnFailure {
		hostConfig.RestartPolicy = container.RestartPolicy{
			Name:              container.RestartPolicyOnFailure,
			MaximumRetryCount: 3,
		}
	}

	created, err := c.api.ContainerCreate(ctx, config, hostConfig, nil, nil, spec.Name)
	if err != nil {
		return fmt.Errorf("create container %s: %w", spec.Name, err)
	}
	if err := c.api.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("start container %s: %w", spec.Name, err)
	}

	c.logger.Info("Container started", "name", spec.Name, "image", spec.Image)
	return nil
}

// findByName resolves a container (running or not) by exact name.
func (c *Client) findByName(ctx context.Context, name string) (types.Container, error) {
	containers, err := c.api.ContainerList(ctx, container.ListOptions{
		All: true,
		Filters: filters.NewArgs(
			filters.Arg("name", name),
			filters.Arg("label", LabelManaged),
		),
	})
	if err != nil {
		return types.Container{}, fmt.Errorf("list containers: %w", err)
	}
	// the name filter matches substrings, so check for the exact name
	for _, cont := range containers {
		for _, n := range cont.Names {
			if n == "/"+name {
				return cont, nil
			}
		}
	}
	return types.Container{}, fmt.Errorf("%s: %w", name, ErrContainerNotFound)
}

func (c *Client) stopAndRemove(ctx context.Context, id string) error {
	timeout := 10
	if err := c.api.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("stop container: %w", err)
	}
	if err := c.api.ContainerRemove(ctx, id, container.RemoveOptions{}); err != nil {
		return fmt.Errorf("remove container: %w", err)
	}
	return nil
}

// Remove stops and removes a single named container. Missing containers are
// not an error.
func (c *Client) Remove(ctx context.Context, name string) error {
	existing, err := c.findByName(ctx, name)
	if errors.Is(err, ErrContainerNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return c.stopAndRemove(ctx, existing.ID)
}

// RemoveApp tears down every managed container belonging to the app.
// Returns how many containers were removed.
func (c *Client) RemoveApp(ctx context.Context, app string) (int, error) {
	containers, err := c.ListApp(ctx, app)
	if err != nil {
		return 0, err
	}
	for _, cont := range containers {
		if err := c.stopAndRemove(ctx, cont.ID); err != nil {
			return 0, err
		}
		c.logger.Info("Container removed", "id", shortID(cont.ID))
	}
	return len(containers), nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// ListApp lists every managed container (running or not) for the app.
func (c *Client) ListApp(ctx context.Context, app string) ([]types.Container, error) {
	containers, err := c.api.ContainerList(ctx, container.ListOptions{
		All: true,
		Filters: filters.NewArgs(
			filters.Arg("label", LabelManaged),
			filters.Arg("label", LabelApp+"="+app),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}
	return containers, nil
}

// State reports the engine's state string ("running", "exited", ...) for
// the named container.
func (c *Client) State(ctx context.Context, name string) (string, error) {
	existing, err := c.findByName(ctx, name)
	if err != nil {
		return "", err
	}
	return existing.State, nil
}

// WaitExit blocks until the named container is no longer running and
// returns its exit code.
func (c *Client) WaitExit(ctx context.Context, name string) (int64, error) {
	existing, err := c.findByName(ctx, name)
	if err != nil {
		return 0, err
	}
	waitCh, errCh := c.api.ContainerWait(ctx, existing.ID, container.WaitConditionNotRunning)
	select {
	case resp := <-waitCh:
		if resp.Error != nil {
			return 0, errors.New(resp.Error.Message)
		}
		return resp.StatusCode, nil
	case err := <-errCh:
		return 0, err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}
