// Package engine wraps the container engine API: creating and replacing
// containers, streaming logs, waiting for exits and readiness probing.
// Everything slipway creates carries the managed label so it can be found
// and cleaned up later without guessing at names.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

const (
	LabelManaged = "sh.slipway.managed"
	LabelApp     = "sh.slipway.app"
	LabelStage   = "sh.slipway.stage"
	LabelReplica = "sh.slipway.replica"
	LabelRunSHA  = "sh.slipway.run-sha"
)

var ErrContainerNotFound = errors.New("container not found")

// dockerAPI is the slice of the engine client the package uses. The real
// *client.Client satisfies it; tests substitute a fake.
type dockerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerList(ctx context.Context, options container.ListOptions) ([]types.Container, error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ImageBuild(ctx context.Context, buildContext io.Reader, options types.ImageBuildOptions) (types.ImageBuildResponse, error)
	ImageList(ctx context.Context, options image.ListOptions) ([]image.Summary, error)
}

type Client struct {
	api    dockerAPI
	logger *slog.Logger
}

// New connects to the engine using the standard environment (DOCKER_HOST and
// friends) and negotiates the API version with the daemon.
func New(logger *slog.Logger) (*Client, error) {
	api, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("connect to container engine: %w", err)
	}
	return &Client{api: api, logger: logger}, nil
}

// NewWithAPI wires an explicit API implementation, used by tests.
func NewWithAPI(api dockerAPI, logger *slog.Logger) *Client {
	return &Client{api: api, logger: logger}
}
