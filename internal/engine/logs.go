package engine

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
)

// StreamLogs copies the named container's output, demultiplexed into stdout
// and stderr, until the stream ends or the context is cancelled.
func (c *Client) StreamLogs(ctx context.Context, name string, follow bool, stdout, stderr io.Writer) error {
	existing, err := c.findByName(ctx, name)
	if err != nil {
		return err
	}
	rc, err := c.api.ContainerLogs(ctx, existing.ID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     follow,
		Tail:       "all",
	})
	if err != nil {
		return fmt.Errorf("container logs %s: %w", name, err)
	}
	defer rc.Close()

	_, err = stdcopy.StdCopy(stdout, stderr, rc)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("stream logs %s: %w", name, err)
	}
	return nil
}
