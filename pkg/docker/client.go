// pkg/docker/client.go

package docker

import (
	"context"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

const defaultTimeout = 5 * time.Second

// engineAPI is the slice of the engine client the probe needs.
type engineAPI interface {
	Ping(ctx context.Context) (types.Ping, error)
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
}

// Client wraps the engine API for local-target probing; remote targets are
// probed with the docker CLI over the executor instead.
type Client struct {
	api engineAPI
}

// New establishes a Docker client using environment configuration with API
// version negotiation enabled.
func New(ctx context.Context) (*Client, error) {
	api, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	return &Client{api: api}, nil
}

// NewFromAPI is for tests and callers that manage their own engine client.
func NewFromAPI(api engineAPI) *Client {
	return &Client{api: api}
}

// Ping validates connectivity with the Docker daemon within a short timeout
// window.
func (c *Client) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err := c.api.Ping(pingCtx)
	return err
}

// Inspect fetches the full container state for binding verification.
func (c *Client) Inspect(ctx context.Context, name string) (container.InspectResponse, error) {
	inspectCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	return c.api.ContainerInspect(inspectCtx, name)
}
