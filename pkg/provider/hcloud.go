// pkg/provider/hcloud.go
//
// Optional cloud-provider collaborator: looks up the public address of a
// named Hetzner Cloud server so the DNS record and the SSH dial target can
// come from the same source of truth.

package provider

import (
	"context"
	"os"

	cerr "github.com/cockroachdb/errors"
	"github.com/hetznercloud/hcloud-go/v2/hcloud"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// TokenEnvVar names the environment variable the API token is read from.
const TokenEnvVar = "HCLOUD_TOKEN"

// Client wraps the Hetzner Cloud API for host lookup.
type Client struct {
	api *hcloud.Client
}

// NewClient builds a client from HCLOUD_TOKEN.
func NewClient() (*Client, error) {
	token := os.Getenv(TokenEnvVar)
	if token == "" {
		return nil, cerr.Newf("%s is not set", TokenEnvVar)
	}
	return &Client{api: hcloud.NewClient(hcloud.WithToken(token))}, nil
}

// NewClientWithToken is for tests and non-env credential sources.
func NewClientWithToken(token string) *Client {
	return &Client{api: hcloud.NewClient(hcloud.WithToken(token))}
}

// PublicIPv4 resolves a server name to its public IPv4 address.
func (c *Client) PublicIPv4(ctx context.Context, serverName string) (string, error) {
	logger := otelzap.Ctx(ctx)

	server, _, err := c.api.Server.GetByName(ctx, serverName)
	if err != nil {
		return "", cerr.Wrapf(err, "look up server %s", serverName)
	}
	if server == nil {
		return "", cerr.Newf("server %s not found", serverName)
	}
	if server.PublicNet.IPv4.IsUnspecified() {
		return "", cerr.Newf("server %s has no public IPv4 address", serverName)
	}

	addr := server.PublicNet.IPv4.IP.String()
	logger.Info("Resolved server address",
		zap.String("server", serverName),
		zap.String("addr", addr))
	return addr, nil
}
