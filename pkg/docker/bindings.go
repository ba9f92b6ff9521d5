// pkg/docker/bindings.go
//
// Port-binding checks for the database container. The container must never
// publish on a routable interface; a publish spec is validated before the
// container is created and the live bindings are verified after.

package docker

import (
	"context"
	"fmt"

	"github.com/docker/go-connections/nat"

	cerr "github.com/cockroachdb/errors"
)

// PublishSpec returns the -p argument pinning postgres to loopback.
func PublishSpec() string {
	return "127.0.0.1:5432:5432"
}

// ValidatePublishSpec parses a docker publish spec and rejects anything
// that would bind a routable interface. An omitted host IP means 0.0.0.0.
func ValidatePublishSpec(spec string) error {
	mappings, err := nat.ParsePortSpec(spec)
	if err != nil {
		return cerr.Wrapf(err, "parse publish spec %q", spec)
	}
	for _, m := range mappings {
		if m.Binding.HostIP != "127.0.0.1" {
			return cerr.Newf("publish spec %q binds %q, only 127.0.0.1 is allowed",
				spec, hostIPForDisplay(m.Binding.HostIP))
		}
	}
	return nil
}

// VerifyLoopbackOnly inspects a running container through the engine API
// and confirms every published port is bound to loopback.
func (c *Client) VerifyLoopbackOnly(ctx context.Context, name string) error {
	info, err := c.Inspect(ctx, name)
	if err != nil {
		return cerr.Wrapf(err, "inspect container %s", name)
	}
	if info.NetworkSettings == nil {
		return nil
	}
	return CheckPortMap(name, info.NetworkSettings.Ports)
}

// CheckPortMap applies the loopback rule to a parsed port map. Split out
// so the remote path (docker inspect over SSH) reuses the same rule.
func CheckPortMap(name string, ports nat.PortMap) error {
	for port, bindings := range ports {
		for _, b := range bindings {
			if b.HostIP != "127.0.0.1" {
				return cerr.Newf("container %s publishes %s on %s, only 127.0.0.1 is allowed",
					name, port, hostIPForDisplay(b.HostIP))
			}
		}
	}
	return nil
}

func hostIPForDisplay(ip string) string {
	if ip == "" {
		return "0.0.0.0"
	}
	return ip
}

// RunCommandArgs assembles the docker run arguments for the project's
// postgres container. Callers pass the result through the shell quoter.
func RunCommandArgs(containerName, dbUser, dbPassword, dbName string) []string {
	return []string{
		"docker", "run", "-d",
		"--name", containerName,
		"--restart", "unless-stopped",
		"-e", fmt.Sprintf("POSTGRES_USER=%s", dbUser),
		"-e", fmt.Sprintf("POSTGRES_PASSWORD=%s", dbPassword),
		"-e", fmt.Sprintf("POSTGRES_DB=%s", dbName),
		"-p", PublishSpec(),
		"-v", containerName + "-data:/var/lib/postgresql/data",
		"postgres:16",
	}
}
