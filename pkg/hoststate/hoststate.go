// pkg/hoststate/hoststate.go
//
// Package hoststate observes a target host. A Snapshot is what one probe
// saw; it is read before every step and never cached across steps, since
// external actors may mutate the host at any time.

package hoststate

import (
	"context"
	"strings"

	"github.com/CodeMonkeyCybersecurity/charon/pkg/remote"
	cerr "github.com/cockroachdb/errors"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// ProbeSpec names the facts a probe should gather. Probing everything on
// the machine would be slow and pointless; each plan declares what it cares
// about.
type ProbeSpec struct {
	Packages    []string
	Units       []string
	ProxyFiles  []string // absolute config paths
	CertDomains []string
	Containers  []string
	Paths       []string // arbitrary existence probes (project dirs, venvs)
}

// Snapshot is the observed state of the host at one instant.
type Snapshot struct {
	Packages        map[string]bool
	DockerInstalled bool
	Containers      map[string]ContainerState
	Units           map[string]UnitState
	ProxyFiles      map[string]bool
	// ProxyTLS records, for proxy files that exist, whether they already
	// terminate TLS. Distinguishes the bootstrap config from the final one.
	ProxyTLS     map[string]bool
	Certificates map[string]bool
	Paths        map[string]bool
}

// ContainerState is what the engine needs to know about one container.
type ContainerState struct {
	Exists  bool
	Running bool
}

// UnitState mirrors `systemctl is-active` vocabulary plus "absent" for
// units with no installed file.
type UnitState string

const (
	UnitAbsent     UnitState = "absent"
	UnitInactive   UnitState = "inactive"
	UnitActivating UnitState = "activating"
	UnitActive     UnitState = "active"
	UnitFailed     UnitState = "failed"
)

// Probe gathers a fresh Snapshot over the executor.
func Probe(ctx context.Context, exec remote.Executor, spec ProbeSpec) (*Snapshot, error) {
	logger := otelzap.Ctx(ctx)

	snap := &Snapshot{
		Packages:     make(map[string]bool, len(spec.Packages)),
		Containers:   make(map[string]ContainerState, len(spec.Containers)),
		Units:        make(map[string]UnitState, len(spec.Units)),
		ProxyFiles:   make(map[string]bool, len(spec.ProxyFiles)),
		ProxyTLS:     make(map[string]bool, len(spec.ProxyFiles)),
		Certificates: make(map[string]bool, len(spec.CertDomains)),
		Paths:        make(map[string]bool, len(spec.Paths)),
	}

	for _, pkg := range spec.Packages {
		installed, err := packageInstalled(ctx, exec, pkg)
		if err != nil {
			return nil, err
		}
		snap.Packages[pkg] = installed
	}

	docker, err := dockerInstalled(ctx, exec)
	if err != nil {
		return nil, err
	}
	snap.DockerInstalled = docker

	for _, name := range spec.Containers {
		state, err := containerState(ctx, exec, name, docker)
		if err != nil {
			return nil, err
		}
		snap.Containers[name] = state
	}

	for _, unit := range spec.Units {
		state, err := unitState(ctx, exec, unit)
		if err != nil {
			return nil, err
		}
		snap.Units[unit] = state
	}

	for _, path := range spec.ProxyFiles {
		exists, err := exec.FileExists(ctx, path)
		if err != nil {
			return nil, cerr.Wrapf(err, "probe proxy config %s", path)
		}
		snap.ProxyFiles[path] = exists
		if exists {
			content, err := exec.ReadFile(ctx, path)
			if err != nil {
				return nil, cerr.Wrapf(err, "read proxy config %s", path)
			}
			snap.ProxyTLS[path] = strings.Contains(string(content), "listen 443")
		}
	}

	for _, domain := range spec.CertDomains {
		exists, err := exec.FileExists(ctx, CertFullchainPath(domain))
		if err != nil {
			return nil, cerr.Wrapf(err, "probe certificate for %s", domain)
		}
		snap.Certificates[domain] = exists
	}

	for _, path := range spec.Paths {
		exists, err := exec.FileExists(ctx, path)
		if err != nil {
			return nil, cerr.Wrapf(err, "probe path %s", path)
		}
		snap.Paths[path] = exists
	}

	logger.Debug("Host state probed",
		zap.Int("packages", len(snap.Packages)),
		zap.Int("units", len(snap.Units)),
		zap.Bool("docker", snap.DockerInstalled))
	return snap, nil
}

// CertRoot is where the ACME collaborator stores issued material.
const CertRoot = "/etc/letsencrypt/live"

func CertFullchainPath(domain string) string {
	return CertRoot + "/" + domain + "/fullchain.pem"
}

func CertPrivkeyPath(domain string) string {
	return CertRoot + "/" + domain + "/privkey.pem"
}

func packageInstalled(ctx context.Context, exec remote.Executor, pkg string) (bool, error) {
	result, err := exec.Run(ctx, remote.Options{
		Command: remote.BuildCommand("dpkg-query", "-W", "-f", "${Status}", pkg),
	})
	if err != nil {
		var ce *remote.CommandError
		if cerr.As(err, &ce) {
			// dpkg-query exits 1 for unknown packages.
			return false, nil
		}
		return false, cerr.Wrapf(err, "probe package %s", pkg)
	}
	return strings.Contains(result.Stdout, "install ok installed"), nil
}

func dockerInstalled(ctx context.Context, exec remote.Executor) (bool, error) {
	_, err := exec.Run(ctx, remote.Options{Command: "command -v docker"})
	if err != nil {
		var ce *remote.CommandError
		if cerr.As(err, &ce) {
			return false, nil
		}
		return false, cerr.Wrap(err, "probe docker binary")
	}
	return true, nil
}

func containerState(ctx context.Context, exec remote.Executor, name string, dockerPresent bool) (ContainerState, error) {
	if !dockerPresent {
		return ContainerState{}, nil
	}
	result, err := exec.Run(ctx, remote.Options{
		Command: remote.BuildCommand("docker", "inspect", "-f", "{{.State.Running}}", name),
	})
	if err != nil {
		var ce *remote.CommandError
		if cerr.As(err, &ce) {
			// No such container.
			return ContainerState{}, nil
		}
		return ContainerState{}, cerr.Wrapf(err, "inspect container %s", name)
	}
	running := strings.TrimSpace(result.Stdout) == "true"
	return ContainerState{Exists: true, Running: running}, nil
}

func unitState(ctx context.Context, exec remote.Executor, unit string) (UnitState, error) {
	exists, err := exec.FileExists(ctx, "/etc/systemd/system/"+unit)
	if err != nil {
		return UnitAbsent, cerr.Wrapf(err, "probe unit file %s", unit)
	}
	if !exists {
		return UnitAbsent, nil
	}

	result, err := exec.Run(ctx, remote.Options{
		Command: remote.BuildCommand("systemctl", "is-active", unit),
	})
	state := strings.TrimSpace(result.Stdout)
	if err != nil {
		var ce *remote.CommandError
		if !cerr.As(err, &ce) {
			return UnitAbsent, cerr.Wrapf(err, "probe unit %s", unit)
		}
		// is-active exits non-zero for every state but "active"; the word
		// on stdout is still authoritative.
	}
	switch state {
	case "active":
		return UnitActive, nil
	case "activating", "reloading":
		return UnitActivating, nil
	case "failed":
		return UnitFailed, nil
	case "inactive", "deactivating":
		return UnitInactive, nil
	default:
		return UnitInactive, nil
	}
}
