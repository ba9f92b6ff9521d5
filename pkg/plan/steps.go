// pkg/plan/steps.go
//
// Expands a project descriptor into the deployment step DAG. Each step
// closes over the managers it needs; the plan only sees the Step contract.
//
// Graph shape: base packages and docker come first, then project layout
// and checkout, then the database container, then the service unit, then
// the HTTP-only proxy, and finally certificate + TLS proxy once DNS
// resolves to the host.

package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/CodeMonkeyCybersecurity/charon/pkg/certs"
	"github.com/CodeMonkeyCybersecurity/charon/pkg/docker"
	"github.com/CodeMonkeyCybersecurity/charon/pkg/hoststate"
	"github.com/CodeMonkeyCybersecurity/charon/pkg/nginx"
	"github.com/CodeMonkeyCybersecurity/charon/pkg/project"
	"github.com/CodeMonkeyCybersecurity/charon/pkg/remote"
	"github.com/CodeMonkeyCybersecurity/charon/pkg/repo"
	"github.com/CodeMonkeyCybersecurity/charon/pkg/step"
	"github.com/CodeMonkeyCybersecurity/charon/pkg/systemd"
	"github.com/docker/go-connections/nat"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"

	cerr "github.com/cockroachdb/errors"
)

// BasePackages are installed on every target before anything else.
var BasePackages = []string{"nginx", "certbot", "git", "python3-venv", "python3-pip"}

// DockerPackage provides the container engine.
const DockerPackage = "docker.io"

// DNSManager is the optional DNS collaborator. When absent the operator is
// expected to have created the record out of band.
type DNSManager interface {
	EnsureRecord(ctx context.Context, domain, addr string) error
	DeleteRecord(ctx context.Context, domain string) error
}

// LoopbackVerifier checks a live container's published ports through the
// engine API. Set when the target is the local machine; remote targets are
// verified with docker inspect over the executor instead.
type LoopbackVerifier interface {
	VerifyLoopbackOnly(ctx context.Context, name string) error
}

// Deps bundles the collaborators a plan's steps execute through.
type Deps struct {
	Exec  remote.Executor
	Units *systemd.Manager
	Proxy *nginx.Manager
	Certs *certs.Manager

	// DNS is optional; HostAddr is the address records should point at.
	DNS      DNSManager
	HostAddr string

	// Inspector is optional (local targets only).
	Inspector LoopbackVerifier

	// BranchLookup resolves the branch to check out when the descriptor
	// does not pin one. Nil asks the remote for its HEAD.
	BranchLookup func(ctx context.Context, repoURL string) (string, error)
}

// ProbeSpecFor names every fact the plan's pre/postconditions consult.
func ProbeSpecFor(d *project.Descriptor) hoststate.ProbeSpec {
	return hoststate.ProbeSpec{
		Packages:    append(append([]string(nil), BasePackages...), DockerPackage),
		Units:       []string{d.UnitName()},
		ProxyFiles:  []string{nginx.ConfigPath(d)},
		CertDomains: []string{d.Domain},
		Containers:  []string{d.DBContainerName()},
		Paths:       []string{d.ProjectDir(), d.AppDir(), d.VenvDir(), d.LogDir()},
	}
}

// builder carries per-run state the step closures share, like the proxy
// rollback snapshots captured at install time.
type builder struct {
	d    *project.Descriptor
	deps *Deps

	httpRollback *nginx.Rollback
	tlsRollback  *nginx.Rollback
}

// BuildSteps expands the descriptor into the full step set, unordered.
// Order resolves the DependsOn edges.
func BuildSteps(d *project.Descriptor, deps *Deps) []*step.Step {
	b := &builder{d: d, deps: deps}

	steps := []*step.Step{
		b.basePackages(),
		b.dockerEngine(),
		b.projectLayout(),
		b.appCheckout(),
		b.dbContainer(),
		b.serviceUnit(),
		b.proxyHTTP(),
	}
	certDeps := []string{"proxy.http"}
	if deps.DNS != nil && deps.HostAddr != "" {
		steps = append(steps, b.dnsRecord())
		certDeps = append(certDeps, "dns.record")
	}
	steps = append(steps, b.certificate(certDeps), b.proxyTLS())
	return steps
}

func (b *builder) run(ctx context.Context, command string) (string, error) {
	result, err := b.deps.Exec.Run(ctx, remote.Options{Command: command, Sudo: true})
	if err != nil {
		return result.Stdout, err
	}
	return result.Stdout, nil
}

func (b *builder) basePackages() *step.Step {
	install := "apt-get update -q && DEBIAN_FRONTEND=noninteractive apt-get install -y " +
		strings.Join(BasePackages, " ")
	return &step.Step{
		ID:          "packages.base",
		Description: "install nginx, certbot, git, and the python toolchain",
		Resources:   []string{"apt"},
		Precondition: func(_ context.Context, snap *hoststate.Snapshot) (bool, error) {
			for _, pkg := range BasePackages {
				if !snap.Packages[pkg] {
					return false, nil
				}
			}
			return true, nil
		},
		Action: func(ctx context.Context) (string, error) {
			return b.run(ctx, install)
		},
		Postcondition: func(_ context.Context, snap *hoststate.Snapshot) (bool, string, error) {
			var missing []string
			for _, pkg := range BasePackages {
				if !snap.Packages[pkg] {
					missing = append(missing, pkg)
				}
			}
			if len(missing) > 0 {
				return false, "packages still missing after install: " + strings.Join(missing, ", "), nil
			}
			return true, "", nil
		},
	}
}

func (b *builder) dockerEngine() *step.Step {
	install := "DEBIAN_FRONTEND=noninteractive apt-get install -y " + DockerPackage +
		" && systemctl enable --now docker"
	return &step.Step{
		ID:          "docker.engine",
		Description: "install and start the container engine",
		DependsOn:   []string{"packages.base"},
		Resources:   []string{"apt"},
		Precondition: func(_ context.Context, snap *hoststate.Snapshot) (bool, error) {
			return snap.DockerInstalled, nil
		},
		Action: func(ctx context.Context) (string, error) {
			return b.run(ctx, install)
		},
		Postcondition: func(_ context.Context, snap *hoststate.Snapshot) (bool, string, error) {
			if !snap.DockerInstalled {
				return false, "docker binary not found after install", nil
			}
			return true, "", nil
		},
	}
}

func (b *builder) projectLayout() *step.Step {
	d := b.d
	script := fmt.Sprintf(
		"id -u %[1]s >/dev/null 2>&1 || useradd --system --shell /usr/sbin/nologin --home-dir %[2]s %[1]s; "+
			"mkdir -p %[2]s %[3]s && chown -R %[1]s:%[1]s %[2]s %[3]s",
		d.Name, d.ProjectDir(), d.LogDir())
	return &step.Step{
		ID:          "project.layout",
		Description: "create the project user, directory, and log directory",
		DependsOn:   []string{"packages.base"},
		Resources:   []string{d.ProjectDir()},
		Precondition: func(_ context.Context, snap *hoststate.Snapshot) (bool, error) {
			return snap.Paths[d.ProjectDir()] && snap.Paths[d.LogDir()], nil
		},
		Action: func(ctx context.Context) (string, error) {
			return b.run(ctx, script)
		},
		Postcondition: func(_ context.Context, snap *hoststate.Snapshot) (bool, string, error) {
			if !snap.Paths[d.ProjectDir()] {
				return false, d.ProjectDir() + " missing after layout step", nil
			}
			if !snap.Paths[d.LogDir()] {
				return false, d.LogDir() + " missing after layout step", nil
			}
			return true, "", nil
		},
	}
}

// cloneBranch picks the branch for app.checkout: the descriptor's pin wins,
// otherwise the remote's HEAD. Lookup failures fall back to git's own
// default-branch behavior.
func (b *builder) cloneBranch(ctx context.Context) string {
	if b.d.Branch != "" {
		return b.d.Branch
	}
	lookup := b.deps.BranchLookup
	if lookup == nil {
		lookup = repo.DefaultBranch
	}
	branch, err := lookup(ctx, b.d.RepoURL)
	if err != nil {
		otelzap.Ctx(ctx).Debug("Default branch lookup failed; cloning remote default",
			zap.String("repo", b.d.RepoURL),
			zap.Error(err))
		return ""
	}
	return branch
}

func (b *builder) appCheckout() *step.Step {
	d := b.d
	return &step.Step{
		ID:          "app.checkout",
		Description: "clone the repository and build the virtualenv",
		DependsOn:   []string{"project.layout"},
		Resources:   []string{d.AppDir()},
		Precondition: func(_ context.Context, snap *hoststate.Snapshot) (bool, error) {
			return snap.Paths[d.AppDir()] && snap.Paths[d.VenvDir()], nil
		},
		Action: func(ctx context.Context) (string, error) {
			clone := "git clone"
			if branch := b.cloneBranch(ctx); branch != "" {
				clone += " --branch " + remote.Quote(branch)
			}
			script := fmt.Sprintf(
				"[ -d %[1]s ] || %[6]s %[2]s %[1]s; "+
					"python3 -m venv %[3]s && %[3]s/bin/pip install --quiet --upgrade pip; "+
					"if [ -f %[1]s/requirements.txt ]; then %[3]s/bin/pip install --quiet -r %[1]s/requirements.txt; fi; "+
					"chown -R %[4]s:%[4]s %[5]s",
				d.AppDir(), remote.Quote(d.RepoURL), d.VenvDir(), d.Name, d.ProjectDir(), clone)
			return b.run(ctx, script)
		},
		Postcondition: func(_ context.Context, snap *hoststate.Snapshot) (bool, string, error) {
			if !snap.Paths[d.AppDir()] {
				return false, "checkout did not produce " + d.AppDir(), nil
			}
			if !snap.Paths[d.VenvDir()] {
				return false, "virtualenv missing at " + d.VenvDir(), nil
			}
			return true, "", nil
		},
	}
}

func (b *builder) dbContainer() *step.Step {
	d := b.d
	name := d.DBContainerName()
	return &step.Step{
		ID:          "db.container",
		Description: "run the postgres container published on loopback only",
		DependsOn:   []string{"docker.engine", "project.layout"},
		Resources:   []string{name, "port:5432"},
		Reversible:  true,
		Precondition: func(_ context.Context, snap *hoststate.Snapshot) (bool, error) {
			return snap.Containers[name].Running, nil
		},
		Action: func(ctx context.Context) (string, error) {
			if err := docker.ValidatePublishSpec(docker.PublishSpec()); err != nil {
				return "", err
			}
			start := remote.BuildCommand("docker", "start", name)
			args := docker.RunCommandArgs(name, d.DBUser, d.DBPassword, d.DBName)
			create := remote.BuildCommand(args[0], args[1:]...)
			return b.run(ctx, start+" 2>/dev/null || "+create)
		},
		Postcondition: func(ctx context.Context, snap *hoststate.Snapshot) (bool, string, error) {
			if !snap.Containers[name].Running {
				return false, "container " + name + " is not running", nil
			}
			return b.verifyDBLoopback(ctx, name)
		},
		Undo: func(ctx context.Context) error {
			// The data volume is deliberately kept.
			_, err := b.run(ctx, remote.BuildCommand("docker", "rm", "-f", name))
			return err
		},
	}
}

// verifyDBLoopback enforces the publish invariant on the live container,
// not just on the command that created it. Local targets go through the
// engine API; remote targets parse docker inspect output.
func (b *builder) verifyDBLoopback(ctx context.Context, name string) (bool, string, error) {
	if b.deps.Inspector != nil {
		if err := b.deps.Inspector.VerifyLoopbackOnly(ctx, name); err != nil {
			return false, err.Error(), nil
		}
		return true, "", nil
	}
	result, err := b.deps.Exec.Run(ctx, remote.Options{
		Command: remote.BuildCommand("docker", "inspect", "-f", "{{json .NetworkSettings.Ports}}", name),
		Sudo:    true,
	})
	if err != nil {
		return false, "", cerr.Wrapf(err, "inspect container %s", name)
	}
	var ports nat.PortMap
	if err := json.Unmarshal([]byte(strings.TrimSpace(result.Stdout)), &ports); err != nil {
		return false, "", cerr.Wrapf(err, "parse port bindings for %s", name)
	}
	if err := docker.CheckPortMap(name, ports); err != nil {
		return false, err.Error(), nil
	}
	return true, "", nil
}

func (b *builder) serviceUnit() *step.Step {
	d := b.d
	deps := b.deps
	return &step.Step{
		ID:          "service.unit",
		Description: "install and start the application service unit",
		DependsOn:   []string{"app.checkout", "db.container"},
		Resources:   []string{d.UnitName(), fmt.Sprintf("port:%d", d.AppPort)},
		Reversible:  true,
		Precondition: func(_ context.Context, snap *hoststate.Snapshot) (bool, error) {
			return snap.Units[d.UnitName()] == hoststate.UnitActive, nil
		},
		Action: func(ctx context.Context) (string, error) {
			return "", deps.Units.Install(ctx, d)
		},
		Postcondition: func(ctx context.Context, snap *hoststate.Snapshot) (bool, string, error) {
			state := snap.Units[d.UnitName()]
			if state != hoststate.UnitActive && state != hoststate.UnitActivating {
				return false, fmt.Sprintf("unit %s is %s, expected active", d.UnitName(), state), nil
			}
			// Loopback invariant checked against the installed artifact.
			content, err := deps.Exec.ReadFile(ctx, systemd.UnitPath(d))
			if err != nil {
				return false, "", cerr.Wrapf(err, "read installed unit %s", d.UnitName())
			}
			if !strings.Contains(string(content), "--bind 127.0.0.1:") {
				return false, "installed unit does not bind to loopback", nil
			}
			return true, "", nil
		},
		Undo: func(ctx context.Context) error {
			if err := deps.Units.Stop(ctx, d); err != nil {
				return err
			}
			return deps.Units.Remove(ctx, d)
		},
	}
}

func (b *builder) proxyHTTP() *step.Step {
	d := b.d
	deps := b.deps
	path := nginx.ConfigPath(d)
	return &step.Step{
		ID:          "proxy.http",
		Description: "install the bootstrap HTTP-only proxy config",
		DependsOn:   []string{"service.unit"},
		Resources:   []string{path},
		Reversible:  true,
		Precondition: func(_ context.Context, snap *hoststate.Snapshot) (bool, error) {
			// Any existing config (bootstrap or TLS) satisfies this step.
			return snap.ProxyFiles[path], nil
		},
		Action: func(ctx context.Context) (string, error) {
			rb, err := deps.Proxy.Install(ctx, d, nil)
			if err != nil {
				return "", err
			}
			b.httpRollback = rb
			return "", deps.Proxy.Activate(ctx)
		},
		Postcondition: func(_ context.Context, snap *hoststate.Snapshot) (bool, string, error) {
			if !snap.ProxyFiles[path] {
				return false, "proxy config " + path + " missing after install", nil
			}
			return true, "", nil
		},
		Undo: func(ctx context.Context) error {
			return deps.Proxy.Revert(ctx, d, b.httpRollback)
		},
	}
}

func (b *builder) dnsRecord() *step.Step {
	d := b.d
	deps := b.deps
	return &step.Step{
		ID:          "dns.record",
		Description: "ensure the domain's A record points at this host",
		Reversible:  true,
		Precondition: func(ctx context.Context, _ *hoststate.Snapshot) (bool, error) {
			if err := deps.Certs.CheckDNS(ctx, d.Domain); err != nil {
				if certs.IsDNSNotReady(err) {
					return false, nil
				}
				return false, err
			}
			return true, nil
		},
		Action: func(ctx context.Context) (string, error) {
			return "", deps.DNS.EnsureRecord(ctx, d.Domain, deps.HostAddr)
		},
		// Propagation is not awaited here; the certificate step defers
		// itself until the record is observable.
		Postcondition: func(_ context.Context, _ *hoststate.Snapshot) (bool, string, error) {
			return true, "", nil
		},
		Undo: func(ctx context.Context) error {
			return deps.DNS.DeleteRecord(ctx, d.Domain)
		},
	}
}

func (b *builder) certificate(dependsOn []string) *step.Step {
	d := b.d
	deps := b.deps
	return &step.Step{
		ID:          "certificate",
		Description: "obtain the TLS certificate once DNS resolves here",
		DependsOn:   dependsOn,
		Resources:   []string{d.Domain},
		Precondition: func(_ context.Context, snap *hoststate.Snapshot) (bool, error) {
			return snap.Certificates[d.Domain], nil
		},
		Action: func(ctx context.Context) (string, error) {
			_, err := deps.Certs.Issue(ctx, d.Domain)
			return "", err
		},
		Postcondition: func(_ context.Context, snap *hoststate.Snapshot) (bool, string, error) {
			if !snap.Certificates[d.Domain] {
				return false, "certificate material missing for " + d.Domain, nil
			}
			return true, "", nil
		},
	}
}

func (b *builder) proxyTLS() *step.Step {
	d := b.d
	deps := b.deps
	path := nginx.ConfigPath(d)
	return &step.Step{
		ID:          "proxy.tls",
		Description: "replace the bootstrap config with HTTPS termination",
		DependsOn:   []string{"certificate"},
		Resources:   []string{path},
		Reversible:  true,
		Precondition: func(_ context.Context, snap *hoststate.Snapshot) (bool, error) {
			return snap.ProxyTLS[path], nil
		},
		Action: func(ctx context.Context) (string, error) {
			paths := certs.PathsFor(d.Domain)
			rb, err := deps.Proxy.Install(ctx, d, &paths)
			if err != nil {
				return "", err
			}
			b.tlsRollback = rb
			return "", deps.Proxy.Activate(ctx)
		},
		Postcondition: func(_ context.Context, snap *hoststate.Snapshot) (bool, string, error) {
			if !snap.ProxyTLS[path] {
				return false, "proxy config " + path + " does not terminate TLS", nil
			}
			return true, "", nil
		},
		Undo: func(ctx context.Context) error {
			return deps.Proxy.Revert(ctx, d, b.tlsRollback)
		},
	}
}
