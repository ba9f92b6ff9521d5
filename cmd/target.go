/* cmd/target.go */

package cmd

import (
	"fmt"
	"time"

	"github.com/CodeMonkeyCybersecurity/charon/pkg/certs"
	"github.com/CodeMonkeyCybersecurity/charon/pkg/charon_cli"
	"github.com/CodeMonkeyCybersecurity/charon/pkg/charon_err"
	"github.com/CodeMonkeyCybersecurity/charon/pkg/config"
	"github.com/CodeMonkeyCybersecurity/charon/pkg/dns"
	"github.com/CodeMonkeyCybersecurity/charon/pkg/docker"
	"github.com/CodeMonkeyCybersecurity/charon/pkg/nginx"
	"github.com/CodeMonkeyCybersecurity/charon/pkg/plan"
	"github.com/CodeMonkeyCybersecurity/charon/pkg/provider"
	"github.com/CodeMonkeyCybersecurity/charon/pkg/remote"
	"github.com/CodeMonkeyCybersecurity/charon/pkg/systemd"
	cerr "github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// targetFlags are shared by every verb that touches a host.
type targetFlags struct {
	descriptorPath string
	target         string
	user           string
	port           int
	identity       string
	insecureHost   bool
	local          bool
	hostAddr       string
	serverName     string
}

func (f *targetFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.descriptorPath, "descriptor", "d", "", "path to the project descriptor YAML (required)")
	cmd.Flags().StringVarP(&f.target, "target", "t", "", "target host to deploy to over SSH")
	cmd.Flags().StringVar(&f.user, "user", "", "SSH user (default from config)")
	cmd.Flags().IntVar(&f.port, "port", 0, "SSH port (default from config)")
	cmd.Flags().StringVarP(&f.identity, "identity", "i", "", "SSH private key path")
	cmd.Flags().BoolVar(&f.insecureHost, "insecure-host-key", false, "skip known_hosts verification")
	cmd.Flags().BoolVar(&f.local, "local", false, "execute against the local machine instead of SSH")
	cmd.Flags().StringVar(&f.hostAddr, "host-addr", "", "public address the domain must resolve to")
	cmd.Flags().StringVar(&f.serverName, "server", "", "cloud server name to resolve --host-addr from")
	_ = cmd.MarkFlagRequired("descriptor")
}

// buildExecutor opens the transport the flags ask for. The caller owns
// Close.
func buildExecutor(rc *charon_cli.RuntimeContext, cfg *config.Config, f *targetFlags) (remote.Executor, error) {
	if f.local {
		return remote.NewLocalExecutor(true), nil
	}
	if f.target == "" {
		return nil, charon_err.NewValidationError("target", "either --target or --local is required")
	}

	user := cfg.SSH.User
	if f.user != "" {
		user = f.user
	}
	port := cfg.SSH.Port
	if f.port != 0 {
		port = f.port
	}
	keyPath := cfg.SSH.KeyPath
	if f.identity != "" {
		keyPath = f.identity
	}

	exec, err := remote.NewSSHExecutor(remote.DialConfig{
		Target:         fmt.Sprintf("%s:%d", f.target, port),
		User:           user,
		KeyPath:        keyPath,
		KnownHostsPath: cfg.SSH.KnownHostsPath,
		StrictHostKey:  cfg.SSH.StrictHostKey && !f.insecureHost,
		DialTimeout:    cfg.SSH.DialTimeout,
	}, true)
	if err != nil {
		return nil, cerr.Wrapf(err, "connect to %s", f.target)
	}
	return exec, nil
}

// resolveHostAddr picks the public address certificates must resolve to:
// an explicit flag wins, then a cloud server lookup, then the SSH target.
func resolveHostAddr(rc *charon_cli.RuntimeContext, f *targetFlags) string {
	if f.hostAddr != "" {
		return f.hostAddr
	}
	if f.serverName != "" {
		client, err := provider.NewClient()
		if err != nil {
			rc.Log.Warn("Cloud provider lookup unavailable", zap.Error(err))
			return ""
		}
		addr, err := client.PublicIPv4(rc.Ctx, f.serverName)
		if err != nil {
			rc.Log.Warn("Failed to resolve server address",
				zap.String("server", f.serverName),
				zap.Error(err))
			return ""
		}
		return addr
	}
	return f.target
}

// buildDeps wires the managers a plan executes through.
func buildDeps(rc *charon_cli.RuntimeContext, cfg *config.Config, exec remote.Executor, f *targetFlags) (*plan.Deps, error) {
	hostAddr := resolveHostAddr(rc, f)
	if hostAddr == "" {
		rc.Log.Warn("No host address known; the certificate step will defer until DNS can be checked")
	}

	acme := certs.NewCertbotClient(exec, cfg.ACME.Email, cfg.ACME.Webroot)
	deps := &plan.Deps{
		Exec:     exec,
		Units:    systemd.NewManager(exec, nil),
		Proxy:    nginx.NewManager(exec, nil),
		Certs:    certs.NewManager(exec, acme, nil, hostAddr),
		HostAddr: hostAddr,
	}

	if cfg.DNS.Enabled {
		dnsClient, err := dns.NewClient(cfg.DNS)
		if err != nil {
			return nil, err
		}
		deps.DNS = dnsClient
	}

	// Local targets verify container bindings through the engine API; when
	// no daemon answers, the docker-inspect path over the executor is used.
	if f.local {
		if dc, err := docker.New(rc.Ctx); err == nil && dc.Ping(rc.Ctx) == nil {
			deps.Inspector = dc
		} else {
			rc.Log.Debug("Docker engine API unavailable; falling back to CLI probing")
		}
	}
	return deps, nil
}

func planOptions(cfg *config.Config) []plan.Option {
	var opts []plan.Option
	if cfg.AuditDir != "" {
		opts = append(opts, plan.WithAuditDir(cfg.AuditDir))
	}
	return opts
}

// deployTimeout bounds one full run including package installs and ACME.
const deployTimeout = 45 * time.Minute
