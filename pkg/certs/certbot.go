// pkg/certs/certbot.go

package certs

import (
	"context"
	"time"

	"github.com/CodeMonkeyCybersecurity/charon/pkg/remote"
	cerr "github.com/cockroachdb/errors"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// issuanceTimeout covers the full HTTP-01 round trip including CA-side
// validation latency.
const issuanceTimeout = 5 * time.Minute

// CertbotClient drives certbot in webroot mode over an executor. Webroot
// mode never touches the proxy config and never binds a port, so the
// running proxy keeps serving throughout.
type CertbotClient struct {
	exec    remote.Executor
	email   string
	webroot string
}

// NewCertbotClient builds the default ACME collaborator. webroot must be
// the directory the proxy serves /.well-known/acme-challenge/ from.
func NewCertbotClient(exec remote.Executor, email, webroot string) *CertbotClient {
	return &CertbotClient{exec: exec, email: email, webroot: webroot}
}

func (c *CertbotClient) Issue(ctx context.Context, domain string) error {
	logger := otelzap.Ctx(ctx)
	logger.Info("Requesting certificate", zap.String("domain", domain))

	cmd := remote.BuildCommand("certbot", "certonly",
		"--webroot", "-w", c.webroot,
		"-d", domain,
		"--email", c.email,
		"--agree-tos",
		"--non-interactive",
		"--keep-until-expiring")
	result, err := c.exec.Run(ctx, remote.Options{Command: cmd, Timeout: issuanceTimeout, Sudo: true})
	if err != nil {
		return cerr.Wrapf(err, "certbot certonly for %s: %s", domain, result.Stderr)
	}
	return nil
}

func (c *CertbotClient) Renew(ctx context.Context, domain string) error {
	cmd := remote.BuildCommand("certbot", "renew",
		"--cert-name", domain,
		"--webroot", "-w", c.webroot,
		"--non-interactive")
	result, err := c.exec.Run(ctx, remote.Options{Command: cmd, Timeout: issuanceTimeout, Sudo: true})
	if err != nil {
		return cerr.Wrapf(err, "certbot renew for %s: %s", domain, result.Stderr)
	}
	return nil
}
