// pkg/certs/manager.go
//
// CertificateManager: obtains and renews TLS certificates through an
// external ACME collaborator. The engine never speaks ACME itself; it
// checks the DNS precondition, delegates, and verifies the material landed
// where the proxy template expects it.

package certs

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net"
	"time"

	"github.com/CodeMonkeyCybersecurity/charon/pkg/hoststate"
	"github.com/CodeMonkeyCybersecurity/charon/pkg/remote"
	cerr "github.com/cockroachdb/errors"
	"github.com/sony/gobreaker"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// RenewalHeadroom is how much remaining validity makes renewal a no-op.
const RenewalHeadroom = 30 * 24 * time.Hour

// DNSNotReadyError means the domain does not (yet) resolve to the target
// host. Issuance is never attempted in this state; failed ACME challenges
// burn rate limit.
type DNSNotReadyError struct {
	Domain   string
	Expected string
	Observed []string
}

func (e *DNSNotReadyError) Error() string {
	return fmt.Sprintf("domain %s does not resolve to %s (observed %v)", e.Domain, e.Expected, e.Observed)
}

// IsDNSNotReady reports whether err is a deferred-issuance condition.
func IsDNSNotReady(err error) bool {
	var d *DNSNotReadyError
	return cerr.As(err, &d)
}

// IssuanceError wraps an ACME-side failure.
type IssuanceError struct {
	Domain string
	Err    error
}

func (e *IssuanceError) Error() string {
	return fmt.Sprintf("certificate issuance failed for %s: %v", e.Domain, e.Err)
}

func (e *IssuanceError) Unwrap() error { return e.Err }

// ACMEClient is the external collaborator that actually talks the
// protocol.
type ACMEClient interface {
	Issue(ctx context.Context, domain string) error
	Renew(ctx context.Context, domain string) error
}

// HostResolver abstracts DNS lookup so tests control propagation.
type HostResolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Manager coordinates the precondition check, the collaborator call, and
// verification.
type Manager struct {
	exec     remote.Executor
	acme     ACMEClient
	resolver HostResolver
	hostAddr string
	breaker  *gobreaker.CircuitBreaker
}

// NewManager builds a certificate manager for one target host address.
// A nil resolver uses the system resolver.
func NewManager(exec remote.Executor, acme ACMEClient, resolver HostResolver, hostAddr string) *Manager {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return &Manager{
		exec:     exec,
		acme:     acme,
		resolver: resolver,
		hostAddr: hostAddr,
		// The breaker trips after consecutive ACME failures so a broken
		// challenge setup cannot exhaust the CA's rate limits.
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "acme",
			MaxRequests: 1,
			Timeout:     10 * time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
	}
}

// CheckDNS verifies the domain resolves to the target host.
func (m *Manager) CheckDNS(ctx context.Context, domain string) error {
	addrs, err := m.resolver.LookupHost(ctx, domain)
	if err != nil {
		return cerr.WithStack(&DNSNotReadyError{Domain: domain, Expected: m.hostAddr, Observed: nil})
	}
	for _, addr := range addrs {
		if addr == m.hostAddr {
			return nil
		}
	}
	return cerr.WithStack(&DNSNotReadyError{Domain: domain, Expected: m.hostAddr, Observed: addrs})
}

// Issue obtains a certificate for the domain. The DNS precondition runs
// first; the collaborator call goes through the circuit breaker.
func (m *Manager) Issue(ctx context.Context, domain string) (CertPaths, error) {
	logger := otelzap.Ctx(ctx)

	if err := m.CheckDNS(ctx, domain); err != nil {
		return CertPaths{}, err
	}

	if _, err := m.breaker.Execute(func() (interface{}, error) {
		return nil, m.acme.Issue(ctx, domain)
	}); err != nil {
		return CertPaths{}, cerr.WithStack(&IssuanceError{Domain: domain, Err: err})
	}

	paths := PathsFor(domain)
	exists, err := m.exec.FileExists(ctx, paths.Fullchain)
	if err != nil {
		return CertPaths{}, err
	}
	if !exists {
		return CertPaths{}, cerr.WithStack(&IssuanceError{
			Domain: domain,
			Err:    cerr.Newf("collaborator reported success but %s is absent", paths.Fullchain),
		})
	}

	logger.Info("Certificate issued",
		zap.String("domain", domain),
		zap.String("fullchain", paths.Fullchain))
	return paths, nil
}

// Renew is idempotent and safe to invoke speculatively: with ample
// remaining validity it does nothing.
func (m *Manager) Renew(ctx context.Context, domain string) error {
	logger := otelzap.Ctx(ctx)

	remaining, err := m.RemainingValidity(ctx, domain)
	if err == nil && remaining >= RenewalHeadroom {
		logger.Debug("Certificate renewal skipped",
			zap.String("domain", domain),
			zap.Duration("remaining", remaining))
		return nil
	}

	if _, err := m.breaker.Execute(func() (interface{}, error) {
		return nil, m.acme.Renew(ctx, domain)
	}); err != nil {
		return cerr.WithStack(&IssuanceError{Domain: domain, Err: err})
	}
	return nil
}

// RemainingValidity parses the deployed certificate and reports how long
// it is still good for.
func (m *Manager) RemainingValidity(ctx context.Context, domain string) (time.Duration, error) {
	data, err := m.exec.ReadFile(ctx, hoststate.CertFullchainPath(domain))
	if err != nil {
		return 0, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return 0, cerr.Newf("no PEM block in certificate for %s", domain)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return 0, cerr.Wrapf(err, "parse certificate for %s", domain)
	}
	return time.Until(cert.NotAfter), nil
}
