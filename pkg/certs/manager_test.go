// pkg/certs/manager_test.go

package certs

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/CodeMonkeyCybersecurity/charon/pkg/hoststate"
	"github.com/CodeMonkeyCybersecurity/charon/pkg/testutil"
	cerr "github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	addrs map[string][]string
	err   error
}

func (r *fakeResolver) LookupHost(_ context.Context, host string) ([]string, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.addrs[host], nil
}

type fakeACME struct {
	issued  []string
	renewed []string
	err     error

	// onIssue lets a test create side effects, like the fullchain file.
	onIssue func(domain string)
}

func (a *fakeACME) Issue(_ context.Context, domain string) error {
	a.issued = append(a.issued, domain)
	if a.err != nil {
		return a.err
	}
	if a.onIssue != nil {
		a.onIssue(domain)
	}
	return nil
}

func (a *fakeACME) Renew(_ context.Context, domain string) error {
	a.renewed = append(a.renewed, domain)
	return a.err
}

// selfSignedPEM builds a throwaway certificate expiring after ttl.
func selfSignedPEM(t *testing.T, ttl time.Duration) []byte {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "demo.example.com"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(ttl),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

func TestCheckDNSNotPropagated(t *testing.T) {
	ctx := context.Background()
	resolver := &fakeResolver{addrs: map[string][]string{
		"demo.example.com": {"198.51.100.7"},
	}}
	m := NewManager(testutil.NewFakeExecutor(), &fakeACME{}, resolver, "203.0.113.10")

	err := m.CheckDNS(ctx, "demo.example.com")
	require.Error(t, err)
	assert.True(t, IsDNSNotReady(err))

	var d *DNSNotReadyError
	require.True(t, cerr.As(err, &d))
	assert.Equal(t, "203.0.113.10", d.Expected)
	assert.Equal(t, []string{"198.51.100.7"}, d.Observed)
}

func TestCheckDNSPropagated(t *testing.T) {
	ctx := context.Background()
	resolver := &fakeResolver{addrs: map[string][]string{
		"demo.example.com": {"203.0.113.10", "2001:db8::1"},
	}}
	m := NewManager(testutil.NewFakeExecutor(), &fakeACME{}, resolver, "203.0.113.10")

	assert.NoError(t, m.CheckDNS(ctx, "demo.example.com"))
}

func TestIssueRefusesBeforePropagation(t *testing.T) {
	ctx := context.Background()
	acme := &fakeACME{}
	resolver := &fakeResolver{addrs: map[string][]string{}}
	m := NewManager(testutil.NewFakeExecutor(), acme, resolver, "203.0.113.10")

	_, err := m.Issue(ctx, "demo.example.com")
	require.Error(t, err)
	assert.True(t, IsDNSNotReady(err))
	assert.Empty(t, acme.issued, "no ACME attempt before DNS is ready")
}

func TestIssueVerifiesMaterialOnDisk(t *testing.T) {
	ctx := context.Background()
	exec := testutil.NewFakeExecutor()
	acme := &fakeACME{onIssue: func(domain string) {
		exec.Files[hoststate.CertFullchainPath(domain)] = []byte("PEM")
	}}
	resolver := &fakeResolver{addrs: map[string][]string{
		"demo.example.com": {"203.0.113.10"},
	}}
	m := NewManager(exec, acme, resolver, "203.0.113.10")

	paths, err := m.Issue(ctx, "demo.example.com")
	require.NoError(t, err)
	assert.Equal(t, "/etc/letsencrypt/live/demo.example.com/fullchain.pem", paths.Fullchain)
	assert.Equal(t, []string{"demo.example.com"}, acme.issued)
}

func TestIssueDetectsMissingMaterial(t *testing.T) {
	ctx := context.Background()
	acme := &fakeACME{} // reports success but writes nothing
	resolver := &fakeResolver{addrs: map[string][]string{
		"demo.example.com": {"203.0.113.10"},
	}}
	m := NewManager(testutil.NewFakeExecutor(), acme, resolver, "203.0.113.10")

	_, err := m.Issue(ctx, "demo.example.com")
	require.Error(t, err)

	var ie *IssuanceError
	require.True(t, cerr.As(err, &ie))
	assert.Contains(t, ie.Error(), "absent")
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	ctx := context.Background()
	acme := &fakeACME{err: cerr.New("challenge failed")}
	resolver := &fakeResolver{addrs: map[string][]string{
		"demo.example.com": {"203.0.113.10"},
	}}
	m := NewManager(testutil.NewFakeExecutor(), acme, resolver, "203.0.113.10")

	for i := 0; i < 5; i++ {
		_, err := m.Issue(ctx, "demo.example.com")
		require.Error(t, err)
	}
	// After the trip threshold the collaborator stops being called.
	assert.Equal(t, 3, len(acme.issued))
}

func TestRenewSkipsWithAmpleValidity(t *testing.T) {
	ctx := context.Background()
	exec := testutil.NewFakeExecutor()
	exec.Files[hoststate.CertFullchainPath("demo.example.com")] = selfSignedPEM(t, 60*24*time.Hour)
	acme := &fakeACME{}
	m := NewManager(exec, acme, &fakeResolver{}, "203.0.113.10")

	require.NoError(t, m.Renew(ctx, "demo.example.com"))
	assert.Empty(t, acme.renewed)
}

func TestRenewRunsNearExpiry(t *testing.T) {
	ctx := context.Background()
	exec := testutil.NewFakeExecutor()
	exec.Files[hoststate.CertFullchainPath("demo.example.com")] = selfSignedPEM(t, 10*24*time.Hour)
	acme := &fakeACME{}
	m := NewManager(exec, acme, &fakeResolver{}, "203.0.113.10")

	require.NoError(t, m.Renew(ctx, "demo.example.com"))
	assert.Equal(t, []string{"demo.example.com"}, acme.renewed)
}

func TestRemainingValidity(t *testing.T) {
	ctx := context.Background()
	exec := testutil.NewFakeExecutor()
	exec.Files[hoststate.CertFullchainPath("demo.example.com")] = selfSignedPEM(t, 45*24*time.Hour)
	m := NewManager(exec, &fakeACME{}, &fakeResolver{}, "203.0.113.10")

	remaining, err := m.RemainingValidity(ctx, "demo.example.com")
	require.NoError(t, err)
	assert.InDelta(t, (45 * 24 * time.Hour).Hours(), remaining.Hours(), 1.0)
}
