// pkg/hoststate/hoststate_test.go

package hoststate

import (
	"context"
	"testing"

	"github.com/CodeMonkeyCybersecurity/charon/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbeCleanHost(t *testing.T) {
	ctx := context.Background()
	exec := testutil.NewFakeExecutor()
	exec.Script("dpkg-query", testutil.Response{ExitCode: 1, Stderr: "no packages found matching nginx"})
	exec.Script("command -v docker", testutil.Response{ExitCode: 1})
	exec.Script("test '-e'", testutil.Response{ExitCode: 1})

	snap, err := Probe(ctx, exec, ProbeSpec{
		Packages:    []string{"nginx", "git"},
		Units:       []string{"demo.service"},
		ProxyFiles:  []string{"/etc/nginx/sites-available/demo.conf"},
		CertDomains: []string{"demo.example.com"},
		Containers:  []string{"demo-db"},
		Paths:       []string{"/opt/demo/app"},
	})
	require.NoError(t, err)

	assert.False(t, snap.Packages["nginx"])
	assert.False(t, snap.Packages["git"])
	assert.False(t, snap.DockerInstalled)
	assert.Equal(t, ContainerState{}, snap.Containers["demo-db"])
	assert.Equal(t, UnitAbsent, snap.Units["demo.service"])
	assert.False(t, snap.ProxyFiles["/etc/nginx/sites-available/demo.conf"])
	assert.False(t, snap.Certificates["demo.example.com"])
	assert.False(t, snap.Paths["/opt/demo/app"])
}

func TestProbeProvisionedHost(t *testing.T) {
	ctx := context.Background()
	exec := testutil.NewFakeExecutor()
	exec.Script("dpkg-query", testutil.Response{Stdout: "install ok installed"})
	exec.Script("command -v docker", testutil.Response{Stdout: "/usr/bin/docker"})
	exec.Script("docker 'inspect'", testutil.Response{Stdout: "true\n"})
	exec.Script("systemctl 'is-active'", testutil.Response{Stdout: "active\n"})
	exec.Files["/etc/systemd/system/demo.service"] = []byte("[Unit]")
	exec.Files["/etc/nginx/sites-available/demo.conf"] = []byte("server {}")
	exec.Files[CertFullchainPath("demo.example.com")] = []byte("pem")

	snap, err := Probe(ctx, exec, ProbeSpec{
		Packages:    []string{"nginx"},
		Units:       []string{"demo.service"},
		ProxyFiles:  []string{"/etc/nginx/sites-available/demo.conf"},
		CertDomains: []string{"demo.example.com"},
		Containers:  []string{"demo-db"},
	})
	require.NoError(t, err)

	assert.True(t, snap.Packages["nginx"])
	assert.True(t, snap.DockerInstalled)
	assert.Equal(t, ContainerState{Exists: true, Running: true}, snap.Containers["demo-db"])
	assert.Equal(t, UnitActive, snap.Units["demo.service"])
	assert.True(t, snap.ProxyFiles["/etc/nginx/sites-available/demo.conf"])
	assert.False(t, snap.ProxyTLS["/etc/nginx/sites-available/demo.conf"])
	assert.True(t, snap.Certificates["demo.example.com"])
}

func TestProbeDetectsTLSProxyConfig(t *testing.T) {
	ctx := context.Background()
	exec := testutil.NewFakeExecutor()
	exec.Files["/etc/nginx/sites-available/demo.conf"] = []byte("server {\n    listen 443 ssl;\n}")

	snap, err := Probe(ctx, exec, ProbeSpec{
		ProxyFiles: []string{"/etc/nginx/sites-available/demo.conf"},
	})
	require.NoError(t, err)
	assert.True(t, snap.ProxyTLS["/etc/nginx/sites-available/demo.conf"])
}

func TestUnitStateVocabulary(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		isActive testutil.Response
		want     UnitState
	}{
		{"active", testutil.Response{Stdout: "active\n"}, UnitActive},
		{"activating", testutil.Response{Stdout: "activating\n", ExitCode: 3}, UnitActivating},
		{"failed", testutil.Response{Stdout: "failed\n", ExitCode: 3}, UnitFailed},
		{"inactive", testutil.Response{Stdout: "inactive\n", ExitCode: 3}, UnitInactive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := testutil.NewFakeExecutor()
			exec.Files["/etc/systemd/system/demo.service"] = []byte("[Unit]")
			exec.Script("systemctl 'is-active'", tt.isActive)

			state, err := unitState(ctx, exec, "demo.service")
			require.NoError(t, err)
			assert.Equal(t, tt.want, state)
		})
	}
}

func TestCertPaths(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "/etc/letsencrypt/live/demo.example.com/fullchain.pem", CertFullchainPath("demo.example.com"))
	assert.Equal(t, "/etc/letsencrypt/live/demo.example.com/privkey.pem", CertPrivkeyPath("demo.example.com"))
}
