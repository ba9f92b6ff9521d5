// pkg/nginx/nginx_test.go

package nginx

import (
	"context"
	"testing"

	"github.com/CodeMonkeyCybersecurity/charon/pkg/certs"
	"github.com/CodeMonkeyCybersecurity/charon/pkg/project"
	"github.com/CodeMonkeyCybersecurity/charon/pkg/testutil"
	cerr "github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func demoDescriptor() *project.Descriptor {
	return &project.Descriptor{
		Name:          "demo",
		RepoURL:       "https://github.com/example/demo.git",
		Domain:        "demo.example.com",
		AppPort:       8000,
		DBUser:        "demo",
		DBPassword:    "s3cret",
		DBName:        "demo",
		AppEntrypoint: "app.main:app",
	}
}

func TestRenderBootstrapMode(t *testing.T) {
	ctx := context.Background()
	m := NewManager(testutil.NewFakeExecutor(), nil)

	rendered, err := m.Render(ctx, demoDescriptor(), nil)
	require.NoError(t, err)

	assert.Contains(t, rendered, "listen 80;")
	assert.NotContains(t, rendered, "listen 443", "bootstrap config must not reference TLS yet")
	assert.NotContains(t, rendered, "return 301", "bootstrap config must not redirect to HTTPS")
	assert.Contains(t, rendered, "proxy_pass http://127.0.0.1:8000")
	assert.Contains(t, rendered, "/.well-known/acme-challenge/")
	assert.Contains(t, rendered, `proxy_set_header Upgrade $http_upgrade`)
	assert.Contains(t, rendered, `proxy_set_header X-Forwarded-Proto $scheme`)
	assert.NotContains(t, rendered, "0.0.0.0")
}

func TestRenderTLSMode(t *testing.T) {
	ctx := context.Background()
	m := NewManager(testutil.NewFakeExecutor(), nil)

	paths := certs.PathsFor("demo.example.com")
	rendered, err := m.Render(ctx, demoDescriptor(), &paths)
	require.NoError(t, err)

	assert.Contains(t, rendered, "listen 443 ssl;")
	assert.Contains(t, rendered, "return 301 https://$host$request_uri;")
	assert.Contains(t, rendered, "ssl_certificate /etc/letsencrypt/live/demo.example.com/fullchain.pem;")
	assert.Contains(t, rendered, "ssl_certificate_key /etc/letsencrypt/live/demo.example.com/privkey.pem;")
	assert.Contains(t, rendered, "proxy_pass http://127.0.0.1:8000")
	// Challenge path stays reachable for renewals.
	assert.Contains(t, rendered, "/.well-known/acme-challenge/")
}

func TestInstallWritesAndEnables(t *testing.T) {
	ctx := context.Background()
	exec := testutil.NewFakeExecutor()
	m := NewManager(exec, nil)

	rb, err := m.Install(ctx, demoDescriptor(), nil)
	require.NoError(t, err)
	assert.False(t, rb.Existed)

	_, ok := exec.Files["/etc/nginx/sites-available/demo.conf"]
	assert.True(t, ok)
	assert.True(t, exec.RanCommand("ln '-sf'"))
	assert.True(t, exec.RanCommand("nginx -t"))
}

func TestInstallCapturesPreviousConfig(t *testing.T) {
	ctx := context.Background()
	exec := testutil.NewFakeExecutor()
	exec.Files["/etc/nginx/sites-available/demo.conf"] = []byte("server { old }")
	m := NewManager(exec, nil)

	rb, err := m.Install(ctx, demoDescriptor(), nil)
	require.NoError(t, err)
	assert.True(t, rb.Existed)
	assert.Equal(t, "server { old }", string(rb.Previous))
}

func TestInstallSyntaxFailureRestoresPrevious(t *testing.T) {
	ctx := context.Background()
	exec := testutil.NewFakeExecutor()
	exec.Files["/etc/nginx/sites-available/demo.conf"] = []byte("server { old }")
	exec.Script("nginx -t", testutil.Response{
		ExitCode: 1,
		Stderr:   `nginx: [emerg] unexpected end of file in /etc/nginx/sites-enabled/demo.conf`,
	})
	m := NewManager(exec, nil)

	_, err := m.Install(ctx, demoDescriptor(), nil)
	require.Error(t, err)

	var cse *ConfigSyntaxError
	require.True(t, cerr.As(err, &cse))
	assert.Contains(t, cse.Diagnostic, "unexpected end of file")

	// Prior config restored on disk; nothing was reloaded.
	assert.Equal(t, "server { old }", string(exec.Files["/etc/nginx/sites-available/demo.conf"]))
	assert.False(t, exec.RanCommand("'reload'"), "activation must not happen after a syntax failure")
}

func TestActivateReloadsNotRestarts(t *testing.T) {
	ctx := context.Background()
	exec := testutil.NewFakeExecutor()
	m := NewManager(exec, nil)

	require.NoError(t, m.Activate(ctx))
	assert.True(t, exec.RanCommand("systemctl 'reload' 'nginx'"))
	assert.False(t, exec.RanCommand("restart"), "restart would drop in-flight connections")
}

func TestRevertRestoresAndReloads(t *testing.T) {
	ctx := context.Background()
	exec := testutil.NewFakeExecutor()
	m := NewManager(exec, nil)

	rb := &Rollback{Existed: true, Previous: []byte("server { old }")}
	require.NoError(t, m.Revert(ctx, demoDescriptor(), rb))

	assert.Equal(t, "server { old }", string(exec.Files["/etc/nginx/sites-available/demo.conf"]))
	assert.True(t, exec.RanCommand("systemctl 'reload' 'nginx'"))
}

func TestRevertRemovesWhenNothingExisted(t *testing.T) {
	ctx := context.Background()
	exec := testutil.NewFakeExecutor()
	m := NewManager(exec, nil)

	require.NoError(t, m.Revert(ctx, demoDescriptor(), &Rollback{}))
	assert.True(t, exec.RanCommand("rm '-f' '/etc/nginx/sites-available/demo.conf' '/etc/nginx/sites-enabled/demo.conf'"))
}
