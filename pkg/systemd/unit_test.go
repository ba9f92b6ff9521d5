// pkg/systemd/unit_test.go

package systemd

import (
	"context"
	"strings"
	"testing"

	"github.com/CodeMonkeyCybersecurity/charon/pkg/charon_err"
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

func TestRenderUnitBindsLoopbackOnly(t *testing.T) {
	ctx := context.Background()
	m := NewManager(testutil.NewFakeExecutor(), nil)

	rendered, err := m.RenderUnit(ctx, demoDescriptor())
	require.NoError(t, err)

	assert.Contains(t, rendered, "--bind 127.0.0.1:8000")
	assert.NotContains(t, rendered, "0.0.0.0")
	assert.Contains(t, rendered, "Restart=on-failure")
	assert.Contains(t, rendered, "RestartSec=5")
	assert.Contains(t, rendered, "WorkingDirectory=/opt/demo/app")
	assert.Contains(t, rendered, "Environment=PATH=/opt/demo/venv/bin:")
	assert.Contains(t, rendered, "StandardOutput=append:/var/log/demo/app.log")
}

func TestRenderUnitRejectsNonLoopback(t *testing.T) {
	err := rejectNonLoopbackBind("ExecStart=/usr/bin/gunicorn --bind 0.0.0.0:8000 app:app")
	assert.Error(t, err)

	err = rejectNonLoopbackBind("ExecStart=/usr/bin/gunicorn --bind 127.0.0.1:8000 app:app")
	assert.NoError(t, err)
}

func TestInstallWritesUnitAndStarts(t *testing.T) {
	ctx := context.Background()
	exec := testutil.NewFakeExecutor()
	m := NewManager(exec, nil)
	d := demoDescriptor()

	require.NoError(t, m.Install(ctx, d))

	unit, ok := exec.Files["/etc/systemd/system/demo.service"]
	require.True(t, ok, "unit file must be written")
	assert.Contains(t, string(unit), "--bind 127.0.0.1:8000")

	assert.True(t, exec.RanCommand("'daemon-reload'"))
	assert.True(t, exec.RanCommand("'enable' '--now' 'demo.service'"))
}

func TestInstallSurfacesActivationError(t *testing.T) {
	ctx := context.Background()
	exec := testutil.NewFakeExecutor()
	exec.Script("systemctl 'enable'", testutil.Response{
		ExitCode: 1,
		Stderr:   "Failed to enable unit: Invalid argument",
	})
	exec.Script("systemctl 'status'", testutil.Response{
		Stdout: "demo.service: bad unit file setting",
	})
	m := NewManager(exec, nil)

	err := m.Install(ctx, demoDescriptor())
	require.Error(t, err)
	assert.True(t, charon_err.IsActivation(err))
	assert.Contains(t, err.Error(), "bad unit file setting", "raw supervisor diagnostic must be surfaced")
}

func TestTemplateRenderErrorWraps(t *testing.T) {
	t.Parallel()

	inner := cerr.New("missing field")
	err := &TemplateRenderError{Unit: "demo.service", Err: inner}
	assert.Contains(t, err.Error(), "demo.service")
	assert.ErrorIs(t, err, inner)
}

func TestReconcile(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		isActive   testutil.Response
		want       ServiceStatus
		restarted  bool
	}{
		{"active stays put", testutil.Response{Stdout: "active\n"}, StatusActive, false},
		{"activating reported", testutil.Response{Stdout: "activating\n", ExitCode: 3}, StatusActivating, false},
		{"inactive reported", testutil.Response{Stdout: "inactive\n", ExitCode: 3}, StatusInactive, false},
		{"failed triggers restart", testutil.Response{Stdout: "failed\n", ExitCode: 3}, StatusRestarting, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := testutil.NewFakeExecutor()
			exec.Script("systemctl 'is-active'", tt.isActive)
			m := NewManager(exec, nil)

			status, err := m.Reconcile(ctx, demoDescriptor())
			require.NoError(t, err)
			assert.Equal(t, tt.want, status)
			assert.Equal(t, tt.restarted, exec.RanCommand("'restart'"))
		})
	}
}

func TestStopToleratesMissingUnit(t *testing.T) {
	ctx := context.Background()
	exec := testutil.NewFakeExecutor()
	exec.Script("systemctl 'stop'", testutil.Response{ExitCode: ExitNotLoaded, Stderr: "Unit demo.service not loaded."})
	m := NewManager(exec, nil)

	assert.NoError(t, m.Stop(ctx, demoDescriptor()))
}

func TestRemoveDeletesUnitFile(t *testing.T) {
	ctx := context.Background()
	exec := testutil.NewFakeExecutor()
	m := NewManager(exec, nil)

	require.NoError(t, m.Remove(ctx, demoDescriptor()))
	assert.True(t, exec.RanCommand("rm '-f' '/etc/systemd/system/demo.service'"))
	assert.True(t, exec.RanCommand("'daemon-reload'"))
}

func TestUnitPathUsesDescriptorName(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "/etc/systemd/system/demo.service", UnitPath(demoDescriptor()))
	assert.False(t, strings.Contains(UnitPath(demoDescriptor()), ".."))
}
