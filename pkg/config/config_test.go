// pkg/config/config_test.go

package config

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	// Point HOME somewhere empty so a developer's real config cannot leak in.
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "root", cfg.SSH.User)
	assert.Equal(t, 22, cfg.SSH.Port)
	assert.True(t, cfg.SSH.StrictHostKey)
	assert.Equal(t, 15*time.Second, cfg.SSH.DialTimeout)
	assert.Equal(t, "/var/www/letsencrypt", cfg.ACME.Webroot)
	assert.False(t, cfg.DNS.Enabled)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("CHARON_AUDIT_DIR", "/tmp/charon-runs")

	cfg, err := Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/tmp/charon-runs", cfg.AuditDir)
}
