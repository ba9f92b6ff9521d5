// pkg/config/config.go
//
// Engine configuration. Read from /etc/charon/charon.yaml or
// ~/.charon/charon.yaml, overridable through CHARON_* environment
// variables; command-line flags win over both.

package config

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/CodeMonkeyCybersecurity/charon/pkg/dns"
	cerr "github.com/cockroachdb/errors"
	"github.com/spf13/viper"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// SSHConfig is the default transport configuration for remote targets.
type SSHConfig struct {
	User           string        `mapstructure:"user"`
	Port           int           `mapstructure:"port"`
	KeyPath        string        `mapstructure:"key_path"`
	KnownHostsPath string        `mapstructure:"known_hosts_path"`
	StrictHostKey  bool          `mapstructure:"strict_host_key"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
}

// ACMEConfig configures the certificate collaborator.
type ACMEConfig struct {
	Email   string `mapstructure:"email"`
	Webroot string `mapstructure:"webroot"`
}

// Config is the full engine configuration.
type Config struct {
	SSH      SSHConfig  `mapstructure:"ssh"`
	ACME     ACMEConfig `mapstructure:"acme"`
	DNS      dns.Config `mapstructure:"dns"`
	AuditDir string     `mapstructure:"audit_dir"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("ssh.user", "root")
	v.SetDefault("ssh.port", 22)
	v.SetDefault("ssh.strict_host_key", true)
	v.SetDefault("ssh.dial_timeout", 15*time.Second)
	if home, err := os.UserHomeDir(); err == nil {
		v.SetDefault("ssh.known_hosts_path", filepath.Join(home, ".ssh", "known_hosts"))
	}
	v.SetDefault("acme.webroot", "/var/www/letsencrypt")
	v.SetDefault("dns.enabled", false)
	v.SetDefault("audit_dir", "")
}

// Load reads configuration from disk and environment. A missing config
// file is fine; the defaults cover local and flag-driven use.
func Load(ctx context.Context) (*Config, error) {
	logger := otelzap.Ctx(ctx)

	v := viper.New()
	v.SetConfigName("charon")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/charon")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".charon"))
	}
	v.SetEnvPrefix("CHARON")
	v.AutomaticEnv()
	defaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !cerr.As(err, &notFound) {
			return nil, cerr.Wrap(err, "read config file")
		}
		logger.Debug("No config file found, using defaults")
	} else {
		logger.Debug("Config loaded", zap.String("file", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, cerr.Wrap(err, "unmarshal config")
	}
	return &cfg, nil
}
