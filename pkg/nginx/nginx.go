// pkg/nginx/nginx.go
//
// ReverseProxyManager: renders and installs the routing rule mapping a
// public domain to the application's loopback bind, validates syntax with
// nginx's own checker before activating, and reloads without dropping
// in-flight connections. Reload, never restart: nginx finishes existing
// requests on the old workers while new workers pick up the new config.

package nginx

import (
	"context"
	"fmt"
	"strings"

	"github.com/CodeMonkeyCybersecurity/charon/pkg/certs"
	"github.com/CodeMonkeyCybersecurity/charon/pkg/project"
	"github.com/CodeMonkeyCybersecurity/charon/pkg/remote"
	"github.com/CodeMonkeyCybersecurity/charon/pkg/templates"
	cerr "github.com/cockroachdb/errors"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

const (
	SitesAvailable = "/etc/nginx/sites-available"
	SitesEnabled   = "/etc/nginx/sites-enabled"

	// AcmeWebroot serves HTTP-01 challenges in both bootstrap and TLS
	// configurations.
	AcmeWebroot = "/var/www/letsencrypt"
)

// ConfigSyntaxError carries nginx's own verdict on a rendered config.
type ConfigSyntaxError struct {
	Path       string
	Diagnostic string
}

func (e *ConfigSyntaxError) Error() string {
	return fmt.Sprintf("nginx rejected %s: %s", e.Path, e.Diagnostic)
}

// httpOnlyTemplate is bootstrap mode: serve the app over plain HTTP so the
// ACME webroot is reachable before any certificate exists. No redirect yet.
const httpOnlyTemplate = `server {
    listen 80;
    server_name {{.Domain}};

    location /.well-known/acme-challenge/ {
        root {{.AcmeWebroot}};
    }

    location / {
        proxy_pass http://127.0.0.1:{{.AppPort}};
        proxy_set_header Host $host;
        proxy_set_header X-Real-IP $remote_addr;
        proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;
        proxy_set_header X-Forwarded-Proto $scheme;
        proxy_http_version 1.1;
        proxy_set_header Upgrade $http_upgrade;
        proxy_set_header Connection "upgrade";
        proxy_read_timeout 300s;
    }
}
`

// tlsTemplate is the final shape: port 80 redirects, port 443 terminates
// TLS and proxies to loopback.
const tlsTemplate = `server {
    listen 80;
    server_name {{.Domain}};

    location /.well-known/acme-challenge/ {
        root {{.AcmeWebroot}};
    }

    location / {
        return 301 https://$host$request_uri;
    }
}

server {
    listen 443 ssl;
    server_name {{.Domain}};

    ssl_certificate {{.Fullchain}};
    ssl_certificate_key {{.Privkey}};

    location / {
        proxy_pass http://127.0.0.1:{{.AppPort}};
        proxy_set_header Host $host;
        proxy_set_header X-Real-IP $remote_addr;
        proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;
        proxy_set_header X-Forwarded-Proto $scheme;
        proxy_http_version 1.1;
        proxy_set_header Upgrade $http_upgrade;
        proxy_set_header Connection "upgrade";
        proxy_read_timeout 300s;
    }
}
`

// Manager implements the reverse-proxy side of a deployment.
type Manager struct {
	exec     remote.Executor
	renderer *templates.Renderer
}

func NewManager(exec remote.Executor, renderer *templates.Renderer) *Manager {
	if renderer == nil {
		renderer = templates.NewRenderer(nil)
	}
	return &Manager{exec: exec, renderer: renderer}
}

func ConfigPath(d *project.Descriptor) string {
	return SitesAvailable + "/" + d.Name + ".conf"
}

func EnabledPath(d *project.Descriptor) string {
	return SitesEnabled + "/" + d.Name + ".conf"
}

// Rollback captures what Install replaced, so a failed later step can put
// the previous routing rule back.
type Rollback struct {
	Existed  bool
	Previous []byte
}

// Render produces the config for a descriptor. certPaths nil means
// bootstrap (HTTP-only) mode.
func (m *Manager) Render(ctx context.Context, d *project.Descriptor, certPaths *certs.CertPaths) (string, error) {
	data := map[string]interface{}{
		"Domain":      d.Domain,
		"AppPort":     d.AppPort,
		"AcmeWebroot": AcmeWebroot,
	}
	tmpl := httpOnlyTemplate
	if certPaths != nil {
		tmpl = tlsTemplate
		data["Fullchain"] = certPaths.Fullchain
		data["Privkey"] = certPaths.Privkey
	}

	rendered, err := m.renderer.RenderString(ctx, tmpl, data, nil)
	if err != nil {
		return "", cerr.Wrapf(err, "render proxy config for %s", d.Domain)
	}
	if strings.Contains(rendered, "0.0.0.0") {
		return "", cerr.New("rendered proxy config contains a non-loopback upstream")
	}
	if !strings.Contains(rendered, fmt.Sprintf("proxy_pass http://127.0.0.1:%d", d.AppPort)) {
		return "", cerr.New("rendered proxy config does not forward to the loopback bind")
	}
	return rendered, nil
}

// Install writes the config, enables it, and validates. On a syntax
// failure the previous file is restored and the live configuration is
// untouched. Install does not reload; call Activate after.
func (m *Manager) Install(ctx context.Context, d *project.Descriptor, certPaths *certs.CertPaths) (*Rollback, error) {
	logger := otelzap.Ctx(ctx)

	rendered, err := m.Render(ctx, d, certPaths)
	if err != nil {
		return nil, err
	}

	rb := &Rollback{}
	path := ConfigPath(d)
	if exists, err := m.exec.FileExists(ctx, path); err != nil {
		return nil, err
	} else if exists {
		prev, err := m.exec.ReadFile(ctx, path)
		if err != nil {
			return nil, cerr.Wrap(err, "capture previous proxy config")
		}
		rb.Existed = true
		rb.Previous = prev
	}

	if err := m.exec.PutFile(ctx, []byte(rendered), path, "0644", "root:root"); err != nil {
		return nil, cerr.Wrapf(err, "write proxy config %s", path)
	}
	if _, err := m.exec.Run(ctx, remote.Options{
		Command: remote.BuildCommand("ln", "-sf", path, EnabledPath(d)),
	}); err != nil {
		return nil, cerr.Wrap(err, "enable proxy config")
	}

	if err := m.Validate(ctx); err != nil {
		// Put the old file back; nginx is still serving the old config
		// since no reload happened, and disk should agree with it.
		if restoreErr := m.restore(ctx, d, rb); restoreErr != nil {
			logger.Error("Failed to restore previous proxy config after syntax failure",
				zap.Error(restoreErr))
		}
		return nil, err
	}

	mode := "bootstrap (HTTP only)"
	if certPaths != nil {
		mode = "TLS"
	}
	logger.Info("Proxy config installed",
		zap.String("domain", d.Domain),
		zap.String("mode", mode))
	return rb, nil
}

// Validate runs nginx's built-in syntax check against the full active
// configuration.
func (m *Manager) Validate(ctx context.Context) error {
	result, err := m.exec.Run(ctx, remote.Options{Command: "nginx -t"})
	if err != nil {
		diagnostic := strings.TrimSpace(result.Stderr)
		if diagnostic == "" {
			diagnostic = err.Error()
		}
		return cerr.WithStack(&ConfigSyntaxError{Path: "/etc/nginx", Diagnostic: diagnostic})
	}
	return nil
}

// Activate reloads nginx. Reload semantics guarantee no in-flight request
// observes a gap: old workers drain while new workers serve the new config.
func (m *Manager) Activate(ctx context.Context) error {
	if _, err := m.exec.Run(ctx, remote.Options{
		Command: remote.BuildCommand("systemctl", "reload", "nginx"),
	}); err != nil {
		var ce *remote.CommandError
		if cerr.As(err, &ce) {
			return cerr.WithStack(&ConfigSyntaxError{Path: "/etc/nginx", Diagnostic: ce.Stderr})
		}
		return err
	}
	return nil
}

// Revert restores the pre-deployment config (or removes the file when none
// existed), validates, and reloads.
func (m *Manager) Revert(ctx context.Context, d *project.Descriptor, rb *Rollback) error {
	if rb == nil {
		return nil
	}
	if err := m.restore(ctx, d, rb); err != nil {
		return err
	}
	if err := m.Validate(ctx); err != nil {
		return err
	}
	return m.Activate(ctx)
}

func (m *Manager) restore(ctx context.Context, d *project.Descriptor, rb *Rollback) error {
	path := ConfigPath(d)
	if rb.Existed {
		return m.exec.PutFile(ctx, rb.Previous, path, "0644", "root:root")
	}
	if _, err := m.exec.Run(ctx, remote.Options{
		Command: remote.BuildCommand("rm", "-f", path, EnabledPath(d)),
	}); err != nil {
		return cerr.Wrap(err, "remove proxy config")
	}
	return nil
}
