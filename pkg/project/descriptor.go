// pkg/project/descriptor.go
//
// ProjectDescriptor is the operator-supplied record a deployment plan is
// generated from. It is treated as immutable once a plan has been built.

package project

import (
	"fmt"
	"path/filepath"
	"regexp"

	"github.com/CodeMonkeyCybersecurity/charon/pkg/charon_err"
	"github.com/CodeMonkeyCybersecurity/charon/pkg/charon_io"
	"github.com/go-playground/validator/v10"
)

// namePattern keeps names safe for use as a path and unit-name segment.
var namePattern = regexp.MustCompile(`^[a-z][a-z0-9-]{0,62}$`)

// Descriptor describes one project to deploy.
type Descriptor struct {
	Name    string `yaml:"name" validate:"required"`
	RepoURL string `yaml:"repoUrl" validate:"required,url"`
	// Branch is optional; empty means the remote's default branch.
	Branch        string `yaml:"branch"`
	Domain        string `yaml:"domain" validate:"required,fqdn"`
	AppPort       int    `yaml:"appPort" validate:"required,min=1,max=65535"`
	DBUser        string `yaml:"dbUser" validate:"required"`
	DBPassword    string `yaml:"dbPassword" validate:"required"`
	DBName        string `yaml:"dbName" validate:"required"`
	AppEntrypoint string `yaml:"appEntrypoint" validate:"required"`
}

var validate = validator.New()

// Validate applies struct tags plus the constraints that tags cannot express.
func (d *Descriptor) Validate() error {
	if err := validate.Struct(d); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			first := verrs[0]
			return charon_err.NewValidationError(first.Field(), fmt.Sprintf("failed %q constraint", first.Tag()))
		}
		return charon_err.NewValidationError("", err.Error())
	}

	if !namePattern.MatchString(d.Name) {
		return charon_err.NewValidationError("name", "must match [a-z][a-z0-9-]* (used as path and unit-name segment)")
	}
	// The engine itself owns 80/443 through nginx.
	if d.AppPort == 80 || d.AppPort == 443 {
		return charon_err.NewValidationError("appPort", "ports 80 and 443 are reserved for the reverse proxy")
	}
	return nil
}

// Load reads and validates a descriptor from a YAML file.
func Load(rc *charon_io.RuntimeContext, path string) (*Descriptor, error) {
	var d Descriptor
	if err := charon_io.ReadYAML(rc.Ctx, path, &d); err != nil {
		return nil, charon_err.NewValidationError("descriptor", err.Error())
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Derived layout. Every artifact for a project lives under its own
// directory so projects on a shared host stay isolated.

func (d *Descriptor) ProjectDir() string { return filepath.Join("/opt", d.Name) }

func (d *Descriptor) AppDir() string { return filepath.Join(d.ProjectDir(), "app") }

func (d *Descriptor) VenvDir() string { return filepath.Join(d.ProjectDir(), "venv") }

func (d *Descriptor) LogDir() string { return filepath.Join("/var/log", d.Name) }

func (d *Descriptor) UnitName() string { return d.Name + ".service" }

func (d *Descriptor) DBContainerName() string { return d.Name + "-db" }

// LoopbackBind is the only address the application is ever told to bind.
func (d *Descriptor) LoopbackBind() string { return fmt.Sprintf("127.0.0.1:%d", d.AppPort) }
