// pkg/plan/audit.go
//
// Run records are append-only YAML files, one per run, so an operator can
// inspect exactly what a deployment did and the rollback verb can replay
// undos from the last run.

package plan

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/CodeMonkeyCybersecurity/charon/pkg/charon_err"
	"github.com/CodeMonkeyCybersecurity/charon/pkg/charon_io"
	"github.com/CodeMonkeyCybersecurity/charon/pkg/step"
	cerr "github.com/cockroachdb/errors"
)

// RunRecord is the persisted audit record of one plan execution.
type RunRecord struct {
	RunID      string                 `yaml:"runId"`
	Project    string                 `yaml:"project"`
	Domain     string                 `yaml:"domain"`
	State      State                  `yaml:"state"`
	StartedAt  time.Time              `yaml:"startedAt"`
	FinishedAt time.Time              `yaml:"finishedAt"`
	Results    []step.ExecutionResult `yaml:"results"`
}

// DefaultAuditDir prefers the system location and falls back to the user's
// home when not writable (non-root invocations of plan/status).
func DefaultAuditDir() string {
	system := "/var/log/charon/runs"
	if err := os.MkdirAll(system, 0o755); err == nil {
		return system
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return os.TempDir()
	}
	return filepath.Join(home, ".charon", "runs")
}

func (p *Plan) persistAudit(ctx context.Context) error {
	if err := os.MkdirAll(p.auditDir, 0o755); err != nil {
		return cerr.Wrapf(err, "create audit dir %s", p.auditDir)
	}
	record := RunRecord{
		RunID:      p.RunID,
		Project:    p.Descriptor.Name,
		Domain:     p.Descriptor.Domain,
		State:      p.State,
		StartedAt:  p.StartedAt,
		FinishedAt: time.Now(),
		Results:    p.Results,
	}
	path := filepath.Join(p.auditDir, p.RunID+".yaml")
	// Step output can echo database credentials; owner-only like the unit
	// file.
	return charon_io.WriteYAML(ctx, path, &record, 0o600)
}

// LoadLatestRecord returns the most recent run record for a project, or an
// error when the project has never been deployed from this machine.
func LoadLatestRecord(ctx context.Context, auditDir, projectName string) (*RunRecord, error) {
	entries, err := os.ReadDir(auditDir)
	if err != nil {
		return nil, cerr.Wrapf(err, "read audit dir %s", auditDir)
	}

	var records []*RunRecord
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		var record RunRecord
		if err := charon_io.ReadYAML(ctx, filepath.Join(auditDir, entry.Name()), &record); err != nil {
			// A malformed record should not hide valid ones.
			continue
		}
		if record.Project == projectName {
			records = append(records, &record)
		}
	}
	if len(records) == 0 {
		return nil, charon_err.NewExpectedError(ctx,
			cerr.Newf("no run records for project %s in %s", projectName, auditDir))
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].StartedAt.After(records[j].StartedAt)
	})
	return records[0], nil
}
