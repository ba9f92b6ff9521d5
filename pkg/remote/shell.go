// pkg/remote/shell.go

package remote

import (
	"fmt"
	"strings"

	cerr "github.com/cockroachdb/errors"
	"mvdan.cc/sh/v3/syntax"
)

// Quote wraps s in single quotes, escaping embedded quotes, so descriptor
// fields can be spliced into a command line safely.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// BuildCommand joins a program and pre-quoted arguments into one line.
// Every argument is quoted; the program name is taken as-is.
func BuildCommand(program string, args ...string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, program)
	for _, a := range args {
		parts = append(parts, Quote(a))
	}
	return strings.Join(parts, " ")
}

// CheckSyntax parses a shell snippet with a POSIX grammar before it is ever
// sent to a host. Rendered templates go through this; a template bug should
// fail in-process, not half-way through a deploy.
func CheckSyntax(script string) error {
	parser := syntax.NewParser(syntax.Variant(syntax.LangPOSIX))
	if _, err := parser.Parse(strings.NewReader(script), "generated.sh"); err != nil {
		return cerr.Wrap(err, "generated shell script failed syntax check")
	}
	return nil
}

// sudoWrap wraps a command line for non-interactive privilege escalation.
func sudoWrap(command string) string {
	return fmt.Sprintf("sudo -n sh -c %s", Quote(command))
}
