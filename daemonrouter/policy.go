package daemonrouter

import (
	"fmt"
	"strings"
)

// PolicyGate rejects blocked argument forms in remote commands: local-side
// delivery flags, destructive deletion commands, and daemon-bootstrap
// flags. It runs after preset expansion and command-prefix/planner
// resolution, regardless of how the final command text was obtained.
type PolicyGate struct {
	blockedFlags    []string
	blockedCommands []string
}

// DefaultPolicyGate blocks the standard remote-context hazards:
// local-side delivery flags (only meaningful when run from the CLI on the
// machine itself), destructive deletion commands, and flags that would
// bootstrap a second daemon instance.
func DefaultPolicyGate() *PolicyGate {
	return &PolicyGate{
		blockedFlags: []string{
			"--deliver-local",
			"--local-only-output",
			"--daemon-bootstrap",
			"--serve",
		},
		blockedCommands: []string{
			"delete all",
			"sessions delete all",
			"memory clear all",
		},
	}
}

// Check inspects command text (after preset expansion and planner
// resolution) and returns a non-nil error describing the violation if the
// command is blocked.
func (g *PolicyGate) Check(commandText string) error {
	lower := strings.ToLower(commandText)
	for _, flag := range g.blockedFlags {
		if strings.Contains(lower, strings.ToLower(flag)) {
			return fmt.Errorf("%q is not permitted from a remote context", flag)
		}
	}
	for _, cmd := range g.blockedCommands {
		if strings.Contains(lower, cmd) {
			return fmt.Errorf("destructive command %q is not permitted from a remote context", cmd)
		}
	}
	return nil
}
