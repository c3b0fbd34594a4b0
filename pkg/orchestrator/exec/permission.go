package exec

import (
	"fmt"

	"github.com/docker/agent-substrate/pkg/agent"
	"github.com/docker/agent-substrate/pkg/errkind"
)

// CheckToolPermission enforces an agent's declared ToolPermissions
// before an AgentRunner invokes tool on its behalf, per spec.md §4.5.
// required is the capability the call needs; a descriptor that
// declares less than required (or doesn't mention the tool at all,
// which defaults to PermissionNone) is rejected.
func CheckToolPermission(desc agent.Descriptor, tool string, required agent.Permission) error {
	granted := desc.PermissionFor(tool)
	if permissionRank(granted) >= permissionRank(required) {
		return nil
	}
	return errkind.New(errkind.PermissionDenied, fmt.Errorf("%w: agent %q tool %q needs %s, has %s", ErrPermissionDenied, desc.Name, tool, required, granted))
}

// permissionRank orders Permission values by capability, None < Read <
// Write < Exec, so a granted permission can be compared against what a
// call requires.
func permissionRank(p agent.Permission) int {
	switch p {
	case agent.PermissionRead:
		return 1
	case agent.PermissionWrite:
		return 2
	case agent.PermissionExec:
		return 3
	default:
		return 0
	}
}
