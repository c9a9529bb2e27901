package connection

import (
	"slices"
	"strings"

	"github.com/yndnr/graphmesh-go/internal/core/domain"
)

// Targets implements rpc.Resolver over addresses given on the command line.
type Targets struct {
	Coordinators []string
}

// Resolve treats id as the node's address.
func (t Targets) Resolve(id string) (string, bool) {
	id = strings.TrimSpace(id)
	return id, id != ""
}

// IDs returns the configured coordinators; other roles are addressed directly.
func (t Targets) IDs(role string) []string {
	if role != domain.RoleCoordinator {
		return nil
	}
	return slices.Clone(t.Coordinators)
}
