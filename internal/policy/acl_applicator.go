package policy

import (
	"fmt"

	"github.com/amaydixit11/syncd/internal/model"
)

// ApplyAclEvent applies one ACL-as-CRDT payload event against e:
// AclGrantPeer/AclRevokePeer mutate peer_roles, TeamAddPeer/TeamRemovePeer
// mutate team membership. The caller (the sync engine's installed ACL
// handler) is responsible for having already verified the sender's role
// permits this; ApplyAclEvent itself performs no authorization check.
func ApplyAclEvent(e *EnterpriseSyncPolicy, ev model.Event) error {
	switch ev.Payload.Kind {
	case model.PayloadAclGrantPeer:
		return e.GrantPeerRole(ev.Payload.AclEntityID, ev.Payload.AclPeer, ev.Payload.AclRole)
	case model.PayloadAclRevokePeer:
		return e.RevokePeerRole(ev.Payload.AclEntityID, ev.Payload.AclPeer)
	case model.PayloadTeamAddPeer:
		return e.AddTeamMember(ev.Payload.TeamID, ev.Payload.TeamPeer)
	case model.PayloadTeamRemovePeer:
		return e.RemoveTeamMember(ev.Payload.TeamID, ev.Payload.TeamPeer)
	default:
		return fmt.Errorf("apply acl event: not an acl payload kind: %s", ev.Payload.Kind)
	}
}
