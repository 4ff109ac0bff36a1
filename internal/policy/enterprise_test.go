package policy

import (
	"sync"
	"testing"

	"github.com/amaydixit11/syncd/internal/ids"
	"github.com/amaydixit11/syncd/internal/model"
)

func fixedClock(ts uint64) func() uint64 { return func() uint64 { return ts } }

func TestEnterpriseHandshakeOpenModeWithNoKnownPeers(t *testing.T) {
	e := NewEnterpriseSyncPolicy(fixedClock(1))
	if err := e.OnHandshake(ids.NewPeerId(), ids.NewPeerId()); err != nil {
		t.Fatalf("open mode should accept any peer, got %v", err)
	}
}

func TestEnterpriseHandshakeDeniesUnknownPeerOnceRestricted(t *testing.T) {
	e := NewEnterpriseSyncPolicy(fixedClock(1))
	known := ids.NewPeerId()
	stranger := ids.NewPeerId()
	e.AddKnownPeer(known)

	if err := e.OnHandshake(ids.NewPeerId(), known); err != nil {
		t.Fatalf("known peer should be accepted, got %v", err)
	}
	if err := e.OnHandshake(ids.NewPeerId(), stranger); err == nil {
		t.Fatal("unknown peer should be denied once knownPeers is non-empty")
	}
}

func TestEnterpriseResolveRolePrecedence(t *testing.T) {
	e := NewEnterpriseSyncPolicy(fixedClock(1))
	entity := ids.NewEntityId()
	team := ids.NewTeamId()
	peer := ids.NewPeerId()

	e.SetDefaultRole(entity, model.RoleViewer)
	if got := e.resolveRole(peer, entity); got != model.RoleViewer {
		t.Fatalf("expected default role, got %v", got)
	}

	e.GrantTeamRole(entity, team, model.RoleEditor)
	e.AddTeamMember(team, peer)
	if got := e.resolveRole(peer, entity); got != model.RoleEditor {
		t.Fatalf("expected team role to beat default, got %v", got)
	}

	e.GrantPeerRole(entity, peer, model.RoleAdmin)
	if got := e.resolveRole(peer, entity); got != model.RoleAdmin {
		t.Fatalf("expected explicit peer override to beat team role, got %v", got)
	}

	e.RevokePeerRole(entity, peer)
	if got := e.resolveRole(peer, entity); got != model.RoleEditor {
		t.Fatalf("revoking the override should fall back to team role, got %v", got)
	}
}

func TestEnterpriseOnEventReceiveRequiresEditorForDataAdminForAcl(t *testing.T) {
	e := NewEnterpriseSyncPolicy(fixedClock(1))
	entity := ids.NewEntityId()
	peer := ids.NewPeerId()
	e.GrantPeerRole(entity, peer, model.RoleViewer)

	dataEvent := model.NewEvent(entity, peer, ids.HybridTimestamp{}, model.Payload{Kind: model.PayloadEntityUpdated})
	aclEvent := model.NewEvent(entity, peer, ids.HybridTimestamp{}, model.Payload{Kind: model.PayloadAclGrantPeer})

	if out := e.OnEventReceive(peer, entity, []model.Event{dataEvent}); len(out) != 0 {
		t.Fatal("viewer should not be able to write data")
	}

	e.GrantPeerRole(entity, peer, model.RoleEditor)
	if out := e.OnEventReceive(peer, entity, []model.Event{dataEvent}); len(out) != 1 {
		t.Fatal("editor should be able to write data")
	}
	if out := e.OnEventReceive(peer, entity, []model.Event{aclEvent}); len(out) != 0 {
		t.Fatal("editor should not be able to mutate acls")
	}

	e.GrantPeerRole(entity, peer, model.RoleAdmin)
	if out := e.OnEventReceive(peer, entity, []model.Event{aclEvent}); len(out) != 1 {
		t.Fatal("admin should be able to mutate acls")
	}
}

func TestEnterpriseOnEventSendGatesAclPayloadsOnOriginRole(t *testing.T) {
	e := NewEnterpriseSyncPolicy(fixedClock(1))
	entity := ids.NewEntityId()
	reader := ids.NewPeerId()
	admin := ids.NewPeerId()
	editor := ids.NewPeerId()
	e.GrantPeerRole(entity, reader, model.RoleViewer)
	e.GrantPeerRole(entity, admin, model.RoleAdmin)
	e.GrantPeerRole(entity, editor, model.RoleEditor)

	data := model.NewEvent(entity, editor, ids.HybridTimestamp{}, model.Payload{Kind: model.PayloadEntityUpdated})
	adminGrant := model.NewEvent(entity, admin, ids.HybridTimestamp{}, model.Payload{Kind: model.PayloadAclGrantPeer, AclEntityID: entity})
	editorGrant := model.NewEvent(entity, editor, ids.HybridTimestamp{}, model.Payload{Kind: model.PayloadAclGrantPeer, AclEntityID: entity})

	out := e.OnEventSend(reader, entity, []model.Event{data, adminGrant, editorGrant})
	if len(out) != 2 {
		t.Fatalf("expected the data event and the admin-authored grant, got %d", len(out))
	}
	for _, ev := range out {
		if ev.ID == editorGrant.ID {
			t.Fatal("an acl event authored below admin must be stripped")
		}
	}

	stranger := ids.NewPeerId()
	if out := e.OnEventSend(stranger, entity, []model.Event{data}); len(out) != 0 {
		t.Fatal("a peer with no role must receive nothing")
	}
}

// TestEnterpriseDeviceLimitConcurrentRegistration exercises the mutex-guarded
// device-limit gate under concurrency: of 20 distinct devices racing against
// a limit of 5, exactly 5 should be accepted.
func TestEnterpriseDeviceLimitConcurrentRegistration(t *testing.T) {
	e := NewEnterpriseSyncPolicy(fixedClock(1))
	peer := ids.NewPeerId()
	e.SetDeviceLimit(peer, 5)

	const n = 20
	devices := make([]ids.DeviceId, n)
	for i := range devices {
		devices[i] = ids.NewDeviceId()
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0

	wg.Add(n)
	for i := 0; i < n; i++ {
		d := devices[i]
		go func() {
			defer wg.Done()
			if err := e.OnDeviceCheck(peer, &d); err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if accepted != 5 {
		t.Fatalf("expected exactly 5 accepted registrations, got %d", accepted)
	}
}

func TestEnterpriseDeviceCheckReusesRegisteredDevice(t *testing.T) {
	e := NewEnterpriseSyncPolicy(fixedClock(1))
	peer := ids.NewPeerId()
	e.SetDeviceLimit(peer, 1)
	device := ids.NewDeviceId()

	if err := e.OnDeviceCheck(peer, &device); err != nil {
		t.Fatalf("first registration should succeed: %v", err)
	}
	if err := e.OnDeviceCheck(peer, &device); err != nil {
		t.Fatalf("re-checking an already-registered device should succeed: %v", err)
	}

	other := ids.NewDeviceId()
	if err := e.OnDeviceCheck(peer, &other); err == nil {
		t.Fatal("a second distinct device should be denied once the limit is reached")
	}
}

func TestEnterpriseEntitiesForPeerAlwaysFalse(t *testing.T) {
	e := NewEnterpriseSyncPolicy(fixedClock(1))
	if _, ok := e.EntitiesForPeer(ids.NewPeerId()); ok {
		t.Fatal("enterprise policy filters per-entity by role, not per-peer set")
	}
}
