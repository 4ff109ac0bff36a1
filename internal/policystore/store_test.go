package policystore

import (
	"testing"

	"github.com/amaydixit11/syncd/internal/ids"
	"github.com/amaydixit11/syncd/internal/model"
	"github.com/amaydixit11/syncd/internal/policy"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("new policy store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndLoadACL(t *testing.T) {
	s := newTestStore(t)
	entity := ids.NewEntityId()
	peer := ids.NewPeerId()
	team := ids.NewTeamId()
	def := model.RoleViewer

	acl := policy.EntityAcl{
		EntityID:    entity,
		DefaultRole: &def,
		PeerRoles:   map[ids.PeerId]model.Role{peer: model.RoleAdmin},
		TeamRoles:   map[ids.TeamId]model.Role{team: model.RoleEditor},
	}
	if err := s.SaveACL(acl); err != nil {
		t.Fatalf("save acl: %v", err)
	}

	got, err := s.LoadACLs()
	if err != nil {
		t.Fatalf("load acls: %v", err)
	}
	loaded, ok := got[entity]
	if !ok {
		t.Fatal("expected the acl back")
	}
	if loaded.DefaultRole == nil || *loaded.DefaultRole != model.RoleViewer {
		t.Fatalf("default role mismatch: %v", loaded.DefaultRole)
	}
	if loaded.PeerRoles[peer] != model.RoleAdmin {
		t.Fatalf("peer role mismatch: %v", loaded.PeerRoles)
	}
	if loaded.TeamRoles[team] != model.RoleEditor {
		t.Fatalf("team role mismatch: %v", loaded.TeamRoles)
	}
}

func TestSaveACLUpsertsInPlace(t *testing.T) {
	s := newTestStore(t)
	entity := ids.NewEntityId()
	peer := ids.NewPeerId()

	acl := policy.EntityAcl{
		EntityID:  entity,
		PeerRoles: map[ids.PeerId]model.Role{peer: model.RoleViewer},
		TeamRoles: map[ids.TeamId]model.Role{},
	}
	s.SaveACL(acl)
	acl.PeerRoles[peer] = model.RoleOwner
	s.SaveACL(acl)

	got, err := s.LoadACLs()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 1 || got[entity].PeerRoles[peer] != model.RoleOwner {
		t.Fatalf("expected one upserted row with the new role, got %v", got)
	}
}

func TestTeamsDeviceLimitsKnownPeersRoundTrip(t *testing.T) {
	s := newTestStore(t)
	team := ids.NewTeamId()
	p1, p2 := ids.NewPeerId(), ids.NewPeerId()

	if err := s.SaveTeamMembers(team, map[ids.PeerId]struct{}{p1: {}, p2: {}}); err != nil {
		t.Fatalf("save team: %v", err)
	}
	teams, err := s.LoadTeams()
	if err != nil {
		t.Fatalf("load teams: %v", err)
	}
	if len(teams[team]) != 2 {
		t.Fatalf("expected 2 members, got %v", teams[team])
	}

	if err := s.SaveDeviceLimit(p1, 5); err != nil {
		t.Fatalf("save limit: %v", err)
	}
	limits, err := s.LoadDeviceLimits()
	if err != nil {
		t.Fatalf("load limits: %v", err)
	}
	if limits[p1] != 5 {
		t.Fatalf("limit mismatch: %v", limits)
	}

	if err := s.SaveKnownPeers(map[ids.PeerId]struct{}{p1: {}}); err != nil {
		t.Fatalf("save known: %v", err)
	}
	known, err := s.LoadKnownPeers()
	if err != nil {
		t.Fatalf("load known: %v", err)
	}
	if _, ok := known[p1]; !ok || len(known) != 1 {
		t.Fatalf("known peers mismatch: %v", known)
	}

	// Replacement semantics: a second save is not additive.
	s.SaveKnownPeers(map[ids.PeerId]struct{}{p2: {}})
	known, _ = s.LoadKnownPeers()
	if _, gone := known[p1]; gone || len(known) != 1 {
		t.Fatalf("save should replace the whole set, got %v", known)
	}
}

func TestActiveDevicesRoundTrip(t *testing.T) {
	s := newTestStore(t)
	peer := ids.NewPeerId()
	d1, d2 := ids.NewDeviceId(), ids.NewDeviceId()

	if err := s.SaveActiveDevices(peer, map[ids.DeviceId]struct{}{d1: {}, d2: {}}); err != nil {
		t.Fatalf("save devices: %v", err)
	}
	got, err := s.LoadActiveDevices()
	if err != nil {
		t.Fatalf("load devices: %v", err)
	}
	if len(got[peer]) != 2 {
		t.Fatalf("expected 2 devices, got %v", got[peer])
	}

	s.SaveActiveDevices(peer, map[ids.DeviceId]struct{}{d1: {}})
	got, _ = s.LoadActiveDevices()
	if len(got[peer]) != 1 {
		t.Fatalf("save should replace the peer's set, got %v", got[peer])
	}
}

func TestAppendAuditPersistsEntries(t *testing.T) {
	s := newTestStore(t)
	peer := ids.NewPeerId()
	entity := ids.NewEntityId()

	entries := []policy.AuditEntry{
		{Peer: peer, Action: policy.ActionHandshake, Decision: policy.DecisionAllowed, Timestamp: 1},
		{Peer: peer, Entity: &entity, Action: policy.ActionEventReceive, Decision: policy.DecisionFiltered, Detail: "viewer", Timestamp: 2},
	}
	if err := s.AppendAudit(entries); err != nil {
		t.Fatalf("append audit: %v", err)
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM policy_audit_log`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 audit rows, got %d", count)
	}

	var decision, detail string
	if err := s.db.QueryRow(`SELECT decision, detail FROM policy_audit_log WHERE entity_id = ?`,
		entity.String()).Scan(&decision, &detail); err != nil {
		t.Fatalf("read filtered entry: %v", err)
	}
	if decision != string(policy.DecisionFiltered) || detail != "viewer" {
		t.Fatalf("filtered entry mismatch: %s %s", decision, detail)
	}
}

// TestLoadEnterpriseSyncPolicyReconstruction writes through an attached
// policy, then rebuilds a fresh policy from the same store and checks the
// gates behave identically.
func TestLoadEnterpriseSyncPolicyReconstruction(t *testing.T) {
	s := newTestStore(t)
	now := func() uint64 { return 1 }

	original := policy.NewEnterpriseSyncPolicy(now)
	original.AttachStore(s)

	entity := ids.NewEntityId()
	editor := ids.NewPeerId()
	team := ids.NewTeamId()
	teammate := ids.NewPeerId()

	original.GrantPeerRole(entity, editor, model.RoleEditor)
	original.GrantTeamRole(entity, team, model.RoleViewer)
	original.AddTeamMember(team, teammate)
	original.AddKnownPeer(editor)
	original.AddKnownPeer(teammate)
	original.SetDeviceLimit(editor, 2)

	restored, err := policy.LoadEnterpriseSyncPolicy(s, now)
	if err != nil {
		t.Fatalf("load policy: %v", err)
	}

	if err := restored.OnHandshake(ids.NewPeerId(), editor); err != nil {
		t.Fatalf("known peer should still be accepted: %v", err)
	}
	if err := restored.OnHandshake(ids.NewPeerId(), ids.NewPeerId()); err == nil {
		t.Fatal("stranger should still be denied")
	}

	allowed := restored.OnSyncRequest(editor, []ids.EntityId{entity})
	if len(allowed) != 1 {
		t.Fatalf("editor should still resolve a role, got %v", allowed)
	}
	allowed = restored.OnSyncRequest(teammate, []ids.EntityId{entity})
	if len(allowed) != 1 {
		t.Fatalf("team viewer should still resolve a role, got %v", allowed)
	}

	ev := model.NewEvent(entity, editor, ids.HybridTimestamp{}, model.Payload{Kind: model.PayloadEntityUpdated})
	if out := restored.OnEventReceive(editor, entity, []model.Event{ev}); len(out) != 1 {
		t.Fatal("editor's writes should still pass after reload")
	}
	if out := restored.OnEventReceive(teammate, entity, []model.Event{ev}); len(out) != 0 {
		t.Fatal("team viewer's writes should still be filtered after reload")
	}

	d1, d2, d3 := ids.NewDeviceId(), ids.NewDeviceId(), ids.NewDeviceId()
	if err := restored.OnDeviceCheck(editor, &d1); err != nil {
		t.Fatalf("first device: %v", err)
	}
	if err := restored.OnDeviceCheck(editor, &d2); err != nil {
		t.Fatalf("second device: %v", err)
	}
	if err := restored.OnDeviceCheck(editor, &d3); err == nil {
		t.Fatal("third device should exceed the persisted limit of 2")
	}
}
