package policy

import (
	"fmt"
	"sync"

	"github.com/amaydixit11/syncd/internal/ids"
	"github.com/amaydixit11/syncd/internal/model"
	"github.com/amaydixit11/syncd/internal/syncerr"
)

// EntityAcl is per-entity role assignment: an optional default, explicit
// per-peer overrides, and per-team roles. See resolveRole for precedence.
type EntityAcl struct {
	EntityID    ids.EntityId
	DefaultRole *model.Role
	PeerRoles   map[ids.PeerId]model.Role
	TeamRoles   map[ids.TeamId]model.Role
}

func newEntityAcl(id ids.EntityId) *EntityAcl {
	return &EntityAcl{
		EntityID:  id,
		PeerRoles: make(map[ids.PeerId]model.Role),
		TeamRoles: make(map[ids.TeamId]model.Role),
	}
}

// Action identifies which gate produced an AuditEntry.
type Action string

const (
	ActionHandshake      Action = "handshake"
	ActionSyncRequest    Action = "sync_request"
	ActionEventSend      Action = "event_send"
	ActionEventReceive   Action = "event_receive"
	ActionDeviceRegister Action = "device_register"
)

// Decision is the outcome an AuditEntry records.
type Decision string

const (
	DecisionAllowed  Decision = "allowed"
	DecisionDenied   Decision = "denied"
	DecisionFiltered Decision = "filtered"
)

// AuditEntry is one row of the enterprise policy's audit trail.
type AuditEntry struct {
	Peer      ids.PeerId
	Entity    *ids.EntityId
	Action    Action
	Decision  Decision
	Detail    string
	Timestamp uint64 // unix millis
}

// PolicyStore is the optional persistence backend for EnterpriseSyncPolicy:
// ACL rows, team memberships, device limits/known peers/active devices, and
// the audit log. See internal/policystore for the SQLite implementation.
type PolicyStore interface {
	SaveACL(acl EntityAcl) error
	LoadACLs() (map[ids.EntityId]*EntityAcl, error)
	SaveTeamMembers(team ids.TeamId, members map[ids.PeerId]struct{}) error
	LoadTeams() (map[ids.TeamId]map[ids.PeerId]struct{}, error)
	SaveDeviceLimit(peer ids.PeerId, limit uint32) error
	LoadDeviceLimits() (map[ids.PeerId]uint32, error)
	SaveKnownPeers(peers map[ids.PeerId]struct{}) error
	LoadKnownPeers() (map[ids.PeerId]struct{}, error)
	SaveActiveDevices(peer ids.PeerId, devices map[ids.DeviceId]struct{}) error
	LoadActiveDevices() (map[ids.PeerId]map[ids.DeviceId]struct{}, error)
	AppendAudit(entries []AuditEntry) error
}

// DefaultAuditLogSize bounds the in-memory audit ring buffer.
const DefaultAuditLogSize = 1024

// clockFn supplies audit-entry timestamps and lets tests make them
// deterministic; NewEnterpriseSyncPolicy given nil uses one that always
// returns 0.
type clockFn func() uint64

// EnterpriseSyncPolicy implements role-based ACLs over the
// Viewer<Editor<Admin<Owner lattice, with teams, per-peer device limits,
// and an audit trail.
type EnterpriseSyncPolicy struct {
	mu sync.Mutex

	acls          map[ids.EntityId]*EntityAcl
	teams         map[ids.TeamId]map[ids.PeerId]struct{}
	knownPeers    map[ids.PeerId]struct{}
	deviceLimits  map[ids.PeerId]uint32
	activeDevices map[ids.PeerId]map[ids.DeviceId]struct{}

	auditLog    []AuditEntry
	auditMax    int
	store       PolicyStore
	now         clockFn
}

// NewEnterpriseSyncPolicy returns an empty enterprise policy (open mode:
// no known peers means handshake accepts everyone).
func NewEnterpriseSyncPolicy(now func() uint64) *EnterpriseSyncPolicy {
	if now == nil {
		now = func() uint64 { return 0 }
	}
	return &EnterpriseSyncPolicy{
		acls:          make(map[ids.EntityId]*EntityAcl),
		teams:         make(map[ids.TeamId]map[ids.PeerId]struct{}),
		knownPeers:    make(map[ids.PeerId]struct{}),
		deviceLimits:  make(map[ids.PeerId]uint32),
		activeDevices: make(map[ids.PeerId]map[ids.DeviceId]struct{}),
		auditMax:      DefaultAuditLogSize,
		now:           now,
	}
}

// AttachStore installs a persistent backing store; subsequent mutations are
// written through synchronously.
func (e *EnterpriseSyncPolicy) AttachStore(store PolicyStore) { e.mu.Lock(); e.store = store; e.mu.Unlock() }

// LoadEnterpriseSyncPolicy reconstructs a policy from store.
func LoadEnterpriseSyncPolicy(store PolicyStore, now func() uint64) (*EnterpriseSyncPolicy, error) {
	p := NewEnterpriseSyncPolicy(now)
	p.store = store

	acls, err := store.LoadACLs()
	if err != nil {
		return nil, fmt.Errorf("load enterprise policy: acls: %w", err)
	}
	p.acls = acls

	teams, err := store.LoadTeams()
	if err != nil {
		return nil, fmt.Errorf("load enterprise policy: teams: %w", err)
	}
	p.teams = teams

	limits, err := store.LoadDeviceLimits()
	if err != nil {
		return nil, fmt.Errorf("load enterprise policy: device limits: %w", err)
	}
	p.deviceLimits = limits

	known, err := store.LoadKnownPeers()
	if err != nil {
		return nil, fmt.Errorf("load enterprise policy: known peers: %w", err)
	}
	p.knownPeers = known

	active, err := store.LoadActiveDevices()
	if err != nil {
		return nil, fmt.Errorf("load enterprise policy: active devices: %w", err)
	}
	p.activeDevices = active

	return p, nil
}

func (e *EnterpriseSyncPolicy) acl(entity ids.EntityId) *EntityAcl {
	if a, ok := e.acls[entity]; ok {
		return a
	}
	return nil
}

// resolveRole resolves (peer, entity) by precedence: explicit peer
// override, then the max role across the peer's teams, then the ACL
// default, then none.
func (e *EnterpriseSyncPolicy) resolveRole(peer ids.PeerId, entity ids.EntityId) model.Role {
	a := e.acl(entity)
	if a == nil {
		return model.RoleNone
	}
	if r, ok := a.PeerRoles[peer]; ok {
		return r
	}

	best := model.RoleNone
	found := false
	for team, role := range a.TeamRoles {
		if _, member := e.teams[team][peer]; member {
			if !found || role > best {
				best = role
				found = true
			}
		}
	}
	if found {
		return best
	}

	if a.DefaultRole != nil {
		return *a.DefaultRole
	}
	return model.RoleNone
}

func (e *EnterpriseSyncPolicy) audit(entry AuditEntry) {
	entry.Timestamp = e.now()
	e.auditLog = append(e.auditLog, entry)
	if len(e.auditLog) > e.auditMax {
		e.auditLog = e.auditLog[len(e.auditLog)-e.auditMax:]
	}
	if e.store != nil {
		_ = e.store.AppendAudit([]AuditEntry{entry})
	}
}

// AuditLog returns a copy of the current in-memory audit entries.
func (e *EnterpriseSyncPolicy) AuditLog() []AuditEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]AuditEntry, len(e.auditLog))
	copy(out, e.auditLog)
	return out
}

// FlushAuditLog clears the in-memory buffer (entries already written
// through to the store, if any, remain there).
func (e *EnterpriseSyncPolicy) FlushAuditLog() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.auditLog = nil
}

// OnHandshake denies remote when knownPeers is non-empty and remote isn't
// in it. An empty knownPeers set means open mode.
func (e *EnterpriseSyncPolicy) OnHandshake(local, remote ids.PeerId) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.knownPeers) > 0 {
		if _, ok := e.knownPeers[remote]; !ok {
			e.audit(AuditEntry{Peer: remote, Action: ActionHandshake, Decision: DecisionDenied, Detail: reasonUnknownPeer})
			return deniedUnknownPeer()
		}
	}
	e.audit(AuditEntry{Peer: remote, Action: ActionHandshake, Decision: DecisionAllowed})
	return nil
}

// OnSyncRequest allows entities where remote resolves to any role (read
// access).
func (e *EnterpriseSyncPolicy) OnSyncRequest(remote ids.PeerId, requestedIDs []ids.EntityId) []ids.EntityId {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]ids.EntityId, 0, len(requestedIDs))
	for _, id := range requestedIDs {
		id := id
		if e.resolveRole(remote, id) != model.RoleNone {
			out = append(out, id)
		} else {
			e.audit(AuditEntry{Peer: remote, Entity: &id, Action: ActionSyncRequest, Decision: DecisionFiltered})
		}
	}
	e.audit(AuditEntry{Peer: remote, Action: ActionSyncRequest, Decision: DecisionAllowed, Detail: fmt.Sprintf("%d of %d", len(out), len(requestedIDs))})
	return out
}

// OnEventSend passes data events when remote resolves to any role on
// entity (any role grants read). ACL-payload events additionally require
// their origin peer to resolve to Admin or better on the entity; ones
// authored below that are stripped before they leave this replica.
func (e *EnterpriseSyncPolicy) OnEventSend(remote ids.PeerId, entity ids.EntityId, events []model.Event) []model.Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.resolveRole(remote, entity) == model.RoleNone {
		e.audit(AuditEntry{Peer: remote, Entity: &entity, Action: ActionEventSend, Decision: DecisionFiltered})
		return nil
	}

	out := make([]model.Event, 0, len(events))
	anyFiltered := false
	for _, ev := range events {
		if ev.Payload.Kind.IsAclPayload() && !e.resolveRole(ev.PeerID, entity).AtLeast(model.RoleAdmin) {
			anyFiltered = true
			continue
		}
		out = append(out, ev)
	}
	if anyFiltered {
		e.audit(AuditEntry{Peer: remote, Entity: &entity, Action: ActionEventSend, Decision: DecisionFiltered})
	}
	if len(out) > 0 {
		e.audit(AuditEntry{Peer: remote, Entity: &entity, Action: ActionEventSend, Decision: DecisionAllowed})
	}
	return out
}

// OnEventReceive splits events into data and ACL-payload events. Data
// events require remote's role >= Editor; ACL events require remote's role
// >= Admin. Filtered events are dropped silently; the audit entry is the
// only record.
func (e *EnterpriseSyncPolicy) OnEventReceive(remote ids.PeerId, entity ids.EntityId, events []model.Event) []model.Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	role := e.resolveRole(remote, entity)
	out := make([]model.Event, 0, len(events))
	anyFiltered := false
	for _, ev := range events {
		required := model.RoleEditor
		if ev.Payload.Kind.IsAclPayload() {
			required = model.RoleAdmin
		}
		if role.AtLeast(required) {
			out = append(out, ev)
		} else {
			anyFiltered = true
		}
	}
	if anyFiltered {
		e.audit(AuditEntry{Peer: remote, Entity: &entity, Action: ActionEventReceive, Decision: DecisionFiltered})
	}
	if len(out) > 0 {
		e.audit(AuditEntry{Peer: remote, Entity: &entity, Action: ActionEventReceive, Decision: DecisionAllowed})
	}
	return out
}

// OnDeviceCheck enforces per-peer device limits atomically under e.mu: if
// peer has no configured limit, accept unconditionally. Otherwise require a
// well-formed deviceID; accept if it's already registered, else accept and
// register it only while under the limit.
func (e *EnterpriseSyncPolicy) OnDeviceCheck(remote ids.PeerId, deviceID *ids.DeviceId) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	limit, limited := e.deviceLimits[remote]
	if !limited {
		e.audit(AuditEntry{Peer: remote, Action: ActionDeviceRegister, Decision: DecisionAllowed})
		return nil
	}
	if deviceID == nil {
		e.audit(AuditEntry{Peer: remote, Action: ActionDeviceRegister, Decision: DecisionDenied, Detail: "missing device id"})
		return syncerr.Denied("missing device id")
	}

	devices := e.activeDevices[remote]
	if devices == nil {
		devices = make(map[ids.DeviceId]struct{})
		e.activeDevices[remote] = devices
	}
	if _, already := devices[*deviceID]; already {
		e.audit(AuditEntry{Peer: remote, Action: ActionDeviceRegister, Decision: DecisionAllowed, Detail: "existing device"})
		return nil
	}
	if uint32(len(devices)) >= limit {
		e.audit(AuditEntry{Peer: remote, Action: ActionDeviceRegister, Decision: DecisionDenied, Detail: "device limit exceeded"})
		return syncerr.Denied("device limit exceeded")
	}
	devices[*deviceID] = struct{}{}
	if e.store != nil {
		_ = e.store.SaveActiveDevices(remote, cloneDeviceSet(devices))
	}
	e.audit(AuditEntry{Peer: remote, Action: ActionDeviceRegister, Decision: DecisionAllowed, Detail: "new device"})
	return nil
}

func cloneDeviceSet(s map[ids.DeviceId]struct{}) map[ids.DeviceId]struct{} {
	out := make(map[ids.DeviceId]struct{}, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}

// EntitiesForPeer always reports ok=false: the enterprise policy filters
// per-entity by role, not by a maintained per-peer entity set.
func (e *EnterpriseSyncPolicy) EntitiesForPeer(peer ids.PeerId) (map[ids.EntityId]struct{}, bool) {
	return nil, false
}

// --- mutating wrapper methods (persist synchronously when a store is attached) ---

func (e *EnterpriseSyncPolicy) GrantPeerRole(entity ids.EntityId, peer ids.PeerId, role model.Role) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	a := e.acls[entity]
	if a == nil {
		a = newEntityAcl(entity)
		e.acls[entity] = a
	}
	a.PeerRoles[peer] = role
	return e.persistACL(a)
}

func (e *EnterpriseSyncPolicy) RevokePeerRole(entity ids.EntityId, peer ids.PeerId) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	a := e.acls[entity]
	if a == nil {
		return nil
	}
	delete(a.PeerRoles, peer)
	return e.persistACL(a)
}

func (e *EnterpriseSyncPolicy) GrantTeamRole(entity ids.EntityId, team ids.TeamId, role model.Role) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	a := e.acls[entity]
	if a == nil {
		a = newEntityAcl(entity)
		e.acls[entity] = a
	}
	a.TeamRoles[team] = role
	return e.persistACL(a)
}

func (e *EnterpriseSyncPolicy) RevokeTeamRole(entity ids.EntityId, team ids.TeamId) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	a := e.acls[entity]
	if a == nil {
		return nil
	}
	delete(a.TeamRoles, team)
	return e.persistACL(a)
}

func (e *EnterpriseSyncPolicy) SetDefaultRole(entity ids.EntityId, role model.Role) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	a := e.acls[entity]
	if a == nil {
		a = newEntityAcl(entity)
		e.acls[entity] = a
	}
	r := role
	a.DefaultRole = &r
	return e.persistACL(a)
}

func (e *EnterpriseSyncPolicy) persistACL(a *EntityAcl) error {
	if e.store == nil {
		return nil
	}
	return e.store.SaveACL(*a)
}

func (e *EnterpriseSyncPolicy) AddTeamMember(team ids.TeamId, peer ids.PeerId) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.teams[team] == nil {
		e.teams[team] = make(map[ids.PeerId]struct{})
	}
	e.teams[team][peer] = struct{}{}
	if e.store == nil {
		return nil
	}
	return e.store.SaveTeamMembers(team, cloneEntitySetPeer(e.teams[team]))
}

func (e *EnterpriseSyncPolicy) RemoveTeamMember(team ids.TeamId, peer ids.PeerId) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if members, ok := e.teams[team]; ok {
		delete(members, peer)
	}
	if e.store == nil {
		return nil
	}
	return e.store.SaveTeamMembers(team, cloneEntitySetPeer(e.teams[team]))
}

func cloneEntitySetPeer(s map[ids.PeerId]struct{}) map[ids.PeerId]struct{} {
	out := make(map[ids.PeerId]struct{}, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}

func (e *EnterpriseSyncPolicy) AddKnownPeer(peer ids.PeerId) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.knownPeers[peer] = struct{}{}
	if e.store == nil {
		return nil
	}
	return e.store.SaveKnownPeers(cloneEntitySetPeer(e.knownPeers))
}

func (e *EnterpriseSyncPolicy) RemoveKnownPeer(peer ids.PeerId) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.knownPeers, peer)
	if e.store == nil {
		return nil
	}
	return e.store.SaveKnownPeers(cloneEntitySetPeer(e.knownPeers))
}

func (e *EnterpriseSyncPolicy) SetDeviceLimit(peer ids.PeerId, limit uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.deviceLimits[peer] = limit
	if e.store == nil {
		return nil
	}
	return e.store.SaveDeviceLimit(peer, limit)
}
