package policystore

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/amaydixit11/syncd/internal/ids"
	"github.com/amaydixit11/syncd/internal/model"
	"github.com/amaydixit11/syncd/internal/policy"
	_ "github.com/mattn/go-sqlite3"
)

// Store implements policy.PolicyStore on SQLite.
type Store struct {
	db *sql.DB
}

// New opens or creates a policy store at path.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open policy store: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(policySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init policy schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// SaveACL upserts one entity's ACL row.
func (s *Store) SaveACL(acl policy.EntityAcl) error {
	peerRoles := make(map[string]model.Role, len(acl.PeerRoles))
	for peer, role := range acl.PeerRoles {
		peerRoles[peer.String()] = role
	}
	teamRoles := make(map[string]model.Role, len(acl.TeamRoles))
	for team, role := range acl.TeamRoles {
		teamRoles[team.String()] = role
	}
	peerJSON, err := json.Marshal(peerRoles)
	if err != nil {
		return fmt.Errorf("save acl: marshal peer roles: %w", err)
	}
	teamJSON, err := json.Marshal(teamRoles)
	if err != nil {
		return fmt.Errorf("save acl: marshal team roles: %w", err)
	}

	var defaultRole interface{}
	if acl.DefaultRole != nil {
		defaultRole = int(*acl.DefaultRole)
	}

	_, err = s.db.Exec(`
		INSERT INTO policy_acls (entity_id, default_role, peer_roles, team_roles)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(entity_id) DO UPDATE SET
			default_role = excluded.default_role,
			peer_roles = excluded.peer_roles,
			team_roles = excluded.team_roles
	`, acl.EntityID.String(), defaultRole, string(peerJSON), string(teamJSON))
	if err != nil {
		return fmt.Errorf("save acl: %w", err)
	}
	return nil
}

// LoadACLs loads every ACL row.
func (s *Store) LoadACLs() (map[ids.EntityId]*policy.EntityAcl, error) {
	rows, err := s.db.Query(`SELECT entity_id, default_role, peer_roles, team_roles FROM policy_acls`)
	if err != nil {
		return nil, fmt.Errorf("load acls: %w", err)
	}
	defer rows.Close()

	out := make(map[ids.EntityId]*policy.EntityAcl)
	for rows.Next() {
		var entityIDStr, peerJSON, teamJSON string
		var defaultRole sql.NullInt64
		if err := rows.Scan(&entityIDStr, &defaultRole, &peerJSON, &teamJSON); err != nil {
			return nil, fmt.Errorf("load acls: scan: %w", err)
		}
		entityID, err := ids.ParseEntityId(entityIDStr)
		if err != nil {
			return nil, fmt.Errorf("load acls: parse entity id: %w", err)
		}

		acl := &policy.EntityAcl{
			EntityID:  entityID,
			PeerRoles: make(map[ids.PeerId]model.Role),
			TeamRoles: make(map[ids.TeamId]model.Role),
		}
		if defaultRole.Valid {
			r := model.Role(defaultRole.Int64)
			acl.DefaultRole = &r
		}

		var peerRoles map[string]model.Role
		if err := json.Unmarshal([]byte(peerJSON), &peerRoles); err != nil {
			return nil, fmt.Errorf("load acls: decode peer roles: %w", err)
		}
		for peerStr, role := range peerRoles {
			peer, err := ids.ParsePeerId(peerStr)
			if err != nil {
				continue
			}
			acl.PeerRoles[peer] = role
		}

		var teamRoles map[string]model.Role
		if err := json.Unmarshal([]byte(teamJSON), &teamRoles); err != nil {
			return nil, fmt.Errorf("load acls: decode team roles: %w", err)
		}
		for teamStr, role := range teamRoles {
			team, err := ids.ParseTeamId(teamStr)
			if err != nil {
				continue
			}
			acl.TeamRoles[team] = role
		}

		out[entityID] = acl
	}
	return out, rows.Err()
}

// SaveTeamMembers upserts one team's member set.
func (s *Store) SaveTeamMembers(team ids.TeamId, members map[ids.PeerId]struct{}) error {
	memberStrs := make([]string, 0, len(members))
	for peer := range members {
		memberStrs = append(memberStrs, peer.String())
	}
	data, err := json.Marshal(memberStrs)
	if err != nil {
		return fmt.Errorf("save team members: marshal: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO policy_teams (team_id, members) VALUES (?, ?)
		ON CONFLICT(team_id) DO UPDATE SET members = excluded.members
	`, team.String(), string(data))
	if err != nil {
		return fmt.Errorf("save team members: %w", err)
	}
	return nil
}

// LoadTeams loads every team's member set.
func (s *Store) LoadTeams() (map[ids.TeamId]map[ids.PeerId]struct{}, error) {
	rows, err := s.db.Query(`SELECT team_id, members FROM policy_teams`)
	if err != nil {
		return nil, fmt.Errorf("load teams: %w", err)
	}
	defer rows.Close()

	out := make(map[ids.TeamId]map[ids.PeerId]struct{})
	for rows.Next() {
		var teamIDStr, membersJSON string
		if err := rows.Scan(&teamIDStr, &membersJSON); err != nil {
			return nil, fmt.Errorf("load teams: scan: %w", err)
		}
		teamID, err := ids.ParseTeamId(teamIDStr)
		if err != nil {
			return nil, fmt.Errorf("load teams: parse team id: %w", err)
		}
		var memberStrs []string
		if err := json.Unmarshal([]byte(membersJSON), &memberStrs); err != nil {
			return nil, fmt.Errorf("load teams: decode members: %w", err)
		}
		members := make(map[ids.PeerId]struct{}, len(memberStrs))
		for _, peerStr := range memberStrs {
			peer, err := ids.ParsePeerId(peerStr)
			if err != nil {
				continue
			}
			members[peer] = struct{}{}
		}
		out[teamID] = members
	}
	return out, rows.Err()
}

// SaveDeviceLimit upserts peer's configured device limit.
func (s *Store) SaveDeviceLimit(peer ids.PeerId, limit uint32) error {
	_, err := s.db.Exec(`
		INSERT INTO policy_device_limits (peer_id, device_limit) VALUES (?, ?)
		ON CONFLICT(peer_id) DO UPDATE SET device_limit = excluded.device_limit
	`, peer.String(), limit)
	if err != nil {
		return fmt.Errorf("save device limit: %w", err)
	}
	return nil
}

// LoadDeviceLimits loads every configured device limit.
func (s *Store) LoadDeviceLimits() (map[ids.PeerId]uint32, error) {
	rows, err := s.db.Query(`SELECT peer_id, device_limit FROM policy_device_limits`)
	if err != nil {
		return nil, fmt.Errorf("load device limits: %w", err)
	}
	defer rows.Close()

	out := make(map[ids.PeerId]uint32)
	for rows.Next() {
		var peerStr string
		var limit uint32
		if err := rows.Scan(&peerStr, &limit); err != nil {
			return nil, fmt.Errorf("load device limits: scan: %w", err)
		}
		peer, err := ids.ParsePeerId(peerStr)
		if err != nil {
			continue
		}
		out[peer] = limit
	}
	return out, rows.Err()
}

// SaveKnownPeers replaces the entire known-peers set.
func (s *Store) SaveKnownPeers(peers map[ids.PeerId]struct{}) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("save known peers: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM policy_known_peers`); err != nil {
		return fmt.Errorf("save known peers: clear: %w", err)
	}
	for peer := range peers {
		if _, err := tx.Exec(`INSERT INTO policy_known_peers (peer_id) VALUES (?)`, peer.String()); err != nil {
			return fmt.Errorf("save known peers: insert: %w", err)
		}
	}
	return tx.Commit()
}

// LoadKnownPeers loads the known-peers set.
func (s *Store) LoadKnownPeers() (map[ids.PeerId]struct{}, error) {
	rows, err := s.db.Query(`SELECT peer_id FROM policy_known_peers`)
	if err != nil {
		return nil, fmt.Errorf("load known peers: %w", err)
	}
	defer rows.Close()

	out := make(map[ids.PeerId]struct{})
	for rows.Next() {
		var peerStr string
		if err := rows.Scan(&peerStr); err != nil {
			return nil, fmt.Errorf("load known peers: scan: %w", err)
		}
		peer, err := ids.ParsePeerId(peerStr)
		if err != nil {
			continue
		}
		out[peer] = struct{}{}
	}
	return out, rows.Err()
}

// SaveActiveDevices replaces peer's registered-device set.
func (s *Store) SaveActiveDevices(peer ids.PeerId, devices map[ids.DeviceId]struct{}) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("save active devices: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM policy_active_devices WHERE peer_id = ?`, peer.String()); err != nil {
		return fmt.Errorf("save active devices: clear: %w", err)
	}
	for device := range devices {
		if _, err := tx.Exec(`INSERT INTO policy_active_devices (peer_id, device_id) VALUES (?, ?)`, peer.String(), device.String()); err != nil {
			return fmt.Errorf("save active devices: insert: %w", err)
		}
	}
	return tx.Commit()
}

// LoadActiveDevices loads every peer's registered-device set.
func (s *Store) LoadActiveDevices() (map[ids.PeerId]map[ids.DeviceId]struct{}, error) {
	rows, err := s.db.Query(`SELECT peer_id, device_id FROM policy_active_devices`)
	if err != nil {
		return nil, fmt.Errorf("load active devices: %w", err)
	}
	defer rows.Close()

	out := make(map[ids.PeerId]map[ids.DeviceId]struct{})
	for rows.Next() {
		var peerStr, deviceStr string
		if err := rows.Scan(&peerStr, &deviceStr); err != nil {
			return nil, fmt.Errorf("load active devices: scan: %w", err)
		}
		peer, err := ids.ParsePeerId(peerStr)
		if err != nil {
			continue
		}
		device, err := ids.ParseDeviceId(deviceStr)
		if err != nil {
			continue
		}
		if out[peer] == nil {
			out[peer] = make(map[ids.DeviceId]struct{})
		}
		out[peer][device] = struct{}{}
	}
	return out, rows.Err()
}

// AppendAudit inserts a batch of audit entries.
func (s *Store) AppendAudit(entries []policy.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("append audit: begin: %w", err)
	}
	defer tx.Rollback()

	for _, e := range entries {
		var entityID interface{}
		if e.Entity != nil {
			entityID = e.Entity.String()
		}
		_, err := tx.Exec(`
			INSERT INTO policy_audit_log (peer_id, entity_id, action, decision, detail, timestamp)
			VALUES (?, ?, ?, ?, ?, ?)
		`, e.Peer.String(), entityID, string(e.Action), string(e.Decision), e.Detail, e.Timestamp)
		if err != nil {
			return fmt.Errorf("append audit: insert: %w", err)
		}
	}
	return tx.Commit()
}
