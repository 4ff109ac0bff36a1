// Package policystore implements policy.PolicyStore on SQLite, persisting
// EnterpriseSyncPolicy's ACLs, teams, device limits/active devices, known
// peers, and audit log across restarts.
package policystore

const policySchema = `
CREATE TABLE IF NOT EXISTS policy_acls (
	entity_id TEXT PRIMARY KEY,
	default_role INTEGER,
	peer_roles TEXT NOT NULL DEFAULT '{}',
	team_roles TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS policy_teams (
	team_id TEXT PRIMARY KEY,
	members TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS policy_device_limits (
	peer_id TEXT PRIMARY KEY,
	device_limit INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS policy_known_peers (
	peer_id TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS policy_active_devices (
	peer_id TEXT NOT NULL,
	device_id TEXT NOT NULL,
	PRIMARY KEY (peer_id, device_id)
);

CREATE TABLE IF NOT EXISTS policy_audit_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	peer_id TEXT NOT NULL,
	entity_id TEXT,
	action TEXT NOT NULL,
	decision TEXT NOT NULL,
	detail TEXT,
	timestamp INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_policy_audit_log_ts ON policy_audit_log(timestamp DESC);
`
