package persistence

const schemaSQL = `
CREATE TABLE IF NOT EXISTS incidents (
  incident_id TEXT PRIMARY KEY,
  severity TEXT NOT NULL,
  reason TEXT NOT NULL,
  affected_joints TEXT NOT NULL DEFAULT '[]',
  required_actions TEXT NOT NULL DEFAULT '[]',
  deadline_ms INTEGER NOT NULL DEFAULT 0,
  raised_at TEXT NOT NULL,
  cleared_at TEXT,
  acknowledged_by TEXT
);

CREATE INDEX IF NOT EXISTS idx_incidents_raised_at ON incidents(raised_at);
CREATE INDEX IF NOT EXISTS idx_incidents_severity ON incidents(severity);

CREATE TABLE IF NOT EXISTS guest_relationships (
  recognition_id TEXT PRIMARY KEY,
  age_group TEXT NOT NULL DEFAULT 'unknown',
  visit_count INTEGER NOT NULL DEFAULT 0,
  last_emotion TEXT,
  last_seen_at TEXT NOT NULL,
  magic_moments_triggered INTEGER NOT NULL DEFAULT 0,
  notes TEXT
);

CREATE INDEX IF NOT EXISTS idx_guest_last_seen ON guest_relationships(last_seen_at);

CREATE TABLE IF NOT EXISTS personality_history (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  mode TEXT NOT NULL,
  reason TEXT NOT NULL,
  changed_at TEXT NOT NULL
);
`
