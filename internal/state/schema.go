package state

const schemaSQL = `
CREATE TABLE IF NOT EXISTS sessions (
  id TEXT PRIMARY KEY,
  remote_addr TEXT,
  user_agent TEXT,
  established_at TEXT NOT NULL,
  closed_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_sessions_established ON sessions(established_at);
`
