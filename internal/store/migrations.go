package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "snapshots: archived knowledge-graph exports",
		SQL: `
CREATE TABLE snapshots (
    id             INTEGER PRIMARY KEY,
    version        INTEGER NOT NULL,
    exported_at    INTEGER NOT NULL,
    dimensions     INTEGER NOT NULL,
    focus          TEXT NOT NULL DEFAULT '',
    node_count     INTEGER NOT NULL,
    relation_count INTEGER NOT NULL,
    created_at     INTEGER NOT NULL
);

CREATE INDEX idx_snapshots_created ON snapshots(created_at DESC);

CREATE TABLE snapshot_nodes (
    id               INTEGER PRIMARY KEY,
    snapshot_id      INTEGER NOT NULL,
    position         INTEGER NOT NULL,
    node_id          TEXT NOT NULL,
    content          TEXT NOT NULL,
    embedding        BLOB NOT NULL,
    importance       REAL NOT NULL,
    created_at       INTEGER NOT NULL,
    access_count     INTEGER NOT NULL DEFAULT 0,
    last_accessed_at INTEGER NOT NULL,
    tags             TEXT,
    source           TEXT,

    FOREIGN KEY (snapshot_id) REFERENCES snapshots(id) ON DELETE CASCADE
);

CREATE INDEX idx_snapnodes_snapshot ON snapshot_nodes(snapshot_id, position);

CREATE TABLE snapshot_relations (
    id          INTEGER PRIMARY KEY,
    snapshot_id INTEGER NOT NULL,
    from_id     TEXT NOT NULL,
    to_id       TEXT NOT NULL,
    rel_type    TEXT NOT NULL CHECK (rel_type IN ('semantic', 'temporal', 'causal', 'hierarchical', 'associative')),
    strength    REAL NOT NULL,
    created_at  INTEGER NOT NULL,

    FOREIGN KEY (snapshot_id) REFERENCES snapshots(id) ON DELETE CASCADE
);

CREATE INDEX idx_snaprels_snapshot ON snapshot_relations(snapshot_id);

CREATE TABLE snapshot_clusters (
    id          INTEGER PRIMARY KEY,
    snapshot_id INTEGER NOT NULL,
    node_id     TEXT NOT NULL,
    cluster     INTEGER NOT NULL,

    FOREIGN KEY (snapshot_id) REFERENCES snapshots(id) ON DELETE CASCADE
);

CREATE INDEX idx_snapclusters_snapshot ON snapshot_clusters(snapshot_id);
`,
	},
}

func (db *DB) migrate() error {
	// Create schema_versions table if it doesn't exist
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
