package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lazypower/synapse/internal/engine"
)

// SaveSnapshot archives a full graph export. All rows are written in one
// transaction; a partial save never becomes visible. Returns the archive row id.
func (db *DB) SaveSnapshot(snap engine.Snapshot) (int64, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin snapshot save: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		INSERT INTO snapshots (version, exported_at, dimensions, focus, node_count, relation_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, snap.Version, snap.ExportedAt.UnixMilli(), snap.Dimensions, snap.Focus,
		len(snap.Nodes), len(snap.Relations), time.Now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("insert snapshot: %w", err)
	}
	snapID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("snapshot id: %w", err)
	}

	nodeStmt, err := tx.Prepare(`
		INSERT INTO snapshot_nodes (snapshot_id, position, node_id, content, embedding, importance, created_at, access_count, last_accessed_at, tags, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare node insert: %w", err)
	}
	defer nodeStmt.Close()

	for i, n := range snap.Nodes {
		tags, err := encodeTags(n.Tags)
		if err != nil {
			return 0, fmt.Errorf("encode tags for %s: %w", n.ID, err)
		}
		if _, err := nodeStmt.Exec(
			snapID, i, n.ID, n.Content, encodeEmbedding(n.Embedding), n.Importance,
			n.CreatedAt.UnixMilli(), n.AccessCount, n.LastAccessedAt.UnixMilli(),
			tags, n.Source,
		); err != nil {
			return 0, fmt.Errorf("insert node %s: %w", n.ID, err)
		}
	}

	relStmt, err := tx.Prepare(`
		INSERT INTO snapshot_relations (snapshot_id, from_id, to_id, rel_type, strength, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare relation insert: %w", err)
	}
	defer relStmt.Close()

	for _, r := range snap.Relations {
		if _, err := relStmt.Exec(snapID, r.From, r.To, string(r.Type), r.Strength, r.CreatedAt.UnixMilli()); err != nil {
			return 0, fmt.Errorf("insert relation %s -> %s: %w", r.From, r.To, err)
		}
	}

	for id, cluster := range snap.Clusters {
		if _, err := tx.Exec(`
			INSERT INTO snapshot_clusters (snapshot_id, node_id, cluster) VALUES (?, ?, ?)
		`, snapID, id, cluster); err != nil {
			return 0, fmt.Errorf("insert cluster entry %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit snapshot save: %w", err)
	}
	return snapID, nil
}

// LoadLatest returns the most recently archived snapshot, or nil when the
// archive is empty.
func (db *DB) LoadLatest() (*engine.Snapshot, error) {
	var (
		snapID     int64
		exportedAt int64
		snap       engine.Snapshot
	)
	err := db.QueryRow(`
		SELECT id, version, exported_at, dimensions, focus
		FROM snapshots ORDER BY created_at DESC, id DESC LIMIT 1
	`).Scan(&snapID, &snap.Version, &exportedAt, &snap.Dimensions, &snap.Focus)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load latest snapshot: %w", err)
	}
	snap.ExportedAt = time.UnixMilli(exportedAt)

	rows, err := db.Query(`
		SELECT node_id, content, embedding, importance, created_at, access_count, last_accessed_at, tags, source
		FROM snapshot_nodes WHERE snapshot_id = ? ORDER BY position
	`, snapID)
	if err != nil {
		return nil, fmt.Errorf("load snapshot nodes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			n                   engine.MemoryNode
			blob                []byte
			createdAt, accessed int64
			tags, source        sql.NullString
		)
		if err := rows.Scan(&n.ID, &n.Content, &blob, &n.Importance, &createdAt, &n.AccessCount, &accessed, &tags, &source); err != nil {
			return nil, fmt.Errorf("scan snapshot node: %w", err)
		}
		n.Embedding = decodeEmbedding(blob)
		n.CreatedAt = time.UnixMilli(createdAt)
		n.LastAccessedAt = time.UnixMilli(accessed)
		if tags.Valid && tags.String != "" {
			if n.Tags, err = decodeTags(tags.String); err != nil {
				return nil, fmt.Errorf("decode tags for %s: %w", n.ID, err)
			}
		}
		n.Source = source.String
		snap.Nodes = append(snap.Nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshot nodes: %w", err)
	}

	relRows, err := db.Query(`
		SELECT from_id, to_id, rel_type, strength, created_at
		FROM snapshot_relations WHERE snapshot_id = ? ORDER BY id
	`, snapID)
	if err != nil {
		return nil, fmt.Errorf("load snapshot relations: %w", err)
	}
	defer relRows.Close()

	for relRows.Next() {
		var (
			r         engine.MemoryRelation
			relType   string
			createdAt int64
		)
		if err := relRows.Scan(&r.From, &r.To, &relType, &r.Strength, &createdAt); err != nil {
			return nil, fmt.Errorf("scan snapshot relation: %w", err)
		}
		r.Type = engine.RelationType(relType)
		r.CreatedAt = time.UnixMilli(createdAt)
		snap.Relations = append(snap.Relations, r)
	}
	if err := relRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshot relations: %w", err)
	}

	clusterRows, err := db.Query(`
		SELECT node_id, cluster FROM snapshot_clusters WHERE snapshot_id = ?
	`, snapID)
	if err != nil {
		return nil, fmt.Errorf("load snapshot clusters: %w", err)
	}
	defer clusterRows.Close()

	for clusterRows.Next() {
		var (
			id      string
			cluster int
		)
		if err := clusterRows.Scan(&id, &cluster); err != nil {
			return nil, fmt.Errorf("scan snapshot cluster: %w", err)
		}
		if snap.Clusters == nil {
			snap.Clusters = make(map[string]int)
		}
		snap.Clusters[id] = cluster
	}
	if err := clusterRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshot clusters: %w", err)
	}

	return &snap, nil
}

// PruneSnapshots deletes all but the newest keep snapshots. Returns how many
// were removed.
func (db *DB) PruneSnapshots(keep int) (int, error) {
	if keep < 1 {
		keep = 1
	}
	res, err := db.Exec(`
		DELETE FROM snapshots WHERE id NOT IN (
			SELECT id FROM snapshots ORDER BY created_at DESC, id DESC LIMIT ?
		)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune snapshots affected: %w", err)
	}
	return int(n), nil
}

// encodeTags serializes a tag list as JSON; nil for empty.
func encodeTags(tags []string) (string, error) {
	if len(tags) == 0 {
		return "", nil
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeTags(s string) ([]string, error) {
	var tags []string
	if err := json.Unmarshal([]byte(s), &tags); err != nil {
		return nil, err
	}
	return tags, nil
}
