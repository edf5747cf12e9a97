package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/axiomcode/reposync/internal/errors"
	"github.com/axiomcode/reposync/internal/project"
	"github.com/axiomcode/reposync/internal/tree"
)

// Compile-time interface check.
var _ project.Store = (*DB)(nil)

// Cleanup removes every file node for the project, deleting backing blob
// objects first. Removing nothing is not an error, so a retried cleanup is
// a no-op.
func (d *DB) Cleanup(ctx context.Context, projectID string) error {
	rows, err := d.db.QueryContext(ctx, `
		SELECT storage_key FROM files
		WHERE project_id = ? AND storage_key IS NOT NULL`, projectID)
	if err != nil {
		return fmt.Errorf("list storage keys: %w", err)
	}
	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			rows.Close()
			return err
		}
		keys = append(keys, key)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	// Blob deletes are best-effort: an orphaned object is recoverable, a
	// dangling storage key on a live row is not.
	for _, key := range keys {
		if err := d.blobs.Delete(ctx, key); err != nil {
			slog.Warn("failed to delete blob object during cleanup",
				"project", projectID, "key", key, "error", err)
		}
	}

	if _, err := d.db.ExecContext(ctx,
		`DELETE FROM files WHERE project_id = ?`, projectID); err != nil {
		return fmt.Errorf("delete files for project %s: %w", projectID, err)
	}
	return d.touchProject(ctx, projectID)
}

// CreateFolder creates a folder node and returns its ID.
func (d *DB) CreateFolder(ctx context.Context, projectID, name string, parentID *string) (string, error) {
	return d.createNode(ctx, projectID, name, project.KindFolder, parentID, nil, nil)
}

// CreateFile creates a single text file node and returns its ID.
func (d *DB) CreateFile(ctx context.Context, projectID, name, content string, parentID *string) (string, error) {
	return d.createNode(ctx, projectID, name, project.KindFile, parentID, &content, nil)
}

// CreateBinaryFile creates a file node backed by a storage object.
func (d *DB) CreateBinaryFile(ctx context.Context, projectID, name, storageKey string, parentID *string) (string, error) {
	return d.createNode(ctx, projectID, name, project.KindFile, parentID, nil, &storageKey)
}

// CreateFiles creates a batch of text files under one parent in a single
// transaction, cutting round-trips for grouped imports.
func (d *DB) CreateFiles(ctx context.Context, projectID string, parentID *string, files []project.TextFile) error {
	if len(files) == 0 {
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch insert: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(timeFormat)
	for _, f := range files {
		taken, err := siblingTaken(ctx, tx, projectID, parentID, f.Name, project.KindFile, "")
		if err != nil {
			return err
		}
		if taken {
			return errors.ErrNameTaken(string(project.KindFile), f.Name)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO files (id, project_id, parent_id, name, kind, content, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), projectID, nullable(parentID), f.Name,
			string(project.KindFile), f.Content, now); err != nil {
			return fmt.Errorf("insert file %s: %w", f.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch insert: %w", err)
	}
	return d.touchProject(ctx, projectID)
}

func (d *DB) createNode(ctx context.Context, projectID, name string, kind project.Kind, parentID, content, storageKey *string) (string, error) {
	taken, err := siblingTaken(ctx, d.db, projectID, parentID, name, kind, "")
	if err != nil {
		return "", err
	}
	if taken {
		return "", errors.ErrNameTaken(string(kind), name)
	}

	id := uuid.NewString()
	now := time.Now().UTC().Format(timeFormat)
	_, err = d.db.ExecContext(ctx, `
		INSERT INTO files (id, project_id, parent_id, name, kind, content, storage_key, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, projectID, nullable(parentID), name, string(kind),
		nullable(content), nullable(storageKey), now)
	if err != nil {
		return "", fmt.Errorf("insert %s %s: %w", kind, name, err)
	}

	if err := d.touchProject(ctx, projectID); err != nil {
		return "", err
	}
	return id, nil
}

// Files returns every file node for the project, unordered.
func (d *DB) Files(ctx context.Context, projectID string) ([]project.FileNode, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, project_id, parent_id, name, kind, content, storage_key, updated_at
		FROM files WHERE project_id = ?`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list files for project %s: %w", projectID, err)
	}
	defer rows.Close()

	var nodes []project.FileNode
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// FilesWithURLs returns every file node with download URLs resolved for
// binary entries. A failed presign is logged and leaves the URL empty; the
// export workflow skips such entries per item.
func (d *DB) FilesWithURLs(ctx context.Context, projectID string) ([]project.FileWithURL, error) {
	nodes, err := d.Files(ctx, projectID)
	if err != nil {
		return nil, err
	}

	out := make([]project.FileWithURL, 0, len(nodes))
	for _, n := range nodes {
		f := project.FileWithURL{FileNode: n}
		if n.StorageKey != nil {
			url, err := d.blobs.PresignDownload(ctx, *n.StorageKey)
			if err != nil {
				slog.Warn("failed to presign download",
					"node", n.ID, "key", *n.StorageKey, "error", err)
			} else {
				f.DownloadURL = url
			}
		}
		out = append(out, f)
	}
	return out, nil
}

// FolderContents returns the children of parentID (nil for root), folders
// first, then files, each alphabetical case-insensitive.
func (d *DB) FolderContents(ctx context.Context, projectID string, parentID *string) ([]project.FileNode, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, project_id, parent_id, name, kind, content, storage_key, updated_at
		FROM files WHERE project_id = ? AND parent_id IS ?`,
		projectID, nullable(parentID))
	if err != nil {
		return nil, fmt.Errorf("list folder contents: %w", err)
	}
	defer rows.Close()

	var nodes []project.FileNode
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tree.SortSiblings(nodes)
	return nodes, nil
}

// Rename changes a node's name, enforcing sibling uniqueness per kind.
func (d *DB) Rename(ctx context.Context, id, newName string) error {
	n, err := d.getNode(ctx, id)
	if err != nil {
		return err
	}

	taken, err := siblingTaken(ctx, d.db, n.ProjectID, n.ParentID, newName, n.Kind, id)
	if err != nil {
		return err
	}
	if taken {
		return errors.ErrNameTaken(string(n.Kind), newName)
	}

	now := time.Now().UTC().Format(timeFormat)
	if _, err := d.db.ExecContext(ctx,
		`UPDATE files SET name = ?, updated_at = ? WHERE id = ?`,
		newName, now, id); err != nil {
		return fmt.Errorf("rename node %s: %w", id, err)
	}
	return d.touchProject(ctx, n.ProjectID)
}

// UpdateContent replaces a text file's content. Binary files cannot be
// switched to inline content; kind and storage mode are immutable.
func (d *DB) UpdateContent(ctx context.Context, id, content string) error {
	n, err := d.getNode(ctx, id)
	if err != nil {
		return err
	}
	if n.Kind != project.KindFile || n.StorageKey != nil {
		return fmt.Errorf("node %s does not hold inline text content", id)
	}

	now := time.Now().UTC().Format(timeFormat)
	if _, err := d.db.ExecContext(ctx,
		`UPDATE files SET content = ?, updated_at = ? WHERE id = ?`,
		content, now, id); err != nil {
		return fmt.Errorf("update content of %s: %w", id, err)
	}
	return d.touchProject(ctx, n.ProjectID)
}

// DeleteNode deletes a node and, for folders, all descendants. Descendants
// are collected breadth-first over a parent-indexed map built from one
// query; storage objects are deleted before their rows.
func (d *DB) DeleteNode(ctx context.Context, id string) error {
	n, err := d.getNode(ctx, id)
	if err != nil {
		return err
	}

	all, err := d.Files(ctx, n.ProjectID)
	if err != nil {
		return err
	}
	idx := tree.NewIndex(all)
	ids := idx.Descendants(id)

	for _, victim := range ids {
		node := idx.Node(victim)
		if node != nil && node.StorageKey != nil {
			if err := d.blobs.Delete(ctx, *node.StorageKey); err != nil {
				slog.Warn("failed to delete blob object",
					"node", victim, "key", *node.StorageKey, "error", err)
			}
		}
		if _, err := d.db.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, victim); err != nil {
			return fmt.Errorf("delete node %s: %w", victim, err)
		}
	}
	return d.touchProject(ctx, n.ProjectID)
}

// NodePath returns the node's slash-joined path from its project root.
func (d *DB) NodePath(ctx context.Context, id string) (string, error) {
	n, err := d.getNode(ctx, id)
	if err != nil {
		return "", err
	}
	all, err := d.Files(ctx, n.ProjectID)
	if err != nil {
		return "", err
	}
	return tree.NewIndex(all).Path(id), nil
}

func (d *DB) getNode(ctx context.Context, id string) (*project.FileNode, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, project_id, parent_id, name, kind, content, storage_key, updated_at
		FROM files WHERE id = ?`, id)

	n, err := scanNode(row)
	if err == sql.ErrNoRows {
		return nil, errors.ErrNodeNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get node %s: %w", id, err)
	}
	return &n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNode(s scanner) (project.FileNode, error) {
	var n project.FileNode
	var parentID, content, storageKey sql.NullString
	var kind, updatedAt string

	if err := s.Scan(&n.ID, &n.ProjectID, &parentID, &n.Name, &kind, &content, &storageKey, &updatedAt); err != nil {
		return n, err
	}

	n.Kind = project.Kind(kind)
	if parentID.Valid {
		n.ParentID = &parentID.String
	}
	if content.Valid {
		n.Content = &content.String
	}
	if storageKey.Valid {
		n.StorageKey = &storageKey.String
	}
	n.UpdatedAt, _ = time.Parse(timeFormat, updatedAt)
	return n, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// siblingTaken reports whether a sibling of the same kind already uses the
// name. excludeID skips the node being renamed.
func siblingTaken(ctx context.Context, q querier, projectID string, parentID *string, name string, kind project.Kind, excludeID string) (bool, error) {
	row := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM files
		WHERE project_id = ? AND parent_id IS ? AND name = ? AND kind = ? AND id != ?`,
		projectID, nullable(parentID), name, string(kind), excludeID)

	var count int
	if err := row.Scan(&count); err != nil {
		return false, fmt.Errorf("check sibling name %s: %w", name, err)
	}
	return count > 0, nil
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
