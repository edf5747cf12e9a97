package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/axiomcode/reposync/internal/errors"
	"github.com/axiomcode/reposync/internal/project"
)

// Compile-time interface check.
var _ project.StatusReporter = (*DB)(nil)

const timeFormat = time.RFC3339Nano

// CreateProject inserts a project record and returns its ID.
func (d *DB) CreateProject(ctx context.Context, name string) (string, error) {
	id := uuid.NewString()
	now := time.Now().UTC().Format(timeFormat)

	_, err := d.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, created_at, updated_at)
		VALUES (?, ?, ?, ?)`,
		id, name, now, now)
	if err != nil {
		return "", fmt.Errorf("create project: %w", err)
	}
	return id, nil
}

// GetProject fetches a project record by ID.
func (d *DB) GetProject(ctx context.Context, id string) (*project.ProjectRecord, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, name, import_status, export_status, export_repo_url, created_at, updated_at
		FROM projects WHERE id = ?`, id)

	var p project.ProjectRecord
	var importStatus, exportStatus, createdAt, updatedAt string
	err := row.Scan(&p.ID, &p.Name, &importStatus, &exportStatus, &p.ExportRepoURL, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.ErrProjectNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get project %s: %w", id, err)
	}

	p.ImportStatus = project.ImportStatus(importStatus)
	p.ExportStatus = project.ExportStatus(exportStatus)
	p.CreatedAt, _ = time.Parse(timeFormat, createdAt)
	p.UpdatedAt, _ = time.Parse(timeFormat, updatedAt)
	return &p, nil
}

// UpdateImportStatus records the import workflow outcome on the project.
func (d *DB) UpdateImportStatus(ctx context.Context, projectID string, status project.ImportStatus) error {
	now := time.Now().UTC().Format(timeFormat)
	res, err := d.db.ExecContext(ctx, `
		UPDATE projects SET import_status = ?, updated_at = ? WHERE id = ?`,
		string(status), now, projectID)
	if err != nil {
		return fmt.Errorf("update import status: %w", err)
	}
	return requireRow(res, projectID)
}

// UpdateExportStatus records the export workflow outcome on the project.
// The repo URL is only written when non-empty so a failure does not clear
// the URL of an earlier successful export.
func (d *DB) UpdateExportStatus(ctx context.Context, projectID string, status project.ExportStatus, repoURL string) error {
	now := time.Now().UTC().Format(timeFormat)

	var (
		res sql.Result
		err error
	)
	if repoURL != "" {
		res, err = d.db.ExecContext(ctx, `
			UPDATE projects SET export_status = ?, export_repo_url = ?, updated_at = ? WHERE id = ?`,
			string(status), repoURL, now, projectID)
	} else {
		res, err = d.db.ExecContext(ctx, `
			UPDATE projects SET export_status = ?, updated_at = ? WHERE id = ?`,
			string(status), now, projectID)
	}
	if err != nil {
		return fmt.Errorf("update export status: %w", err)
	}
	return requireRow(res, projectID)
}

func requireRow(res sql.Result, projectID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.ErrProjectNotFound(projectID)
	}
	return nil
}

// touchProject bumps the project's updated_at.
func (d *DB) touchProject(ctx context.Context, projectID string) error {
	now := time.Now().UTC().Format(timeFormat)
	_, err := d.db.ExecContext(ctx,
		`UPDATE projects SET updated_at = ? WHERE id = ?`, now, projectID)
	return err
}
