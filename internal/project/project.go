// Package project defines the file tree data model and the store
// interfaces the sync workflows run against.
package project

import (
	"context"
	"time"
)

// Kind distinguishes files from folders. Immutable after creation.
type Kind string

const (
	KindFile   Kind = "file"
	KindFolder Kind = "folder"
)

// FileNode represents one file or folder in a project.
//
// Nodes form a forest: ParentID is nil for roots, and the parent graph is
// acyclic. A file carries exactly one of Content (text) or StorageKey
// (binary); a newly created empty file has empty Content. Names are unique
// among siblings of the same kind.
type FileNode struct {
	ID         string
	ProjectID  string
	ParentID   *string
	Name       string
	Kind       Kind
	Content    *string
	StorageKey *string
	UpdatedAt  time.Time
}

// IsFile reports whether the node is a file.
func (n *FileNode) IsFile() bool { return n.Kind == KindFile }

// IsBinary reports whether the node's content lives in blob storage.
func (n *FileNode) IsBinary() bool { return n.StorageKey != nil }

// FileWithURL is a FileNode joined with a resolved download URL for its
// binary content. DownloadURL is empty for text files and folders.
type FileWithURL struct {
	FileNode
	DownloadURL string
}

// TextFile is one entry of a batched text-file creation.
type TextFile struct {
	Name    string
	Content string
}

// Store is the project file store consumed by the sync workflows.
type Store interface {
	// Cleanup removes every file node (and backing storage object) for the
	// project. Removing nothing is not an error.
	Cleanup(ctx context.Context, projectID string) error

	// CreateFolder creates a folder node and returns its ID.
	CreateFolder(ctx context.Context, projectID, name string, parentID *string) (string, error)

	// CreateFile creates a single text file node and returns its ID.
	CreateFile(ctx context.Context, projectID, name, content string, parentID *string) (string, error)

	// CreateFiles creates a batch of text files under one parent.
	CreateFiles(ctx context.Context, projectID string, parentID *string, files []TextFile) error

	// CreateBinaryFile creates a file node backed by a storage object.
	CreateBinaryFile(ctx context.Context, projectID, name, storageKey string, parentID *string) (string, error)

	// Files returns every file node for the project, unordered.
	Files(ctx context.Context, projectID string) ([]FileNode, error)

	// FilesWithURLs returns every file node with download URLs resolved for
	// binary entries.
	FilesWithURLs(ctx context.Context, projectID string) ([]FileWithURL, error)

	// FolderContents returns the children of parentID (nil for root),
	// folders first, then files, each alphabetical case-insensitive.
	FolderContents(ctx context.Context, projectID string, parentID *string) ([]FileNode, error)

	// Rename changes a node's name, enforcing sibling uniqueness per kind.
	Rename(ctx context.Context, id, newName string) error

	// UpdateContent replaces a text file's content.
	UpdateContent(ctx context.Context, id, content string) error

	// NodePath returns the node's slash-joined path from its project root.
	NodePath(ctx context.Context, id string) (string, error)

	// DeleteNode deletes a node and, for folders, all descendants.
	DeleteNode(ctx context.Context, id string) error
}

// ImportStatus is the durable outcome of an import run.
type ImportStatus string

// ExportStatus is the durable outcome of an export run.
type ExportStatus string

const (
	ImportPending   ImportStatus = "pending"
	ImportCompleted ImportStatus = "completed"
	ImportFailed    ImportStatus = "failed"

	ExportPending   ExportStatus = "pending"
	ExportCompleted ExportStatus = "completed"
	ExportFailed    ExportStatus = "failed"
	ExportCancelled ExportStatus = "cancelled"
)

// ProjectRecord is the project row the status reporter writes to.
type ProjectRecord struct {
	ID            string
	Name          string
	ImportStatus  ImportStatus
	ExportStatus  ExportStatus
	ExportRepoURL string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// StatusReporter records workflow progress against the project record.
// The status field is the only durable, user-visible residue of a run.
type StatusReporter interface {
	UpdateImportStatus(ctx context.Context, projectID string, status ImportStatus) error
	UpdateExportStatus(ctx context.Context, projectID string, status ExportStatus, repoURL string) error
}
