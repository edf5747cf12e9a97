// Package hosting provides a thin interface over remote source-control
// hosting APIs (GitHub).
package hosting

import (
	"context"
)

// ProviderType identifies which hosting provider is in use.
type ProviderType string

const (
	ProviderGitHub ProviderType = "github"
)

// Default branch names tried when reading a repository tree. Repositories
// vary in default branch naming, so reads fall back from the first to the
// second.
const (
	DefaultBranch  = "main"
	FallbackBranch = "master"
)

// FileMode is the mode recorded for regular file blobs in a remote tree.
const FileMode = "100644"

// Encoding of blob content on the wire.
type Encoding string

const (
	EncodingUTF8   Encoding = "utf-8"
	EncodingBase64 Encoding = "base64"
)

// Provider is the interface for remote repository hosting providers.
// All operations may fail with a transient error (retryable at the step
// level) or a permanent one (name collision, auth failure); implementations
// classify through the errors package.
type Provider interface {
	// Authenticate validates the credential and returns the account login.
	Authenticate(ctx context.Context) (string, error)

	// CreateRepository creates a repository for the authenticated user.
	CreateRepository(ctx context.Context, opts CreateRepositoryOptions) (*Repository, error)

	// GetTree lists the tree at a ref, optionally recursive. When ref is
	// empty the conventional default branch names are tried in order.
	GetTree(ctx context.Context, owner, repo, ref string, recursive bool) ([]TreeEntry, error)

	// GetRef resolves a ref (e.g. "heads/main") to a commit SHA.
	GetRef(ctx context.Context, owner, repo, ref string) (string, error)

	// GetBlob fetches decoded blob content by SHA.
	GetBlob(ctx context.Context, owner, repo, sha string) ([]byte, error)

	// CreateBlob uploads content and returns the new blob SHA.
	CreateBlob(ctx context.Context, owner, repo string, content string, encoding Encoding) (string, error)

	// CreateTree creates a tree object from blob entries and returns its SHA.
	CreateTree(ctx context.Context, owner, repo string, entries []TreeEntry) (string, error)

	// CreateCommit creates a commit and returns its SHA.
	CreateCommit(ctx context.Context, owner, repo, message, treeSHA string, parents []string) (string, error)

	// UpdateRef points a ref at a commit. Force allows non-fast-forward moves.
	UpdateRef(ctx context.Context, owner, repo, ref, sha string, force bool) error

	// Name returns the provider type.
	Name() ProviderType
}

// CreateRepositoryOptions for creating a remote repository.
type CreateRepositoryOptions struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Private     bool   `json:"private"`
	// AutoInit seeds the repository with an initial commit so the default
	// branch exists to commit onto.
	AutoInit bool `json:"auto_init"`
}

// Repository describes a created remote repository.
type Repository struct {
	Owner         string `json:"owner"`
	Name          string `json:"name"`
	HTMLURL       string `json:"html_url"`
	DefaultBranch string `json:"default_branch"`
}

// TreeEntryType distinguishes sub-trees from blobs.
type TreeEntryType string

const (
	EntryTree TreeEntryType = "tree"
	EntryBlob TreeEntryType = "blob"
)

// TreeEntry is one object of a remote repository tree listing.
type TreeEntry struct {
	Path string        `json:"path"`
	Type TreeEntryType `json:"type"`
	SHA  string        `json:"sha"`
	Mode string        `json:"mode,omitempty"`
}
