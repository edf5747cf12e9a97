// Package github implements hosting.Provider using the go-github library.
package github

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	gogithub "github.com/google/go-github/v82/github"

	"github.com/axiomcode/reposync/internal/errors"
	"github.com/axiomcode/reposync/internal/hosting"
)

// Compile-time interface check.
var _ hosting.Provider = (*GitHubProvider)(nil)

func init() {
	hosting.RegisterProvider(hosting.ProviderGitHub, newProvider)
}

// GitHubProvider implements hosting.Provider using the go-github library.
type GitHubProvider struct {
	client *gogithub.Client
}

// newProvider creates a new GitHubProvider from config and a resolved token.
func newProvider(cfg hosting.Config, token string) (hosting.Provider, error) {
	httpClient := &http.Client{
		Transport: &oauth2Transport{token: token},
	}

	client := gogithub.NewClient(httpClient)

	// GitHub Enterprise: override base URL.
	if cfg.BaseURL != "" {
		baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
		var parseErr error
		client.BaseURL, parseErr = client.BaseURL.Parse(baseURL + "/api/v3/")
		if parseErr != nil {
			return nil, fmt.Errorf("parse base URL %q: %w", cfg.BaseURL, parseErr)
		}
		client.UploadURL, parseErr = client.UploadURL.Parse(baseURL + "/api/uploads/")
		if parseErr != nil {
			return nil, fmt.Errorf("parse upload URL %q: %w", cfg.BaseURL, parseErr)
		}
	}

	return &GitHubProvider{client: client}, nil
}

// oauth2Transport adds an Authorization header to every request.
type oauth2Transport struct {
	token string
	base  http.RoundTripper
}

func (t *oauth2Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	req2 := req.Clone(req.Context())
	req2.Header.Set("Authorization", "Bearer "+t.token)
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req2)
}

// Name returns the provider type.
func (g *GitHubProvider) Name() hosting.ProviderType {
	return hosting.ProviderGitHub
}

// Authenticate validates the token by fetching the authenticated user.
func (g *GitHubProvider) Authenticate(ctx context.Context) (string, error) {
	user, _, err := g.client.Users.Get(ctx, "")
	if err != nil {
		return "", mapError(err, "authenticate")
	}
	return user.GetLogin(), nil
}

// CreateRepository creates a repository for the authenticated user.
func (g *GitHubProvider) CreateRepository(ctx context.Context, opts hosting.CreateRepositoryOptions) (*hosting.Repository, error) {
	repo := &gogithub.Repository{
		Name:     gogithub.Ptr(opts.Name),
		Private:  gogithub.Ptr(opts.Private),
		AutoInit: gogithub.Ptr(opts.AutoInit),
	}
	if opts.Description != "" {
		repo.Description = gogithub.Ptr(opts.Description)
	}

	created, _, err := g.client.Repositories.Create(ctx, "", repo)
	if err != nil {
		if isNameCollision(err) {
			return nil, errors.ErrRepoNameCollision(opts.Name).WithCause(err)
		}
		return nil, mapError(err, fmt.Sprintf("create repository %q", opts.Name))
	}

	branch := created.GetDefaultBranch()
	if branch == "" {
		branch = hosting.DefaultBranch
	}

	return &hosting.Repository{
		Owner:         created.GetOwner().GetLogin(),
		Name:          created.GetName(),
		HTMLURL:       created.GetHTMLURL(),
		DefaultBranch: branch,
	}, nil
}

// GetTree lists the tree at a ref. With an empty ref the conventional
// default branch names are tried in order, since repositories vary in
// default branch naming.
func (g *GitHubProvider) GetTree(ctx context.Context, owner, repo, ref string, recursive bool) ([]hosting.TreeEntry, error) {
	refs := []string{ref}
	if ref == "" {
		refs = []string{hosting.DefaultBranch, hosting.FallbackBranch}
	}

	var lastErr error
	for _, r := range refs {
		tree, _, err := g.client.Git.GetTree(ctx, owner, repo, r, recursive)
		if err != nil {
			lastErr = err
			if isNotFound(err) {
				continue
			}
			return nil, mapError(err, fmt.Sprintf("get tree %s/%s@%s", owner, repo, r))
		}
		return mapTreeEntries(tree.Entries), nil
	}

	return nil, errors.ErrRemoteNotFound(fmt.Sprintf("tree for %s/%s", owner, repo)).WithCause(lastErr)
}

// GetRef resolves a ref like "heads/main" to a commit SHA.
func (g *GitHubProvider) GetRef(ctx context.Context, owner, repo, ref string) (string, error) {
	reference, _, err := g.client.Git.GetRef(ctx, owner, repo, ref)
	if err != nil {
		return "", mapError(err, fmt.Sprintf("get ref %s on %s/%s", ref, owner, repo))
	}
	return reference.GetObject().GetSHA(), nil
}

// GetBlob fetches decoded blob content by SHA. The API returns base64 on
// the wire; go-github's raw accessor decodes it.
func (g *GitHubProvider) GetBlob(ctx context.Context, owner, repo, sha string) ([]byte, error) {
	data, _, err := g.client.Git.GetBlobRaw(ctx, owner, repo, sha)
	if err != nil {
		return nil, mapError(err, fmt.Sprintf("get blob %s", sha))
	}
	return data, nil
}

// CreateBlob uploads content and returns the new blob SHA.
func (g *GitHubProvider) CreateBlob(ctx context.Context, owner, repo string, content string, encoding hosting.Encoding) (string, error) {
	blob := gogithub.Blob{
		Content:  gogithub.Ptr(content),
		Encoding: gogithub.Ptr(string(encoding)),
	}

	created, _, err := g.client.Git.CreateBlob(ctx, owner, repo, blob)
	if err != nil {
		return "", mapError(err, "create blob")
	}
	return created.GetSHA(), nil
}

// CreateTree creates a tree object from blob entries.
func (g *GitHubProvider) CreateTree(ctx context.Context, owner, repo string, entries []hosting.TreeEntry) (string, error) {
	ghEntries := make([]*gogithub.TreeEntry, 0, len(entries))
	for _, e := range entries {
		mode := e.Mode
		if mode == "" {
			mode = hosting.FileMode
		}
		ghEntries = append(ghEntries, &gogithub.TreeEntry{
			Path: gogithub.Ptr(e.Path),
			Mode: gogithub.Ptr(mode),
			Type: gogithub.Ptr(string(e.Type)),
			SHA:  gogithub.Ptr(e.SHA),
		})
	}

	tree, _, err := g.client.Git.CreateTree(ctx, owner, repo, "", ghEntries)
	if err != nil {
		return "", mapError(err, "create tree")
	}
	return tree.GetSHA(), nil
}

// CreateCommit creates a commit referencing a tree and parent commits.
func (g *GitHubProvider) CreateCommit(ctx context.Context, owner, repo, message, treeSHA string, parents []string) (string, error) {
	parentCommits := make([]*gogithub.Commit, 0, len(parents))
	for _, p := range parents {
		parentCommits = append(parentCommits, &gogithub.Commit{SHA: gogithub.Ptr(p)})
	}

	commit := gogithub.Commit{
		Message: gogithub.Ptr(message),
		Tree:    &gogithub.Tree{SHA: gogithub.Ptr(treeSHA)},
		Parents: parentCommits,
	}

	created, _, err := g.client.Git.CreateCommit(ctx, owner, repo, commit, nil)
	if err != nil {
		return "", mapError(err, "create commit")
	}
	return created.GetSHA(), nil
}

// UpdateRef points a ref at a commit.
func (g *GitHubProvider) UpdateRef(ctx context.Context, owner, repo, ref, sha string, force bool) error {
	update := gogithub.UpdateRef{
		SHA:   sha,
		Force: gogithub.Ptr(force),
	}

	_, _, err := g.client.Git.UpdateRef(ctx, owner, repo, ref, update)
	if err != nil {
		return mapError(err, fmt.Sprintf("update ref %s", ref))
	}
	return nil
}

// mapTreeEntries converts go-github tree entries, dropping entries with no
// path or SHA (submodule stubs can report either missing).
func mapTreeEntries(entries []*gogithub.TreeEntry) []hosting.TreeEntry {
	result := make([]hosting.TreeEntry, 0, len(entries))
	for _, e := range entries {
		if e.GetPath() == "" || e.GetSHA() == "" {
			continue
		}
		result = append(result, hosting.TreeEntry{
			Path: e.GetPath(),
			Type: hosting.TreeEntryType(e.GetType()),
			SHA:  e.GetSHA(),
			Mode: e.GetMode(),
		})
	}
	return result
}

// mapError classifies a go-github error into the sync error taxonomy so the
// step engine knows what to retry.
func mapError(err error, what string) error {
	switch status := responseStatus(err); {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errors.ErrAuthFailed().WithCause(err)
	case status == http.StatusNotFound:
		return errors.ErrRemoteNotFound(what).WithCause(err)
	case status >= 500:
		return errors.ErrRemoteUnavailable(what).WithCause(err)
	default:
		// Includes network-level failures with no HTTP response: transient.
		return errors.Wrap(err, what)
	}
}

func responseStatus(err error) int {
	if ghErr, ok := err.(*gogithub.ErrorResponse); ok && ghErr.Response != nil {
		return ghErr.Response.StatusCode
	}
	return 0
}

func isNotFound(err error) bool {
	return responseStatus(err) == http.StatusNotFound ||
		responseStatus(err) == http.StatusUnprocessableEntity
}

// isNameCollision detects the 422 "name already exists" validation error
// from repository creation.
func isNameCollision(err error) bool {
	ghErr, ok := err.(*gogithub.ErrorResponse)
	if !ok || ghErr.Response == nil || ghErr.Response.StatusCode != http.StatusUnprocessableEntity {
		return false
	}
	for _, e := range ghErr.Errors {
		if e.Field == "name" && strings.Contains(e.Message, "already exists") {
			return true
		}
	}
	// 422 on create with no structured field info is still a collision in
	// practice.
	return len(ghErr.Errors) == 0
}
