package sync

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/axiomcode/reposync/internal/batch"
	"github.com/axiomcode/reposync/internal/blob"
	"github.com/axiomcode/reposync/internal/engine"
	"github.com/axiomcode/reposync/internal/errors"
	"github.com/axiomcode/reposync/internal/hosting"
	"github.com/axiomcode/reposync/internal/project"
	"github.com/axiomcode/reposync/internal/tree"
)

const (
	// DefaultCommitMessage is used when the export request carries none.
	DefaultCommitMessage = "Initial sync"

	// DefaultRepoWaitMax bounds how long the export polls for the remote
	// repository's seeded default branch to appear.
	DefaultRepoWaitMax = 30 * time.Second

	repoWaitInterval = 500 * time.Millisecond
)

// Exporter pushes a project's file tree to a new remote repository as a
// single commit on top of the seeded initial commit.
type Exporter struct {
	Store   project.Store
	Status  project.StatusReporter
	Engine  *engine.Engine
	Hosting hosting.Config
	HTTP    *http.Client
	Log     *slog.Logger

	// Provider, when set, bypasses registry construction and token
	// resolution. Used by tests.
	Provider hosting.Provider

	// BatchSize bounds concurrent remote blob creations per batch.
	BatchSize int

	// CommitMessage is the default commit message for exports.
	CommitMessage string

	// RepoWaitMax bounds the repository initialization poll.
	RepoWaitMax time.Duration
}

// ExportRequest names the repository to create and the project to export.
type ExportRequest struct {
	ProjectID   string `json:"project_id"`
	RepoName    string `json:"repo_name"`
	Description string `json:"description,omitempty"`
	Private     bool   `json:"private"`

	// CommitMessage overrides the exporter's default for this request.
	CommitMessage string `json:"commit_message,omitempty"`

	// Token overrides the configured credential for this request.
	Token string `json:"token,omitempty"`
}

// Run executes the export workflow for a project. On failure inside the
// run the export status is set to failed; a cancellation observed at a step
// boundary sets it to cancelled instead. A missing credential fails before
// the run starts and writes no status.
func (ex *Exporter) Run(ctx context.Context, req ExportRequest) error {
	log := ex.logger().With("project", req.ProjectID, "repo", req.RepoName)

	provider, err := ex.provider(req.Token)
	if err != nil {
		return err
	}

	onFailure := func(ctx context.Context, runErr error) {
		ex.reportStatus(ctx, req.ProjectID, project.ExportFailed, "")
	}

	err = ex.Engine.Execute(ctx, WorkflowExport, req.ProjectID, func(rc *engine.RunContext) error {
		return ex.run(rc, provider, req)
	}, onFailure)

	if err != nil && isCancelled(err) {
		ex.reportStatus(ctx, req.ProjectID, project.ExportCancelled, "")
		log.Info("export cancelled")
		return err
	}
	if err != nil {
		log.Error("export failed", "error", err)
	}
	return err
}

// Cancel requests cancellation of the project's running export. The marker
// is observed at the next step boundary.
func (ex *Exporter) Cancel(projectID string) error {
	return ex.Engine.Cancels().Request(WorkflowExport, projectID)
}

func (ex *Exporter) run(rc *engine.RunContext, provider hosting.Provider, req ExportRequest) error {
	if err := engine.Do(rc, "set-exporting-status", func(ctx context.Context) error {
		return ex.Status.UpdateExportStatus(ctx, req.ProjectID, project.ExportPending, "")
	}); err != nil {
		return err
	}

	login, err := engine.Step(rc, "get-remote-user", func(ctx context.Context) (string, error) {
		return provider.Authenticate(ctx)
	})
	if err != nil {
		return err
	}

	repo, err := engine.Step(rc, "create-repo", func(ctx context.Context) (*hosting.Repository, error) {
		return provider.CreateRepository(ctx, hosting.CreateRepositoryOptions{
			Name:        req.RepoName,
			Description: req.Description,
			Private:     req.Private,
			AutoInit:    true,
		})
	})
	if err != nil {
		return err
	}
	if repo.Owner == "" {
		repo.Owner = login
	}
	branch := repo.DefaultBranch
	if branch == "" {
		branch = hosting.DefaultBranch
	}
	headRef := "heads/" + branch

	// Repository creation is asynchronous on the remote side; the seeded
	// initial commit appears shortly after the create call returns.
	if err := engine.Do(rc, "wait-repo-init", func(ctx context.Context) error {
		return ex.waitRepoInit(ctx, provider, repo, headRef)
	}); err != nil {
		return err
	}

	parentSHA, err := engine.Step(rc, "get-initial-commit", func(ctx context.Context) (string, error) {
		return provider.GetRef(ctx, repo.Owner, repo.Name, headRef)
	})
	if err != nil {
		return err
	}

	files, err := engine.Step(rc, "fetch-project-files", func(ctx context.Context) ([]project.FileWithURL, error) {
		files, err := ex.Store.FilesWithURLs(ctx, req.ProjectID)
		if err != nil {
			return nil, err
		}
		if countFiles(files) == 0 {
			return nil, errors.ErrNothingToExport(req.ProjectID)
		}
		return files, nil
	})
	if err != nil {
		return err
	}

	entries, err := engine.Step(rc, "create-blobs", func(ctx context.Context) ([]hosting.TreeEntry, error) {
		return ex.createBlobs(ctx, provider, repo, files)
	})
	if err != nil {
		return err
	}

	treeSHA, err := engine.Step(rc, "create-tree", func(ctx context.Context) (string, error) {
		return provider.CreateTree(ctx, repo.Owner, repo.Name, entries)
	})
	if err != nil {
		return err
	}

	commitSHA, err := engine.Step(rc, "create-commit", func(ctx context.Context) (string, error) {
		return provider.CreateCommit(ctx, repo.Owner, repo.Name, ex.commitMessage(req), treeSHA, []string{parentSHA})
	})
	if err != nil {
		return err
	}

	if err := engine.Do(rc, "update-branch-ref", func(ctx context.Context) error {
		return provider.UpdateRef(ctx, repo.Owner, repo.Name, headRef, commitSHA, true)
	}); err != nil {
		return err
	}

	return engine.Do(rc, "set-completed-status", func(ctx context.Context) error {
		return ex.Status.UpdateExportStatus(ctx, req.ProjectID, project.ExportCompleted, repo.HTMLURL)
	})
}

// waitRepoInit polls the default branch ref until the remote finishes
// seeding the repository's initial commit.
func (ex *Exporter) waitRepoInit(ctx context.Context, provider hosting.Provider, repo *hosting.Repository, headRef string) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = repoWaitInterval
	bo.MaxElapsedTime = ex.RepoWaitMax
	if bo.MaxElapsedTime == 0 {
		bo.MaxElapsedTime = DefaultRepoWaitMax
	}

	return backoff.Retry(func() error {
		_, err := provider.GetRef(ctx, repo.Owner, repo.Name, headRef)
		if err == nil {
			return nil
		}
		if e := errors.AsSyncError(err); e != nil && e.Code == errors.CodeRemoteNotFound {
			// Not seeded yet, keep polling.
			return err
		}
		if !errors.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(bo, ctx))
}

// createBlobs uploads every file's content to the remote as a blob and
// returns the resulting tree entries. Text content goes up as UTF-8, binary
// content is fetched from blob storage and sent base64-encoded. Per-file
// failures and empty nodes are skipped; the export fails only when every
// single blob was lost.
func (ex *Exporter) createBlobs(ctx context.Context, provider hosting.Provider, repo *hosting.Repository, files []project.FileWithURL) ([]hosting.TreeEntry, error) {
	log := ex.logger().With("project", filesProject(files))

	nodes := make([]project.FileNode, 0, len(files))
	for _, f := range files {
		nodes = append(nodes, f.FileNode)
	}
	idx := tree.NewIndex(nodes)

	exportable := make([]project.FileWithURL, 0, len(files))
	skipped := 0
	for _, f := range files {
		if !f.IsFile() {
			continue
		}
		if f.Content == nil && f.StorageKey == nil {
			skipped++
			continue
		}
		exportable = append(exportable, f)
	}
	if skipped > 0 {
		log.Warn("skipping files with no content", "count", skipped)
	}

	size := ex.BatchSize
	if size < 1 {
		size = batch.DefaultExportSize
	}

	results := batch.Run(ctx, exportable, size, func(ctx context.Context, f project.FileWithURL) (hosting.TreeEntry, error) {
		content, encoding, err := ex.blobContent(ctx, f)
		if err != nil {
			return hosting.TreeEntry{}, err
		}
		sha, err := provider.CreateBlob(ctx, repo.Owner, repo.Name, content, encoding)
		if err != nil {
			return hosting.TreeEntry{}, err
		}
		return hosting.TreeEntry{
			Path: idx.Path(f.ID),
			Type: hosting.EntryBlob,
			SHA:  sha,
			Mode: hosting.FileMode,
		}, nil
	})

	entries := make([]hosting.TreeEntry, 0, len(results))
	for _, r := range results {
		if !r.OK() {
			log.Warn("skipping file blob", "path", idx.Path(exportable[r.Index].ID), "error", r.Err)
			continue
		}
		entries = append(entries, r.Value)
	}
	if len(entries) == 0 {
		return nil, errors.ErrNoBlobsCreated()
	}
	return entries, nil
}

func (ex *Exporter) blobContent(ctx context.Context, f project.FileWithURL) (string, hosting.Encoding, error) {
	if f.StorageKey == nil {
		return *f.Content, hosting.EncodingUTF8, nil
	}
	if f.DownloadURL == "" {
		return "", "", fmt.Errorf("no download URL for binary file %s", f.Name)
	}
	data, err := blob.Download(ctx, ex.httpClient(), f.DownloadURL)
	if err != nil {
		return "", "", err
	}
	return base64.StdEncoding.EncodeToString(data), hosting.EncodingBase64, nil
}

func (ex *Exporter) commitMessage(req ExportRequest) string {
	if req.CommitMessage != "" {
		return req.CommitMessage
	}
	if ex.CommitMessage != "" {
		return ex.CommitMessage
	}
	return DefaultCommitMessage
}

func (ex *Exporter) provider(token string) (hosting.Provider, error) {
	if ex.Provider != nil {
		return ex.Provider, nil
	}
	return hosting.NewProvider(ex.Hosting, token)
}

func (ex *Exporter) reportStatus(ctx context.Context, projectID string, status project.ExportStatus, repoURL string) {
	if err := ex.Status.UpdateExportStatus(context.WithoutCancel(ctx), projectID, status, repoURL); err != nil {
		ex.logger().Error("failed to update export status", "project", projectID, "error", err)
	}
}

func (ex *Exporter) httpClient() *http.Client {
	if ex.HTTP != nil {
		return ex.HTTP
	}
	return http.DefaultClient
}

func (ex *Exporter) logger() *slog.Logger {
	if ex.Log != nil {
		return ex.Log
	}
	return slog.Default()
}

func countFiles(files []project.FileWithURL) int {
	n := 0
	for _, f := range files {
		if f.IsFile() {
			n++
		}
	}
	return n
}

func filesProject(files []project.FileWithURL) string {
	if len(files) == 0 {
		return ""
	}
	return files[0].ProjectID
}
