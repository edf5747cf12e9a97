// Package sync implements the repository import and export workflows.
//
// Both workflows run on the durable step engine: each external effect is a
// named step whose result is persisted, so a retried run resumes where the
// previous one failed instead of repeating remote calls.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"

	"github.com/axiomcode/reposync/internal/batch"
	"github.com/axiomcode/reposync/internal/blob"
	"github.com/axiomcode/reposync/internal/classify"
	"github.com/axiomcode/reposync/internal/engine"
	"github.com/axiomcode/reposync/internal/errors"
	"github.com/axiomcode/reposync/internal/hosting"
	"github.com/axiomcode/reposync/internal/project"
	"github.com/axiomcode/reposync/internal/tree"
)

// Workflow names used as run state keys.
const (
	WorkflowImport = "import"
	WorkflowExport = "export"
)

// Importer mirrors a remote repository into a project's file tree.
type Importer struct {
	Store   project.Store
	Status  project.StatusReporter
	Blobs   blob.Storage
	Engine  *engine.Engine
	Hosting hosting.Config
	HTTP    *http.Client
	Log     *slog.Logger

	// Provider, when set, bypasses registry construction and token
	// resolution. Used by tests.
	Provider hosting.Provider

	// BatchSize bounds concurrent blob fetches per batch.
	BatchSize int

	// IgnorePatterns are doublestar globs matched against repository paths;
	// matching entries are not imported.
	IgnorePatterns []string
}

// ImportRequest identifies the remote repository to import and the project
// to import it into.
type ImportRequest struct {
	ProjectID string `json:"project_id"`
	Owner     string `json:"owner"`
	Repo      string `json:"repo"`

	// Ref is the branch or commit to import. Empty means the conventional
	// default branch names are tried in order.
	Ref string `json:"ref,omitempty"`

	// Token overrides the configured credential for this request.
	Token string `json:"token,omitempty"`
}

type importStats struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

// Run executes the import workflow for a project. The project's existing
// files are removed first; on any failure inside the run the import status
// is set to failed and the error returned. A missing credential fails
// before the run starts and writes no status.
func (im *Importer) Run(ctx context.Context, req ImportRequest) error {
	log := im.logger().With("project", req.ProjectID, "repo", req.Owner+"/"+req.Repo)

	provider, err := im.provider(req.Token)
	if err != nil {
		return err
	}

	onFailure := func(ctx context.Context, runErr error) {
		im.reportStatus(ctx, req.ProjectID, project.ImportFailed)
	}

	err = im.Engine.Execute(ctx, WorkflowImport, req.ProjectID, func(rc *engine.RunContext) error {
		return im.run(rc, provider, req)
	}, onFailure)

	if err != nil && isCancelled(err) {
		// A cancelled import leaves the project partially populated, which
		// reads as a failed import to the caller.
		im.reportStatus(ctx, req.ProjectID, project.ImportFailed)
	}
	if err != nil {
		log.Error("import failed", "error", err)
	}
	return err
}

func (im *Importer) run(rc *engine.RunContext, provider hosting.Provider, req ImportRequest) error {
	if err := engine.Do(rc, "cleanup-project", func(ctx context.Context) error {
		return im.Store.Cleanup(ctx, req.ProjectID)
	}); err != nil {
		return err
	}

	entries, err := engine.Step(rc, "fetch-repo-tree", func(ctx context.Context) ([]hosting.TreeEntry, error) {
		return provider.GetTree(ctx, req.Owner, req.Repo, req.Ref, true)
	})
	if err != nil {
		return err
	}

	folderIDs, err := engine.Step(rc, "create-folders", func(ctx context.Context) (map[string]string, error) {
		return im.createFolders(ctx, req.ProjectID, entries)
	})
	if err != nil {
		return err
	}

	stats, err := engine.Step(rc, "import-files", func(ctx context.Context) (importStats, error) {
		return im.importFiles(ctx, provider, req, entries, folderIDs)
	})
	if err != nil {
		return err
	}
	rc.Log().Info("files imported", "imported", stats.Imported, "skipped", stats.Skipped)

	return engine.Do(rc, "set-imported-status", func(ctx context.Context) error {
		return im.Status.UpdateImportStatus(ctx, req.ProjectID, project.ImportCompleted)
	})
}

// createFolders creates folder nodes for every tree entry, parents before
// children, and returns the path -> node ID map the file import uses to
// resolve parents. Folders that already exist (from a partially completed
// earlier attempt) are reused.
func (im *Importer) createFolders(ctx context.Context, projectID string, entries []hosting.TreeEntry) (map[string]string, error) {
	existing, err := im.existingFolders(ctx, projectID)
	if err != nil {
		return nil, err
	}

	folders := make([]hosting.TreeEntry, 0)
	for _, e := range entries {
		if e.Type == hosting.EntryTree && !im.ignored(e.Path) {
			folders = append(folders, e)
		}
	}
	sort.SliceStable(folders, func(i, j int) bool {
		return tree.Depth(folders[i].Path) < tree.Depth(folders[j].Path)
	})

	folderIDs := make(map[string]string, len(folders))
	for _, f := range folders {
		if id, ok := existing[f.Path]; ok {
			folderIDs[f.Path] = id
			continue
		}

		parentPath, name := tree.SplitPath(f.Path)
		var parentID *string
		if parentPath != "" {
			pid, ok := folderIDs[parentPath]
			if !ok {
				return nil, fmt.Errorf("folder %s created before its parent %s", f.Path, parentPath)
			}
			parentID = &pid
		}

		id, err := im.Store.CreateFolder(ctx, projectID, name, parentID)
		if err != nil {
			return nil, fmt.Errorf("create folder %s: %w", f.Path, err)
		}
		folderIDs[f.Path] = id
	}
	return folderIDs, nil
}

func (im *Importer) existingFolders(ctx context.Context, projectID string) (map[string]string, error) {
	nodes, err := im.Store.Files(ctx, projectID)
	if err != nil {
		return nil, err
	}

	idx := tree.NewIndex(nodes)
	existing := make(map[string]string)
	for path, n := range idx.Paths() {
		if n.Kind == project.KindFolder {
			existing[path] = n.ID
		}
	}
	return existing, nil
}

type fetchedFile struct {
	entry hosting.TreeEntry
	data  []byte
}

// importFiles fetches every blob entry in batches, classifies each payload
// and creates the corresponding file nodes. Individual failures are logged
// and skipped; only wholesale failure aborts the step.
func (im *Importer) importFiles(ctx context.Context, provider hosting.Provider, req ImportRequest, entries []hosting.TreeEntry, folderIDs map[string]string) (importStats, error) {
	projectID := req.ProjectID
	log := im.logger().With("project", projectID)
	var stats importStats

	blobs := make([]hosting.TreeEntry, 0, len(entries))
	for _, e := range entries {
		if e.Type != hosting.EntryBlob {
			continue
		}
		if im.ignored(e.Path) {
			stats.Skipped++
			continue
		}
		blobs = append(blobs, e)
	}

	size := im.BatchSize
	if size < 1 {
		size = batch.DefaultImportSize
	}

	results := batch.Run(ctx, blobs, size, func(ctx context.Context, e hosting.TreeEntry) (fetchedFile, error) {
		data, err := provider.GetBlob(ctx, req.Owner, req.Repo, e.SHA)
		if err != nil {
			return fetchedFile{}, err
		}
		return fetchedFile{entry: e, data: data}, nil
	})

	// Text files are grouped per parent folder and created in one batch per
	// group; binary files go through blob storage individually.
	textByParent := make(map[string][]project.TextFile)
	var binaries []fetchedFile
	for _, r := range results {
		if !r.OK() {
			log.Warn("skipping file", "path", blobs[r.Index].Path, "error", r.Err)
			stats.Skipped++
			continue
		}
		if classify.IsBinary(r.Value.data) {
			binaries = append(binaries, r.Value)
			continue
		}
		parentPath, name := tree.SplitPath(r.Value.entry.Path)
		textByParent[parentPath] = append(textByParent[parentPath], project.TextFile{
			Name:    name,
			Content: string(r.Value.data),
		})
	}

	for parentPath, files := range textByParent {
		parentID := im.parentFor(parentPath, folderIDs)
		if err := im.createTextFiles(ctx, projectID, parentID, files); err != nil {
			return stats, fmt.Errorf("create files under %q: %w", parentPath, err)
		}
		stats.Imported += len(files)
	}

	for _, b := range binaries {
		if err := im.importBinary(ctx, projectID, b, folderIDs); err != nil {
			log.Warn("skipping binary file", "path", b.entry.Path, "error", err)
			stats.Skipped++
			continue
		}
		stats.Imported++
	}
	return stats, nil
}

// createTextFiles batch-creates a parent's text files. When the batch hits
// a name conflict (leftovers from a partially completed earlier attempt)
// it falls back to per-file creation, treating conflicts as already done.
func (im *Importer) createTextFiles(ctx context.Context, projectID string, parentID *string, files []project.TextFile) error {
	err := im.Store.CreateFiles(ctx, projectID, parentID, files)
	if err == nil || !isNameTaken(err) {
		return err
	}

	for _, f := range files {
		_, err := im.Store.CreateFile(ctx, projectID, f.Name, f.Content, parentID)
		if err != nil && !isNameTaken(err) {
			return err
		}
	}
	return nil
}

func (im *Importer) importBinary(ctx context.Context, projectID string, f fetchedFile, folderIDs map[string]string) error {
	key := projectID + "/" + uuid.NewString()

	url, err := im.Blobs.PresignUpload(ctx, key)
	if err != nil {
		return fmt.Errorf("presign upload: %w", err)
	}
	if err := blob.Upload(ctx, im.httpClient(), url, f.data); err != nil {
		return err
	}

	parentPath, name := tree.SplitPath(f.entry.Path)
	parentID := im.parentFor(parentPath, folderIDs)
	_, err = im.Store.CreateBinaryFile(ctx, projectID, name, key, parentID)
	if err != nil && !isNameTaken(err) {
		return err
	}
	return nil
}

func (im *Importer) parentFor(parentPath string, folderIDs map[string]string) *string {
	if parentPath == "" {
		return nil
	}
	if id, ok := folderIDs[parentPath]; ok {
		return &id
	}
	return nil
}

func (im *Importer) ignored(path string) bool {
	for _, pattern := range im.IgnorePatterns {
		if ok, err := doublestar.Match(pattern, path); err == nil && ok {
			return true
		}
	}
	return false
}

func (im *Importer) provider(token string) (hosting.Provider, error) {
	if im.Provider != nil {
		return im.Provider, nil
	}
	return hosting.NewProvider(im.Hosting, token)
}

func (im *Importer) reportStatus(ctx context.Context, projectID string, status project.ImportStatus) {
	if err := im.Status.UpdateImportStatus(context.WithoutCancel(ctx), projectID, status); err != nil {
		im.logger().Error("failed to update import status", "project", projectID, "error", err)
	}
}

func (im *Importer) httpClient() *http.Client {
	if im.HTTP != nil {
		return im.HTTP
	}
	return http.DefaultClient
}

func (im *Importer) logger() *slog.Logger {
	if im.Log != nil {
		return im.Log
	}
	return slog.Default()
}

func isCancelled(err error) bool {
	e := errors.AsSyncError(err)
	return e != nil && e.Code == errors.CodeRunCancelled
}

func isNameTaken(err error) bool {
	e := errors.AsSyncError(err)
	return e != nil && e.Code == errors.CodeNameTaken
}
