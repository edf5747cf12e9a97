package sync

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axiomcode/reposync/internal/blob"
	"github.com/axiomcode/reposync/internal/db"
	"github.com/axiomcode/reposync/internal/engine"
	"github.com/axiomcode/reposync/internal/errors"
	"github.com/axiomcode/reposync/internal/hosting"
	_ "github.com/axiomcode/reposync/internal/hosting/github"
	"github.com/axiomcode/reposync/internal/project"
	"github.com/axiomcode/reposync/internal/tree"
)

// fakeProvider is an in-memory hosting.Provider. Exports write into its
// repo state; imports read from importTree and the shared blob map.
type fakeProvider struct {
	mu    gosync.Mutex
	login string

	repos map[string]*fakeRepo
	blobs map[string][]byte
	next  int

	// importTree is served by GetTree.
	importTree []hosting.TreeEntry

	// initPolls is how many GetRef calls fail before a created repo's
	// seeded branch appears.
	initPolls int

	treeErr error

	// createBlobErr fails every CreateBlob; createBlobCalls counts attempts.
	createBlobErr   error
	createBlobCalls int
}

type fakeRepo struct {
	repo      *hosting.Repository
	trees     map[string][]hosting.TreeEntry
	commits   map[string]fakeCommit
	refs      map[string]string
	initPolls int
}

type fakeCommit struct {
	message string
	tree    string
	parents []string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		login: "octo",
		repos: make(map[string]*fakeRepo),
		blobs: make(map[string][]byte),
	}
}

func (f *fakeProvider) sha(prefix string) string {
	f.next++
	return fmt.Sprintf("%s-%d", prefix, f.next)
}

func (f *fakeProvider) repoKey(owner, name string) string { return owner + "/" + name }

func (f *fakeProvider) Authenticate(context.Context) (string, error) {
	return f.login, nil
}

func (f *fakeProvider) CreateRepository(_ context.Context, opts hosting.CreateRepositoryOptions) (*hosting.Repository, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := f.repoKey(f.login, opts.Name)
	if _, ok := f.repos[key]; ok {
		return nil, errors.ErrRepoNameCollision(opts.Name)
	}

	r := &hosting.Repository{
		Owner:         f.login,
		Name:          opts.Name,
		HTMLURL:       "https://github.example/" + key,
		DefaultBranch: "main",
	}
	fr := &fakeRepo{
		repo:      r,
		trees:     make(map[string][]hosting.TreeEntry),
		commits:   make(map[string]fakeCommit),
		refs:      make(map[string]string),
		initPolls: f.initPolls,
	}
	if opts.AutoInit {
		initSHA := f.sha("commit")
		fr.commits[initSHA] = fakeCommit{message: "initial"}
		fr.refs["heads/main"] = initSHA
	}
	f.repos[key] = fr
	return r, nil
}

func (f *fakeProvider) GetTree(_ context.Context, _, _, _ string, _ bool) ([]hosting.TreeEntry, error) {
	if f.treeErr != nil {
		return nil, f.treeErr
	}
	return f.importTree, nil
}

func (f *fakeProvider) GetRef(_ context.Context, owner, repo, ref string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	fr, ok := f.repos[f.repoKey(owner, repo)]
	if !ok {
		return "", errors.ErrRemoteNotFound("repository")
	}
	if fr.initPolls > 0 {
		fr.initPolls--
		return "", errors.ErrRemoteNotFound("ref " + ref)
	}
	sha, ok := fr.refs[ref]
	if !ok {
		return "", errors.ErrRemoteNotFound("ref " + ref)
	}
	return sha, nil
}

func (f *fakeProvider) GetBlob(_ context.Context, _, _, sha string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.blobs[sha]
	if !ok {
		return nil, errors.ErrRemoteNotFound("blob " + sha)
	}
	return data, nil
}

func (f *fakeProvider) CreateBlob(_ context.Context, _, _ string, content string, encoding hosting.Encoding) (string, error) {
	f.mu.Lock()
	f.createBlobCalls++
	failErr := f.createBlobErr
	f.mu.Unlock()
	if failErr != nil {
		return "", failErr
	}

	var data []byte
	switch encoding {
	case hosting.EncodingBase64:
		decoded, err := base64.StdEncoding.DecodeString(content)
		if err != nil {
			return "", err
		}
		data = decoded
	default:
		data = []byte(content)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	sha := f.sha("blob")
	f.blobs[sha] = data
	return sha, nil
}

func (f *fakeProvider) CreateTree(_ context.Context, owner, repo string, entries []hosting.TreeEntry) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fr := f.repos[f.repoKey(owner, repo)]
	sha := f.sha("tree")
	fr.trees[sha] = entries
	return sha, nil
}

func (f *fakeProvider) CreateCommit(_ context.Context, owner, repo, message, treeSHA string, parents []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fr := f.repos[f.repoKey(owner, repo)]
	sha := f.sha("commit")
	fr.commits[sha] = fakeCommit{message: message, tree: treeSHA, parents: parents}
	return sha, nil
}

func (f *fakeProvider) UpdateRef(_ context.Context, owner, repo, ref, sha string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	fr := f.repos[f.repoKey(owner, repo)]
	fr.refs[ref] = sha
	return nil
}

func (f *fakeProvider) Name() hosting.ProviderType { return hosting.ProviderGitHub }

// exportedState extracts the committed tree and blob contents of a repo so
// a second fakeProvider can serve them for import.
func (f *fakeProvider) exportedState(t *testing.T, owner, repo string) ([]hosting.TreeEntry, map[string][]byte) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	fr := f.repos[f.repoKey(owner, repo)]
	require.NotNil(t, fr)
	head := fr.refs["heads/main"]
	commit := fr.commits[head]
	blobs := fr.trees[commit.tree]

	seen := map[string]bool{}
	var entries []hosting.TreeEntry
	for _, b := range blobs {
		parent, _ := tree.SplitPath(b.Path)
		for parent != "" {
			if !seen[parent] {
				seen[parent] = true
				entries = append(entries, hosting.TreeEntry{Path: parent, Type: hosting.EntryTree, SHA: f.sha("dir")})
			}
			parent, _ = tree.SplitPath(parent)
		}
	}
	entries = append(entries, blobs...)
	return entries, f.blobs
}

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	e := engine.New(t.TempDir(), slog.Default())
	e.MaxStepRetries = 1
	e.RetryInterval = time.Millisecond
	return e
}

func newTestStore(t *testing.T) (*db.DB, *blob.MemoryStorage) {
	t.Helper()
	mem := blob.NewMemoryStorage()
	d, err := db.OpenInMemory(mem)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d, mem
}

func newExporter(t *testing.T, d *db.DB, mem *blob.MemoryStorage, fp *fakeProvider) *Exporter {
	t.Helper()
	return &Exporter{
		Store:       d,
		Status:      d,
		Engine:      newTestEngine(t),
		HTTP:        mem.Client(),
		Provider:    fp,
		RepoWaitMax: 5 * time.Second,
	}
}

func newImporter(t *testing.T, d *db.DB, mem *blob.MemoryStorage, fp *fakeProvider) *Importer {
	t.Helper()
	return &Importer{
		Store:    d,
		Status:   d,
		Blobs:    mem,
		Engine:   newTestEngine(t),
		HTTP:     mem.Client(),
		Provider: fp,
	}
}

// seedProject creates {/src/index.txt "hello", /assets/logo.png 01020304}.
func seedProject(t *testing.T, d *db.DB, mem *blob.MemoryStorage) string {
	t.Helper()
	ctx := context.Background()

	pid, err := d.CreateProject(ctx, "demo")
	require.NoError(t, err)

	srcID, err := d.CreateFolder(ctx, pid, "src", nil)
	require.NoError(t, err)
	_, err = d.CreateFile(ctx, pid, "index.txt", "hello", &srcID)
	require.NoError(t, err)

	assetsID, err := d.CreateFolder(ctx, pid, "assets", nil)
	require.NoError(t, err)
	require.NoError(t, mem.Put(ctx, "blob-logo", []byte{1, 2, 3, 4}))
	_, err = d.CreateBinaryFile(ctx, pid, "logo.png", "blob-logo", &assetsID)
	require.NoError(t, err)

	return pid
}

func projectPaths(t *testing.T, d *db.DB, projectID string) map[string]project.FileNode {
	t.Helper()
	nodes, err := d.Files(context.Background(), projectID)
	require.NoError(t, err)

	out := make(map[string]project.FileNode)
	for path, n := range tree.NewIndex(nodes).Paths() {
		out[path] = *n
	}
	return out
}

func TestExportCreatesSingleCommit(t *testing.T) {
	ctx := context.Background()
	d, mem := newTestStore(t)
	pid := seedProject(t, d, mem)

	fp := newFakeProvider()
	fp.initPolls = 2
	ex := newExporter(t, d, mem, fp)

	err := ex.Run(ctx, ExportRequest{ProjectID: pid, RepoName: "demo"})
	require.NoError(t, err)

	p, err := d.GetProject(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, project.ExportCompleted, p.ExportStatus)
	assert.Equal(t, "https://github.example/octo/demo", p.ExportRepoURL)

	fr := fp.repos["octo/demo"]
	require.NotNil(t, fr)

	head := fr.refs["heads/main"]
	commit := fr.commits[head]
	require.Len(t, commit.parents, 1, "commit must have exactly the seeded parent")
	assert.Equal(t, DefaultCommitMessage, commit.message)

	byPath := map[string][]byte{}
	for _, e := range fr.trees[commit.tree] {
		assert.Equal(t, hosting.FileMode, e.Mode)
		assert.Equal(t, hosting.EntryBlob, e.Type)
		byPath[e.Path] = fp.blobs[e.SHA]
	}
	assert.Equal(t, []byte("hello"), byPath["src/index.txt"])
	assert.Equal(t, []byte{1, 2, 3, 4}, byPath["assets/logo.png"])
}

func TestExportEmptyProjectFails(t *testing.T) {
	ctx := context.Background()
	d, mem := newTestStore(t)

	pid, err := d.CreateProject(ctx, "empty")
	require.NoError(t, err)

	ex := newExporter(t, d, mem, newFakeProvider())
	err = ex.Run(ctx, ExportRequest{ProjectID: pid, RepoName: "empty"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNothingToExport(pid))

	p, err := d.GetProject(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, project.ExportFailed, p.ExportStatus)
}

func TestExportRepoNameCollision(t *testing.T) {
	ctx := context.Background()
	d, mem := newTestStore(t)
	pid := seedProject(t, d, mem)

	fp := newFakeProvider()
	ex := newExporter(t, d, mem, fp)
	require.NoError(t, ex.Run(ctx, ExportRequest{ProjectID: pid, RepoName: "demo"}))

	// Exporting again to the same repo name hits the collision.
	err := ex.Run(ctx, ExportRequest{ProjectID: pid, RepoName: "demo"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrRepoNameCollision("demo"))
}

func TestExportCancelled(t *testing.T) {
	ctx := context.Background()
	d, mem := newTestStore(t)
	pid := seedProject(t, d, mem)

	ex := newExporter(t, d, mem, newFakeProvider())
	require.NoError(t, ex.Cancel(pid))

	err := ex.Run(ctx, ExportRequest{ProjectID: pid, RepoName: "demo"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrRunCancelled(pid))

	p, err := d.GetProject(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, project.ExportCancelled, p.ExportStatus)
}

func TestImportBuildsTree(t *testing.T) {
	ctx := context.Background()
	d, mem := newTestStore(t)

	pid, err := d.CreateProject(ctx, "imported")
	require.NoError(t, err)

	fp := newFakeProvider()
	fp.blobs["sha-readme"] = []byte("read me")
	fp.blobs["sha-main"] = []byte("package main")
	fp.blobs["sha-logo"] = []byte{0x89, 0x50, 0x00, 0x01}
	// The readme blob is listed before its containing folder; folder
	// creation must not depend on listing order.
	fp.importTree = []hosting.TreeEntry{
		{Path: "docs/readme.txt", Type: hosting.EntryBlob, SHA: "sha-readme"},
		{Path: "docs", Type: hosting.EntryTree, SHA: "sha-docs"},
		{Path: "src", Type: hosting.EntryTree, SHA: "sha-src"},
		{Path: "src/main.txt", Type: hosting.EntryBlob, SHA: "sha-main"},
		{Path: "assets", Type: hosting.EntryTree, SHA: "sha-assets"},
		{Path: "assets/logo.png", Type: hosting.EntryBlob, SHA: "sha-logo"},
	}

	im := newImporter(t, d, mem, fp)
	require.NoError(t, im.Run(ctx, ImportRequest{ProjectID: pid, Owner: "octo", Repo: "demo"}))

	p, err := d.GetProject(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, project.ImportCompleted, p.ImportStatus)

	paths := projectPaths(t, d, pid)
	require.Contains(t, paths, "docs/readme.txt")
	require.Contains(t, paths, "src/main.txt")
	require.Contains(t, paths, "assets/logo.png")

	assert.Equal(t, "read me", *paths["docs/readme.txt"].Content)
	assert.Equal(t, "package main", *paths["src/main.txt"].Content)

	logo := paths["assets/logo.png"]
	require.True(t, logo.IsBinary())
	data, err := mem.Get(ctx, *logo.StorageKey)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x89, 0x50, 0x00, 0x01}, data)
}

func TestImportReplacesExistingFiles(t *testing.T) {
	ctx := context.Background()
	d, mem := newTestStore(t)
	pid := seedProject(t, d, mem)

	fp := newFakeProvider()
	fp.blobs["sha-one"] = []byte("one")
	fp.importTree = []hosting.TreeEntry{
		{Path: "one.txt", Type: hosting.EntryBlob, SHA: "sha-one"},
	}

	im := newImporter(t, d, mem, fp)
	require.NoError(t, im.Run(ctx, ImportRequest{ProjectID: pid, Owner: "octo", Repo: "demo"}))

	paths := projectPaths(t, d, pid)
	assert.Len(t, paths, 1)
	assert.Contains(t, paths, "one.txt")
	assert.Zero(t, mem.Len(), "old binary blobs removed by cleanup")
}

func TestImportIgnorePatterns(t *testing.T) {
	ctx := context.Background()
	d, mem := newTestStore(t)

	pid, err := d.CreateProject(ctx, "imported")
	require.NoError(t, err)

	fp := newFakeProvider()
	fp.blobs["sha-keep"] = []byte("keep")
	fp.blobs["sha-log"] = []byte("noise")
	fp.importTree = []hosting.TreeEntry{
		{Path: "keep.txt", Type: hosting.EntryBlob, SHA: "sha-keep"},
		{Path: "logs", Type: hosting.EntryTree, SHA: "sha-logs"},
		{Path: "logs/app.log", Type: hosting.EntryBlob, SHA: "sha-log"},
	}

	im := newImporter(t, d, mem, fp)
	im.IgnorePatterns = []string{"**/*.log"}
	require.NoError(t, im.Run(ctx, ImportRequest{ProjectID: pid, Owner: "octo", Repo: "demo"}))

	paths := projectPaths(t, d, pid)
	assert.Contains(t, paths, "keep.txt")
	assert.NotContains(t, paths, "logs/app.log")
}

func TestImportFailureSetsStatus(t *testing.T) {
	ctx := context.Background()
	d, mem := newTestStore(t)

	pid, err := d.CreateProject(ctx, "imported")
	require.NoError(t, err)

	fp := newFakeProvider()
	fp.treeErr = errors.ErrAuthFailed()

	im := newImporter(t, d, mem, fp)
	err = im.Run(ctx, ImportRequest{ProjectID: pid, Owner: "octo", Repo: "demo"})
	require.Error(t, err)

	p, err := d.GetProject(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, project.ImportFailed, p.ImportStatus)
}

func TestExportNoBlobsFailsWithoutRetry(t *testing.T) {
	ctx := context.Background()
	d, mem := newTestStore(t)
	pid := seedProject(t, d, mem)

	fp := newFakeProvider()
	fp.createBlobErr = errors.ErrRemoteNotFound("blob endpoint")

	ex := newExporter(t, d, mem, fp)
	err := ex.Run(ctx, ExportRequest{ProjectID: pid, RepoName: "demo"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNoBlobsCreated())

	// Zero successful blobs fails the run permanently: the create-blobs
	// step is not re-executed, so each file's upload is attempted once.
	assert.Equal(t, 2, fp.createBlobCalls)

	p, err := d.GetProject(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, project.ExportFailed, p.ExportStatus)
}

func TestImportSkipsFailedBlobsAndCompletes(t *testing.T) {
	ctx := context.Background()
	d, mem := newTestStore(t)

	pid, err := d.CreateProject(ctx, "imported")
	require.NoError(t, err)

	fp := newFakeProvider()
	fp.blobs["sha-good"] = []byte("fine")
	// sha-gone has no blob behind it, so its fetch fails; the sibling in
	// the same batch must still land.
	fp.importTree = []hosting.TreeEntry{
		{Path: "good.txt", Type: hosting.EntryBlob, SHA: "sha-good"},
		{Path: "gone.txt", Type: hosting.EntryBlob, SHA: "sha-gone"},
	}

	im := newImporter(t, d, mem, fp)
	require.NoError(t, im.Run(ctx, ImportRequest{ProjectID: pid, Owner: "octo", Repo: "demo"}))

	p, err := d.GetProject(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, project.ImportCompleted, p.ImportStatus)

	paths := projectPaths(t, d, pid)
	assert.Contains(t, paths, "good.txt")
	assert.NotContains(t, paths, "gone.txt")
}

func TestMissingCredentialWritesNoStatus(t *testing.T) {
	ctx := context.Background()
	d, mem := newTestStore(t)
	pid := seedProject(t, d, mem)

	cfg := hosting.Config{TokenEnvVar: "REPOSYNC_TEST_TOKEN"}
	t.Setenv("REPOSYNC_TEST_TOKEN", "")

	im := &Importer{Store: d, Status: d, Blobs: mem, Engine: newTestEngine(t), Hosting: cfg}
	err := im.Run(ctx, ImportRequest{ProjectID: pid, Owner: "octo", Repo: "demo"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrCredentialMissing("REPOSYNC_TEST_TOKEN"))

	ex := &Exporter{Store: d, Status: d, Engine: newTestEngine(t), Hosting: cfg}
	err = ex.Run(ctx, ExportRequest{ProjectID: pid, RepoName: "demo"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrCredentialMissing("REPOSYNC_TEST_TOKEN"))

	// A failure before the run starts leaves both statuses untouched.
	p, err := d.GetProject(ctx, pid)
	require.NoError(t, err)
	assert.Empty(t, string(p.ImportStatus))
	assert.Empty(t, string(p.ExportStatus))
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	d, mem := newTestStore(t)
	pid := seedProject(t, d, mem)

	fp := newFakeProvider()
	ex := newExporter(t, d, mem, fp)
	require.NoError(t, ex.Run(ctx, ExportRequest{ProjectID: pid, RepoName: "demo"}))

	entries, blobs := fp.exportedState(t, "octo", "demo")
	source := newFakeProvider()
	source.importTree = entries
	source.blobs = blobs

	pid2, err := d.CreateProject(ctx, "copy")
	require.NoError(t, err)
	im := newImporter(t, d, mem, source)
	require.NoError(t, im.Run(ctx, ImportRequest{ProjectID: pid2, Owner: "octo", Repo: "demo"}))

	orig := projectPaths(t, d, pid)
	copied := projectPaths(t, d, pid2)

	require.Equal(t, len(orig), len(copied))
	for path, n := range orig {
		c, ok := copied[path]
		require.True(t, ok, "missing %s", path)
		assert.Equal(t, n.Kind, c.Kind, path)
		if n.Content != nil {
			require.NotNil(t, c.Content, path)
			assert.Equal(t, *n.Content, *c.Content, path)
		}
	}

	// Binary payload survives the round trip byte for byte.
	logo := copied["assets/logo.png"]
	require.True(t, logo.IsBinary())
	data, err := mem.Get(ctx, *logo.StorageKey)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, data)
}
