package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axiomcode/reposync/internal/blob"
	"github.com/axiomcode/reposync/internal/errors"
	"github.com/axiomcode/reposync/internal/project"
)

func newTestDB(t *testing.T) (*DB, *blob.MemoryStorage) {
	t.Helper()
	blobs := blob.NewMemoryStorage()
	d, err := OpenInMemory(blobs)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d, blobs
}

func TestProjectLifecycle(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDB(t)

	id, err := d.CreateProject(ctx, "demo")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	p, err := d.GetProject(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "demo", p.Name)
	assert.Empty(t, string(p.ImportStatus))

	_, err = d.GetProject(ctx, "missing")
	assert.ErrorIs(t, err, errors.ErrProjectNotFound("missing"))
}

func TestStatusReporting(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDB(t)

	id, err := d.CreateProject(ctx, "demo")
	require.NoError(t, err)

	require.NoError(t, d.UpdateImportStatus(ctx, id, project.ImportPending))
	require.NoError(t, d.UpdateExportStatus(ctx, id, project.ExportCompleted, "https://example.com/r"))

	p, err := d.GetProject(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, project.ImportPending, p.ImportStatus)
	assert.Equal(t, project.ExportCompleted, p.ExportStatus)
	assert.Equal(t, "https://example.com/r", p.ExportRepoURL)

	// A later failure does not clear the repo URL.
	require.NoError(t, d.UpdateExportStatus(ctx, id, project.ExportFailed, ""))
	p, err = d.GetProject(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, project.ExportFailed, p.ExportStatus)
	assert.Equal(t, "https://example.com/r", p.ExportRepoURL)

	err = d.UpdateImportStatus(ctx, "missing", project.ImportFailed)
	assert.ErrorIs(t, err, errors.ErrProjectNotFound("missing"))
}

func TestCreateNodesAndSiblingUniqueness(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDB(t)

	pid, err := d.CreateProject(ctx, "demo")
	require.NoError(t, err)

	folderID, err := d.CreateFolder(ctx, pid, "src", nil)
	require.NoError(t, err)

	_, err = d.CreateFile(ctx, pid, "main.txt", "hello", &folderID)
	require.NoError(t, err)

	// Same kind, same name, same parent: rejected.
	_, err = d.CreateFile(ctx, pid, "main.txt", "other", &folderID)
	assert.ErrorIs(t, err, errors.ErrNameTaken("file", "main.txt"))

	// A folder may share a name with a file.
	_, err = d.CreateFolder(ctx, pid, "main.txt", &folderID)
	assert.NoError(t, err)

	// Same name under a different parent: fine.
	_, err = d.CreateFile(ctx, pid, "main.txt", "root copy", nil)
	assert.NoError(t, err)
}

func TestCreateFilesBatch(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDB(t)

	pid, err := d.CreateProject(ctx, "demo")
	require.NoError(t, err)
	folderID, err := d.CreateFolder(ctx, pid, "docs", nil)
	require.NoError(t, err)

	err = d.CreateFiles(ctx, pid, &folderID, []project.TextFile{
		{Name: "a.txt", Content: "aaa"},
		{Name: "b.txt", Content: "bbb"},
	})
	require.NoError(t, err)

	nodes, err := d.FolderContents(ctx, pid, &folderID)
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "a.txt", nodes[0].Name)
	assert.Equal(t, "aaa", *nodes[0].Content)
}

func TestFolderContentsSorted(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDB(t)

	pid, err := d.CreateProject(ctx, "demo")
	require.NoError(t, err)

	_, err = d.CreateFile(ctx, pid, "zeta.txt", "", nil)
	require.NoError(t, err)
	_, err = d.CreateFolder(ctx, pid, "Assets", nil)
	require.NoError(t, err)
	_, err = d.CreateFile(ctx, pid, "alpha.txt", "", nil)
	require.NoError(t, err)
	_, err = d.CreateFolder(ctx, pid, "src", nil)
	require.NoError(t, err)

	nodes, err := d.FolderContents(ctx, pid, nil)
	require.NoError(t, err)
	require.Len(t, nodes, 4)

	names := []string{nodes[0].Name, nodes[1].Name, nodes[2].Name, nodes[3].Name}
	assert.Equal(t, []string{"Assets", "src", "alpha.txt", "zeta.txt"}, names)
}

func TestCleanupIsIdempotent(t *testing.T) {
	ctx := context.Background()
	d, blobs := newTestDB(t)

	pid, err := d.CreateProject(ctx, "demo")
	require.NoError(t, err)

	require.NoError(t, blobs.Put(ctx, "blob-1", []byte{1, 2, 3}))
	_, err = d.CreateBinaryFile(ctx, pid, "logo.png", "blob-1", nil)
	require.NoError(t, err)
	_, err = d.CreateFile(ctx, pid, "readme.txt", "hi", nil)
	require.NoError(t, err)

	require.NoError(t, d.Cleanup(ctx, pid))

	nodes, err := d.Files(ctx, pid)
	require.NoError(t, err)
	assert.Empty(t, nodes)
	assert.Zero(t, blobs.Len(), "blob objects should be deleted")

	// Cleaning an already-empty project is a no-op.
	require.NoError(t, d.Cleanup(ctx, pid))
}

func TestDeleteNodeTransitive(t *testing.T) {
	ctx := context.Background()
	d, blobs := newTestDB(t)

	pid, err := d.CreateProject(ctx, "demo")
	require.NoError(t, err)

	srcID, err := d.CreateFolder(ctx, pid, "src", nil)
	require.NoError(t, err)
	libID, err := d.CreateFolder(ctx, pid, "lib", &srcID)
	require.NoError(t, err)
	_, err = d.CreateFile(ctx, pid, "util.txt", "u", &libID)
	require.NoError(t, err)
	require.NoError(t, blobs.Put(ctx, "blob-2", []byte{9}))
	_, err = d.CreateBinaryFile(ctx, pid, "img.png", "blob-2", &libID)
	require.NoError(t, err)
	keepID, err := d.CreateFile(ctx, pid, "keep.txt", "k", nil)
	require.NoError(t, err)

	require.NoError(t, d.DeleteNode(ctx, srcID))

	nodes, err := d.Files(ctx, pid)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, keepID, nodes[0].ID)
	assert.Zero(t, blobs.Len())
}

func TestFilesWithURLs(t *testing.T) {
	ctx := context.Background()
	d, blobs := newTestDB(t)

	pid, err := d.CreateProject(ctx, "demo")
	require.NoError(t, err)

	require.NoError(t, blobs.Put(ctx, "blob-3", []byte{1, 2, 3, 4}))
	_, err = d.CreateBinaryFile(ctx, pid, "logo.png", "blob-3", nil)
	require.NoError(t, err)
	_, err = d.CreateFile(ctx, pid, "index.txt", "hello", nil)
	require.NoError(t, err)

	files, err := d.FilesWithURLs(ctx, pid)
	require.NoError(t, err)
	require.Len(t, files, 2)

	for _, f := range files {
		if f.IsBinary() {
			assert.NotEmpty(t, f.DownloadURL)
		} else {
			assert.Empty(t, f.DownloadURL)
		}
	}
}

func TestRename(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDB(t)

	pid, err := d.CreateProject(ctx, "demo")
	require.NoError(t, err)

	id1, err := d.CreateFile(ctx, pid, "a.txt", "", nil)
	require.NoError(t, err)
	_, err = d.CreateFile(ctx, pid, "b.txt", "", nil)
	require.NoError(t, err)

	err = d.Rename(ctx, id1, "b.txt")
	assert.ErrorIs(t, err, errors.ErrNameTaken("file", "b.txt"))

	require.NoError(t, d.Rename(ctx, id1, "c.txt"))
}

func TestUpdateContentRejectsBinary(t *testing.T) {
	ctx := context.Background()
	d, blobs := newTestDB(t)

	pid, err := d.CreateProject(ctx, "demo")
	require.NoError(t, err)

	require.NoError(t, blobs.Put(ctx, "blob-4", []byte{0}))
	binID, err := d.CreateBinaryFile(ctx, pid, "logo.png", "blob-4", nil)
	require.NoError(t, err)

	err = d.UpdateContent(ctx, binID, "text")
	assert.Error(t, err)

	txtID, err := d.CreateFile(ctx, pid, "note.txt", "old", nil)
	require.NoError(t, err)
	require.NoError(t, d.UpdateContent(ctx, txtID, "new"))
}

func TestNodePath(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDB(t)

	pid, err := d.CreateProject(ctx, "demo")
	require.NoError(t, err)

	srcID, err := d.CreateFolder(ctx, pid, "src", nil)
	require.NoError(t, err)
	libID, err := d.CreateFolder(ctx, pid, "lib", &srcID)
	require.NoError(t, err)
	fileID, err := d.CreateFile(ctx, pid, "util.txt", "", &libID)
	require.NoError(t, err)

	path, err := d.NodePath(ctx, fileID)
	require.NoError(t, err)
	assert.Equal(t, "src/lib/util.txt", path)

	path, err = d.NodePath(ctx, srcID)
	require.NoError(t, err)
	assert.Equal(t, "src", path)

	_, err = d.NodePath(ctx, "missing")
	assert.ErrorIs(t, err, errors.ErrNodeNotFound("missing"))
}
