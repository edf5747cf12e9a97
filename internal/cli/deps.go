package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/axiomcode/reposync/internal/blob"
	"github.com/axiomcode/reposync/internal/config"
	"github.com/axiomcode/reposync/internal/db"
	"github.com/axiomcode/reposync/internal/engine"
	"github.com/axiomcode/reposync/internal/sync"

	// Register the GitHub provider.
	_ "github.com/axiomcode/reposync/internal/hosting/github"
)

// app bundles everything a command needs: config, store and workflows.
type app struct {
	cfg      *config.Config
	db       *db.DB
	engine   *engine.Engine
	importer *sync.Importer
	exporter *sync.Exporter
}

func newApp(ctx context.Context) (*app, error) {
	path := viper.ConfigFileUsed()
	if path == "" {
		path = filepath.Join(config.DataDirName, config.ConfigFileName)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	blobs, err := openBlobStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	d, err := db.Open(cfg.DatabasePath(), blobs)
	if err != nil {
		return nil, err
	}

	eng := engine.New(cfg.StateDir, slog.Default())

	importer := &sync.Importer{
		Store:          d,
		Status:         d,
		Blobs:          blobs,
		Engine:         eng,
		Hosting:        cfg.Hosting,
		BatchSize:      cfg.Import.BatchSize,
		IgnorePatterns: cfg.Import.IgnorePatterns,
	}
	exporter := &sync.Exporter{
		Store:         d,
		Status:        d,
		Engine:        eng,
		Hosting:       cfg.Hosting,
		BatchSize:     cfg.Export.BatchSize,
		CommitMessage: cfg.Export.CommitMessage,
		RepoWaitMax:   cfg.Export.RepoInitWait,
	}

	// The memory store's presigned URLs only resolve through its client.
	if mem, ok := blobs.(*blob.MemoryStorage); ok {
		importer.HTTP = mem.Client()
		exporter.HTTP = mem.Client()
	}

	return &app{
		cfg:      cfg,
		db:       d,
		engine:   eng,
		importer: importer,
		exporter: exporter,
	}, nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		slog.Warn("closing database", "error", err)
	}
}

// openBlobStorage selects S3 when a bucket is configured; otherwise binary
// content is held in memory for the lifetime of the process.
func openBlobStorage(ctx context.Context, cfg *config.Config) (blob.Storage, error) {
	if cfg.Blob.Bucket == "" {
		slog.Warn("no blob bucket configured, binary content will not persist")
		return blob.NewMemoryStorage(), nil
	}
	return blob.NewS3StorageFromConfig(ctx, cfg.Blob)
}
