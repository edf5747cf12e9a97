// Package api exposes the sync workflows over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	gosync "sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	sloggin "github.com/samber/slog-gin"

	"github.com/axiomcode/reposync/internal/db"
	"github.com/axiomcode/reposync/internal/engine"
	"github.com/axiomcode/reposync/internal/sync"
)

// Server wires the HTTP surface to the store and workflows. Import and
// export run in the background; requests return 202 and the status endpoint
// reports progress.
type Server struct {
	db       *db.DB
	engine   *engine.Engine
	importer *sync.Importer
	exporter *sync.Exporter
	log      *slog.Logger

	addr string
	jobs gosync.WaitGroup

	// base is the context background jobs run under, detached from the
	// HTTP request that started them. Cancelling it interrupts jobs at
	// their next step boundary; the persisted run state makes them
	// resumable.
	base context.Context
}

// New creates an API server.
func New(addr string, d *db.DB, eng *engine.Engine, importer *sync.Importer, exporter *sync.Exporter, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		db:       d,
		engine:   eng,
		importer: importer,
		exporter: exporter,
		log:      log,
		addr:     addr,
		base:     context.Background(),
	}
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(sloggin.NewWithConfig(s.log.WithGroup("http"), sloggin.Config{
		DefaultLevel:     slog.LevelInfo,
		ClientErrorLevel: slog.LevelWarn,
		ServerErrorLevel: slog.LevelError,
	}))
	r.Use(gin.Recovery())
	r.Use(cors.Default())

	r.GET("/healthz", s.health)

	v1 := r.Group("/v1")
	{
		v1.POST("/projects", s.createProject)
		v1.GET("/projects/:id/status", s.projectStatus)
		v1.GET("/projects/:id/files", s.projectFiles)

		v1.POST("/projects/:id/import", s.startImport)
		v1.POST("/projects/:id/export", s.startExport)
		v1.POST("/projects/:id/export/cancel", s.cancelExport)
	}
	return r
}

// Run serves until ctx is cancelled, then drains in-flight requests and
// waits for background workflow jobs.
func (s *Server) Run(ctx context.Context) error {
	s.base = ctx

	srv := &http.Server{
		Addr:    s.addr,
		Handler: s.Router(),
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("api listening", "addr", s.addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.jobs.Wait()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// spawn runs a workflow job detached from the originating request.
func (s *Server) spawn(fn func(ctx context.Context)) {
	s.jobs.Add(1)
	go func() {
		defer s.jobs.Done()
		fn(s.base)
	}()
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
