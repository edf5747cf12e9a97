package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/axiomcode/reposync/internal/errors"
	"github.com/axiomcode/reposync/internal/sync"
)

type createProjectRequest struct {
	Name string `json:"name" binding:"required"`
}

func (s *Server) createProject(c *gin.Context) {
	var req createProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	id, err := s.db.CreateProject(c.Request.Context(), req.Name)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id, "name": req.Name})
}

func (s *Server) projectStatus(c *gin.Context) {
	p, err := s.db.GetProject(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}

	resp := gin.H{
		"id":            p.ID,
		"name":          p.Name,
		"import_status": p.ImportStatus,
		"export_status": p.ExportStatus,
	}
	if p.ExportRepoURL != "" {
		resp["export_repo_url"] = p.ExportRepoURL
	}

	// Run state gives step-level progress for whichever workflow ran last.
	for _, wf := range []string{sync.WorkflowImport, sync.WorkflowExport} {
		run, err := s.engine.Store().Load(wf, p.ID)
		if err != nil || len(run.Steps) == 0 {
			continue
		}
		resp[wf+"_run"] = gin.H{
			"status":       run.Status,
			"current_step": run.CurrentStep,
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) projectFiles(c *gin.Context) {
	ctx := c.Request.Context()
	projectID := c.Param("id")

	if _, err := s.db.GetProject(ctx, projectID); err != nil {
		fail(c, err)
		return
	}

	var parentID *string
	if parent := c.Query("parent"); parent != "" {
		parentID = &parent
	}

	nodes, err := s.db.FolderContents(ctx, projectID, parentID)
	if err != nil {
		fail(c, err)
		return
	}

	out := make([]gin.H, 0, len(nodes))
	for _, n := range nodes {
		entry := gin.H{
			"id":   n.ID,
			"name": n.Name,
			"kind": n.Kind,
		}
		if n.IsBinary() {
			entry["binary"] = true
		}
		out = append(out, entry)
	}
	c.JSON(http.StatusOK, gin.H{"files": out})
}

type importRequest struct {
	Owner string `json:"owner" binding:"required"`
	Repo  string `json:"repo" binding:"required"`
	Ref   string `json:"ref"`
	Token string `json:"token"`
}

func (s *Server) startImport(c *gin.Context) {
	projectID := c.Param("id")

	var req importRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if _, err := s.db.GetProject(c.Request.Context(), projectID); err != nil {
		fail(c, err)
		return
	}

	s.spawn(func(ctx context.Context) {
		_ = s.importer.Run(ctx, sync.ImportRequest{
			ProjectID: projectID,
			Owner:     req.Owner,
			Repo:      req.Repo,
			Ref:       req.Ref,
			Token:     req.Token,
		})
	})
	c.JSON(http.StatusAccepted, gin.H{"project_id": projectID, "workflow": sync.WorkflowImport})
}

type exportRequest struct {
	RepoName      string `json:"repo_name" binding:"required"`
	Description   string `json:"description"`
	Private       bool   `json:"private"`
	CommitMessage string `json:"commit_message"`
	Token         string `json:"token"`
}

func (s *Server) startExport(c *gin.Context) {
	projectID := c.Param("id")

	var req exportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if _, err := s.db.GetProject(c.Request.Context(), projectID); err != nil {
		fail(c, err)
		return
	}

	s.spawn(func(ctx context.Context) {
		_ = s.exporter.Run(ctx, sync.ExportRequest{
			ProjectID:     projectID,
			RepoName:      req.RepoName,
			Description:   req.Description,
			Private:       req.Private,
			CommitMessage: req.CommitMessage,
			Token:         req.Token,
		})
	})
	c.JSON(http.StatusAccepted, gin.H{"project_id": projectID, "workflow": sync.WorkflowExport})
}

func (s *Server) cancelExport(c *gin.Context) {
	projectID := c.Param("id")
	if _, err := s.db.GetProject(c.Request.Context(), projectID); err != nil {
		fail(c, err)
		return
	}

	if err := s.exporter.Cancel(projectID); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"project_id": projectID, "cancelled": true})
}

// fail maps workflow errors onto HTTP responses.
func fail(c *gin.Context, err error) {
	if e := errors.AsSyncError(err); e != nil {
		c.JSON(e.HTTPStatus(), gin.H{"code": e.Code, "error": e.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"code": "UNKNOWN", "error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "error": err.Error()})
}
