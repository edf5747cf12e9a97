package github

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	gogithub "github.com/google/go-github/v82/github"

	syncerrors "github.com/axiomcode/reposync/internal/errors"
	"github.com/axiomcode/reposync/internal/hosting"
)

func newTestProvider(t *testing.T, handler http.Handler) hosting.Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p, err := newProvider(hosting.Config{BaseURL: srv.URL}, "test-token")
	if err != nil {
		t.Fatalf("newProvider: %v", err)
	}
	return p
}

func TestGitWriteOperations(t *testing.T) {
	ctx := context.Background()
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v3/repos/octo/demo/git/blobs", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Content  string `json:"content"`
			Encoding string `json:"encoding"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode blob body: %v", err)
		}
		if body.Encoding != "base64" || body.Content == "" {
			t.Errorf("unexpected blob body: %+v", body)
		}
		json.NewEncoder(w).Encode(map[string]string{"sha": "blob-sha"})
	})

	mux.HandleFunc("/api/v3/repos/octo/demo/git/commits", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Message string   `json:"message"`
			Tree    string   `json:"tree"`
			Parents []string `json:"parents"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode commit body: %v", err)
		}
		if body.Tree != "tree-sha" || len(body.Parents) != 1 || body.Parents[0] != "parent-sha" {
			t.Errorf("unexpected commit body: %+v", body)
		}
		json.NewEncoder(w).Encode(map[string]string{"sha": "commit-sha"})
	})

	mux.HandleFunc("/api/v3/repos/octo/demo/git/refs/heads/main", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("method = %s, want PATCH", r.Method)
		}
		var body struct {
			SHA   string `json:"sha"`
			Force *bool  `json:"force"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode ref body: %v", err)
		}
		if body.SHA != "commit-sha" || body.Force == nil || !*body.Force {
			t.Errorf("unexpected ref body: %+v", body)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"ref":    "refs/heads/main",
			"object": map[string]string{"sha": "commit-sha"},
		})
	})

	p := newTestProvider(t, mux)

	sha, err := p.CreateBlob(ctx, "octo", "demo", "aGVsbG8=", hosting.EncodingBase64)
	if err != nil {
		t.Fatalf("CreateBlob: %v", err)
	}
	if sha != "blob-sha" {
		t.Errorf("blob sha = %s, want blob-sha", sha)
	}

	sha, err = p.CreateCommit(ctx, "octo", "demo", "Initial sync", "tree-sha", []string{"parent-sha"})
	if err != nil {
		t.Fatalf("CreateCommit: %v", err)
	}
	if sha != "commit-sha" {
		t.Errorf("commit sha = %s, want commit-sha", sha)
	}

	if err := p.UpdateRef(ctx, "octo", "demo", "heads/main", "commit-sha", true); err != nil {
		t.Fatalf("UpdateRef: %v", err)
	}
}

func ghError(status int, fieldErrors ...gogithub.Error) *gogithub.ErrorResponse {
	return &gogithub.ErrorResponse{
		Response: &http.Response{StatusCode: status},
		Errors:   fieldErrors,
	}
}

func TestMapErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCode  syncerrors.Code
		retryable bool
	}{
		{"unauthorized", ghError(http.StatusUnauthorized), syncerrors.CodeAuthFailed, false},
		{"forbidden", ghError(http.StatusForbidden), syncerrors.CodeAuthFailed, false},
		{"not found", ghError(http.StatusNotFound), syncerrors.CodeRemoteNotFound, false},
		{"server error", ghError(http.StatusBadGateway), syncerrors.CodeRemoteUnavailable, true},
		{"network failure", errors.New("dial tcp: connection refused"), syncerrors.Code("UNKNOWN"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mapped := mapError(tt.err, "op")
			se := syncerrors.AsSyncError(mapped)
			if se == nil {
				t.Fatalf("expected SyncError, got %T", mapped)
			}
			if se.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", se.Code, tt.wantCode)
			}
			if syncerrors.Retryable(mapped) != tt.retryable {
				t.Errorf("retryable = %v, want %v", syncerrors.Retryable(mapped), tt.retryable)
			}
		})
	}
}

func TestIsNameCollision(t *testing.T) {
	collision := ghError(http.StatusUnprocessableEntity, gogithub.Error{
		Field:   "name",
		Message: "name already exists on this account",
	})
	if !isNameCollision(collision) {
		t.Error("expected collision for 422 with name field error")
	}

	bare422 := ghError(http.StatusUnprocessableEntity)
	if !isNameCollision(bare422) {
		t.Error("expected collision for bare 422 on create")
	}

	other := ghError(http.StatusUnprocessableEntity, gogithub.Error{
		Field:   "description",
		Message: "too long",
	})
	if isNameCollision(other) {
		t.Error("unrelated 422 misread as collision")
	}

	if isNameCollision(ghError(http.StatusInternalServerError)) {
		t.Error("5xx misread as collision")
	}
}

func TestMapTreeEntriesDropsIncomplete(t *testing.T) {
	entries := []*gogithub.TreeEntry{
		{Path: gogithub.Ptr("src"), Type: gogithub.Ptr("tree"), SHA: gogithub.Ptr("sha1"), Mode: gogithub.Ptr("040000")},
		{Path: gogithub.Ptr("src/main.txt"), Type: gogithub.Ptr("blob"), SHA: gogithub.Ptr("sha2"), Mode: gogithub.Ptr("100644")},
		{Path: gogithub.Ptr("vendored"), Type: gogithub.Ptr("commit")}, // submodule, no SHA
		{Type: gogithub.Ptr("blob"), SHA: gogithub.Ptr("sha3")},       // no path
	}

	mapped := mapTreeEntries(entries)
	if len(mapped) != 2 {
		t.Fatalf("len = %d, want 2", len(mapped))
	}
	if mapped[0].Type != hosting.EntryTree || mapped[0].Path != "src" {
		t.Errorf("unexpected first entry: %+v", mapped[0])
	}
	if mapped[1].Type != hosting.EntryBlob || mapped[1].SHA != "sha2" {
		t.Errorf("unexpected second entry: %+v", mapped[1])
	}
}
