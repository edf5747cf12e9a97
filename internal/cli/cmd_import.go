package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/axiomcode/reposync/internal/sync"
)

func newImportCmd() *cobra.Command {
	var (
		ref   string
		token string
	)

	cmd := &cobra.Command{
		Use:   "import PROJECT OWNER/REPO",
		Short: "Import a remote repository into a project",
		Long: `Import replaces the project's file tree with the contents of a remote
repository. Existing files are removed first. Text files keep their content
inline; binary files are stored in blob storage.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, repo, err := splitRepo(args[1])
			if err != nil {
				return err
			}

			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			err = app.importer.Run(cmd.Context(), sync.ImportRequest{
				ProjectID: args[0],
				Owner:     owner,
				Repo:      repo,
				Ref:       ref,
				Token:     token,
			})
			if err != nil {
				return err
			}
			fmt.Printf("Imported %s/%s into project %s\n", owner, repo, args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&ref, "ref", "", "branch or commit to import (default: main, then master)")
	cmd.Flags().StringVar(&token, "token", "", "access token (overrides the configured credential)")
	return cmd
}

func splitRepo(s string) (owner, repo string, err error) {
	parts := strings.Split(s, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("expected OWNER/REPO, got %q", s)
	}
	return parts[0], parts[1], nil
}
