package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/axiomcode/reposync/internal/sync"
)

func newExportCmd() *cobra.Command {
	var (
		description string
		private     bool
		message     string
		token       string
	)

	cmd := &cobra.Command{
		Use:   "export PROJECT REPO_NAME",
		Short: "Export a project to a new remote repository",
		Long: `Export creates a new repository under the authenticated account and
pushes the project's file tree as a single commit on the default branch.
The repository name must not already exist.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			err = app.exporter.Run(cmd.Context(), sync.ExportRequest{
				ProjectID:     args[0],
				RepoName:      args[1],
				Description:   description,
				Private:       private,
				CommitMessage: message,
				Token:         token,
			})
			if err != nil {
				return err
			}

			p, err := app.db.GetProject(cmd.Context(), args[0])
			if err == nil && p.ExportRepoURL != "" {
				fmt.Println(p.ExportRepoURL)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&description, "description", "", "repository description")
	cmd.Flags().BoolVar(&private, "private", false, "create a private repository")
	cmd.Flags().StringVar(&message, "message", "", "commit message for the export")
	cmd.Flags().StringVar(&token, "token", "", "access token (overrides the configured credential)")
	return cmd
}

func newExportCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export-cancel PROJECT",
		Short: "Cancel a running export",
		Long: `Export-cancel marks the project's running export for cancellation. The
export observes the request at its next step boundary; a step already in
flight finishes first. Works against an export started by a reposync server
sharing the same state directory.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			return app.exporter.Cancel(args[0])
		},
	}
}
