package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/axiomcode/reposync/internal/project"
)

func newProjectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage projects",
	}
	cmd.AddCommand(newProjectNewCmd())
	cmd.AddCommand(newProjectStatusCmd())
	cmd.AddCommand(newProjectFilesCmd())
	return cmd
}

func newProjectNewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "new NAME",
		Short: "Create a new project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			id, err := app.db.CreateProject(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	}
}

func newProjectStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status PROJECT",
		Short: "Show a project's sync status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			p, err := app.db.GetProject(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			fmt.Printf("Project:       %s (%s)\n", p.Name, p.ID)
			fmt.Printf("Import status: %s\n", orDash(string(p.ImportStatus)))
			fmt.Printf("Export status: %s\n", orDash(string(p.ExportStatus)))
			if p.ExportRepoURL != "" {
				fmt.Printf("Repository:    %s\n", p.ExportRepoURL)
			}
			return nil
		},
	}
}

func newProjectFilesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "files PROJECT",
		Short: "List a project's top-level files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			nodes, err := app.db.FolderContents(cmd.Context(), args[0], nil)
			if err != nil {
				return err
			}
			for _, n := range nodes {
				if n.Kind == project.KindFolder {
					fmt.Printf("%s/\n", n.Name)
					continue
				}
				fmt.Println(n.Name)
			}
			return nil
		},
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
