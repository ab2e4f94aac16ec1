package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	airlift "github.com/fjmerc/airlift/sdk/go"
)

func listCmd() *cobra.Command {
	var (
		page     int
		pageSize int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the fleet's uploads",
		Long: `List uploads known to the server, newest first.

Examples:
  airlift-cli list
  airlift-cli list --page 2 --page-size 50`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}

			result, err := client.ListUploads(context.Background(), page, pageSize)
			if err != nil {
				return err
			}

			if len(result.Uploads) == 0 {
				fmt.Println("No uploads found.")
				return nil
			}

			fmt.Printf("Uploads (page %d of %d):\n", page, result.NumberPages)
			fmt.Println(strings.Repeat("-", 72))
			for _, u := range result.Uploads {
				fmt.Printf("%-6d %-32s %10s  %-10s %d/%d chunks\n",
					u.ID, u.Filename, formatBytes(u.SizeBytes),
					u.Status, u.UploadedChunks, u.NumberChunks)
				if u.ErrorMessage != "" {
					fmt.Printf("       error: %s\n", u.ErrorMessage)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&page, "page", 0, "Page number, starting at 0")
	cmd.Flags().IntVar(&pageSize, "page-size", 10, "Rows per page")

	return cmd
}

func importsCmd() *cobra.Command {
	var (
		page     int
		pageSize int
	)

	cmd := &cobra.Command{
		Use:   "imports",
		Short: "Show import pipeline results for uploaded files",
		Long: `Show each upload joined with whatever the import pipeline has produced
for it. Uploads the pipeline has not reached yet display as PROCESSING.

Example:
  airlift-cli imports`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}

			ctx := context.Background()
			uploads, err := client.ListUploads(ctx, page, pageSize)
			if err != nil {
				return err
			}
			imports, err := client.ListImports(ctx, page, pageSize)
			if err != nil {
				return err
			}

			rows := airlift.ProjectImportStatus(uploads.Uploads, imports.Imports)
			if len(rows) == 0 {
				fmt.Println("No uploads found.")
				return nil
			}

			fmt.Println(strings.Repeat("-", 72))
			for _, row := range rows {
				fmt.Printf("%-6d %-32s %-18s", row.Upload.ID, row.Upload.Filename, row.Status)
				if row.Import != nil {
					fmt.Printf(" %d ok / %d warn / %d err",
						row.Import.ValidFlights, row.Import.WarningFlights, row.Import.ErrorFlights)
				}
				fmt.Println()
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&page, "page", 0, "Page number, starting at 0")
	cmd.Flags().IntVar(&pageSize, "page-size", 10, "Rows per page")

	return cmd
}

func deleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <upload-id>",
		Short: "Delete an upload and its archived file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}

			var id int64
			if _, err := fmt.Sscanf(args[0], "%d", &id); err != nil {
				return fmt.Errorf("invalid upload id %q", args[0])
			}

			if err := client.DeleteUpload(context.Background(), id); err != nil {
				return err
			}
			fmt.Printf("Upload %d deleted.\n", id)
			return nil
		},
	}

	return cmd
}
