package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	airlift "github.com/fjmerc/airlift/sdk/go"
)

func uploadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload <file>...",
		Short: "Upload one or more files in resumable chunks",
		Long: `Upload files to the Airlift server. Each file is hashed locally, then
sent chunk by chunk; interrupted uploads resume where they left off, and
files the server already holds are skipped without transferring bytes.

Examples:
  airlift-cli upload flight_log.csv
  airlift-cli upload *.csv`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}

			ctx := context.Background()
			failed := 0

			for _, path := range args {
				if err := uploadOne(ctx, client, path); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
					failed++
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d uploads failed", failed, len(args))
			}
			return nil
		},
	}

	return cmd
}

func uploadOne(ctx context.Context, client *airlift.Client, path string) error {
	opts := &airlift.UploadOptions{}
	if verbose {
		opts.OnProgress = func(p airlift.UploadProgress) {
			switch p.Phase {
			case "hashing":
				fmt.Printf("\r%s: hashing %s/%s", path, formatBytes(p.BytesDone), formatBytes(p.BytesTotal))
			case "uploading":
				fmt.Printf("\r%s: chunk %d/%d (%s/%s)", path,
					p.UploadedChunks, p.NumberChunks,
					formatBytes(p.BytesDone), formatBytes(p.BytesTotal))
			}
		}
	}

	record, err := client.UploadFile(ctx, path, opts)
	if verbose {
		fmt.Println()
	}
	if err != nil {
		if errors.Is(err, airlift.ErrHashConflict) {
			return fmt.Errorf("a different file with this name already exists on the server")
		}
		return err
	}

	switch record.Status {
	case airlift.StatusUploaded:
		fmt.Printf("%s: uploaded (id %d)\n", path, record.ID)
	default:
		fmt.Printf("%s: %s (id %d, %d/%d chunks)\n", path,
			record.Status, record.ID, record.UploadedChunks, record.NumberChunks)
	}
	return nil
}
