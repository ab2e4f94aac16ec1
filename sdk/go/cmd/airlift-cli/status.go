package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	airlift "github.com/fjmerc/airlift/sdk/go"
)

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Probe the server's service health",
		Long: `Probe every service the server exposes and aggregate the results into
one health color.

Example:
  airlift-cli status`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}

			probe := airlift.NewStatusProbe(client)
			results := probe.Sweep(context.Background())

			names := make([]string, 0, len(results))
			for name := range results {
				names = append(names, name)
			}
			sort.Strings(names)

			for _, name := range names {
				s := results[name]
				fmt.Printf("%-12s %s", name, s.Status)
				if s.Message != "" {
					fmt.Printf("  (%s)", s.Message)
				}
				fmt.Println()
			}

			fmt.Println(strings.Repeat("-", 32))
			fmt.Printf("overall: %s\n", airlift.HealthColor(results))
			return nil
		},
	}

	return cmd
}

func downloadCmd() *cobra.Command {
	var md5hash string

	cmd := &cobra.Command{
		Use:   "download <upload-id> <output-file>",
		Short: "Download an assembled file from the archive",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}

			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid upload id %q", args[0])
			}

			out, err := os.Create(args[1])
			if err != nil {
				return err
			}
			defer out.Close()

			n, err := client.DownloadUpload(context.Background(), id, md5hash, out)
			if err != nil {
				return err
			}

			fmt.Printf("Downloaded %s to %s.\n", formatBytes(n), args[1])
			return nil
		},
	}

	cmd.Flags().StringVar(&md5hash, "md5", "", "Expected MD5 hash; the server rejects a mismatch")

	return cmd
}
