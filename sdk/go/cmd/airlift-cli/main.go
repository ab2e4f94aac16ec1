// airlift-cli uploads files to an Airlift server from the command line.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	airlift "github.com/fjmerc/airlift/sdk/go"
)

var (
	// Global flags
	baseURL    string
	uploaderID int64
	fleetID    int64
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "airlift-cli",
		Short: "Airlift CLI - chunked resumable uploads from the command line",
		Long: `Airlift CLI uploads files to an Airlift server in resumable chunks,
tracks their import status, and manages uploaded files.

Configuration:
  Set AIRLIFT_URL (and optionally AIRLIFT_UPLOADER, AIRLIFT_FLEET) environment
  variables, or use the --url, --uploader and --fleet flags.

Examples:
  airlift-cli upload flight_log.csv
  airlift-cli list
  airlift-cli imports
  airlift-cli delete 42
  airlift-cli status`,
	}

	rootCmd.PersistentFlags().StringVar(&baseURL, "url", os.Getenv("AIRLIFT_URL"), "Airlift server URL (or AIRLIFT_URL env)")
	rootCmd.PersistentFlags().Int64Var(&uploaderID, "uploader", envInt64("AIRLIFT_UPLOADER"), "Uploader id (or AIRLIFT_UPLOADER env)")
	rootCmd.PersistentFlags().Int64Var(&fleetID, "fleet", envInt64("AIRLIFT_FLEET"), "Fleet id (or AIRLIFT_FLEET env)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	rootCmd.AddCommand(uploadCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(importsCmd())
	rootCmd.AddCommand(deleteCmd())
	rootCmd.AddCommand(downloadCmd())
	rootCmd.AddCommand(statusCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newClient builds a client from the global flags.
func newClient() (*airlift.Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("server URL is required (use --url or AIRLIFT_URL environment variable)")
	}
	return airlift.NewClient(airlift.ClientConfig{
		BaseURL:    baseURL,
		UploaderID: uploaderID,
		FleetID:    fleetID,
	})
}

func envInt64(key string) int64 {
	v, err := strconv.ParseInt(os.Getenv(key), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// formatBytes renders a byte count in human units.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for i := n / unit; i >= unit; i /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
