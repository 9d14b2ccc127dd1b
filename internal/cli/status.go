package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server status",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().Bool("json", false, "Output as JSON")
}

func runStatus(cmd *cobra.Command, args []string) error {
	c := getClient()

	status, err := c.Status(cmd.Context())
	if err != nil {
		return fmt.Errorf("get status: %w", err)
	}

	out := cmd.OutOrStdout()
	jsonOutput, _ := cmd.Flags().GetBool("json")
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}

	fmt.Fprintf(out, "Server:       %s\n", cfg.Server.URL)
	fmt.Fprintf(out, "Status:       %s\n", status.Status)
	fmt.Fprintf(out, "Version:      %s\n", status.Version)
	fmt.Fprintf(out, "Engine:       %s\n", status.Engine)
	fmt.Fprintf(out, "Ruleset:      v%d\n", status.Ruleset)
	fmt.Fprintf(out, "Workers:      %d\n", status.Workers)
	fmt.Fprintf(out, "Pending Jobs: %d\n", status.PendingJobs)
	fmt.Fprintf(out, "Active Jobs:  %d\n", status.ActiveJobs)
	fmt.Fprintf(out, "Total Jobs:   %d\n", status.TotalJobs)

	return nil
}
