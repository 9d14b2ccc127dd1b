package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gouthamgo/privascan/internal/client"
	"github.com/spf13/cobra"
)

var submitCmd = &cobra.Command{
	Use:   "submit <image>",
	Short: "Submit an image to the server for text extraction",
	Args:  cobra.ExactArgs(1),
	RunE:  runSubmit,
}

func init() {
	submitCmd.Flags().StringP("profile", "p", "", "Profile (default: from config)")
	submitCmd.Flags().StringP("output", "o", "", "Output target (default: from config or profile)")
	submitCmd.Flags().StringP("filename", "f", "", "Name of the delivered text file")
	submitCmd.Flags().Bool("no-wait", false, "Return after the upload without waiting for the result")
	submitCmd.Flags().Bool("json", false, "Output the job as JSON")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	c := getClient()

	profile, _ := cmd.Flags().GetString("profile")
	if profile == "" {
		profile = cfg.Defaults.Profile
	}
	target, _ := cmd.Flags().GetString("output")
	if target == "" {
		target = cfg.Defaults.Output
	}
	filename, _ := cmd.Flags().GetString("filename")
	noWait, _ := cmd.Flags().GetBool("no-wait")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	job, err := c.SubmitImage(cmd.Context(), client.SubmitRequest{
		Filename:       filepath.Base(args[0]),
		Image:          f,
		Profile:        profile,
		Output:         target,
		OutputFilename: filename,
	})
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}

	stderr := cmd.ErrOrStderr()
	if noWait {
		if jsonOutput {
			return writeIndentedJSON(cmd.OutOrStdout(), job)
		}
		fmt.Fprintln(cmd.OutOrStdout(), job.ID)
		return nil
	}

	fmt.Fprintf(stderr, "Job %s submitted (profile: %s)\n", job.ID, job.Profile)
	final, err := c.WaitForJob(cmd.Context(), job.ID, func(j client.Job) {
		fmt.Fprintf(stderr, "\r%-14s %3d%%", j.Status, j.Progress)
	})
	fmt.Fprintln(stderr)
	if err != nil {
		return fmt.Errorf("wait for job: %w", err)
	}

	if jsonOutput {
		return writeIndentedJSON(cmd.OutOrStdout(), final)
	}

	switch final.Status {
	case "completed":
		if final.Text != "" {
			fmt.Fprintln(cmd.OutOrStdout(), final.Text)
		}
		return nil
	case "cancelled":
		return fmt.Errorf("job %s was cancelled", final.ID)
	default:
		return fmt.Errorf("job %s failed: %s", final.ID, final.Error)
	}
}
