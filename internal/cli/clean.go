package cli

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/gouthamgo/privascan/internal/processor"
	"github.com/gouthamgo/privascan/internal/textclean"
	"github.com/spf13/cobra"
)

var cleanCmd = &cobra.Command{
	Use:   "clean [file]",
	Short: "Remove OCR artifacts from recognized text",
	Long:  "Clean reads recognized text from a file or stdin and prints it without scanning artifacts.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runClean,
}

func init() {
	cleanCmd.Flags().StringP("profile", "p", "", "Cleaning profile (default: from config)")
	cleanCmd.Flags().Bool("explain", false, "Show the keep/drop verdict for every line")
}

func runClean(cmd *cobra.Command, args []string) error {
	in := cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	raw, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	name, _ := cmd.Flags().GetString("profile")
	profile, err := localProfile(name)
	if err != nil {
		return err
	}

	filter := processor.FilterForProfile(profile)
	if filter == nil {
		filter = textclean.New(textclean.WithThresholds(processor.Thresholds(profile)))
	}

	out := cmd.OutOrStdout()
	if explain, _ := cmd.Flags().GetBool("explain"); explain {
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "VERDICT\tREASON\tLINE")
		for _, r := range filter.Explain(string(raw)) {
			fmt.Fprintf(w, "%s\t%s\t%s\n", r.Verdict, r.Reason, r.Line)
		}
		return w.Flush()
	}

	text := string(raw)
	if profile.Cleaning.Enabled {
		text = filter.Clean(text)
	}
	if text != "" {
		fmt.Fprintln(out, text)
	}
	return nil
}
