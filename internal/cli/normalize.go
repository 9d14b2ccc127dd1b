package cli

import (
	"fmt"
	"os"

	"github.com/gouthamgo/privascan/internal/preprocess"
	"github.com/gouthamgo/privascan/internal/processor"
	"github.com/spf13/cobra"
)

var normalizeCmd = &cobra.Command{
	Use:   "normalize <input> <output.png>",
	Short: "Convert an image to high-contrast grayscale for OCR",
	Args:  cobra.ExactArgs(2),
	RunE:  runNormalize,
}

func init() {
	normalizeCmd.Flags().StringP("profile", "p", "", "Profile with preprocessing settings (default: built-in values)")
}

func runNormalize(cmd *cobra.Command, args []string) error {
	opts := preprocess.DefaultOptions()
	if name, _ := cmd.Flags().GetString("profile"); name != "" {
		profile, err := localProfile(name)
		if err != nil {
			return err
		}
		opts = processor.NormalizerOptions(profile)
	}

	in, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer in.Close()

	img, format, err := preprocess.Decode(in)
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}

	out, err := os.Create(args[1])
	if err != nil {
		return err
	}
	if err := preprocess.EncodePNG(out, opts.Normalize(img)); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	b := img.Bounds()
	fmt.Fprintf(cmd.OutOrStdout(), "%s (%s, %dx%d) -> %s\n", args[0], format, b.Dx(), b.Dy(), args[1])
	return nil
}
