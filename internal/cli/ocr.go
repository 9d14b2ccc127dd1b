package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gouthamgo/privascan/internal/config"
	"github.com/gouthamgo/privascan/internal/jobs"
	"github.com/gouthamgo/privascan/internal/processor"
	"github.com/gouthamgo/privascan/internal/recognize"
	"github.com/spf13/cobra"
)

var ocrCmd = &cobra.Command{
	Use:   "ocr <image>...",
	Short: "Extract text from images on this machine",
	Long: "Run the full pipeline locally: normalize each image, recognize it with the local " +
		"Tesseract engine and clean the recognized text.",
	Args: cobra.MinimumNArgs(1),
	RunE: runOCR,
}

func init() {
	ocrCmd.Flags().StringP("profile", "p", "", "Profile (default: from config)")
	ocrCmd.Flags().Bool("raw", false, "Skip preprocessing and cleaning (same as --profile raw)")
	ocrCmd.Flags().String("engine", "", "Recognition engine: auto, tesseract, gosseract (default: from config)")
	ocrCmd.Flags().StringP("lang", "l", "", "Tesseract language, e.g. eng or deu+eng (default: from config)")
	ocrCmd.Flags().IntP("jobs", "j", 0, "Images processed in parallel (default: from config)")
	ocrCmd.Flags().Bool("json", false, "Output as JSON")
}

type ocrOutput struct {
	File       string  `json:"file"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Engine     string  `json:"engine,omitempty"`
	Blank      bool    `json:"blank,omitempty"`
	Error      string  `json:"error,omitempty"`
}

func runOCR(cmd *cobra.Command, args []string) error {
	name, _ := cmd.Flags().GetString("profile")
	if raw, _ := cmd.Flags().GetBool("raw"); raw {
		name = "raw"
	}
	profile, err := localProfile(name)
	if err != nil {
		return err
	}

	ocrCfg := config.OCRConfig{
		Engine:        cfg.Local.Engine,
		Language:      cfg.Local.Language,
		TesseractPath: cfg.Local.TesseractPath,
	}
	if engine, _ := cmd.Flags().GetString("engine"); engine != "" {
		ocrCfg.Engine = engine
	}
	if lang, _ := cmd.Flags().GetString("lang"); lang != "" {
		ocrCfg.Language = lang
		profile.OCR.Language = lang
	}

	engine, err := recognize.New(ocrCfg)
	if err != nil {
		return err
	}
	if tess, ok := engine.(*recognize.TesseractCLI); ok && !tess.Available() {
		return fmt.Errorf("tesseract not found; install it or set local.tesseract_path")
	}

	workers, _ := cmd.Flags().GetInt("jobs")
	if workers <= 0 {
		workers = cfg.Local.Jobs
	}

	items := make([]processor.BatchItem, 0, len(args))
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		items = append(items, processor.BatchItem{Name: path, Image: data})
	}

	pipeline := processor.NewPipeline(engine, config.ProcessingConfig{OCR: ocrCfg})
	results, err := pipeline.RunBatch(cmd.Context(), items, profile, workers)
	if err != nil {
		return err
	}

	outputs := make([]ocrOutput, len(results))
	failed := 0
	for i, r := range results {
		outputs[i] = ocrOutput{
			File:       r.Name,
			Text:       r.Result.Text,
			Confidence: r.Result.Confidence,
			Engine:     r.Result.Engine,
			Blank:      r.Result.Blank,
		}
		if r.Err != nil {
			failed++
			outputs[i].Error = jobs.PublicError(r.Err)
			outputs[i].Text = ""
		}
	}

	out := cmd.OutOrStdout()
	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(outputs); err != nil {
			return err
		}
	} else {
		for i, o := range outputs {
			if len(outputs) > 1 {
				if i > 0 {
					fmt.Fprintln(out)
				}
				fmt.Fprintf(out, "==> %s <==\n", filepath.Base(o.File))
			}
			switch {
			case o.Error != "":
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", o.File, o.Error)
			case o.Text != "":
				fmt.Fprintln(out, o.Text)
			}
		}
	}

	for _, r := range results {
		if r.Err != nil {
			slog.Debug("image failed", "file", r.Name, "error", r.Err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d images failed", failed, len(results))
	}
	return nil
}
