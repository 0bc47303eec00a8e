// Package main is the entry point for the inkfold CLI: one-shot document
// conversion to Markdown, or the long-running HTTP service.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/inkfold/inkfold/convert"
	"github.com/inkfold/inkfold/detect"
	"github.com/inkfold/inkfold/docparse"
)

// version is set at build time via ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "inkfold",
	Short: "Convert heterogeneous documents to Markdown",
	Long: `inkfold converts word-processing documents, PDFs, and images into
Markdown. Use "convert" for a one-shot batch on the command line, or "serve"
to run the HTTP service with a job queue and a websocket event stream.`,
	Version: version,
}

func main() {
	setupLogging(env("LOG_LEVEL", "info"))
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
}

// buildRegistry wires the converters with the real parser collaborators.
// No OCR engine ships; the image converter reports the missing dependency
// when an image job actually runs.
func buildRegistry(det *detect.Detector, logger *slog.Logger) *convert.Registry {
	pcfg := docparse.Config{Logger: logger}
	return convert.NewRegistry(
		convert.NewWord(convert.WordConfig{
			Parser:   docparse.NewWordParser(pcfg),
			Detector: det,
			Logger:   logger,
		}),
		convert.NewPDF(convert.PDFConfig{
			Parser:   docparse.NewPDFParser(pcfg),
			Detector: det,
			Logger:   logger,
		}),
		convert.NewImage(convert.ImageConfig{
			Detector: det,
			Logger:   logger,
		}),
	)
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
