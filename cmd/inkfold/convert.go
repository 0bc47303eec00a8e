package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/inkfold/inkfold/convert"
	"github.com/inkfold/inkfold/coord"
	"github.com/inkfold/inkfold/detect"
)

var convertCmd = &cobra.Command{
	Use:   "convert <files...>",
	Short: "Convert documents to Markdown files",
	Long: `Convert runs the given files through the conversion pipeline and writes
one .md file per input next to the originals (or under --out). With --merge,
a single combined document is written instead.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		outDir, _ := cmd.Flags().GetString("out")
		mergePath, _ := cmd.Flags().GetString("merge")
		parallel, _ := cmd.Flags().GetInt("parallel")

		logger := slog.Default()
		det := detect.New(detect.Config{Logger: logger})
		c := coord.New(coord.Config{
			Ceiling:  parallel,
			Detector: det,
			Registry: buildRegistry(det, logger),
			Logger:   logger,
		})

		inputs := make([]convert.Input, 0, len(args))
		for _, path := range args {
			fi, err := os.Stat(path)
			if err != nil {
				return fmt.Errorf("stat %s: %w", path, err)
			}
			inputs = append(inputs, convert.Input{
				Name:      filepath.Base(path),
				Path:      path,
				SizeBytes: fi.Size(),
			})
		}

		results, failures := c.ConvertAll(cmd.Context(), inputs, coord.Options{})

		for _, f := range failures {
			fmt.Fprintf(os.Stderr, "failed: %s: %v\n", f.Input.Name, f.Err)
		}

		if mergePath != "" {
			if len(results) == 0 {
				return fmt.Errorf("nothing to merge: all %d conversions failed", len(failures))
			}
			if err := os.WriteFile(mergePath, []byte(coord.MergeResults(results)), 0o644); err != nil {
				return err
			}
			fmt.Printf("wrote %s (%d documents)\n", mergePath, len(results))
		} else {
			if outDir != "" {
				if err := os.MkdirAll(outDir, 0o755); err != nil {
					return err
				}
			}
			for _, res := range results {
				dst := markdownPath(res.SourceName, outDir)
				if err := os.WriteFile(dst, []byte(res.Content+"\n"), 0o644); err != nil {
					return err
				}
				fmt.Printf("wrote %s\n", dst)
			}
		}

		if len(failures) > 0 {
			return fmt.Errorf("%d of %d conversions failed", len(failures), len(inputs))
		}
		return nil
	},
}

// markdownPath swaps the extension for .md, placing the file in outDir when
// one is given.
func markdownPath(sourceName, outDir string) string {
	base := strings.TrimSuffix(sourceName, filepath.Ext(sourceName)) + ".md"
	if outDir == "" {
		return base
	}
	return filepath.Join(outDir, base)
}

func init() {
	convertCmd.Flags().String("out", "", "output directory (default: current directory)")
	convertCmd.Flags().String("merge", "", "write a single merged Markdown file to this path")
	convertCmd.Flags().Int("parallel", 3, "max concurrent conversions")

	rootCmd.AddCommand(convertCmd)
}
