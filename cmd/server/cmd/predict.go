package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"

	"github.com/Brownie44l1/garbage-api/internal/app"
	"github.com/Brownie44l1/garbage-api/internal/inference"
)

var (
	predictImages []string
	predictTopK   int
	predictLimit  int
)

var imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true}

func init() {
	predictCmd.Flags().StringSliceVarP(&predictImages, "images", "i", nil, "image files, directories or ** globs to test")
	predictCmd.Flags().IntVar(&predictTopK, "topk", 3, "number of top classes to print")
	predictCmd.Flags().IntVar(&predictLimit, "limit", 10, "limit number of files to test")
	_ = predictCmd.MarkFlagRequired("images")
}

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Inspect the model and class mapping and run predictions on local images",
	Example: `
garbage-api predict --images testdata/sample_images/ --topk 6
garbage-api predict -i "samples/**/*.jpg" -i bottle.png`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg.Model.TopK = topKFor(cmd, cfg.Model.TopK)
		svc, mdl, err := app.Load(cfg, app.ONNXLoader, nil)
		if err != nil {
			return err
		}
		defer mdl.Close()

		out := cmd.OutOrStdout()
		info := svc.Info()
		fmt.Fprintf(out, "Model input shape: (%d, %d, %d) %s\n",
			info.InputShape.Height, info.InputShape.Width, info.InputShape.Channels, info.Layout)
		fmt.Fprintf(out, "Model classes: %d\n", info.NumClasses)

		mapping, _ := json.MarshalIndent(info.Classes, "", "  ")
		fmt.Fprintf(out, "\nClass mapping (%s):\n%s\n", info.ClassesSource, mapping)

		paths := collectImages(predictImages, cmd.ErrOrStderr())
		if len(paths) == 0 {
			fmt.Fprintln(out, "No images found to test. Provide a path or directory with images.")
			return nil
		}
		if predictLimit > 0 && len(paths) > predictLimit {
			paths = paths[:predictLimit]
		}

		for _, p := range paths {
			data, err := os.ReadFile(p)
			if err != nil {
				return err
			}
			res, err := svc.Infer(cmd.Context(), data)
			if err != nil {
				fmt.Fprintf(out, "\n=== %s\nerror: %v\n", p, err)
				continue
			}
			printResult(out, p, res, svc.Classes().Lookup)
		}
		return nil
	},
}

// topKFor prefers an explicit --topk over the configured value.
func topKFor(cmd *cobra.Command, configured int) int {
	if cmd.Flags().Changed("topk") {
		return predictTopK
	}
	return configured
}

func printResult(out io.Writer, path string, res *inference.Result, label func(int) string) {
	fmt.Fprintf(out, "\n=== %s\n", path)
	fmt.Fprintf(out, "argmax index: %d mapped: %s (latency %.4fs, softmax applied: %t)\n",
		res.ClassID, res.Prediction, res.Latency, res.Normalized)
	fmt.Fprintln(out, "probs:")
	for i, p := range res.Probabilities {
		fmt.Fprintf(out, "  %d %-12s: %.6f\n", i, label(i), p)
	}
	fmt.Fprintln(out, "\nTop k:")
	for _, s := range res.TopK {
		fmt.Fprintf(out, "  %-12s: %.6f\n", s.Class, s.Confidence)
	}
}

// collectImages expands directories recursively and ** globs into image
// files. Unknown paths are reported on warn and skipped.
func collectImages(inputs []string, warn io.Writer) []string {
	var paths []string
	for _, in := range inputs {
		st, err := os.Stat(in)
		switch {
		case err == nil && st.IsDir():
			matches, err := doublestar.Glob(os.DirFS(in), "**/*", doublestar.WithFilesOnly())
			if err != nil {
				fmt.Fprintf(warn, "Warning: cannot walk %s: %v\n", in, err)
				continue
			}
			sort.Strings(matches)
			for _, m := range matches {
				if isImage(m) {
					paths = append(paths, filepath.Join(in, filepath.FromSlash(m)))
				}
			}
		case err == nil:
			paths = append(paths, in)
		case doublestar.ValidatePathPattern(in) && strings.ContainsAny(in, "*?[{"):
			matches, err := doublestar.FilepathGlob(in, doublestar.WithFilesOnly())
			if err != nil {
				fmt.Fprintf(warn, "Warning: bad pattern %s: %v\n", in, err)
				continue
			}
			sort.Strings(matches)
			for _, m := range matches {
				if isImage(m) {
					paths = append(paths, m)
				}
			}
		default:
			fmt.Fprintf(warn, "Warning: path not found: %s\n", in)
		}
	}
	return paths
}

func isImage(path string) bool {
	return imageExts[strings.ToLower(filepath.Ext(path))]
}
