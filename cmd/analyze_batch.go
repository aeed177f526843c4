package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/KaramelBytes/dataloom-cli/internal/utils"
)

var (
	abOutputDir string
	abJobs      int
	abQuiet     bool
	abProfile   profileFlags
)

var analyzeBatchCmd = &cobra.Command{
	Use:   "analyze-batch <files...>",
	Short: "Profile multiple CSV/TSV/XLSX files concurrently",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var files []string
		seen := map[string]struct{}{}
		for _, arg := range args {
			matches, _ := filepath.Glob(arg)
			if len(matches) == 0 {
				// treat as literal path if exists
				if _, err := os.Stat(arg); err == nil {
					matches = []string{arg}
				}
			}
			for _, m := range matches {
				if _, ok := seen[m]; ok {
					continue
				}
				seen[m] = struct{}{}
				files = append(files, m)
			}
		}
		if len(files) == 0 {
			return fmt.Errorf("no input files matched")
		}
		sort.Strings(files)

		lo, opt, err := abProfile.resolve(cmd)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		total := len(files)
		reports := make([]string, total)
		g, gctx := errgroup.WithContext(cmd.Context())
		if abJobs > 0 {
			g.SetLimit(abJobs)
		}
		for i, path := range files {
			g.Go(func() error {
				md, err := profileFile(gctx, path, lo, opt)
				if err != nil {
					return err
				}
				reports[i] = md
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		// Output is written in file order so collision suffixes are stable.
		for i, path := range files {
			if !abQuiet {
				fmt.Fprintf(out, "[%d/%d] %s\n", i+1, total, path)
			}
			if abOutputDir == "" {
				if !abQuiet {
					fmt.Fprintln(out, reports[i])
				}
				continue
			}
			outFile := summaryPath(abOutputDir, path, abProfile.sheet)
			if _, statErr := os.Stat(outFile); statErr == nil {
				base := strings.TrimSuffix(outFile, ".summary.md")
				idx := 2
				for {
					cand := fmt.Sprintf("%s__%d.summary.md", base, idx)
					if _, err := os.Stat(cand); os.IsNotExist(err) {
						if !abQuiet {
							fmt.Fprintf(out, "⚠ Detected existing summary, writing to %s to avoid overwrite.\n", filepath.Base(cand))
						}
						outFile = cand
						break
					}
					idx++
				}
			}
			if err := utils.SafeWriteFile(outFile, []byte(reports[i])); err != nil {
				return fmt.Errorf("write summary: %w", err)
			}
			if !abQuiet {
				fmt.Fprintf(out, "✓ Wrote %s\n", outFile)
			}
		}
		return nil
	},
}

// summaryPath names the summary of path inside dir, tagging the sheet if set.
func summaryPath(dir, path, sheet string) string {
	base := filepath.Base(path)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	if sheet != "" {
		s := strings.ToLower(strings.TrimSpace(sheet))
		var b strings.Builder
		for _, r := range s {
			if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
				b.WriteRune(r)
			} else if r == ' ' || r == '-' || r == '_' {
				b.WriteRune('-')
			}
		}
		ss := strings.Trim(b.String(), "-")
		if ss == "" {
			ss = "sheet"
		}
		name += "__sheet-" + ss
	}
	return filepath.Join(dir, name+".summary.md")
}

func init() {
	rootCmd.AddCommand(analyzeBatchCmd)
	analyzeBatchCmd.Flags().StringVarP(&abOutputDir, "output-dir", "o", "", "directory to write <name>.summary.md files (default prints to stdout)")
	analyzeBatchCmd.Flags().IntVarP(&abJobs, "jobs", "j", 4, "files profiled concurrently (0 = unlimited)")
	analyzeBatchCmd.Flags().BoolVar(&abQuiet, "quiet", false, "suppress progress and non-essential output")
	abProfile.register(analyzeBatchCmd)
}
