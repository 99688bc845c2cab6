package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/avollmer/itchgrab/internal/fetch"
	"github.com/avollmer/itchgrab/internal/itchio"
)

var (
	dlAuthor        string
	dlTitle         string
	dlOutput        string
	dlMaxConcurrent int
	dlUnzip         bool
	dlNoUnwrap      bool
)

var dlCmd = &cobra.Command{
	Use:   "dl",
	Short: "Download all matched packages",
	Long: `Download every package in your library that matches the filters.

For each package the zip upload is preferred when one exists; otherwise
the first upload is taken. With --unzip, downloaded archives are
extracted into a directory named after the package, removing a single
wrapping top-level directory unless --no-unwrap is given.

Examples:
  itchgrab dl -o ./games
  itchgrab dl --author mossmouth --unzip
  itchgrab dl --title jam --max-concurrent 4`,
	RunE: runDl,
}

func init() {
	dlCmd.Flags().StringVar(&dlAuthor, "author", "", "filter by author username or display name")
	dlCmd.Flags().StringVar(&dlTitle, "title", "", "filter by title (contains match)")
	dlCmd.Flags().StringVarP(&dlOutput, "output", "o", ".", "output directory for downloads")
	dlCmd.Flags().IntVar(&dlMaxConcurrent, "max-concurrent", 16, "maximum number of concurrent downloads")
	dlCmd.Flags().BoolVar(&dlUnzip, "unzip", false, "automatically extract downloaded zip files")
	dlCmd.Flags().BoolVar(&dlNoUnwrap, "no-unwrap", false, "keep a single top-level archive directory instead of flattening it")
}

func runDl(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	client := newClient()

	keys, err := client.ListOwnedKeys(ctx)
	if err != nil {
		return fmt.Errorf("list owned keys: %w", err)
	}

	keys = itchio.FilterKeys(keys, dlAuthor, dlTitle)
	if len(keys) == 0 {
		fmt.Println("No packages found to download.")
		return nil
	}

	if err := os.MkdirAll(dlOutput, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	fmt.Printf("Found %d packages to download\n", len(keys))

	pool := &fetch.Pool{
		Catalog:     client,
		OutputDir:   dlOutput,
		Concurrency: dlMaxConcurrent,
		Extract:     dlUnzip,
		UnwrapRoot:  !dlNoUnwrap,
		Logger:      slog.Default(),
	}

	var results []fetch.Result
	if term.IsTerminal(int(os.Stdout.Fd())) {
		results = runWithProgressUI(ctx, pool, keys)
	} else {
		pool.Sinks = func(key itchio.OwnedKey) fetch.ProgressSink {
			return &fetch.LogSink{Logger: slog.Default(), Name: key.Game.Title}
		}
		results = pool.Run(ctx, keys)
	}

	printSummary(results)
	return nil
}

// printSummary tallies the collected per-item outcomes. Failures are
// listed but do not change the exit code; every item already reached a
// terminal state.
func printSummary(results []fetch.Result) {
	var failed int
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}

	if failed == 0 {
		fmt.Printf("All %d downloads completed.\n", len(results))
		return
	}

	fmt.Printf("%d of %d downloads completed, %d failed:\n", len(results)-failed, len(results), failed)
	for _, r := range results {
		if r.Err == nil {
			continue
		}
		name := r.Filename
		if name == "" {
			name = r.Key.Game.Title
		}
		fmt.Printf("  - %s: %v\n", name, r.Err)
	}
}
