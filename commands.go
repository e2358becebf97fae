package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"tourgraph/models"
	"tourgraph/scraper/pages"
	"tourgraph/services"
	"tourgraph/storage"
)

func (a *app) seedPartitionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed-partitions",
		Short: "Load the destination hierarchy from the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := a.syncer().SeedPartitions(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Seeded %d partitions\n", n)
			return nil
		},
	}
}

func (a *app) syncCmd() *cobra.Command {
	var (
		partition string
		skip      bool
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Delta-sync one partition",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := a.syncer().SyncPartitionByID(cmd.Context(), partition,
				services.SyncOptions{SkipEnrichment: skip || a.cfg.SkipEnrichment})
			if err != nil {
				return err
			}
			return a.print(report, func(w io.Writer) {
				fmt.Fprintf(w, "%s (%s): %d found, %d new, %d changed, %d unchanged, %d missing, %d fetch errors, %d store errors in %s\n",
					report.PartitionName, report.PartitionID, report.Searched, report.New, report.Changed,
					report.Unchanged, report.Missing, report.FetchErrors, report.StoreErrors, report.Duration.Round(time.Millisecond))
			})
		},
	}
	cmd.Flags().StringVar(&partition, "partition", "", "partition (destination) id to sync")
	cmd.Flags().BoolVar(&skip, "skip-enrichment", false, "do not generate one-liners for new listings")
	_ = cmd.MarkFlagRequired("partition")
	return cmd
}

func (a *app) sweepCmd() *cobra.Command {
	var (
		opts  services.SweepOptions
		reset bool
	)
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Sync every leaf partition, resumable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if reset {
				if err := a.store.ResetCursor(cmd.Context()); err != nil {
					return err
				}
			}
			opts.SkipEnrichment = opts.SkipEnrichment || a.cfg.SkipEnrichment
			report, err := a.syncer().Sweep(cmd.Context(), opts)
			if err != nil {
				return err
			}
			return a.print(report, func(w io.Writer) {
				fmt.Fprintf(w, "Sweep %s: %d partitions (%d failed), %d new, %d changed, %d missing, %d store errors, %d active, last %s\n",
					report.RunID, report.Processed, report.PartitionErrors, report.New, report.Changed,
					report.Missing, report.StoreErrors, report.ActiveListings, report.LastPartitionID)
			})
		},
	}
	f := cmd.Flags()
	f.IntVar(&opts.Limit, "limit", 0, "stop after this many partitions (0 = all)")
	f.BoolVar(&opts.Resume, "resume", false, "continue after the last completed partition")
	f.BoolVar(&opts.SkipEnrichment, "skip-enrichment", false, "do not generate one-liners for new listings")
	f.BoolVar(&reset, "reset", false, "clear the saved sweep position first")
	return cmd
}

func (a *app) backfillCmd() *cobra.Command {
	var opts services.BackfillOptions
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Generate one-liners for listings that have none",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b := services.NewBackfiller(a.store, a.oneLinerWriter(), nil, a.cfg.BackfillDelay, a.logger)
			report, err := b.BackfillOneLiners(cmd.Context(), opts)
			if err != nil {
				return err
			}
			return a.printBackfill(report)
		},
	}
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum listings to visit (0 = all)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "generate but do not store")
	return cmd
}

func (a *app) backfillHighlightsCmd() *cobra.Command {
	var opts services.BackfillOptions
	cmd := &cobra.Command{
		Use:   "backfill-highlights",
		Short: "Scrape booking pages for listing highlights",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			scraper := pages.NewHighlightScraper(cmd.Context(), a.cfg.ChromeBin, a.cfg.MaxRetries+1, a.logger)
			defer scraper.Close()

			b := services.NewBackfiller(a.store, nil, scraper, a.cfg.BackfillDelay, a.logger)
			report, err := b.BackfillHighlights(cmd.Context(), opts)
			if err != nil {
				return err
			}
			return a.printBackfill(report)
		},
	}
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum listings to visit (0 = all)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "scrape but do not store")
	return cmd
}

func (a *app) printBackfill(r services.BackfillReport) error {
	return a.print(r, func(w io.Writer) {
		fmt.Fprintf(w, "%d candidates: %d updated, %d empty, %d failed\n", r.Candidates, r.Updated, r.Empty, r.Failed)
	})
}

func (a *app) generateChainsCmd() *cobra.Command {
	var (
		pairsFile  string
		regenerate bool
	)
	cmd := &cobra.Command{
		Use:   "generate-chains [FROM TO]",
		Short: "Compose thematic chains between partitions",
		Long: "Compose a five-stop thematic chain between FROM and TO, or between every pair\n" +
			"listed in --pairs-file (a JSON array of [from, to] arrays).",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 && len(args) != 2 {
				return fmt.Errorf("expected FROM and TO, got %d arguments", len(args))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			var pairs [][2]string
			if len(args) == 2 {
				pairs = append(pairs, [2]string{args[0], args[1]})
			}
			if pairsFile != "" {
				more, err := readPairs(pairsFile)
				if err != nil {
					return err
				}
				pairs = append(pairs, more...)
			}
			if len(pairs) == 0 {
				return fmt.Errorf("nothing to do: give FROM TO or --pairs-file")
			}

			validator := services.NewChainValidator(a.store, a.logger)
			composer := services.NewChainComposer(a.generator(), a.store, validator, a.logger)
			report, err := composer.ComposeAll(cmd.Context(), pairs, regenerate)
			if err != nil {
				return err
			}
			return a.print(report, func(w io.Writer) {
				fmt.Fprintf(w, "%d generated, %d skipped, %d failed\n", report.Generated, report.Skipped, report.Failed)
			})
		},
	}
	cmd.Flags().StringVar(&pairsFile, "pairs-file", "", "JSON file of [from, to] pairs")
	cmd.Flags().BoolVar(&regenerate, "regenerate", false, "replace chains that already exist")
	return cmd
}

func readPairs(path string) ([][2]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pairs: %w", err)
	}
	var pairs [][2]string
	if err := json.Unmarshal(raw, &pairs); err != nil {
		return nil, fmt.Errorf("decode pairs %s: %w", path, err)
	}
	return pairs, nil
}

func (a *app) handCmd() *cobra.Command {
	var (
		size    int
		exclude []int
	)
	cmd := &cobra.Command{
		Use:   "hand",
		Short: "Draw a balanced, contrast-ordered hand of listings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, len(exclude))
			for i, id := range exclude {
				ids[i] = int64(id)
			}
			hand, err := services.NewHandSelector(a.store, a.logger).Draw(cmd.Context(), ids, size)
			if err != nil {
				return err
			}
			return a.print(hand, func(w io.Writer) {
				for i, l := range hand {
					fmt.Fprintf(w, "%2d. %s\n", i+1, listingLine(l))
				}
			})
		},
	}
	cmd.Flags().IntVar(&size, "size", services.DefaultHandSize, "listings per hand")
	cmd.Flags().IntSliceVar(&exclude, "exclude", nil, "listing ids already seen")
	return cmd
}

func (a *app) superlativeCmd() *cobra.Command {
	kinds := services.SuperlativeKinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return &cobra.Command{
		Use:       "superlative KIND",
		Short:     "Show the most extreme listing of one kind",
		Long:      "KIND is one of: " + strings.Join(names, ", "),
		Args:      cobra.ExactArgs(1),
		ValidArgs: names,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := services.NewSuperlativeSelector(a.store).Pick(cmd.Context(), services.SuperlativeKind(args[0]))
			if err != nil {
				return err
			}
			return a.print(l, func(w io.Writer) {
				if l == nil {
					fmt.Fprintln(w, "No listing qualifies yet.")
					return
				}
				fmt.Fprintln(w, listingLine(l))
			})
		},
	}
}

func (a *app) rightNowCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "right-now",
		Short: "Listings where it is a lovely time of day right now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m := services.NewTimeZoneMatcher(a.store, a.logger)
			moments, err := m.RightNow(cmd.Context(), time.Now(), count)
			if err != nil {
				return err
			}
			return a.print(moments, func(w io.Writer) {
				for _, mo := range moments {
					fmt.Fprintf(w, "%-8s %-12s %s\n", mo.LocalTime, mo.Label, listingLine(mo.Listing))
				}
			})
		},
	}
	cmd.Flags().IntVar(&count, "count", 6, "number of listings")
	return cmd
}

func (a *app) reportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Print catalog insights",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			listings, err := a.store.ActiveListings(cmd.Context())
			if err != nil {
				return err
			}
			svc := services.NewInsightService(a.logger)
			report := svc.Generate(listings)
			if a.jsonOut {
				return writeJSON(os.Stdout, report)
			}
			svc.Print(os.Stdout, report)
			if n, err := a.store.CountChains(cmd.Context()); err == nil {
				fmt.Printf("  Thematic chains stored: %d\n\n", n)
			}
			return nil
		},
	}
}

func (a *app) exportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the active catalog to CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				out = a.cfg.CSVOutputPath
			}
			w, err := storage.NewCSVWriter(out)
			if err != nil {
				return err
			}
			n, err := exportListings(cmd.Context(), a.store, w)
			if err != nil {
				return err
			}
			a.logger.Info("[export] %d listings written to %s", n, out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "CSV path (default CSV_OUTPUT_PATH)")
	return cmd
}

func exportListings(ctx context.Context, store *storage.SQLStore, w storage.ListingExporter) (int, error) {
	listings, err := store.ActiveListings(ctx)
	if err != nil {
		_ = w.Close()
		return 0, err
	}
	if err := w.Write(listings); err != nil {
		_ = w.Close()
		return 0, err
	}
	return len(listings), w.Close()
}

// print writes v as JSON with --json, otherwise calls text.
func (a *app) print(v any, text func(w io.Writer)) error {
	if a.jsonOut {
		return writeJSON(os.Stdout, v)
	}
	text(os.Stdout)
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func listingLine(l *models.Listing) string {
	price := "?"
	if l.Price != nil {
		price = fmt.Sprintf("%.2f %s", *l.Price, l.Currency)
	}
	rating := "-"
	if l.Rating != nil {
		rating = fmt.Sprintf("%.1f", *l.Rating)
	}
	line := fmt.Sprintf("[%d] %s | %s, %s | %s | %s★ (%d) | %s",
		l.ID, l.Title, l.PartitionName, l.Country, l.Category, rating, l.ReviewCountValue(), price)
	if l.OneLiner != nil {
		line += "\n      " + *l.OneLiner
	}
	return line
}
