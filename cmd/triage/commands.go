package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/smartdevs17/notfound-triage/internal/config"
	"github.com/smartdevs17/notfound-triage/internal/models"
	"github.com/smartdevs17/notfound-triage/internal/pattern"
	"github.com/smartdevs17/notfound-triage/internal/query"
	"github.com/smartdevs17/notfound-triage/internal/storage"
	"github.com/smartdevs17/notfound-triage/internal/triage"
	"github.com/smartdevs17/notfound-triage/pkg/utils"
)

// exportCmd runs the export pipeline against the configured store
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export log entries as csv or json",
	RunE:  runExport,
}

// patternsCmd groups ignore pattern commands
var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "Ignore pattern commands",
}

// listPatternsCmd prints the stored ignore patterns
var listPatternsCmd = &cobra.Command{
	Use:   "list",
	Short: "List ignore patterns",
	RunE:  runListPatterns,
}

func init() {
	exportCmd.Flags().StringP("format", "f", triage.FormatCSV, "export format (csv, json)")
	exportCmd.Flags().StringP("output", "o", "", "output file (default: suggested filename, - for stdout)")
	exportCmd.Flags().String("sort", string(query.SortRecent), "sort order (recent, top)")
	exportCmd.Flags().Bool("hide-spam", false, "exclude spam-like extensions")
	exportCmd.Flags().Bool("hide-images", false, "exclude image extensions")
	exportCmd.Flags().Bool("hide-bots", false, "exclude bot traffic")
	exportCmd.Flags().String("ignored", string(query.IgnoredAll), "ignored entries (all, hide, only)")
}

// openCLIService loads config and builds a service without starting any
// background component
func openCLIService() (*triage.Service, storage.Storage, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if err := initCLILogger(cfg); err != nil {
		return nil, nil, err
	}

	store, err := openStorage(&cfg.Storage)
	if err != nil {
		return nil, nil, err
	}

	svc := triage.NewService(store, pattern.NewMatcher(), nil, nil, triage.OptionsFromConfig(cfg))
	if err := svc.LoadPatterns(context.Background()); err != nil {
		store.Close()
		return nil, nil, err
	}
	return svc, store, nil
}

// initCLILogger keeps logs off stdout so command output stays clean
func initCLILogger(cfg *config.Config) error {
	output := cfg.Logging.Output
	if output == "stdout" || output == "" {
		output = "stderr"
	}
	return utils.InitLogger(cfg.Logging.Level, "text", output, cfg.Logging.File)
}

func runExport(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	format, _ := flags.GetString("format")
	output, _ := flags.GetString("output")
	sortFlag, _ := flags.GetString("sort")
	ignored, _ := flags.GetString("ignored")

	filters := query.Filters{Ignored: query.ParseIgnoredMode(ignored)}
	filters.HideSpam, _ = flags.GetBool("hide-spam")
	filters.HideImages, _ = flags.GetBool("hide-images")
	filters.HideBots, _ = flags.GetBool("hide-bots")

	svc, store, err := openCLIService()
	if err != nil {
		return err
	}
	defer store.Close()

	out, err := svc.Export(context.Background(), format, filters, query.ParseSort(sortFlag))
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}

	if output == "-" {
		_, err = os.Stdout.Write(out.Data)
		return err
	}
	if output == "" {
		output = out.Filename
	}
	if err := os.WriteFile(output, out.Data, 0o644); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Exported %d entries to %s\n", out.Count, output)
	return nil
}

func runListPatterns(cmd *cobra.Command, args []string) error {
	svc, store, err := openCLIService()
	if err != nil {
		return err
	}
	defer store.Close()

	patterns, err := svc.ListPatterns(context.Background())
	if err != nil {
		return err
	}
	return printPatterns(cmd.OutOrStdout(), patterns)
}

func printPatterns(w io.Writer, patterns []*models.IgnorePattern) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tPATTERN\tCREATED")
	for _, p := range patterns {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.ID, p.Type, p.Pattern, p.CreatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}
