// bcrpdata is a command line client for the BCRPData statistical series API
// of the Banco Central de Reserva del Perú.
//
// Main CLI entrypoint using cobra command framework.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/seenimoa/bcrpdata/internal/cache"
	"github.com/seenimoa/bcrpdata/internal/config"
	"github.com/seenimoa/bcrpdata/internal/export"
	"github.com/seenimoa/bcrpdata/internal/infra"
	"github.com/seenimoa/bcrpdata/internal/observability"
	"github.com/seenimoa/bcrpdata/pkg/bcrp"
	"github.com/seenimoa/bcrpdata/pkg/models"
	"github.com/seenimoa/bcrpdata/pkg/utils"
)

// Build-time variables (set via -ldflags).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Global state, set up in PersistentPreRunE.
var (
	cfg           *config.Config
	logger        *slog.Logger
	client        *bcrp.Client
	stopTracing   func(context.Context) error
	cancelSignals context.CancelFunc
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "bcrpdata",
	Short: "BCRPData statistical series client",
	Long: `bcrpdata fetches time series from the BCRPData API of the
Banco Central de Reserva del Perú, caches the results locally, splits
large code lists into chunks and searches the series metadata.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		configFile, _ := cmd.Flags().GetString("config")
		if configFile != "" {
			cfg, err = config.LoadFromFile(configFile)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		level := cfg.Logging.Level
		if override, _ := cmd.Flags().GetString("log-level"); override != "" {
			level = override
		}
		logger = infra.NewLogger(os.Stderr, level, cfg.Logging.Format)

		if trace, _ := cmd.Flags().GetBool("trace"); trace {
			stopTracing, err = observability.InitStdoutTracing(os.Stderr)
			if err != nil {
				return err
			}
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
		cancelSignals = cancel
		cmd.SetContext(ctx)

		client = bcrp.NewFromConfig(cfg, logger, observability.NewMetrics("bcrpdata"))
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if cancelSignals != nil {
			cancelSignals()
		}
		if stopTracing != nil {
			if err := stopTracing(context.Background()); err != nil {
				logger.Warn("tracing shutdown failed", slog.String("error", err.Error()))
			}
		}
		if client != nil {
			return client.Close()
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file path (default: ./config/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("trace", false, "print OpenTelemetry spans to stderr")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(largeGetCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(refineCmd)
	rootCmd.AddCommand(metadataCmd)
	rootCmd.AddCommand(forgetCmd)
	rootCmd.AddCommand(statusCmd)
}

// --- Version Command ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("bcrpdata %s\n", version)
		fmt.Printf("  commit:  %s\n", commit)
		fmt.Printf("  built:   %s\n", date)
	},
}

// --- Request flags shared by get and large-get ---

func addRequestFlags(cmd *cobra.Command) {
	cmd.Flags().String("start", "", "first period, YYYY[-M[-D]] (default from config)")
	cmd.Flags().String("end", "", "last period, YYYY[-M[-D]] (default from config)")
	cmd.Flags().Int("last", 0, "fetch the last N months instead of --start/--end")
	cmd.Flags().String("lang", "", "series names language: en or es")
	cmd.Flags().String("format", "", "API response format: json, csv or html")
	cmd.Flags().Bool("no-order", false, "keep the provider column order")
	cmd.Flags().Bool("no-datetime", false, "keep period labels instead of dates")
	cmd.Flags().Bool("forget", false, "drop the cached result and fetch again")
	cmd.Flags().Bool("check-codes", false, "drop codes missing from the metadata before fetching")
	cmd.Flags().String("storage", "", "cache storage: file, badger or postgres")
	cmd.Flags().StringP("out", "o", "", "write the table to a file (.csv, .md, .xlsx or native)")
}

func buildRequest(cmd *cobra.Command, args []string) (bcrp.Request, error) {
	codes := utils.NormalizeCodes(args...)
	if len(codes) == 0 {
		return bcrp.Request{}, fmt.Errorf("provide at least one series code")
	}
	for _, c := range codes {
		if !utils.IsSeriesCode(c) {
			logger.Warn("unusual series code", slog.String("code", c))
		}
	}
	if deduped := utils.Dedupe(codes); len(deduped) != len(codes) {
		logger.Warn("duplicate codes removed", slog.Int("removed", len(codes)-len(deduped)))
		codes = deduped
	}

	req := client.NewRequest(codes...)
	f := cmd.Flags()
	if last, _ := f.GetInt("last"); last > 0 {
		req.Start, req.End = utils.LastMonths(utils.NowLima(), last)
	}
	if s, _ := f.GetString("start"); s != "" {
		req.Start = s
	}
	if s, _ := f.GetString("end"); s != "" {
		req.End = s
	}
	if s, _ := f.GetString("lang"); s != "" {
		lang, err := models.ParseLanguage(s)
		if err != nil {
			return req, err
		}
		req.Language = lang
	}
	if s, _ := f.GetString("format"); s != "" {
		format, err := models.ParseFormat(s)
		if err != nil {
			return req, err
		}
		req.Format = format
	}
	if s, _ := f.GetString("storage"); s != "" {
		kind, err := cache.ParseKind(s)
		if err != nil {
			return req, err
		}
		req.Storage = kind
	}
	if v, _ := f.GetBool("no-order"); v {
		req.Order = false
	}
	if v, _ := f.GetBool("no-datetime"); v {
		req.Datetime = false
	}
	req.Forget, _ = f.GetBool("forget")
	req.CheckCodes, _ = f.GetBool("check-codes")
	return req, nil
}

// writeTable saves t to --out, or prints it as a markdown table.
func writeTable(cmd *cobra.Command, t *models.Table) error {
	out, _ := cmd.Flags().GetString("out")
	if out == "" {
		return export.WriteMarkdown(t, cmd.OutOrStdout())
	}
	if err := export.Save(t, out); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "✅ %d rows × %d series written to %s\n", t.NumRows(), t.NumCols(), out)
	return nil
}

// --- Get Command ---

var getCmd = &cobra.Command{
	Use:   "get [codes...]",
	Short: "Fetch series by code",
	Long: `Fetch one request worth of series. Codes may be separated by spaces,
commas or hyphens.

Examples:
  bcrpdata get PN01288PM PN01289PM --start 2015-1 --end 2020-12
  bcrpdata get PD04637PD,PD04638PD --last 6 -o fx.xlsx`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := buildRequest(cmd, args)
		if err != nil {
			return err
		}
		t, err := client.Get(cmd.Context(), req)
		if err != nil && t.IsEmpty() {
			return err
		}
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "⚠️  %v\n", err)
		}
		return writeTable(cmd, t)
	},
}

func init() {
	addRequestFlags(getCmd)
}

// --- Large Get Command ---

var largeGetCmd = &cobra.Command{
	Use:   "large-get [codes...]",
	Short: "Fetch a long code list in chunks",
	Long: `Fetch any number of series by splitting the code list into chunks,
optionally on several workers, and merging the results. Failed chunks
are reported and left out.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if file, _ := cmd.Flags().GetString("codes-file"); file != "" {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read codes file: %w", err)
			}
			args = append(args, string(data))
		}
		req, err := buildRequest(cmd, args)
		if err != nil {
			return err
		}
		f := cmd.Flags()
		if n, _ := f.GetInt("chunk-size"); n > 0 {
			req.ChunkSize = n
		}
		if n, _ := f.GetInt("workers"); n > 0 {
			req.Workers = n
		}
		if v, _ := f.GetBool("sequential"); v {
			req.Parallel = false
		}

		res, err := client.LargeGet(cmd.Context(), req)
		if err != nil && res.Table.IsEmpty() {
			return err
		}
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "⚠️  %v\n", err)
		}
		for _, fail := range res.Failed {
			fmt.Fprintf(cmd.ErrOrStderr(), "❌ %v\n", fail)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "All chunks processed (n=%d): %s\n", len(res.Codes), strings.Join(res.Codes, " "))
		return writeTable(cmd, res.Table)
	},
}

func init() {
	addRequestFlags(largeGetCmd)
	largeGetCmd.Flags().String("codes-file", "", "read additional codes from a file")
	largeGetCmd.Flags().Int("chunk-size", 0, "codes per request (default from config)")
	largeGetCmd.Flags().Int("workers", 0, "parallel workers (default from config)")
	largeGetCmd.Flags().Bool("sequential", false, "fetch chunks one after another")
}

// --- Query Command ---

var queryCmd = &cobra.Command{
	Use:   "query [code]",
	Short: "Show the metadata of a series",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rec, err := client.Query(cmd.Context(), utils.NormalizeCode(args[0]))
		if err != nil {
			return err
		}
		data, err := rec.JSON()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

// --- Search Command ---

var searchCmd = &cobra.Command{
	Use:   "search [keyword]",
	Short: "Fuzzy-search the series metadata",
	Long: `Search every word of the selected metadata columns for words similar
to keyword.

Examples:
  bcrpdata search economia
  bcrpdata search "cambio" --cutoff 0.8 --column "Grupo de serie"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cutoff, _ := cmd.Flags().GetFloat64("cutoff")
		columns, _ := cmd.Flags().GetStringSlice("column")
		found, err := client.Search(cmd.Context(), args[0], cutoff, columns...)
		if err != nil {
			return err
		}

		cat, err := client.Catalog(cmd.Context())
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		for _, r := range found {
			label, _ := cat.Label(r.Code())
			fmt.Fprintf(tw, "%s\t%s\n", r.Code(), label)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "%d series match %q (cutoff %.2f)\n", len(found), args[0], cutoff)
		return nil
	},
}

func init() {
	searchCmd.Flags().Float64("cutoff", 0.65, "similarity cutoff between 0 and 1")
	searchCmd.Flags().StringSlice("column", nil, "metadata column to search (repeatable, default all)")
}

// --- Refine Command ---

var refineCmd = &cobra.Command{
	Use:   "refine [codes...]",
	Short: "Print the metadata rows of the given codes, in that order",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		refined, err := client.Refine(cmd.Context(), utils.NormalizeCodes(args...))
		if err != nil {
			return err
		}
		if out, _ := cmd.Flags().GetString("out"); out != "" {
			return refined.SaveFile(out)
		}
		return refined.WriteCSV(cmd.OutOrStdout())
	},
}

func init() {
	refineCmd.Flags().StringP("out", "o", "", "write the rows to a metadata file")
}

// --- Metadata Command ---

var metadataCmd = &cobra.Command{
	Use:   "metadata",
	Short: "Download the series metadata",
	RunE: func(cmd *cobra.Command, args []string) error {
		save, _ := cmd.Flags().GetString("save")
		if save == "" {
			save = cfg.Catalog.File
		}
		cat, err := client.RefreshCatalog(cmd.Context(), save)
		if err != nil {
			return err
		}
		fmt.Printf("✅ %d series, %d columns saved to %s\n", cat.Len(), len(cat.Columns()), save)
		return nil
	},
}

func init() {
	metadataCmd.Flags().String("save", "", "metadata file (default from config)")
}

// --- Forget Command ---

var forgetCmd = &cobra.Command{
	Use:       "forget [single|large|all]",
	Short:     "Delete cached results",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"single", "large", "all"},
	RunE: func(cmd *cobra.Command, args []string) error {
		which := "all"
		if len(args) == 1 {
			which = args[0]
		}
		var slots []cache.Slot
		switch which {
		case "single":
			slots = []cache.Slot{cache.SlotSingle}
		case "large":
			slots = []cache.Slot{cache.SlotLarge}
		case "all":
			slots = []cache.Slot{cache.SlotSingle, cache.SlotLarge}
		default:
			return fmt.Errorf("unknown cache slot %q (want single, large or all)", which)
		}
		for _, slot := range slots {
			if err := client.ForgetCache(cmd.Context(), slot); err != nil {
				return err
			}
			fmt.Printf("🗑️  %s/%s cleared\n", cfg.Cache.Storage, slot)
		}
		return nil
	},
}

// --- Status Command ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration and API reachability",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("═══════════════════════════════════════")
		fmt.Println("  bcrpdata Status")
		fmt.Println("═══════════════════════════════════════")
		fmt.Printf("  Version:       %s (%s)\n", version, commit)
		fmt.Printf("  Time (Lima):   %s\n", utils.NowLima().Format("2006-01-02 15:04"))
		fmt.Println()

		// Config summary
		fmt.Println("  Configuration:")
		fmt.Printf("    API:           %s\n", cfg.API.BaseURL)
		fmt.Printf("    Metadata:      %s\n", cfg.API.MetadataURL)
		fmt.Printf("    Range:         %s .. %s (%s, %s)\n", cfg.Request.Start, cfg.Request.End, cfg.Request.Language, cfg.Request.Format)
		fmt.Printf("    Cache:         %s (%s, strict=%v)\n", cfg.Cache.Storage, cfg.Cache.Dir, cfg.Cache.Strict)
		fmt.Printf("    Batch:         %d codes/chunk, parallel=%v, workers=%d\n", cfg.Batch.ChunkSize, cfg.Batch.Parallel, cfg.Batch.Workers)
		fmt.Println()

		// Secrets status
		fmt.Println("  Secrets:")
		for _, s := range config.CheckSecrets(cfg) {
			status := "❌ not set"
			if s.IsSet {
				status = fmt.Sprintf("✅ set (%s: %s)", s.Source, s.Masked)
			}
			fmt.Printf("    %-25s %s\n", s.Name+":", status)
		}
		fmt.Println()

		reach := "✅ reachable"
		if err := client.Ping(cmd.Context()); err != nil {
			reach = "❌ " + err.Error()
		}
		fmt.Printf("  API:           %s\n", reach)
		fmt.Println("═══════════════════════════════════════")
		return nil
	},
}
