package commands

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nowusman/DocGuard/cmd/docguard/ui"
	"github.com/nowusman/DocGuard/internal/app"
	"github.com/nowusman/DocGuard/internal/config"
	"github.com/nowusman/DocGuard/internal/domain"
)

var (
	processOutputDir   string
	processRecursive   bool
	processAnonymize   bool
	processTerms       []string
	processReplacement string
	processRemovePII   bool
	processJSON        bool
	processNoOCR       bool
	processThroughput  bool
	processWorkers     int
	processMaxImages   int
	processRenderScale float64
	processRatio       float64
	processCacheItems  int
	processNEREndpoint string
)

var processCmd = &cobra.Command{
	Use:   "process [files or directories...]",
	Short: "Anonymize and redact a batch of documents",
	Long: `Process runs every given file, and every supported file in the given
directories, through extraction, OCR, anonymization and PII redaction, then
writes the outputs to the output directory. Ctrl-C stops dispatching new
documents; documents already running are finished and written.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runProcess,
}

func init() {
	f := processCmd.Flags()
	f.StringVarP(&processOutputDir, "output", "o", "docguard-output", "directory for processed files")
	f.BoolVarP(&processRecursive, "recursive", "r", false, "descend into subdirectories")
	f.BoolVarP(&processAnonymize, "anonymize", "a", false, "replace anonymize terms")
	f.StringSliceVarP(&processTerms, "terms", "t", nil, "terms to anonymize (comma separated or repeated)")
	f.StringVar(&processReplacement, "replacement", domain.DefaultReplacement, "replacement for anonymized terms")
	f.BoolVarP(&processRemovePII, "remove-pii", "p", false, "remove personal data")
	f.BoolVarP(&processJSON, "json", "j", false, "write structured JSON instead of PDF")
	f.BoolVar(&processNoOCR, "no-ocr", false, "skip OCR of embedded images")
	f.BoolVar(&processThroughput, "throughput", false, "throughput mode: no OCR, patterns-only PII")
	f.IntVarP(&processWorkers, "workers", "w", 0, "number of parallel workers")
	f.IntVar(&processMaxImages, "max-images", domain.DefaultMaxImagesPerDocument, "images OCRed per document")
	f.Float64Var(&processRenderScale, "render-scale", domain.DefaultRenderScale, "scale for rendering scanned pages")
	f.Float64Var(&processRatio, "header-footer-ratio", domain.DefaultHeaderFooterRatio, "fraction of page height clipped top and bottom")
	f.IntVar(&processCacheItems, "max-cache-items", domain.DefaultMaxCacheItems, "results cached per worker (0 disables)")
	f.StringVar(&processNEREndpoint, "ner-endpoint", "", "named-entity service URL (enables full PII mode)")
	rootCmd.AddCommand(processCmd)
}

func runProcess(cmd *cobra.Command, args []string) error {
	ui.InitUI(noColor, verbose)

	// Step 1: configuration
	config.LoadDotEnv()
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if processNEREndpoint != "" {
		cfg.NER.Driver = "http"
		cfg.NER.Endpoint = processNEREndpoint
	}
	if ui.Verbose() {
		cfg.Observability.LogLevel = "debug"
	} else if cfg.Observability.LogLevel == "info" {
		cfg.Observability.LogLevel = "warn"
	}
	opts := applyFlags(cmd, cfg.ProcessingOptions())

	logger := app.NewLogger(cfg, os.Stderr, noColor)
	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	// Step 2: inputs
	paths, err := collectInputs(args, processRecursive)
	if err != nil {
		return err
	}
	if err := a.Limits.ValidateCount(len(paths)); err != nil {
		return err
	}
	docs, err := readDocuments(paths, a.Limits.ValidateFile)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(processOutputDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	ui.Section("Processing Documents")
	ui.KeyValue("Documents", fmt.Sprintf("%d (%s)", len(docs), ui.FormatBytes(totalBytes(docs))))
	ui.KeyValue("Workers", strconv.Itoa(min(len(docs), opts.MaxWorkers)))
	ui.KeyValue("Mode", modeSummary(opts))
	ui.KeyValue("Output", processOutputDir)
	ui.Newline()

	// Step 3: run
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	spin := ui.NewSpinner("Checking engines...")
	spin.Start()
	b, err := a.Submit(ctx, docs, opts)
	spin.Stop()
	if err != nil {
		return err
	}

	go func() {
		select {
		case <-ctx.Done():
			if isClosed(b.Done()) {
				return
			}
			stop()
			ui.Warning("Cancel requested: waiting for running documents")
		case <-b.Done():
		}
	}()

	bar := ui.NewProgressBar(len(docs))
	names := newOutputNames()
	var rows [][]string
	writeFailures := 0
	for r := range b.Results() {
		written := ""
		if r.Status == domain.StatusCompleted && r.Output != nil {
			written = names.reserve(r.Output.Filename)
			if err := os.WriteFile(filepath.Join(processOutputDir, written), r.Output.Data, 0o644); err != nil {
				r.Status = domain.StatusFailed
				r.Error = fmt.Sprintf("write output: %v", err)
				written = ""
				writeFailures++
			}
		}
		bar.Done(r.Filename, r.Status == domain.StatusFailed)
		rows = append(rows, resultRow(r, written))
	}
	bar.Finish()

	// Step 4: summary
	s := b.Summary()
	sort.Slice(rows, func(i, j int) bool { return rows[i][0] < rows[j][0] })
	ui.Section("Results")
	ui.Table([]string{"File", "Status", "Output", "Cached", "Time", "Detail"}, rows)
	ui.Newline()
	ui.KeyValue("Batch", b.ID)
	ui.KeyValue("Duration", ui.FormatDuration(s.Duration))
	ui.Newline()

	switch failed := s.Failed + writeFailures; {
	case failed > 0:
		ui.Error("%d of %d documents failed", failed, s.Total)
		return fmt.Errorf("%d documents failed", failed)
	case s.Canceled > 0:
		ui.Warning("%d completed, %d canceled", s.Completed, s.Canceled)
		return context.Canceled
	default:
		ui.Success("%d documents processed (%d from cache)", s.Completed, s.FromCache)
	}
	return nil
}

func totalBytes(docs []domain.Document) int {
	n := 0
	for _, d := range docs {
		n += len(d.Bytes)
	}
	return n
}

// applyFlags overlays explicitly set flags on the configured options.
func applyFlags(cmd *cobra.Command, opts domain.Options) domain.Options {
	f := cmd.Flags()
	if f.Changed("anonymize") {
		opts.Anonymize = processAnonymize
	}
	if f.Changed("terms") {
		opts.AnonymizeTerms = processTerms
		if !f.Changed("anonymize") {
			opts.Anonymize = true
		}
	}
	if f.Changed("replacement") {
		opts.Replacement = processReplacement
	}
	if f.Changed("remove-pii") {
		opts.RemovePII = processRemovePII
	}
	if f.Changed("json") {
		opts.ExtractStructured = processJSON
	}
	if processNoOCR {
		opts.EnableOCR = false
	}
	if f.Changed("throughput") {
		opts.ThroughputMode = processThroughput
	}
	if f.Changed("workers") {
		opts.MaxWorkers = processWorkers
	}
	if f.Changed("max-images") {
		opts.MaxImagesPerDocument = processMaxImages
	}
	if f.Changed("render-scale") {
		opts.RenderScale = processRenderScale
	}
	if f.Changed("header-footer-ratio") {
		opts.HeaderFooterRatio = processRatio
	}
	if f.Changed("max-cache-items") {
		opts.MaxCacheItems = processCacheItems
	}
	return opts.Normalized()
}

// collectInputs expands directories into the supported files they contain.
// Explicitly named files are kept whatever their extension so that
// validation can report them.
func collectInputs(args []string, recursive bool) ([]string, error) {
	var paths []string
	seen := make(map[string]bool)
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			paths = append(paths, p)
		}
	}

	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, domain.IOError("read input", err)
		}
		if !info.IsDir() {
			add(arg)
			continue
		}
		err = filepath.WalkDir(arg, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if p != arg && !recursive {
					return filepath.SkipDir
				}
				return nil
			}
			if domain.DetectFormat(p).Valid() {
				add(p)
			}
			return nil
		})
		if err != nil {
			return nil, domain.IOError("scan directory "+arg, err)
		}
	}
	return paths, nil
}

func readDocuments(paths []string, check func(string, int64) error) ([]domain.Document, error) {
	docs := make([]domain.Document, 0, len(paths))
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, domain.IOError("stat "+p, err)
		}
		if err := check(filepath.Base(p), info.Size()); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, domain.IOError("read "+p, err)
		}
		docs = append(docs, domain.NewDocument(filepath.Base(p), data))
	}
	return docs, nil
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// outputNames hands out unique output file names within one run.
type outputNames map[string]int

func newOutputNames() outputNames { return make(outputNames) }

func (n outputNames) reserve(name string) string {
	count := n[name]
	n[name] = count + 1
	if count == 0 {
		return name
	}
	ext := filepath.Ext(name)
	return fmt.Sprintf("%s-%d%s", strings.TrimSuffix(name, ext), count, ext)
}

func resultRow(r domain.ProcessingResult, written string) []string {
	cached := ""
	if r.FromCache {
		cached = "yes"
	}
	detail := r.Error
	if r.Status == domain.StatusCompleted {
		detail = fmt.Sprintf("%d pii, %d images, %d tables", len(r.Spans), len(r.Images), len(r.Tables))
	}
	return []string{
		r.Filename,
		ui.Status(string(r.Status)),
		written,
		cached,
		ui.FormatDuration(r.Timing.Total),
		detail,
	}
}

func modeSummary(opts domain.Options) string {
	var parts []string
	if opts.Anonymize {
		parts = append(parts, fmt.Sprintf("anonymize (%d terms)", len(opts.AnonymizeTerms)))
	}
	if opts.RemovePII {
		if opts.FullPII() {
			parts = append(parts, "remove pii")
		} else {
			parts = append(parts, "remove pii (patterns only)")
		}
	}
	if opts.ExtractStructured {
		parts = append(parts, "json")
	}
	if opts.OCRActive() {
		parts = append(parts, "ocr")
	}
	if len(parts) == 0 {
		return "passthrough"
	}
	return strings.Join(parts, ", ")
}
